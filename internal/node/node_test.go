package node

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/nullstream/adaptivelb/internal/httpmsg"
)

// fakeUpstream accepts a single connection and replies to every request
// with a canned 200 OK, sending the method of each request it saw on
// seenMethods.
func fakeUpstream(t *testing.T, keepAlive bool) (addr string, seenMethods chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	seen := make(chan string, 4)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			fields := strings.Fields(line)
			if len(fields) < 1 {
				return
			}
			seen <- fields[0]

			for {
				h, err := r.ReadString('\n')
				if err != nil || h == "\r\n" {
					break
				}
			}

			body := "ok"
			conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: " + strconv.Itoa(len(body)) + "\r\n"))
			if keepAlive {
				conn.Write([]byte("Connection: keep-alive\r\n\r\n" + body))
			} else {
				conn.Write([]byte("Connection: close\r\n\r\n" + body))
				return
			}
		}
	}()

	return ln.Addr().String(), seen
}

func TestHandlePropagatesMethodVerbatim(t *testing.T) {
	addr, seen := fakeUpstream(t, false)
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	n := New(host, port)
	defer n.Close()

	req := httpmsg.NewRequest("DELETE", "/resource/1")
	req.Set("Host", host)

	resp, _, err := n.Handle(req)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if resp.Status != 200 {
		t.Fatalf("expected 200, got %d", resp.Status)
	}

	select {
	case method := <-seen:
		if method != "DELETE" {
			t.Fatalf("expected upstream to see DELETE, got %q", method)
		}
	default:
		t.Fatalf("upstream never recorded a method")
	}
}

func TestHandleReusesKeepAliveConnection(t *testing.T) {
	addr, _ := fakeUpstream(t, true)
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	n := New(host, port)
	defer n.Close()

	req1 := httpmsg.NewRequest("GET", "/a")
	req1.Set("Host", host)
	if _, _, err := n.Handle(req1); err != nil {
		t.Fatalf("first Handle failed: %v", err)
	}

	cached := n.take()
	if cached == nil {
		t.Fatalf("expected a cached connection after a keep-alive response")
	}
	cached.Close()
}

func TestHandleUpstreamUnreachable(t *testing.T) {
	n := New("127.0.0.1", 1) // port 1 should refuse immediately
	defer n.Close()

	req := httpmsg.NewRequest("GET", "/")
	req.Set("Host", "127.0.0.1")

	_, _, err := n.Handle(req)
	if err == nil {
		t.Fatalf("expected an error dispatching to an unreachable upstream")
	}
}
