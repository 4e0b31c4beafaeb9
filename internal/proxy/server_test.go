package proxy

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nullstream/adaptivelb/internal/node"
	"github.com/nullstream/adaptivelb/internal/scheduler"
)

func fakeUpstream(t *testing.T, status int, body string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		r.ReadString('\n')
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		conn.Write([]byte(
			"HTTP/1.1 " + strconv.Itoa(status) + " OK\r\n" +
				"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
				"Connection: close\r\n\r\n" + body))
	}()
	return ln.Addr().String()
}

func TestServeProxiesRequestToUpstream(t *testing.T) {
	upstreamAddr := fakeUpstream(t, 200, "pong")
	host, portStr, _ := net.SplitHostPort(upstreamAddr)
	port, _ := strconv.Atoi(portStr)

	sched, err := scheduler.New([]*node.Node{node.New(host, port)})
	if err != nil {
		t.Fatalf("scheduler.New failed: %v", err)
	}

	srv, err := New("127.0.0.1:0", 4, sched, zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	go srv.Serve()
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("GET /ping HTTP/1.1\r\nHost: lb\r\nConnection: close\r\n\r\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line failed: %v", err)
	}
	if !strings.Contains(status, "200") {
		t.Fatalf("expected a 200 status line, got %q", status)
	}
}

func TestServeReturnsBadGatewayOnUpstreamFailure(t *testing.T) {
	sched, err := scheduler.New([]*node.Node{node.New("127.0.0.1", 1)})
	if err != nil {
		t.Fatalf("scheduler.New failed: %v", err)
	}

	srv, err := New("127.0.0.1:0", 4, sched, zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	go srv.Serve()
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("GET / HTTP/1.1\r\nHost: lb\r\nConnection: close\r\n\r\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line failed: %v", err)
	}
	if !strings.Contains(status, "502") {
		t.Fatalf("expected a 502 status line, got %q", status)
	}
}
