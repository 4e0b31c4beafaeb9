package streamio

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/nullstream/adaptivelb/internal/errs"
)

func TestReadUntilFindsDelimiter(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		server.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n"))
	}()

	var buf bytes.Buffer
	idx, err := ReadUntil(client, &buf, []byte("\r\n"))
	if err != nil {
		t.Fatalf("ReadUntil failed: %v", err)
	}
	if got := string(buf.Bytes()[:idx]); got != "GET / HTTP/1.1" {
		t.Fatalf("expected start line, got %q", got)
	}
}

func TestReadUntilLeavesOverreadBytes(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		server.Write([]byte("line1\r\nline2\r\n"))
	}()

	var buf bytes.Buffer
	idx, err := ReadUntil(client, &buf, []byte("\r\n"))
	if err != nil {
		t.Fatalf("ReadUntil failed: %v", err)
	}
	buf.Next(idx + 2)

	// The bytes of "line2\r\n" should already be sitting in buf.
	deadline := time.Now().Add(time.Second)
	for buf.Len() < 7 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := buf.String(); got != "line2\r\n" {
		t.Fatalf("expected leftover bytes %q, got %q", "line2\r\n", got)
	}
}

func TestReadUntilConnectionClosed(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go server.Close()

	var buf bytes.Buffer
	_, err := ReadUntil(client, &buf, []byte("\r\n"))
	if errs.KindOf(err) != errs.ConnectionClosed {
		t.Fatalf("expected ConnectionClosed, got %v", err)
	}
}

func TestReadExactReadsFullLength(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		server.Write([]byte("0123456789"))
	}()

	var buf bytes.Buffer
	if err := ReadExact(client, &buf, 5); err != nil {
		t.Fatalf("ReadExact failed: %v", err)
	}
	if got := buf.Bytes()[:5]; string(got) != "01234" {
		t.Fatalf("expected \"01234\", got %q", got)
	}
}

func TestReadUntilReadTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	client.SetReadDeadline(time.Now().Add(10 * time.Millisecond))

	var buf bytes.Buffer
	_, err := ReadUntil(client, &buf, []byte("\r\n"))
	if errs.KindOf(err) != errs.ReadTimeout {
		t.Fatalf("expected ReadTimeout, got %v", err)
	}
}
