// Package streamio provides the two buffered-pull primitives the HTTP codec
// frames messages on top of: read-until-delimiter and read-exactly-N. Both
// operate on a caller-owned, append-only byte buffer and deliberately permit
// over-reading past the delimiter or length so that pipelined bytes (the
// start of a body arriving in the same packet as the headers) survive for
// the next parse step instead of being discarded.
package streamio

import (
	"bytes"
	"io"
	"net"

	"github.com/nullstream/adaptivelb/internal/errs"
)

// chunkSize is the bounded read size pulled from the connection on each
// iteration of ReadUntil/ReadExact.
const chunkSize = 4096

// ReadUntil appends to buf from conn until delim appears somewhere in buf,
// returning the index of the first byte of delim. Bytes read past delim
// remain in buf for the caller to consume on a later call.
func ReadUntil(conn net.Conn, buf *bytes.Buffer, delim []byte) (int, error) {
	if idx := bytes.Index(buf.Bytes(), delim); idx >= 0 {
		return idx, nil
	}

	chunk := make([]byte, chunkSize)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if idx := bytes.Index(buf.Bytes(), delim); idx >= 0 {
				return idx, nil
			}
		}
		if err != nil {
			return 0, classifyReadErr("read_until", err)
		}
	}
}

// classifyReadErr maps a net.Conn read failure onto the structured error
// kinds a caller can branch on: a read-deadline expiry is ReadTimeout, a
// clean peer close is ConnectionClosed, anything else is IO.
func classifyReadErr(op string, err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return errs.NewReadTimeout(op)
	}
	if err == io.EOF {
		return errs.NewConnectionClosed(op)
	}
	return errs.NewIOError(op, err)
}

// ReadExact appends to buf from conn until buf holds at least n bytes.
// Bytes beyond n remain in buf for the caller.
func ReadExact(conn net.Conn, buf *bytes.Buffer, n int) error {
	if buf.Len() >= n {
		return nil
	}

	chunk := make([]byte, chunkSize)
	for buf.Len() < n {
		toRead := n - buf.Len()
		if toRead > chunkSize {
			toRead = chunkSize
		}
		r, err := conn.Read(chunk[:toRead])
		if r > 0 {
			buf.Write(chunk[:r])
		}
		if err != nil {
			return classifyReadErr("read_exact", err)
		}
	}
	return nil
}
