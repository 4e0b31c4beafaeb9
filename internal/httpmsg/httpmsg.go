// Package httpmsg implements the HTTP/1.1 message codec: parsing and
// serialising requests and responses over a byte-oriented connection,
// including chunked and identity body framing. Request and Response share
// a single header/body parser via Message; they differ only in their
// start-line, modelled as two concrete types rather than an inheritance
// hierarchy.
package httpmsg

import (
	"bytes"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/nullstream/adaptivelb/internal/errs"
	"github.com/nullstream/adaptivelb/internal/streamio"
)

// maxChunkSegment is the largest body segment written per chunk on the wire.
const maxChunkSegment = 4096

var crlf = []byte("\r\n")

// Message holds the parts shared by requests and responses. Headers is
// always a freshly allocated map per message: Parse and the New*
// constructors below never let two messages alias the same map or body
// slice.
type Message struct {
	Version string
	Headers map[string]string
	Body    []byte
}

func newMessage() Message {
	return Message{Version: "1.1", Headers: make(map[string]string)}
}

// KeepAlive reports whether the message requests a persistent connection.
func (m *Message) KeepAlive() bool {
	v, ok := m.Headers["Connection"]
	return ok && strings.EqualFold(strings.TrimSpace(v), "keep-alive")
}

// Chunked reports whether the message is framed with chunked transfer-encoding.
func (m *Message) Chunked() bool {
	v, ok := m.Headers["Transfer-Encoding"]
	return ok && strings.EqualFold(strings.TrimSpace(v), "chunked")
}

// Set overlays a header, canonicalising its name the same way Parse does.
func (m *Message) Set(name, value string) {
	m.Headers[canonicalHeader(name)] = value
}

// Get returns a header value, or "" if absent.
func (m *Message) Get(name string) string {
	return m.Headers[canonicalHeader(name)]
}

// Del removes a header.
func (m *Message) Del(name string) {
	delete(m.Headers, canonicalHeader(name))
}

func canonicalHeader(name string) string {
	return textproto.CanonicalMIMEHeaderKey(name)
}

// Request is a parsed or to-be-serialised HTTP request.
type Request struct {
	Message
	Method string
	Target string
}

// Response is a parsed or to-be-serialised HTTP response.
type Response struct {
	Message
	Status int
}

// NewRequest builds a Request with fresh header/body containers.
func NewRequest(method, target string) *Request {
	return &Request{Message: newMessage(), Method: strings.ToUpper(method), Target: target}
}

// NewResponse builds a Response with fresh header/body containers.
func NewResponse(status int) *Response {
	return &Response{Message: newMessage(), Status: status}
}

// ParseRequest reads one HTTP request from conn into buf. buf carries
// whatever bytes were already over-read for a previous message (or is
// empty); bytes past the parsed request remain in buf for the next call.
func ParseRequest(conn net.Conn, buf *bytes.Buffer) (*Request, error) {
	lineEnd, err := streamio.ReadUntil(conn, buf, crlf)
	if err != nil {
		return nil, err
	}
	line := string(buf.Bytes()[:lineEnd])
	buf.Next(lineEnd + len(crlf))

	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, errs.NewMalformed("parse_request_line", "expected \"METHOD target VERSION\"", nil)
	}

	req := &Request{
		Message: newMessage(),
		Method:  strings.ToUpper(parts[0]),
		Target:  parts[1],
	}
	if v := parseVersion(parts[2]); v != "" {
		req.Version = v
	}

	if err := parseHeadersAndBody(conn, buf, &req.Message); err != nil {
		return nil, err
	}
	return req, nil
}

// ParseResponse reads one HTTP response from conn into buf, with the same
// over-read semantics as ParseRequest.
func ParseResponse(conn net.Conn, buf *bytes.Buffer) (*Response, error) {
	lineEnd, err := streamio.ReadUntil(conn, buf, crlf)
	if err != nil {
		return nil, err
	}
	line := string(buf.Bytes()[:lineEnd])
	buf.Next(lineEnd + len(crlf))

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, errs.NewMalformed("parse_status_line", "expected \"VERSION status reason\"", nil)
	}

	status, err := strconv.Atoi(parts[1])
	if err != nil || status < 100 || status > 999 {
		return nil, errs.NewMalformed("parse_status_line", "status code must be a 3-digit integer", err)
	}

	resp := &Response{Message: newMessage(), Status: status}
	if v := parseVersion(parts[0]); v != "" {
		resp.Version = v
	}

	if err := parseHeadersAndBody(conn, buf, &resp.Message); err != nil {
		return nil, err
	}
	return resp, nil
}

func parseVersion(token string) string {
	idx := strings.IndexByte(token, '/')
	if idx < 0 || idx+1 >= len(token) {
		return ""
	}
	return token[idx+1:]
}

// parseHeadersAndBody parses the header block and body shared by requests
// and responses, handling both chunked and identity framing. Headers are
// read one line at a time rather than by locating a single "\r\n\r\n"
// delimiter: a message with zero headers leaves only the blank terminator
// line after the start line, and searching the buffer for a 4-byte
// delimiter that straddles bytes already consumed with the start line
// would never find it. Reading line by line until a blank line turns up
// handles zero, one, or many headers the same way.
func parseHeadersAndBody(conn net.Conn, buf *bytes.Buffer, m *Message) error {
	for {
		end, err := streamio.ReadUntil(conn, buf, crlf)
		if err != nil {
			return err
		}
		line := string(buf.Bytes()[:end])
		buf.Next(end + len(crlf))
		if line == "" {
			break
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return errs.NewMalformed("parse_headers", "header line missing ':'", nil)
		}
		name := canonicalHeader(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		m.Headers[name] = value
	}

	switch {
	case m.Chunked():
		return parseChunkedBody(conn, buf, m)
	case m.Headers["Content-Length"] != "":
		n, err := strconv.Atoi(strings.TrimSpace(m.Headers["Content-Length"]))
		if err != nil || n < 0 {
			return errs.NewMalformed("parse_content_length", "Content-Length must be a non-negative integer", err)
		}
		if err := streamio.ReadExact(conn, buf, n); err != nil {
			return err
		}
		m.Body = append([]byte(nil), buf.Bytes()[:n]...)
		buf.Next(n)
		return nil
	default:
		m.Body = []byte{}
		return nil
	}
}

func parseChunkedBody(conn net.Conn, buf *bytes.Buffer, m *Message) error {
	var body bytes.Buffer
	for {
		end, err := streamio.ReadUntil(conn, buf, crlf)
		if err != nil {
			return err
		}
		header := string(buf.Bytes()[:end])
		buf.Next(end + len(crlf))

		sizeField := strings.SplitN(header, ";", 2)[0]
		size, err := strconv.ParseInt(strings.TrimSpace(sizeField), 16, 64)
		if err != nil || size < 0 {
			return errs.NewMalformed("parse_chunk_size", "chunk size must be a base-16 integer", err)
		}

		if err := streamio.ReadExact(conn, buf, int(size)+2); err != nil {
			return err
		}
		if size > 0 {
			body.Write(buf.Bytes()[:size])
		}
		buf.Next(int(size) + 2)

		if size == 0 {
			break
		}
	}
	m.Body = body.Bytes()
	return nil
}

// WriteTo serialises req onto conn, overlaying Content-Length for identity
// framing (chunked framing is caller-controlled via the Chunked flag set in
// Headers before calling WriteTo).
func (r *Request) WriteTo(conn net.Conn) error {
	startLine := fmt.Sprintf("%s %s HTTP/%s", r.Method, r.Target, r.Version)
	return writeMessage(conn, startLine, &r.Message)
}

// WriteTo serialises resp onto conn.
func (r *Response) WriteTo(conn net.Conn) error {
	startLine := fmt.Sprintf("HTTP/%s %d %s", r.Version, r.Status, statusText(r.Status))
	return writeMessage(conn, startLine, &r.Message)
}

func writeMessage(conn net.Conn, startLine string, m *Message) error {
	var out bytes.Buffer
	out.WriteString(startLine)
	out.WriteString("\r\n")

	if !m.Chunked() {
		m.Set("Content-Length", strconv.Itoa(len(m.Body)))
	}

	for name, value := range m.Headers {
		out.WriteString(name)
		out.WriteString(": ")
		out.WriteString(value)
		out.WriteString("\r\n")
	}
	out.WriteString("\r\n")

	if m.Chunked() {
		writeChunked(&out, m.Body)
	} else {
		out.Write(m.Body)
	}

	_, err := conn.Write(out.Bytes())
	if err != nil {
		return errs.NewIOError("write_message", err)
	}
	return nil
}

func writeChunked(out *bytes.Buffer, body []byte) {
	for len(body) > 0 {
		n := maxChunkSegment
		if n > len(body) {
			n = len(body)
		}
		fmt.Fprintf(out, "%x\r\n", n)
		out.Write(body[:n])
		out.WriteString("\r\n")
		body = body[n:]
	}
	out.WriteString("0\r\n\r\n")
}

func statusText(code int) string {
	if t, ok := statusTexts[code]; ok {
		return t
	}
	return "Status"
}

var statusTexts = map[int]string{
	200: "OK",
	204: "No Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	500: "Internal Server Error",
	502: "Bad Gateway",
	503: "Service Unavailable",
}
