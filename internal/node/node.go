// Package node implements the upstream node abstraction: at most one
// keep-alive connection per node, reused across dispatches and replaced on
// any transport error.
package node

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nullstream/adaptivelb/internal/errs"
	"github.com/nullstream/adaptivelb/internal/httpmsg"
	"github.com/nullstream/adaptivelb/internal/metrics"
	"github.com/nullstream/adaptivelb/internal/streamio"
)

// DefaultPort is used when a configured node omits a port.
const DefaultPort = 80

// dialTimeout bounds how long Handle waits to establish a fresh connection.
const dialTimeout = 10 * time.Second

// Node owns at most one persistent connection to a single upstream origin.
// The cached connection slot is serialised: a dispatch takes the slot at
// the start (setting it empty) and restores it or drops it at the end, so
// two concurrent dispatches to the same node never share one net.Conn,
// they simply open independent connections.
type Node struct {
	Host string
	Port int

	mu   sync.Mutex
	conn net.Conn
}

// New returns a Node for host:port. Port defaults to 80 if zero.
func New(host string, port int) *Node {
	if port == 0 {
		port = DefaultPort
	}
	return &Node{Host: host, Port: port}
}

// Addr returns the "host:port" dial target.
func (n *Node) Addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// take removes and returns the cached connection, if any.
func (n *Node) take() net.Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := n.conn
	n.conn = nil
	return c
}

// restore puts a connection back in the cache slot, closing whatever was
// already there (should not normally happen under correct serialisation).
func (n *Node) restore(c net.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil && n.conn != c {
		n.conn.Close()
	}
	n.conn = c
}

// Handle forwards req to this node and returns the upstream response and
// the observed latency. Any transport or parse failure is returned as a
// single opaque *errs.Error of kind UpstreamFailure; on failure the cached
// connection (if one was taken) is discarded rather than restored.
func (n *Node) Handle(req *httpmsg.Request) (*httpmsg.Response, metrics.Metrics, error) {
	timer := metrics.NewTimer()

	conn := n.take()
	if conn == nil {
		timer.StartConnect()
		c, err := net.DialTimeout("tcp", n.Addr(), dialTimeout)
		timer.EndConnect()
		if err != nil {
			return nil, metrics.Metrics{}, errs.NewUpstreamFailure(n.Host, n.Port, err)
		}
		if tc, ok := c.(*net.TCPConn); ok {
			tc.SetKeepAlive(true)
		}
		conn = c
	}

	upstreamReq := httpmsg.NewRequest(req.Method, req.Target)
	for name, value := range req.Headers {
		upstreamReq.Headers[name] = value
	}
	upstreamReq.Set("Connection", "close")
	upstreamReq.Set("Host", n.Host)
	upstreamReq.Body = req.Body

	if err := upstreamReq.WriteTo(conn); err != nil {
		conn.Close()
		return nil, metrics.Metrics{}, errs.NewUpstreamFailure(n.Host, n.Port, err)
	}

	timer.StartTTFB()
	var buf bytes.Buffer
	if err := streamio.ReadExact(conn, &buf, 1); err != nil {
		conn.Close()
		return nil, metrics.Metrics{}, errs.NewUpstreamFailure(n.Host, n.Port, err)
	}
	timer.EndTTFB()
	resp, err := httpmsg.ParseResponse(conn, &buf)
	if err != nil {
		conn.Close()
		return nil, metrics.Metrics{}, errs.NewUpstreamFailure(n.Host, n.Port, err)
	}

	if resp.KeepAlive() {
		n.restore(conn)
	} else {
		conn.Close()
	}

	return resp, timer.Metrics(), nil
}

// Close drops and closes any cached connection. Used on shutdown.
func (n *Node) Close() {
	if c := n.take(); c != nil {
		c.Close()
	}
}
