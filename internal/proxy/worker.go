package proxy

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/nullstream/adaptivelb/internal/errs"
	"github.com/nullstream/adaptivelb/internal/httpmsg"
	"github.com/nullstream/adaptivelb/internal/node"
	"github.com/nullstream/adaptivelb/internal/scheduler"
)

// viaHeader identifies this proxy on the Via chain of forwarded requests.
const viaHeader = "generic loadbalancer/1.0"

// worker serves exactly one request on a single client connection; the
// proxy never implements client-side keep-alive even if the client asks
// for it.
type worker struct {
	conn      net.Conn
	node      *node.Node
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
}

func (w *worker) serve() {
	defer w.conn.Close()

	var buf bytes.Buffer
	w.conn.SetReadDeadline(time.Now().Add(readTimeout))

	req, err := httpmsg.ParseRequest(w.conn, &buf)
	if err != nil {
		switch {
		case errs.Is(err, errs.ReadTimeout):
			w.logger.Warn("client read timed out", zap.Error(err))
		case errs.Is(err, errs.ConnectionClosed):
			w.logger.Debug("client closed before a full request arrived")
		default:
			w.logger.Warn("malformed client request", zap.Error(err))
		}
		return
	}

	resp := w.dispatch(req)

	resp.Del("Transfer-Encoding")
	resp.Set("Connection", "close")

	if err := resp.WriteTo(w.conn); err != nil {
		w.logger.Warn("response write failed", zap.Error(err))
	}
}

// dispatch overlays the proxy headers and forwards the request through
// the node the acceptor already chose for this connection. Any upstream
// failure becomes a synthesised 502 rather than closing the client
// connection outright.
func (w *worker) dispatch(req *httpmsg.Request) *httpmsg.Response {
	clientHost, _, err := net.SplitHostPort(w.conn.RemoteAddr().String())
	if err != nil {
		clientHost = w.conn.RemoteAddr().String()
	}
	originalHost := req.Get("Host")

	req.Set("X-Forwarded-For", clientHost)
	req.Set("X-Forwarded-Host", originalHost)
	req.Set("X-Forwarded-Proto", "http")
	req.Set("Forwarded", fmt.Sprintf("for=%s; proto=http; by=%s", clientHost, originalHost))
	if existing := req.Get("Via"); existing != "" {
		req.Set("Via", existing+", "+viaHeader)
	} else {
		req.Set("Via", viaHeader)
	}

	resp, m, err := w.node.Handle(req)
	if err != nil {
		w.logger.Error("upstream dispatch failed",
			zap.String("host", w.node.Host),
			zap.Int("port", w.node.Port),
			zap.Error(err))
		return badGateway()
	}

	w.scheduler.RecordLatency(w.node, m.Latency())
	w.logger.Info("dispatched request",
		zap.String("method", req.Method),
		zap.String("target", req.Target),
		zap.String("host", w.node.Host),
		zap.Int("port", w.node.Port),
		zap.Int("status", resp.Status),
		zap.Duration("latency", m.Total))

	return resp
}

// badGateway is the synthetic response for an UpstreamFailure: status 502,
// no body, Content-Length: 0, Connection: close.
func badGateway() *httpmsg.Response {
	resp := httpmsg.NewResponse(502)
	resp.Set("Connection", "close")
	return resp
}
