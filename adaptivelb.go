// Package adaptivelb is a reverse proxy and load balancer that dispatches
// HTTP/1.1 requests across a fixed set of upstream nodes using a
// latency-adaptive weighted round-robin schedule: nodes that answer
// quickly accumulate weight, nodes that are slow lose it (a failed
// dispatch leaves a node's weight unchanged), and every node is still
// guaranteed a turn via a per-round multiplier boost.
package adaptivelb

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nullstream/adaptivelb/internal/cache"
	"github.com/nullstream/adaptivelb/internal/config"
	"github.com/nullstream/adaptivelb/internal/errs"
	"github.com/nullstream/adaptivelb/internal/node"
	"github.com/nullstream/adaptivelb/internal/proxy"
	"github.com/nullstream/adaptivelb/internal/scheduler"
)

// Version is the current version of adaptivelb.
const Version = "1.0.0"

// Re-export the types a caller needs to embed adaptivelb without reaching
// into internal/.
type (
	// Config is the parsed server.* / nodes[] configuration document.
	Config = config.Config

	// Node is a single upstream origin and its cached connection.
	Node = node.Node

	// Scheduler holds the latency-adaptive weights for a set of Nodes.
	Scheduler = scheduler.Scheduler

	// Server is the accepting listener and its worker pool.
	Server = proxy.Server

	// Error is the structured error type returned throughout adaptivelb.
	Error = errs.Error

	// ErrorKind categorises an Error (see the errs.* Kind constants below).
	ErrorKind = errs.Kind

	// FileCache is the optional, disk-backed response cache. Nothing in
	// Server's request path calls it; it exists for callers that want to
	// front adaptivelb with their own caching layer.
	FileCache = cache.FileCache
)

// Re-export the error kinds for callers doing errs.Is-style checks without
// importing internal/errs directly.
const (
	ErrMalformedMessage = errs.MalformedMessage
	ErrConnectionClosed = errs.ConnectionClosed
	ErrReadTimeout      = errs.ReadTimeout
	ErrUpstreamFailure  = errs.UpstreamFailure
	ErrConfigError      = errs.ConfigError
	ErrIO               = errs.IO
)

// LoadConfig reads and validates a YAML configuration document.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// NewServer builds the Node set and Scheduler described by cfg, binds the
// listener on 0.0.0.0:cfg.Server.Port, and returns a Server ready to Serve.
func NewServer(cfg *Config, logger *zap.Logger) (*Server, error) {
	nodes := make([]*node.Node, len(cfg.Nodes))
	for i, nc := range cfg.Nodes {
		nodes[i] = node.New(nc.Host, nc.Port)
	}

	sched, err := scheduler.New(nodes)
	if err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port)
	return proxy.New(addr, cfg.Server.MaxThreads, sched, logger)
}
