// Package scheduler implements the latency-adaptive weighted round-robin
// policy: Choose selects a node per request, RecordLatency folds an
// observed latency sample back into that node's score. A single Scheduler
// owns a stats vector for all nodes, with one mutex covering both Choose
// and RecordLatency; the two are each atomic, not atomic with respect to
// each other.
package scheduler

import (
	"sync"

	"github.com/nullstream/adaptivelb/internal/errs"
	"github.com/nullstream/adaptivelb/internal/node"
)

// boostFactor is the per-round multiplier growth for unselected nodes.
const boostFactor = 1.4

type nodeStats struct {
	n          *node.Node
	weight     int
	multiplier float64
}

// Scheduler selects an upstream node per request and scores nodes from
// observed dispatch latency.
type Scheduler struct {
	mu    sync.Mutex
	stats []*nodeStats
}

// New builds a Scheduler over nodes, in configuration order. Configuring
// zero nodes is a ConfigError: the scheduler requires at least one node
// to ever make a choice.
func New(nodes []*node.Node) (*Scheduler, error) {
	if len(nodes) == 0 {
		return nil, errs.NewConfigError("at least one node is required", nil)
	}
	s := &Scheduler{stats: make([]*nodeStats, len(nodes))}
	for i, n := range nodes {
		s.stats[i] = &nodeStats{n: n, weight: 0, multiplier: 1}
	}
	return s, nil
}

// Choose selects a node: one whose effective weight is ≤ 0 wins
// immediately (cold-start fast path, first such node in configuration
// order); otherwise the node with the largest effective weight wins, ties
// broken in favour of the later-configured node. Every node's multiplier
// is then boosted by boostFactor, and the chosen node's multiplier is
// reset to 1.
func (s *Scheduler) Choose() *node.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *nodeStats
	bestWeight := 0.0

	for _, st := range s.stats {
		effective := float64(st.weight) * st.multiplier
		if effective <= 0 {
			best = st
			break
		}
		if best == nil || effective >= bestWeight {
			best = st
			bestWeight = effective
		}
	}

	for _, st := range s.stats {
		st.multiplier *= boostFactor
	}
	best.multiplier = 1

	return best.n
}

// RecordLatency applies the weight feedback rule to the node that was
// dispatched to:
//
//	weight ← max(1, floor(weight/2 + 1/latency + 1))
//
// latency is the observed wall-clock dispatch time in seconds and must be
// strictly positive. Failed dispatches never call this (no latency sample
// exists).
func (s *Scheduler) RecordLatency(n *node.Node, latencySeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.stats {
		if st.n == n {
			updated := float64(st.weight)/2 + 1/latencySeconds + 1
			w := int(updated)
			if w < 1 {
				w = 1
			}
			st.weight = w
			return
		}
	}
}

// Nodes returns the nodes the scheduler was built with, in configuration order.
func (s *Scheduler) Nodes() []*node.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*node.Node, len(s.stats))
	for i, st := range s.stats {
		out[i] = st.n
	}
	return out
}

// Weight returns n's current weight, for tests and diagnostics.
func (s *Scheduler) Weight(n *node.Node) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.stats {
		if st.n == n {
			return st.weight
		}
	}
	return 0
}

// Multiplier returns n's current multiplier, for tests and diagnostics.
func (s *Scheduler) Multiplier(n *node.Node) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.stats {
		if st.n == n {
			return st.multiplier
		}
	}
	return 0
}
