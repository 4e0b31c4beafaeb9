package scheduler

import (
	"testing"

	"github.com/nullstream/adaptivelb/internal/errs"
	"github.com/nullstream/adaptivelb/internal/node"
)

func TestNewRejectsZeroNodes(t *testing.T) {
	_, err := New(nil)
	if errs.KindOf(err) != errs.ConfigError {
		t.Fatalf("expected ConfigError for zero nodes, got %v", err)
	}
}

func TestChooseColdStartPicksFirstZeroWeightNode(t *testing.T) {
	a := node.New("a", 80)
	b := node.New("b", 80)
	s, err := New([]*node.Node{a, b})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	chosen := s.Choose()
	if chosen != a {
		t.Fatalf("expected the first node to win the cold-start fast path")
	}
}

func TestChoosePrefersHigherEffectiveWeight(t *testing.T) {
	a := node.New("a", 80)
	b := node.New("b", 80)
	s, _ := New([]*node.Node{a, b})

	// Move both nodes off the zero-weight fast path: a answers fast, b
	// answers slow, so a should end up with the larger weight.
	s.Choose()               // picks a (first zero-weight node)
	s.RecordLatency(a, 0.01)
	s.Choose()               // picks b (still zero-weight)
	s.RecordLatency(b, 10.0)

	chosen := s.Choose()
	if chosen != a {
		t.Fatalf("expected the faster node a to be chosen, got node with host %q", chosen.Host)
	}
}

func TestChooseResetsMultiplierOnSelection(t *testing.T) {
	a := node.New("a", 80)
	b := node.New("b", 80)
	s, _ := New([]*node.Node{a, b})

	s.Choose()
	if m := s.Multiplier(a); m != 1 {
		t.Fatalf("expected chosen node's multiplier reset to 1, got %v", m)
	}
	if m := s.Multiplier(b); m <= 1 {
		t.Fatalf("expected unselected node's multiplier to grow past 1, got %v", m)
	}
}

func TestRecordLatencyWeightFloor(t *testing.T) {
	a := node.New("a", 80)
	s, _ := New([]*node.Node{a})

	s.RecordLatency(a, 1000000) // a huge latency leaves almost nothing but the floor
	if w := s.Weight(a); w < 1 {
		t.Fatalf("expected weight floor of 1, got %d", w)
	}
}
