package metrics

import "testing"

func TestTimerMetrics(t *testing.T) {
	timer := NewTimer()
	timer.StartConnect()
	timer.EndConnect()
	timer.StartTTFB()
	timer.EndTTFB()

	m := timer.Metrics()
	if m.Total <= 0 {
		t.Fatalf("expected positive total duration, got %v", m.Total)
	}
	if m.Latency() != m.Total.Seconds() {
		t.Fatalf("Latency() should equal Total in seconds")
	}
}

func TestTimerWithoutConnectPhase(t *testing.T) {
	timer := NewTimer()
	timer.StartTTFB()
	timer.EndTTFB()

	m := timer.Metrics()
	if m.Connect != 0 {
		t.Fatalf("expected zero connect duration when phase was never marked, got %v", m.Connect)
	}
}
