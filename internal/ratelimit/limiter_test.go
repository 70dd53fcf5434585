package ratelimit

import (
	"testing"
	"time"
)

func TestBucketAllowAndRefill(t *testing.T) {
	b := NewBucket(Config{RequestsPerSecond: 100, BurstSize: 2})

	if !b.Allow() || !b.Allow() {
		t.Fatal("burst should allow 2 requests")
	}
	if b.Allow() {
		t.Fatal("third immediate request should be denied")
	}

	time.Sleep(30 * time.Millisecond) // ~3 tokens refill at 100/s
	if !b.Allow() {
		t.Error("request after refill should be allowed")
	}
}

func TestBucketAllowN(t *testing.T) {
	b := NewBucket(Config{RequestsPerSecond: 1, BurstSize: 5})
	if !b.AllowN(5) {
		t.Fatal("full burst should be allowed")
	}
	if b.AllowN(1) {
		t.Fatal("empty bucket should deny")
	}
	if !b.AllowN(0) {
		t.Fatal("zero requests are always allowed")
	}
}

func TestLimiterPerKeyIsolation(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1, Enabled: true})

	if !l.Allow("openai#0") {
		t.Fatal("first request denied")
	}
	if l.Allow("openai#0") {
		t.Fatal("second request on the same key should be denied")
	}
	if !l.Allow("openai#1") {
		t.Fatal("different key should have its own bucket")
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1, Enabled: false})
	for i := 0; i < 10; i++ {
		if !l.Allow("k") {
			t.Fatal("disabled limiter must always allow")
		}
	}
}

func TestLimiterStatus(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 2, Enabled: true})
	l.Allow("k")

	status := l.GetStatus("k")
	if status.Key != "k" || !status.AllowedNow {
		t.Errorf("status = %+v", status)
	}
}

func TestProviderReport(t *testing.T) {
	r := NewProviderReport()
	r.RecordLimited("fireworks#0")
	r.RecordLimited("fireworks#0")
	r.RecordLimited("openai#0")

	snapshot := r.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("snapshot = %d entries", len(snapshot))
	}
	counts := map[string]int{}
	for _, state := range snapshot {
		counts[state.CredentialID] = state.LimitedCount
		if state.LastLimited.IsZero() {
			t.Errorf("%s has zero LastLimited", state.CredentialID)
		}
	}
	if counts["fireworks#0"] != 2 || counts["openai#0"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
