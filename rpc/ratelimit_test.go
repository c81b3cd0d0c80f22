package rpc

import (
	"testing"
	"time"
)

func TestRateLimiterSweepsIdleVisitorsPeriodically(t *testing.T) {
	start := time.Unix(1700000000, 0)
	now := start
	l := newRateLimiter(100, 10, nil)
	l.now = func() time.Time { return now }
	l.lastSweep = start

	if !l.allow("10.0.0.1") {
		t.Fatalf("first request throttled")
	}
	l.visitors["10.0.0.1"].lastSeen = start.Add(-2 * visitorTTL)

	now = start.Add(sweepInterval / 2)
	if !l.allow("10.0.0.2") {
		t.Fatalf("second visitor throttled")
	}
	if _, ok := l.visitors["10.0.0.1"]; !ok {
		t.Fatalf("idle visitor swept before the interval elapsed")
	}

	now = start.Add(sweepInterval)
	if !l.allow("10.0.0.2") {
		t.Fatalf("returning visitor throttled")
	}
	if _, ok := l.visitors["10.0.0.1"]; ok {
		t.Fatalf("idle visitor survived the sweep")
	}
	if _, ok := l.visitors["10.0.0.2"]; !ok || len(l.visitors) != 1 {
		t.Fatalf("unexpected visitors after sweep: %d", len(l.visitors))
	}
	if !l.lastSweep.Equal(now) {
		t.Fatalf("sweep time not recorded: %s", l.lastSweep)
	}
}

func TestRateLimiterKeepsBucketAcrossRequests(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := newRateLimiter(0.001, 1, nil)
	l.now = func() time.Time { return now }
	if !l.allow("10.0.0.3") {
		t.Fatalf("first request throttled")
	}
	if l.allow("10.0.0.3") {
		t.Fatalf("burst of one allowed a second request")
	}
	if !l.allow("10.0.0.4") {
		t.Fatalf("buckets are shared between clients")
	}
}
