package container

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestCreateArgsNoDomainsUsesNetworkNone(t *testing.T) {
	m := NewManager(DefaultConfig())
	args, err := m.createArgs("lifemodel.skill-abc", "lifemodel.skill-abc-workspace", false, nil)
	if err != nil {
		t.Fatalf("createArgs: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--network none") {
		t.Fatalf("expected --network none without domains, got: %s", joined)
	}
	for _, want := range []string{"--read-only", "--cap-drop=ALL", "no-new-privileges", "-u 1000:1000"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected hardened flag %q in args: %s", want, joined)
		}
	}
}

func TestCreateArgsWithDomainsUsesBridgeAndHosts(t *testing.T) {
	m := NewManager(DefaultConfig())
	args, err := m.createArgs("lifemodel.skill-abc", "lifemodel.skill-abc-workspace", true, []string{"api.example.com"})
	if err != nil {
		t.Fatalf("createArgs: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--network bridge") {
		t.Fatalf("expected bridge network, got: %s", joined)
	}
	if !strings.Contains(joined, "--add-host api.example.com:127.0.0.1") {
		t.Fatalf("expected add-host entry, got: %s", joined)
	}
}

func TestCreateArgsRejectsUnsafeDomain(t *testing.T) {
	m := NewManager(DefaultConfig())
	if _, err := m.createArgs("n", "v", true, []string{"evil.com; rm -rf /"}); err == nil {
		t.Fatal("expected rejection of unsafe domain")
	}
}

func TestSetupNetworkPolicyWithoutDomainsStaysUnnetworked(t *testing.T) {
	m := NewManager(DefaultConfig())
	networked, err := m.setupNetworkPolicy(context.Background(), "n", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if networked {
		t.Fatal("expected no network policy without allowedDomains")
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	m := NewManager(DefaultConfig())
	h := &Handle{
		name:        "lifemodel.skill-test",
		volumeName:  "lifemodel.skill-test-workspace",
		pendingReqs: make(map[uint64]pending),
		manager:     m,
	}

	if err := m.Destroy(context.Background(), h); err != nil {
		t.Fatalf("first destroy: %v", err)
	}
	if !h.destroyed {
		t.Fatal("expected handle marked destroyed")
	}
	if err := m.Destroy(context.Background(), h); err != nil {
		t.Fatalf("second destroy must be a no-op, got error: %v", err)
	}
}

func TestDestroyRejectsPendingRequests(t *testing.T) {
	m := NewManager(DefaultConfig())
	ch := make(chan Response, 1)
	h := &Handle{
		name:        "lifemodel.skill-test2",
		volumeName:  "lifemodel.skill-test2-workspace",
		pendingReqs: map[uint64]pending{1: {ch: ch}},
		manager:     m,
	}

	if err := m.Destroy(context.Background(), h); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	select {
	case resp := <-ch:
		if resp.Success {
			t.Fatal("expected pending request rejected, not succeeded")
		}
	default:
		t.Fatal("expected pending request to be rejected with a response")
	}
}

func TestStatsReportsTrackedHandles(t *testing.T) {
	m := NewManager(DefaultConfig())
	h := &Handle{name: "lifemodel.skill-stat", pendingReqs: make(map[uint64]pending), manager: m}
	m.mu.Lock()
	m.handles[h.name] = h
	m.mu.Unlock()

	stats := m.Stats()
	if stats.Total != 1 || stats.Idle != 1 || stats.InUse != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	h.busy.Store(true)
	stats = m.Stats()
	if stats.InUse != 1 || stats.Idle != 0 {
		t.Fatalf("unexpected stats after marking busy: %+v", stats)
	}
}

func TestLifetimeCapTimerDestroysHandle(t *testing.T) {
	m := NewManager(DefaultConfig())
	h := &Handle{
		name:        "lifemodel.skill-lifetime",
		pendingReqs: make(map[uint64]pending),
		manager:     m,
	}
	m.mu.Lock()
	m.handles[h.name] = h
	m.mu.Unlock()

	h.lifetimeTimer = time.AfterFunc(10*time.Millisecond, func() {
		h.rejectAllPending(context.DeadlineExceeded)
		_ = m.Destroy(context.Background(), h)
	})

	time.Sleep(50 * time.Millisecond)
	h.mu.Lock()
	destroyed := h.destroyed
	h.mu.Unlock()
	if !destroyed {
		t.Fatal("expected lifetime cap timer to destroy the handle")
	}
}
