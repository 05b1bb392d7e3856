package strategy

import (
	"math"
	"testing"
	"time"
)

func TestTrackerRatchetsWhileFlat(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	r := tr.Observe("MNTUSDT", 100, now)
	if r.Anchor != 100 || r.Pct != 0 {
		t.Fatalf("expected seeded anchor 100 with 0%% drawdown, got %+v", r)
	}
	r = tr.Observe("MNTUSDT", 110, now)
	if r.Anchor != 110 {
		t.Fatalf("anchor should ratchet up to 110, got %f", r.Anchor)
	}
	r = tr.Observe("MNTUSDT", 99, now)
	if r.Anchor != 110 {
		t.Fatalf("anchor should not move down, got %f", r.Anchor)
	}
	if math.Abs(r.Pct-10) > 1e-9 {
		t.Fatalf("expected 10%% drawdown, got %f", r.Pct)
	}
}

func TestTrackerFreezeStopsRatchet(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	tr.Observe("MNTUSDT", 100, now)
	tr.Freeze("MNTUSDT")
	r := tr.Observe("MNTUSDT", 120, now)
	if r.Anchor != 100 {
		t.Fatalf("frozen anchor must not ratchet, got %f", r.Anchor)
	}
	if r.Pct != 0 {
		t.Fatalf("drawdown is clamped at zero above the anchor, got %f", r.Pct)
	}
}

func TestTrackerResetAdvancesEpoch(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	tr.Observe("MNTUSDT", 100, now)
	tr.Freeze("MNTUSDT")
	tr.Observe("MNTUSDT", 80, now)
	tr.Reset("MNTUSDT")
	r := tr.Observe("MNTUSDT", 80, now)
	if r.Epoch != 1 {
		t.Fatalf("expected epoch 1 after reset, got %d", r.Epoch)
	}
	if r.Anchor != 80 {
		t.Fatalf("anchor should re-seed from the last price, got %f", r.Anchor)
	}
	if r.Pct != 0 {
		t.Fatalf("drawdown restarts at zero after reset, got %f", r.Pct)
	}
}

func TestTrackerRestore(t *testing.T) {
	tr := NewTracker()
	tr.Restore("MNTUSDT", 105, 7, true)
	r := tr.Observe("MNTUSDT", 110, time.Now())
	if r.Anchor != 105 || r.Epoch != 7 {
		t.Fatalf("expected restored anchor 105 epoch 7, got %+v", r)
	}
	anchor, epoch, frozen, ok := tr.Snapshot("MNTUSDT")
	if !ok || anchor != 105 || epoch != 7 || !frozen {
		t.Fatalf("unexpected snapshot: %f %d %v %v", anchor, epoch, frozen, ok)
	}
}

func TestTrackerRestoreZeroAnchorSeedsFromNextObservation(t *testing.T) {
	tr := NewTracker()
	tr.Restore("MNTUSDT", 0, 3, true)
	r := tr.Observe("MNTUSDT", 50, time.Now())
	if r.Anchor != 50 || r.Pct != 0 {
		t.Fatalf("expected anchor to seed at 50 with 0%% drawdown, got %+v", r)
	}
}
