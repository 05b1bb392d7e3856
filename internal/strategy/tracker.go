package strategy

import (
	"sync"
	"time"
)

// Reading is one drawdown observation against the current anchor.
type Reading struct {
	Pct    float64
	Anchor float64
	Epoch  int64
}

type reference struct {
	anchor    float64
	last      float64
	frozen    bool
	epoch     int64
	updatedAt time.Time
}

// Tracker maintains the per-symbol reference (anchor) price that drawdown
// is measured from. While a side is flat the anchor ratchets up with the
// running price maximum; once a position opens the anchor freezes for the
// rest of that scale-in cycle so later ticks cannot move the goalposts.
type Tracker struct {
	mu   sync.Mutex
	refs map[string]*reference
}

func NewTracker() *Tracker {
	return &Tracker{refs: make(map[string]*reference)}
}

func (t *Tracker) Observe(symbol string, price float64, now time.Time) Reading {
	t.mu.Lock()
	defer t.mu.Unlock()
	ref, ok := t.refs[symbol]
	if !ok {
		ref = &reference{anchor: price}
		t.refs[symbol] = ref
	}
	if !ref.frozen && price > ref.anchor {
		ref.anchor = price
	}
	if ref.anchor == 0 {
		ref.anchor = price
	}
	ref.last = price
	ref.updatedAt = now
	pct := 0.0
	if ref.anchor > 0 {
		pct = (ref.anchor - price) / ref.anchor * 100
	}
	if pct < 0 {
		pct = 0
	}
	return Reading{Pct: pct, Anchor: ref.anchor, Epoch: ref.epoch}
}

// Freeze pins the anchor for the current cycle. Called when a position
// opens on the symbol.
func (t *Tracker) Freeze(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ref, ok := t.refs[symbol]; ok {
		ref.frozen = true
	}
}

// Reset starts a new cycle: the anchor re-seeds from the next observation
// and the epoch advances so retried orders from the old cycle can never
// collide with the new one.
func (t *Tracker) Reset(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ref, ok := t.refs[symbol]
	if !ok {
		ref = &reference{}
		t.refs[symbol] = ref
	}
	ref.frozen = false
	ref.anchor = ref.last
	ref.epoch++
}

// Restore reinstates a persisted anchor after restart.
func (t *Tracker) Restore(symbol string, anchor float64, epoch int64, frozen bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refs[symbol] = &reference{anchor: anchor, epoch: epoch, frozen: frozen}
}

// Snapshot reports the current anchor state for persistence.
func (t *Tracker) Snapshot(symbol string) (anchor float64, epoch int64, frozen bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ref, ok := t.refs[symbol]
	if !ok {
		return 0, 0, false, false
	}
	return ref.anchor, ref.epoch, ref.frozen, true
}
