package state

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

const HedgeSnapshotKey = "hedge:last_snapshot"

// SideSnapshot is the persisted view of one side of the hedge: enough to
// compare against the exchange-reported position after a restart and to
// reinstate the anchor so triggering stays deterministic across runs.
type SideSnapshot struct {
	Side             string  `msgpack:"side"`
	Symbol           string  `msgpack:"symbol"`
	TotalNotionalUSD float64 `msgpack:"total_notional_usd"`
	LegsFilled       int     `msgpack:"legs_filled"`
	AvgEntryPrice    float64 `msgpack:"avg_entry_price"`
	State            string  `msgpack:"state"`
	AnchorPrice      float64 `msgpack:"anchor_price"`
	AnchorEpoch      int64   `msgpack:"anchor_epoch"`
	AnchorFrozen     bool    `msgpack:"anchor_frozen"`
}

type HedgeSnapshot struct {
	Long        SideSnapshot `msgpack:"long"`
	Short       SideSnapshot `msgpack:"short"`
	UpdatedAtMS int64        `msgpack:"updated_at_ms"`
}

func LoadHedgeSnapshot(ctx context.Context, store Store) (HedgeSnapshot, bool, error) {
	if store == nil {
		return HedgeSnapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, HedgeSnapshotKey)
	if err != nil {
		return HedgeSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return HedgeSnapshot{}, false, nil
	}
	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return HedgeSnapshot{}, false, err
	}
	var snapshot HedgeSnapshot
	if err := msgpack.Unmarshal(payload, &snapshot); err != nil {
		return HedgeSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveHedgeSnapshot(ctx context.Context, store Store, snapshot HedgeSnapshot) error {
	if store == nil {
		return nil
	}
	payload, err := msgpack.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, HedgeSnapshotKey, base64.StdEncoding.EncodeToString(payload))
}
