package broadcast

import (
	"context"

	"callwatch/internal/calls"
	"callwatch/internal/history"
	"callwatch/internal/registry"
	"callwatch/internal/stats"
)

// StoreSources wires the hub's read hooks to the real stores. The active
// map and its cursors come from one atomic registry read; history and
// statistics are read afterwards, outside the registry lock.
// historyLimit caps the recent-call slice in the snapshot; <= 0 falls back
// to history.DefaultListLimit.
func StoreSources(store *registry.Store, archive *history.Service, statsSvc *stats.Service, historyLimit int) Sources {
	if historyLimit <= 0 {
		historyLimit = history.DefaultListLimit
	}
	return Sources{
		Snapshot: func(ctx context.Context) (Snapshot, map[string]Cursor, error) {
			active, regCursors := store.SnapshotWithCursors()
			recent, err := archive.List(ctx, historyLimit)
			if err != nil {
				return Snapshot{}, nil, err
			}
			st, err := statsSvc.Compute(ctx)
			if err != nil {
				return Snapshot{}, nil, err
			}
			cursors := make(map[string]Cursor, len(regCursors))
			for id, c := range regCursors {
				cursors[id] = Cursor{Transcript: c.Transcript, Metrics: c.Metrics}
			}
			return Snapshot{ActiveCalls: active, CallHistory: recent, Stats: st}, cursors, nil
		},
		Call: func(callID string) (calls.Call, Cursor, bool) {
			c, cur, ok := store.GetWithCursor(callID)
			return c, Cursor{Transcript: cur.Transcript, Metrics: cur.Metrics}, ok
		},
		SamplesSince: store.SamplesSince,
	}
}
