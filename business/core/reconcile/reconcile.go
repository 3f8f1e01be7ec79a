// Package reconcile rebuilds the mirror from the ledger's event log. Every
// pass replays the full create and delete history, so the mirror after a
// pass is exactly the projection of the log at that moment.
package reconcile

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/carvexyz/carve/business/data/mirror"
	"github.com/carvexyz/carve/foundation/ledger"
	"go.uber.org/zap"
)

// Ledger is the view of the ledger the reconciler needs.
type Ledger interface {
	Events(ctx context.Context, kind ledger.EventKind) ([]ledger.Event, error)
}

// Mirror is the view of the mirror the reconciler needs.
type Mirror interface {
	ReplaceAll(ctx context.Context, entries []mirror.CarvingEntry) error
}

// Stats reports the shape of the mirror a pass produced.
type Stats struct {
	Created int
	Deleted int
}

// Core manages the set of APIs for reconciliation.
type Core struct {
	log    *zap.SugaredLogger
	ledger Ledger
	mirror Mirror
}

// NewCore constructs a core for reconciliation.
func NewCore(log *zap.SugaredLogger, ledger Ledger, mirror Mirror) *Core {
	return &Core{
		log:    log,
		ledger: ledger,
		mirror: mirror,
	}
}

// Sync fetches both event logs and replaces the mirror with their replay.
// Any failure happens before the mirror is touched or rolls the replace
// back, so the mirror always reflects the last completed pass.
func (c *Core) Sync(ctx context.Context) (Stats, error) {
	created, err := c.ledger.Events(ctx, ledger.Created)
	if err != nil {
		return Stats{}, fmt.Errorf("fetching created events: %w", err)
	}

	deleted, err := c.ledger.Events(ctx, ledger.Deleted)
	if err != nil {
		return Stats{}, fmt.Errorf("fetching deleted events: %w", err)
	}

	rows, stats := Replay(created, deleted)

	if err := c.mirror.ReplaceAll(ctx, rows); err != nil {
		return Stats{}, fmt.Errorf("replacing mirror: %w", err)
	}

	return stats, nil
}

// Replay computes the mirror rows for the event logs. An id with a delete
// event becomes a tombstone carrying the delete's transaction, every other
// created id becomes a live row. When an id repeats within a log the last
// event wins. Rows are ordered by id.
func Replay(created []ledger.Event, deleted []ledger.Event) ([]mirror.CarvingEntry, Stats) {
	tombstones := make(map[ledger.ID]ledger.Event, len(deleted))
	for _, ev := range deleted {
		tombstones[ev.Entry.ID] = ev
	}

	live := make(map[ledger.ID]ledger.Event, len(created))
	for _, ev := range created {
		if _, dead := tombstones[ev.Entry.ID]; dead {
			continue
		}
		live[ev.Entry.ID] = ev
	}

	rows := make([]mirror.CarvingEntry, 0, len(live)+len(tombstones))

	for _, ev := range live {
		to := ev.Entry.To
		from := ev.Entry.From
		msg := ev.Entry.Message

		rows = append(rows, mirror.CarvingEntry{
			CarvingID:  ev.Entry.ID.Hex(),
			CarvingTxn: ev.TxRef,
			To:         &to,
			From:       &from,
			Message:    &msg,
			Properties: ev.Entry.Properties.Hex(),
		})
	}

	for id, ev := range tombstones {
		rows = append(rows, mirror.CarvingEntry{
			CarvingID:  id.Hex(),
			CarvingTxn: ev.TxRef,
			Properties: ledger.Properties{}.Hex(),
		})
	}

	slices.SortFunc(rows, func(a, b mirror.CarvingEntry) int {
		return strings.Compare(a.CarvingID, b.CarvingID)
	})

	return rows, Stats{Created: len(live), Deleted: len(tombstones)}
}
