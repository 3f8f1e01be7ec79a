// Package allocator finds the next unused carving id for a user. Ids are
// derived deterministically from the user's email, and allocation walks the
// user's candidate sequence until it finds one the ledger has never used.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/carvexyz/carve/business/data/mirror"
	"github.com/carvexyz/carve/business/sys/params"
	"github.com/carvexyz/carve/foundation/carveid"
	"github.com/carvexyz/carve/foundation/keylock"
	"github.com/carvexyz/carve/foundation/ledger"
	"go.uber.org/zap"
)

// ErrAllocationExhausted is returned when the attempt limit is reached
// without finding a free candidate.
var ErrAllocationExhausted = errors.New("allocation exhausted")

// Mirror is the view of the mirror the allocator needs.
type Mirror interface {
	EntryState(ctx context.Context, id ledger.ID) (mirror.State, error)
}

// Reader is the view of the ledger the allocator needs.
type Reader interface {
	Read(ctx context.Context, id ledger.ID) (ledger.Entry, error)
}

// Config represents the systems the allocator depends on.
type Config struct {
	Log    *zap.SugaredLogger
	Mirror Mirror
	Ledger Reader
	Params *params.Provider
}

// Allocation is the result of a successful allocation.
type Allocation struct {
	UserID ledger.ID
	Index  uint32
	ID     ledger.ID
}

// Allocator hands out carving ids. Calls for the same user are serialized,
// calls for different users run concurrently.
type Allocator struct {
	log    *zap.SugaredLogger
	mirror Mirror
	ledger Reader
	params *params.Provider
	locks  *keylock.Locker[ledger.ID]

	mu      sync.Mutex
	cursors map[ledger.ID]uint32
}

// New constructs an allocator for use.
func New(cfg Config) *Allocator {
	return &Allocator{
		log:     cfg.Log,
		mirror:  cfg.Mirror,
		ledger:  cfg.Ledger,
		params:  cfg.Params,
		locks:   keylock.New[ledger.ID](),
		cursors: make(map[ledger.ID]uint32),
	}
}

// Allocate returns the next unoccupied candidate id for the email. The
// search starts at the user's cursor, 0 the first time the user is seen by
// this process, and the cursor moves past the returned index.
func (a *Allocator) Allocate(ctx context.Context, email string) (Allocation, error) {
	snap := a.params.Current()
	userID := carveid.UserID(email, snap.UserIDSalt)

	unlock := a.locks.Lock(userID)
	defer unlock()

	start := a.cursor(userID)

	for attempt := 0; attempt < snap.MaxAllocationAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Allocation{}, err
		}

		index := start + uint32(attempt)
		id := carveid.CandidateID(userID, index, snap.CarvingIDSalt)

		occupied, err := a.IsOccupied(ctx, id)
		if err != nil {
			return Allocation{}, fmt.Errorf("probing index %d: %w", index, err)
		}

		if !occupied {
			a.setCursor(userID, index+1)
			return Allocation{UserID: userID, Index: index, ID: id}, nil
		}
	}

	a.log.Errorw("allocate", "status", "attempt limit reached", "userid", userID.Hex(), "start", start, "attempts", snap.MaxAllocationAttempts)

	return Allocation{}, fmt.Errorf("user %s from index %d: %w", userID.Hex(), start, ErrAllocationExhausted)
}

// IsOccupied reports whether the id was ever used. A live row or a
// tombstone in the mirror means used: deleted ids are never handed out
// again. Only when the mirror has no row is the ledger asked, since the
// mirror can lag behind it.
func (a *Allocator) IsOccupied(ctx context.Context, id ledger.ID) (bool, error) {
	state, err := a.mirror.EntryState(ctx, id)
	if err != nil {
		return false, err
	}

	if state != mirror.Absent {
		return true, nil
	}

	_, err = a.ledger.Read(ctx, id)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("reading %s from ledger: %w", id.Hex(), err)
	}

	return true, nil
}

// Cursor returns the next index the user's search will start from.
func (a *Allocator) Cursor(email string) uint32 {
	return a.cursor(carveid.UserID(email, a.params.Current().UserIDSalt))
}

// =============================================================================

func (a *Allocator) cursor(userID ledger.ID) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.cursors[userID]
}

func (a *Allocator) setCursor(userID ledger.ID, next uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cursors[userID] = next
}
