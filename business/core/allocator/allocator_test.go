package allocator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/carvexyz/carve/business/core/allocator"
	"github.com/carvexyz/carve/business/data/dbtest"
	"github.com/carvexyz/carve/business/data/mirror"
	"github.com/carvexyz/carve/business/sys/params"
	"github.com/carvexyz/carve/foundation/carveid"
	"github.com/carvexyz/carve/foundation/ledger"
	"github.com/carvexyz/carve/foundation/ledger/memory"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

var snap = params.Snapshot{
	UserIDSalt:            "user-salt",
	CarvingIDSalt:         "carving-salt",
	AdminKey:              "admin",
	MaxIndexFailures:      5,
	MaxAllocationAttempts: 100,
}

type harness struct {
	store  mirror.Store
	ledger *memory.Memory
	alloc  *allocator.Allocator
}

func newHarness(t *testing.T, s params.Snapshot, reader allocator.Reader) harness {
	log, db := dbtest.NewUnit(t)
	store := mirror.NewStore(log, db)
	mem := memory.New()

	if reader == nil {
		reader = mem
	}

	a := allocator.New(allocator.Config{
		Log:    log,
		Mirror: store,
		Ledger: reader,
		Params: params.NewStatic(s),
	})

	return harness{store: store, ledger: mem, alloc: a}
}

func candidate(email string, index uint32) ledger.ID {
	return carveid.CandidateID(carveid.UserID(email, snap.UserIDSalt), index, snap.CarvingIDSalt)
}

func seed(t *testing.T, store mirror.Store, live []ledger.ID, dead []ledger.ID) {
	t.Helper()

	msg := "carved"
	var rows []mirror.CarvingEntry
	for _, id := range live {
		rows = append(rows, mirror.CarvingEntry{CarvingID: id.Hex(), CarvingTxn: "live" + id.Hex(), Message: &msg, Properties: ledger.Properties{}.Hex()})
	}
	for _, id := range dead {
		rows = append(rows, mirror.CarvingEntry{CarvingID: id.Hex(), CarvingTxn: "dead" + id.Hex(), Properties: ledger.Properties{}.Hex()})
	}

	if err := store.ReplaceAll(context.Background(), rows); err != nil {
		t.Fatalf("seeding mirror: %s", err)
	}
}

func TestAllocateSkipsOccupied(t *testing.T) {
	const email = "bill@example.com"

	t.Log("Given a mirror holding a user's first five carvings.")
	{
		h := newHarness(t, snap, nil)

		var live []ledger.ID
		for i := range uint32(5) {
			live = append(live, candidate(email, i))
		}
		seed(t, h.store, live, nil)

		a, err := h.alloc.Allocate(context.Background(), email)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to allocate: %s", failed, err)
		}
		t.Logf("\t%s\tShould be able to allocate.", success)

		if a.Index != 5 || a.ID != candidate(email, 5) {
			t.Fatalf("\t%s\tShould allocate index 5, got %d.", failed, a.Index)
		}
		t.Logf("\t%s\tShould allocate index 5.", success)

		if h.alloc.Cursor(email) != 6 {
			t.Fatalf("\t%s\tShould move the cursor past the allocation, got %d.", failed, h.alloc.Cursor(email))
		}
		t.Logf("\t%s\tShould move the cursor past the allocation.", success)
	}
}

func TestAllocateNeverReusesDeleted(t *testing.T) {
	const email = "jill@example.com"

	t.Log("Given a user whose first carving was deleted.")
	{
		h := newHarness(t, snap, nil)
		seed(t, h.store, nil, []ledger.ID{candidate(email, 0)})

		a, err := h.alloc.Allocate(context.Background(), email)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to allocate: %s", failed, err)
		}

		if a.Index != 1 {
			t.Fatalf("\t%s\tShould treat the tombstone as occupied, got index %d.", failed, a.Index)
		}
		t.Logf("\t%s\tShould treat the tombstone as occupied.", success)
	}
}

func TestAllocateFallsBackToLedger(t *testing.T) {
	const email = "ed@example.com"

	t.Log("Given a ledger write the mirror has not caught up with.")
	{
		h := newHarness(t, snap, nil)

		if _, err := h.ledger.Write(context.Background(), ledger.Entry{ID: candidate(email, 0), Message: "fresh"}); err != nil {
			t.Fatalf("\t%s\tShould be able to write to the ledger: %s", failed, err)
		}

		a, err := h.alloc.Allocate(context.Background(), email)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to allocate: %s", failed, err)
		}

		if a.Index != 1 {
			t.Fatalf("\t%s\tShould see the ledger entry, got index %d.", failed, a.Index)
		}
		t.Logf("\t%s\tShould see the ledger entry.", success)
	}
}

func TestAllocateExhausted(t *testing.T) {
	const email = "ceil@example.com"

	t.Log("Given a attempt limit smaller than the user's history.")
	{
		s := snap
		s.MaxAllocationAttempts = 3
		h := newHarness(t, s, nil)

		seed(t, h.store, []ledger.ID{candidate(email, 0), candidate(email, 1), candidate(email, 2)}, nil)

		_, err := h.alloc.Allocate(context.Background(), email)
		if !errors.Is(err, allocator.ErrAllocationExhausted) {
			t.Fatalf("\t%s\tShould report exhaustion: %v", failed, err)
		}
		t.Logf("\t%s\tShould report exhaustion.", success)
	}
}

type failingReader struct{}

func (failingReader) Read(ctx context.Context, id ledger.ID) (ledger.Entry, error) {
	return ledger.Entry{}, errors.New("rpc unavailable")
}

func TestAllocateLedgerError(t *testing.T) {
	t.Log("Given a ledger that cannot be reached.")
	{
		h := newHarness(t, snap, failingReader{})

		_, err := h.alloc.Allocate(context.Background(), "bill@example.com")
		if err == nil {
			t.Fatalf("\t%s\tShould not assume the id is free.", failed)
		}
		t.Logf("\t%s\tShould not assume the id is free.", success)

		if h.alloc.Cursor("bill@example.com") != 0 {
			t.Fatalf("\t%s\tShould leave the cursor alone.", failed)
		}
		t.Logf("\t%s\tShould leave the cursor alone.", success)
	}
}

func TestAllocateSameUserConcurrently(t *testing.T) {
	const email = "bill@example.com"
	const g = 8

	t.Log("Given concurrent allocations for the same user.")
	{
		h := newHarness(t, snap, nil)

		var wg sync.WaitGroup
		results := make([]allocator.Allocation, g)
		errs := make([]error, g)

		for i := range g {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], errs[i] = h.alloc.Allocate(context.Background(), email)
			}()
		}
		wg.Wait()

		seen := make(map[ledger.ID]bool)
		for i := range g {
			if errs[i] != nil {
				t.Fatalf("\t%s\tShould be able to allocate: %s", failed, errs[i])
			}
			if seen[results[i].ID] {
				t.Fatalf("\t%s\tShould hand out distinct ids, index %d twice.", failed, results[i].Index)
			}
			seen[results[i].ID] = true
		}
		t.Logf("\t%s\tShould hand out distinct ids.", success)
	}
}

// gateReader blocks reads of one id until the gate is opened.
type gateReader struct {
	*memory.Memory
	blocked ledger.ID
	entered chan struct{}
	gate    chan struct{}
}

func (g gateReader) Read(ctx context.Context, id ledger.ID) (ledger.Entry, error) {
	if id == g.blocked {
		close(g.entered)
		<-g.gate
	}
	return g.Memory.Read(ctx, id)
}

func TestAllocateDifferentUsersConcurrently(t *testing.T) {
	t.Log("Given one user's allocation stalled on the ledger.")
	{
		gr := gateReader{
			Memory:  memory.New(),
			blocked: candidate("slow@example.com", 0),
			entered: make(chan struct{}),
			gate:    make(chan struct{}),
		}
		h := newHarness(t, snap, gr)

		slow := make(chan allocator.Allocation, 1)
		go func() {
			a, _ := h.alloc.Allocate(context.Background(), "slow@example.com")
			slow <- a
		}()
		<-gr.entered

		done := make(chan allocator.Allocation, 1)
		go func() {
			a, _ := h.alloc.Allocate(context.Background(), "fast@example.com")
			done <- a
		}()

		var fast allocator.Allocation
		select {
		case fast = <-done:
			t.Logf("\t%s\tShould not block another user's allocation.", success)
		case <-time.After(5 * time.Second):
			t.Fatalf("\t%s\tShould not block another user's allocation.", failed)
		}

		close(gr.gate)
		s := <-slow

		if s.ID == fast.ID {
			t.Fatalf("\t%s\tShould hand out distinct ids.", failed)
		}
		t.Logf("\t%s\tShould hand out distinct ids.", success)
	}
}
