package carving_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/carvexyz/carve/business/core/carving"
	"github.com/carvexyz/carve/business/core/reconcile"
	"github.com/carvexyz/carve/business/data/dbtest"
	"github.com/carvexyz/carve/business/data/mirror"
	"github.com/carvexyz/carve/business/sys/notify"
	"github.com/carvexyz/carve/business/sys/params"
	"github.com/carvexyz/carve/foundation/carveid"
	"github.com/carvexyz/carve/foundation/ledger"
	"github.com/carvexyz/carve/foundation/ledger/memory"
	"go.uber.org/zap"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

var snap = params.Snapshot{
	UserIDSalt:       "user-salt",
	CarvingIDSalt:    "carving-salt",
	AdminKey:         "admin",
	MaxIndexFailures: 3,
	TemplateLookup:   "carving_lookup",
}

type fakeSink struct {
	mu    sync.Mutex
	vars  map[string]any
	email string
}

func (f *fakeSink) SendTemplateEmail(ctx context.Context, recipient string, subject string, template string, vars map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.email = recipient
	f.vars = vars
	return nil
}

func (f *fakeSink) ExportOrdersToSheet(ctx context.Context, rows []notify.Row) error {
	return nil
}

type harness struct {
	log    *zap.SugaredLogger
	store  mirror.Store
	ledger *memory.Memory
	sink   *fakeSink
	core   *carving.Core
}

func newHarness(t *testing.T) harness {
	log, db := dbtest.NewUnit(t)
	store := mirror.NewStore(log, db)
	mem := memory.New()
	sink := fakeSink{}

	core := carving.NewCore(carving.Config{
		Log:    log,
		Ledger: mem,
		Mirror: store,
		Params: params.NewStatic(snap),
		Sink:   &sink,
	})

	return harness{log: log, store: store, ledger: mem, sink: &sink, core: core}
}

func (h harness) sync(t *testing.T) {
	t.Helper()
	if _, err := reconcile.NewCore(h.log, h.ledger, h.store).Sync(context.Background()); err != nil {
		t.Fatalf("sync: %s", err)
	}
}

func candidate(email string, index uint32) ledger.ID {
	return carveid.CandidateID(carveid.UserID(email, snap.UserIDSalt), index, snap.CarvingIDSalt)
}

func TestQueryByID(t *testing.T) {
	t.Log("Given carvings in different states.")
	{
		h := newHarness(t)
		ctx := context.Background()

		synced := candidate("a@example.com", 0)
		fresh := candidate("a@example.com", 1)
		gone := candidate("a@example.com", 2)

		h.ledger.Write(ctx, ledger.Entry{ID: synced, Message: "synced"})
		h.ledger.Write(ctx, ledger.Entry{ID: gone, Message: "gone"})
		h.ledger.Delete(ctx, gone)
		h.sync(t)
		h.ledger.Write(ctx, ledger.Entry{ID: fresh, Message: "fresh"})

		crv, err := h.core.QueryByID(ctx, synced)
		if err != nil || crv.Message != "synced" || crv.TxRef == "" {
			t.Fatalf("\t%s\tShould read from the mirror: %v", failed, err)
		}
		t.Logf("\t%s\tShould read from the mirror.", success)

		crv, err = h.core.QueryByID(ctx, fresh)
		if err != nil || crv.Message != "fresh" {
			t.Fatalf("\t%s\tShould fall back to the ledger: %v", failed, err)
		}
		t.Logf("\t%s\tShould fall back to the ledger.", success)

		if _, err := h.core.QueryByID(ctx, gone); !errors.Is(err, carving.ErrDeleted) {
			t.Fatalf("\t%s\tShould report deleted carvings: %v", failed, err)
		}
		t.Logf("\t%s\tShould report deleted carvings.", success)

		if _, err := h.core.QueryByID(ctx, candidate("a@example.com", 9)); !errors.Is(err, carving.ErrNotFound) {
			t.Fatalf("\t%s\tShould report unknown carvings: %v", failed, err)
		}
		t.Logf("\t%s\tShould report unknown carvings.", success)
	}
}

func TestLookup(t *testing.T) {
	const email = "b@example.com"

	t.Log("Given a user with gaps in their carving history.")
	{
		h := newHarness(t)
		ctx := context.Background()

		// Index 0 live, 1 deleted, 2 never used, 3 live, then nothing.
		h.ledger.Write(ctx, ledger.Entry{ID: candidate(email, 0), Message: "a"})
		h.ledger.Write(ctx, ledger.Entry{ID: candidate(email, 1), Message: "b"})
		h.ledger.Delete(ctx, candidate(email, 1))
		h.ledger.Write(ctx, ledger.Entry{ID: candidate(email, 3), Message: "c"})
		h.sync(t)

		ids, err := h.core.Lookup(ctx, email)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to look up: %s", failed, err)
		}

		if len(ids) != 2 || ids[0] != candidate(email, 0) || ids[1] != candidate(email, 3) {
			t.Fatalf("\t%s\tShould find the live carvings across gaps, got %d.", failed, len(ids))
		}
		t.Logf("\t%s\tShould find the live carvings across gaps.", success)

		if err := h.core.SendLookup(ctx, email); err != nil {
			t.Fatalf("\t%s\tShould send the lookup: %s", failed, err)
		}
		links, _ := h.sink.vars["Links"].([]string)
		if h.sink.email != email || len(links) != 2 || links[0] != h.core.Link(candidate(email, 0)) {
			t.Fatalf("\t%s\tShould email the links to the user.", failed)
		}
		t.Logf("\t%s\tShould email the links to the user.", success)
	}
}

func TestPeruseAndScratch(t *testing.T) {
	t.Log("Given public carvings.")
	{
		h := newHarness(t)
		ctx := context.Background()

		a := candidate("c@example.com", 0)
		b := candidate("c@example.com", 1)
		h.ledger.Write(ctx, ledger.Entry{ID: a, Message: "a"})
		h.ledger.Write(ctx, ledger.Entry{ID: b, Message: "b"})
		h.ledger.Publicize(a)
		h.ledger.Publicize(b)

		if got := h.core.Peruse(ctx); len(got) != 2 {
			t.Fatalf("\t%s\tShould list both public carvings, got %d.", failed, len(got))
		}
		t.Logf("\t%s\tShould list both public carvings.", success)

		if _, err := h.core.Scratch(ctx, a); err != nil {
			t.Fatalf("\t%s\tShould be able to scratch: %s", failed, err)
		}
		if got := h.core.Peruse(ctx); len(got) != 1 || got[0].ID != b {
			t.Fatalf("\t%s\tShould drop the scratched carving.", failed)
		}
		t.Logf("\t%s\tShould drop the scratched carving.", success)

		if _, err := h.core.Scratch(ctx, a); !errors.Is(err, carving.ErrNotFound) {
			t.Fatalf("\t%s\tShould not scratch twice: %v", failed, err)
		}
		t.Logf("\t%s\tShould not scratch twice.", success)
	}
}
