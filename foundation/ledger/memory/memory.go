// Package memory implements the ledger contract in memory. It keeps the same
// rules as the Tree contract: ids are written once, deletes are recorded in
// an append-only event log, and reads of unknown or deleted ids fail.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/carvexyz/carve/foundation/ledger"
	"github.com/ethereum/go-ethereum/crypto"
)

// Memory represents the ledger held in memory. This is used by tests and
// by the service when running without a network.
type Memory struct {
	mu      sync.RWMutex
	entries map[ledger.ID]ledger.Entry
	used    map[ledger.ID]bool
	public  []ledger.ID
	log     []ledger.Event
	block   uint64

	// Optional failure injection for tests.
	WriteErr  error
	ReadErr   error
	EventsErr error
}

// New constructs a Memory value for use.
func New() *Memory {
	return &Memory{
		entries: make(map[ledger.ID]ledger.Entry),
		used:    make(map[ledger.ID]bool),
	}
}

// Read returns the live entry for the id.
func (m *Memory) Read(ctx context.Context, id ledger.ID) (ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.ReadErr != nil {
		return ledger.Entry{}, m.ReadErr
	}

	entry, exists := m.entries[id]
	if !exists {
		return ledger.Entry{}, ledger.ErrNotFound
	}

	return entry, nil
}

// Write stores a new entry. Writing an id that was ever used is rejected.
func (m *Memory) Write(ctx context.Context, entry ledger.Entry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.WriteErr != nil {
		return "", m.WriteErr
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	if m.used[entry.ID] {
		return "", fmt.Errorf("carve %s: %w", entry.ID, ledger.ErrRejected)
	}

	m.entries[entry.ID] = entry
	m.used[entry.ID] = true

	return m.append(ledger.Created, entry), nil
}

// Delete removes the entry and records the deletion.
func (m *Memory) Delete(ctx context.Context, id ledger.ID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[id]; !exists {
		return "", fmt.Errorf("scratch %s: %w", id, ledger.ErrNotFound)
	}

	delete(m.entries, id)

	for i, pid := range m.public {
		if pid == id {
			m.public = append(m.public[:i], m.public[i+1:]...)
			break
		}
	}

	return m.append(ledger.Deleted, ledger.Entry{ID: id}), nil
}

// Publicize marks a live entry as public. The deployed contract decides
// which carvings are public on its own and exposes no call for it, so this
// exists only to seed the in-memory ledger.
func (m *Memory) Publicize(id ledger.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[id]; !exists {
		return ledger.ErrNotFound
	}

	m.public = append(m.public, id)
	return nil
}

// ListPublic returns the ids marked public.
func (m *Memory) ListPublic(ctx context.Context) ([]ledger.ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]ledger.ID, len(m.public))
	copy(ids, m.public)

	return ids, nil
}

// Events returns the log of the specified kind from the first event.
func (m *Memory) Events(ctx context.Context, kind ledger.EventKind) ([]ledger.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.EventsErr != nil {
		return nil, m.EventsErr
	}

	var events []ledger.Event
	for _, ev := range m.log {
		if ev.Kind == kind {
			events = append(events, ev)
		}
	}

	return events, nil
}

// Count returns the number of write and delete transactions applied.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.log)
}

// =============================================================================

// append records an event in its own block and returns the fabricated
// transaction hash.
func (m *Memory) append(kind ledger.EventKind, entry ledger.Entry) string {
	m.block++

	txRef := crypto.Keccak256Hash(entry.ID[:], []byte(kind.String()), []byte(fmt.Sprint(m.block))).Hex()

	m.log = append(m.log, ledger.Event{
		Kind:        kind,
		Entry:       entry,
		TxRef:       txRef,
		BlockNumber: m.block,
	})

	return txRef
}
