package params

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Provider holds the current Snapshot and refreshes it from a Source.
type Provider struct {
	log    *zap.SugaredLogger
	source Source
	snap   atomic.Pointer[Snapshot]
	wg     sync.WaitGroup
	shut   chan struct{}
	once   sync.Once
}

// New loads the first snapshot. Failing to load it is fatal to the caller.
func New(ctx context.Context, log *zap.SugaredLogger, source Source) (*Provider, error) {
	p := Provider{
		log:    log,
		source: source,
		shut:   make(chan struct{}),
	}

	if err := p.Refresh(ctx); err != nil {
		return nil, err
	}

	return &p, nil
}

// NewStatic constructs a provider that always serves the given snapshot.
func NewStatic(snap Snapshot) *Provider {
	p := Provider{
		log:  zap.NewNop().Sugar(),
		shut: make(chan struct{}),
	}
	p.snap.Store(&snap)

	return &p
}

// Current returns the snapshot in effect.
func (p *Provider) Current() Snapshot {
	return *p.snap.Load()
}

// Refresh loads a new snapshot and swaps it in. On failure the previous
// snapshot stays in effect. The operator key handle and contract address
// are bound to the ledger client at startup, so a change to either is
// logged and takes effect on the next restart.
func (p *Provider) Refresh(ctx context.Context) error {
	if p.source == nil {
		return nil
	}

	values, err := p.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigUnavailable, err)
	}

	snap, err := Parse(values)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigUnavailable, err)
	}

	if prev := p.snap.Load(); prev != nil {
		if prev.PrivateKeyHandle != snap.PrivateKeyHandle || prev.ContractAddress != snap.ContractAddress {
			p.log.Warnw("params", "status", "ledger identity changed, restart required to apply",
				"key_handle", snap.PrivateKeyHandle, "contract", snap.ContractAddress)
		}
	}

	p.snap.Store(&snap)
	return nil
}

// Run starts a goroutine that refreshes the snapshot on the interval the
// current snapshot specifies.
func (p *Provider) Run() {
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		for {
			interval := p.Current().RefreshInterval
			if interval <= 0 {
				interval = 5 * time.Minute
			}
			timer := time.NewTimer(interval)

			select {
			case <-timer.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := p.Refresh(ctx); err != nil {
					p.log.Errorw("params", "status", "refresh failed, keeping previous snapshot", "ERROR", err)
				}
				cancel()

			case <-p.shut:
				timer.Stop()
				return
			}
		}
	}()
}

// Shutdown stops the refresh goroutine.
func (p *Provider) Shutdown() {
	p.once.Do(func() { close(p.shut) })
	p.wg.Wait()
}
