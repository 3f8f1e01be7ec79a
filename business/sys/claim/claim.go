// Package claim provides short lived exclusive claims on string keys so a
// payment event delivered twice at the same time is only worked once.
package claim

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClaimed is returned when another worker holds one of the keys.
var ErrClaimed = errors.New("key already claimed")

// Claimer takes exclusive claims on a set of keys. The returned release
// function gives every key back. Hold pins keys for ttl no matter who holds
// them, and no outstanding release function can free them.
type Claimer interface {
	Claim(ctx context.Context, ttl time.Duration, keys ...string) (release func(), err error)
	Hold(ctx context.Context, ttl time.Duration, keys ...string) error
}

// =============================================================================

// Local claims keys within a single process.
type Local struct {
	mu    sync.Mutex
	held  map[string]holder
	token uint64
}

type holder struct {
	token   uint64
	expires time.Time
}

// NewLocal constructs a process local claimer.
func NewLocal() *Local {
	return &Local{
		held: make(map[string]holder),
	}
}

// Claim implements the Claimer interface. Claims expire after ttl so a
// crashed holder cannot keep a key forever.
func (l *Local) Claim(ctx context.Context, ttl time.Duration, keys ...string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for _, key := range keys {
		if h, exists := l.held[key]; exists && now.Before(h.expires) {
			return nil, ErrClaimed
		}
	}

	l.token++
	token := l.token

	for _, key := range keys {
		l.held[key] = holder{token: token, expires: now.Add(ttl)}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for _, key := range keys {
				if l.held[key].token == token {
					delete(l.held, key)
				}
			}
		})
	}

	return release, nil
}

// Hold implements the Claimer interface.
func (l *Local) Hold(ctx context.Context, ttl time.Duration, keys ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Token zero is never handed out by Claim.
	expires := time.Now().Add(ttl)
	for _, key := range keys {
		l.held[key] = holder{expires: expires}
	}

	return nil
}
