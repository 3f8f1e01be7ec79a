package claim_test

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/carvexyz/carve/business/sys/claim"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newRedisClaimerForTest(t *testing.T) (*miniredis.Miniredis, *claim.Redis) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		m.Close()
	})
	return m, claim.NewRedis(nil, client, "claim_test")
}

func exercise(t *testing.T, c claim.Claimer) {
	t.Helper()
	ctx := context.Background()

	release, err := c.Claim(ctx, time.Minute, "obj:evt_1", "pay:pi_1")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}

	if _, err := c.Claim(ctx, time.Minute, "obj:evt_2", "pay:pi_1"); !errors.Is(err, claim.ErrClaimed) {
		t.Fatalf("expected second key to be claimed, got %v", err)
	}

	other, err := c.Claim(ctx, time.Minute, "obj:evt_2", "pay:pi_2")
	if err != nil {
		t.Fatalf("expected the partial claim to be rolled back: %v", err)
	}
	other()

	release()
	release()

	again, err := c.Claim(ctx, time.Minute, "obj:evt_1", "pay:pi_1")
	if err != nil {
		t.Fatalf("claim after release: %v", err)
	}
	again()
}

func exerciseHold(t *testing.T, c claim.Claimer) {
	t.Helper()
	ctx := context.Background()

	release, err := c.Claim(ctx, time.Minute, "obj:evt_9", "pay:pi_9")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := c.Hold(ctx, time.Hour, "obj:evt_9", "pay:pi_9"); err != nil {
		t.Fatalf("hold: %v", err)
	}

	release()

	if _, err := c.Claim(ctx, time.Minute, "pay:pi_9"); !errors.Is(err, claim.ErrClaimed) {
		t.Fatalf("expected held key to survive the release, got %v", err)
	}
}

func TestLocalClaim(t *testing.T) {
	exercise(t, claim.NewLocal())
}

func TestLocalHold(t *testing.T) {
	exerciseHold(t, claim.NewLocal())
}

func TestRedisHold(t *testing.T) {
	_, c := newRedisClaimerForTest(t)
	exerciseHold(t, c)
}

func TestRedisReleaseFailureLogged(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	core, logs := observer.New(zapcore.ErrorLevel)
	c := claim.NewRedis(zap.New(core).Sugar(), client, "claim_test")

	release, err := c.Claim(context.Background(), time.Minute, "k")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	m.Close()
	release()

	if logs.FilterMessage("claim").Len() != 1 {
		t.Fatalf("expected the failed release to be logged, got %d entries", logs.Len())
	}
}

func TestLocalClaimExpires(t *testing.T) {
	c := claim.NewLocal()
	ctx := context.Background()

	if _, err := c.Claim(ctx, time.Millisecond, "k"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := c.Claim(ctx, time.Minute, "k"); err != nil {
		t.Fatalf("expected expired claim to be reclaimable: %v", err)
	}
}

func TestRedisClaim(t *testing.T) {
	_, c := newRedisClaimerForTest(t)
	exercise(t, c)
}

func TestRedisClaimExpires(t *testing.T) {
	m, c := newRedisClaimerForTest(t)
	ctx := context.Background()

	if _, err := c.Claim(ctx, time.Second, "k"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	m.FastForward(2 * time.Second)

	if _, err := c.Claim(ctx, time.Minute, "k"); err != nil {
		t.Fatalf("expected expired claim to be reclaimable: %v", err)
	}
}

func TestRedisClaimNilClient(t *testing.T) {
	if _, err := claim.NewRedis(nil, nil, "").Claim(context.Background(), time.Second, "k"); err == nil {
		t.Fatal("expected nil client error")
	}
}
