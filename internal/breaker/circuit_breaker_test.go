package breaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/Aidin1998/dexroute_unified/internal/breaker"
	pkgerrors "github.com/Aidin1998/dexroute_unified/pkg/errors"
)

var errUpstream = errors.New("upstream failure")

func failing(ctx context.Context) error { return errUpstream }
func succeeding(ctx context.Context) error { return nil }

func newTestRegistry(clock *fakeClock) *breaker.Registry {
	cfg := breaker.Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		MonitoringWindow: 60 * time.Second,
	}
	return breaker.NewRegistry(cfg, zap.NewNop()).WithClock(clock.Now)
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time               { return f.now }
func (f *fakeClock) Advance(d time.Duration)      { f.now = f.now.Add(d) }

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	reg := newTestRegistry(clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, reg.Execute(ctx, "dex:jupiter", "quote", failing), errUpstream)
		assert.Equal(t, breaker.StateClosed, reg.State("dex:jupiter", "quote"))
	}

	// The third consecutive failure opens the circuit.
	assert.ErrorIs(t, reg.Execute(ctx, "dex:jupiter", "quote", failing), errUpstream)
	assert.Equal(t, breaker.StateOpen, reg.State("dex:jupiter", "quote"))
}

func TestBreakerShortCircuitsWhileOpen(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	reg := newTestRegistry(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		reg.Execute(ctx, "dex:okx", "quote", failing)
	}
	assert.Equal(t, breaker.StateOpen, reg.State("dex:okx", "quote"))

	var called bool
	err := reg.Execute(ctx, "dex:okx", "quote", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCircuitBreakerOpen))
	assert.False(t, called)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	reg := newTestRegistry(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		reg.Execute(ctx, "dex:jupiter", "quote", failing)
	}
	assert.Equal(t, breaker.StateOpen, reg.State("dex:jupiter", "quote"))

	clock.Advance(31 * time.Second)

	// First probe transitions to half-open and succeeds.
	assert.NoError(t, reg.Execute(ctx, "dex:jupiter", "quote", succeeding))
	assert.Equal(t, breaker.StateHalfOpen, reg.State("dex:jupiter", "quote"))

	// The second consecutive success closes the circuit.
	assert.NoError(t, reg.Execute(ctx, "dex:jupiter", "quote", succeeding))
	assert.Equal(t, breaker.StateClosed, reg.State("dex:jupiter", "quote"))
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	reg := newTestRegistry(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		reg.Execute(ctx, "dex:okx", "quote", failing)
	}
	clock.Advance(31 * time.Second)

	assert.ErrorIs(t, reg.Execute(ctx, "dex:okx", "quote", failing), errUpstream)
	assert.Equal(t, breaker.StateOpen, reg.State("dex:okx", "quote"))

	// The open window is re-armed: still short-circuiting before the next
	// recovery timeout elapses.
	clock.Advance(10 * time.Second)
	err := reg.Execute(ctx, "dex:okx", "quote", succeeding)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCircuitBreakerOpen))
}

func TestBreakerClosedSuccessDecrementsFailures(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	reg := newTestRegistry(clock)
	ctx := context.Background()

	reg.Execute(ctx, "dex:jupiter", "quote", failing)
	reg.Execute(ctx, "dex:jupiter", "quote", failing)
	reg.Execute(ctx, "dex:jupiter", "quote", succeeding)

	// Two failures minus one success leaves headroom: two more failures are
	// needed to open.
	reg.Execute(ctx, "dex:jupiter", "quote", failing)
	assert.Equal(t, breaker.StateClosed, reg.State("dex:jupiter", "quote"))
	reg.Execute(ctx, "dex:jupiter", "quote", failing)
	assert.Equal(t, breaker.StateOpen, reg.State("dex:jupiter", "quote"))
}

func TestBreakerManualReset(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	reg := newTestRegistry(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		reg.Execute(ctx, "dex:okx", "build", failing)
	}
	assert.Equal(t, breaker.StateOpen, reg.State("dex:okx", "build"))

	reg.Reset("dex:okx", "build")
	assert.Equal(t, breaker.StateClosed, reg.State("dex:okx", "build"))
	assert.NoError(t, reg.Execute(ctx, "dex:okx", "build", succeeding))
}

func TestExecuteGuardedFallback(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	reg := newTestRegistry(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		reg.Execute(ctx, "dex:jupiter", "quote", failing)
	}

	var fallbackCalled bool
	err := reg.ExecuteGuarded(ctx, "dex:jupiter", "quote", succeeding, func(ctx context.Context) error {
		fallbackCalled = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, fallbackCalled)

	// A primary failure does not trigger the fallback.
	fallbackCalled = false
	reg.Reset("dex:jupiter", "quote")
	err = reg.ExecuteGuarded(ctx, "dex:jupiter", "quote", failing, func(ctx context.Context) error {
		fallbackCalled = true
		return nil
	})
	assert.ErrorIs(t, err, errUpstream)
	assert.False(t, fallbackCalled)
}

func TestBreakerSnapshots(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	reg := newTestRegistry(clock)
	ctx := context.Background()

	reg.Execute(ctx, "dex:jupiter", "quote", failing)
	snaps := reg.Snapshots()
	assert.Len(t, snaps, 1)
	assert.Equal(t, "dex:jupiter:quote", snaps[0].Name)
	assert.Equal(t, "closed", snaps[0].State)
	assert.Equal(t, 1, snaps[0].FailureCount)
}
