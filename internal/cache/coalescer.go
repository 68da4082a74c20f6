package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	pkgerrors "github.com/Aidin1998/dexroute_unified/pkg/errors"
	"github.com/Aidin1998/dexroute_unified/pkg/metrics"
)

// Factory produces the value for a cache key. It is invoked at most once per
// key across all concurrent callers of GetWithCoalescing.
type Factory func(ctx context.Context) ([]byte, error)

// Result is the outcome of a coalesced lookup. Cached is true when the value
// was served from the cache without reaching the factory.
type Result struct {
	Value  []byte
	Cached bool
}

// flight is one in-progress factory invocation and its subscribers.
type flight struct {
	done      chan struct{}
	value     []byte
	err       error
	count     int
	startTime time.Time
	published bool
}

// Coalescer collapses concurrent identical lookups into a single factory
// invocation and caches successful results. The in-flight map is the only
// shared mutable structure; all mutations happen under mu.
type Coalescer struct {
	cache  Cache
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]*flight

	sweepCutoff time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewCoalescer creates a coalescer over the given cache and starts the
// stale-entry sweeper.
func NewCoalescer(c Cache, logger *zap.Logger) *Coalescer {
	co := &Coalescer{
		cache:       c,
		logger:      logger,
		inflight:    make(map[string]*flight),
		sweepCutoff: 10 * time.Minute,
		stop:        make(chan struct{}),
	}
	go co.sweeper(60 * time.Second)
	return co
}

// Close stops the sweeper. In-flight factories run to completion.
func (co *Coalescer) Close() {
	co.stopOnce.Do(func() { close(co.stop) })
}

// GetWithCoalescing returns the cached value for key, or invokes factory at
// most once across all concurrent callers and broadcasts its result.
//
// A ttl of zero or less coalesces without caching. Factory failures propagate
// to every waiter; a waiter that joined a failed flight retries once as its
// own fresh attempt. The factory is bounded by coalesceTimeout and is not
// cancelled when an individual waiter's context is.
func (co *Coalescer) GetWithCoalescing(ctx context.Context, key string, factory Factory, coalesceTimeout, ttl time.Duration) (Result, error) {
	return co.do(ctx, key, factory, coalesceTimeout, ttl, true)
}

func (co *Coalescer) do(ctx context.Context, key string, factory Factory, coalesceTimeout, ttl time.Duration, allowRetry bool) (Result, error) {
	cacheType := CacheType(key)

	if value, ok, err := co.cache.Get(ctx, key); err != nil {
		co.logger.Warn("cache read failed, falling through to factory",
			zap.String("key", key), zap.Error(err))
	} else if ok && value != nil {
		return Result{Value: value, Cached: true}, nil
	}

	co.mu.Lock()
	if fl, exists := co.inflight[key]; exists {
		fl.count++
		co.mu.Unlock()
		metrics.CoalescerDuplicates.WithLabelValues(cacheType).Inc()

		select {
		case <-fl.done:
		case <-ctx.Done():
			// A cancelled waiter detaches; the factory keeps running for
			// the remaining subscribers.
			return Result{}, ctx.Err()
		}
		if fl.err != nil {
			if allowRetry {
				return co.do(ctx, key, factory, coalesceTimeout, ttl, false)
			}
			return Result{}, fl.err
		}
		return Result{Value: fl.value}, nil
	}

	fl := &flight{
		done:      make(chan struct{}),
		count:     1,
		startTime: time.Now(),
	}
	co.inflight[key] = fl
	co.mu.Unlock()
	metrics.CoalescerOriginals.WithLabelValues(cacheType).Inc()

	go co.run(key, fl, factory, coalesceTimeout, ttl)

	select {
	case <-fl.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	if fl.err != nil {
		return Result{}, fl.err
	}
	return Result{Value: fl.value}, nil
}

// run executes the factory detached from any caller context so that a
// cancelled waiter cannot abort work other subscribers depend on.
func (co *Coalescer) run(key string, fl *flight, factory Factory, coalesceTimeout, ttl time.Duration) {
	if coalesceTimeout <= 0 {
		coalesceTimeout = 30 * time.Second
	}
	fctx, cancel := context.WithTimeout(context.Background(), coalesceTimeout)
	defer cancel()

	type outcome struct {
		value []byte
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		value, err := factory(fctx)
		ch <- outcome{value: value, err: err}
	}()

	select {
	case out := <-ch:
		if out.err == nil && out.value != nil && ttl > 0 {
			if err := co.cache.Set(context.Background(), key, out.value, ttl); err != nil {
				co.logger.Warn("cache write failed after factory success",
					zap.String("key", key), zap.Error(err))
			}
		}
		co.finalize(key, fl, out.value, out.err)
	case <-fctx.Done():
		err := pkgerrors.New(pkgerrors.CodeExternalServiceError, "coalesced operation timed out").
			WithDetail("key", key).
			WithDetail("timeoutMs", coalesceTimeout.Milliseconds())
		co.finalize(key, fl, nil, err)
	}
}

// finalize publishes the result to all waiters and removes the flight. It is
// idempotent so the sweeper and a late factory cannot both close the channel.
func (co *Coalescer) finalize(key string, fl *flight, value []byte, err error) {
	co.mu.Lock()
	if fl.published {
		co.mu.Unlock()
		return
	}
	fl.published = true
	fl.value = value
	fl.err = err
	if current, ok := co.inflight[key]; ok && current == fl {
		delete(co.inflight, key)
	}
	count := fl.count
	elapsed := time.Since(fl.startTime)
	co.mu.Unlock()

	close(fl.done)

	cacheType := CacheType(key)
	if count > 1 {
		metrics.CoalescerSaved.WithLabelValues(cacheType).Add(float64(count - 1))
	}
	metrics.CoalescerDuration.WithLabelValues(cacheType).Observe(elapsed.Seconds())

	co.logger.Debug("coalesced flight finalized",
		zap.String("key", key),
		zap.Int("requests", count),
		zap.Int("requests_saved", count-1),
		zap.Duration("duration", elapsed),
		zap.Bool("failed", err != nil))
}

// sweeper detaches waiters from flights whose factory never settled. The hard
// coalesceTimeout makes this a backstop, not the primary bound.
func (co *Coalescer) sweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-co.sweepCutoff)
			co.mu.Lock()
			var stale []struct {
				key string
				fl  *flight
			}
			for key, fl := range co.inflight {
				if fl.startTime.Before(cutoff) {
					stale = append(stale, struct {
						key string
						fl  *flight
					}{key, fl})
				}
			}
			co.mu.Unlock()
			for _, s := range stale {
				err := pkgerrors.New(pkgerrors.CodeExternalServiceError, "coalesced operation swept as stale").
					WithDetail("key", s.key)
				co.finalize(s.key, s.fl, nil, err)
				co.logger.Warn("swept stale coalescer entry", zap.String("key", s.key))
			}
		case <-co.stop:
			return
		}
	}
}

// InflightCount reports the number of active flights, for health reporting.
func (co *Coalescer) InflightCount() int {
	co.mu.Lock()
	defer co.mu.Unlock()
	return len(co.inflight)
}
