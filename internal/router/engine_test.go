package router_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/dexroute_unified/internal/adapters"
	"github.com/Aidin1998/dexroute_unified/internal/breaker"
	"github.com/Aidin1998/dexroute_unified/internal/cache"
	"github.com/Aidin1998/dexroute_unified/internal/config"
	"github.com/Aidin1998/dexroute_unified/internal/router"
	pkgerrors "github.com/Aidin1998/dexroute_unified/pkg/errors"
)

const (
	solMint  = "So11111111111111111111111111111111111111112"
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// stubAdapter is a controllable upstream for engine tests.
type stubAdapter struct {
	name       string
	outAmount  string
	delay      time.Duration
	quoteErr   error
	quoteCalls int64
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Quote(ctx context.Context, req *adapters.QuoteRequest) (*adapters.NormalizedQuote, error) {
	atomic.AddInt64(&s.quoteCalls, 1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.quoteErr != nil {
		return nil, s.quoteErr
	}
	return &adapters.NormalizedQuote{
		InputMint:            req.InputMint,
		OutputMint:           req.OutputMint,
		InAmount:             req.Amount,
		OutAmount:            s.outAmount,
		OtherAmountThreshold: s.outAmount,
		SwapMode:             adapters.SwapModeExactIn,
		SlippageBps:          req.SlippageBps,
		PriceImpactPct:       "0.01",
		RoutePlan: []adapters.RoutePlanStep{{
			AmmKey:     s.name + "-pool",
			Label:      s.name,
			InputMint:  req.InputMint,
			OutputMint: req.OutputMint,
			InAmount:   req.Amount,
			OutAmount:  s.outAmount,
			Percent:    100,
		}},
	}, nil
}

func (s *stubAdapter) BuildTransaction(ctx context.Context, req *adapters.BuildTransactionRequest) (*adapters.BuildTransactionResult, error) {
	return &adapters.BuildTransactionResult{SwapTransaction: "dGVzdA=="}, nil
}

func (s *stubAdapter) SimulateTransaction(ctx context.Context, txBlob, userPublicKey string) (*adapters.SimulationResult, error) {
	return &adapters.SimulationResult{Success: true}, nil
}

func (s *stubAdapter) IsHealthy(ctx context.Context) bool { return true }

func testRouterConfig() config.RouterConfig {
	return config.RouterConfig{
		RouteExpiration:         30 * time.Second,
		SlippageToleranceBps:    50,
		MaxAlternatives:         3,
		QuoteCoalesceTimeout:    10 * time.Second,
		RouteCoalesceTimeout:    8 * time.Second,
		ProviderCoalesceTimeout: 5 * time.Second,
		ProviderQuoteTTL:        15 * time.Second,
		Weights:                 testWeights(),
		Normalization:           testNormalization(),
		Reliability:             map[string]float64{"adapter-a": 0.95, "adapter-b": 0.90},
	}
}

func newTestEngine(t *testing.T, providers ...adapters.Adapter) *router.Engine {
	t.Helper()
	mem := cache.NewMemoryCache()
	co := cache.NewCoalescer(mem, zap.NewNop())
	t.Cleanup(func() {
		co.Close()
		mem.Close()
	})
	breakers := breaker.NewRegistry(breaker.DefaultAdapterConfig(), zap.NewNop())
	return router.NewEngine(providers, mem, co, breakers, nil, nil, testRouterConfig(), zap.NewNop())
}

func solUsdcRequest(amount string) *adapters.QuoteRequest {
	return &adapters.QuoteRequest{
		InputMint:   solMint,
		OutputMint:  usdcMint,
		Amount:      amount,
		SlippageBps: 50,
	}
}

func TestFindBestRouteRanksByScore(t *testing.T) {
	a := &stubAdapter{name: "adapter-a", outAmount: "145670000", delay: 25 * time.Millisecond}
	b := &stubAdapter{name: "adapter-b", outAmount: "145500000", delay: 40 * time.Millisecond}
	engine := newTestEngine(t, a, b)

	resp, err := engine.FindBestRoute(context.Background(), solUsdcRequest("1000000000"))
	require.NoError(t, err)

	assert.Equal(t, "adapter-a", resp.Best.Provider)
	require.Len(t, resp.Alternatives, 1)
	assert.Equal(t, "adapter-b", resp.Alternatives[0].Provider)
	assert.Equal(t, 0.0, resp.CacheHitRatio)
	assert.GreaterOrEqual(t, resp.Best.Score.TotalScore, resp.Alternatives[0].Score.TotalScore)
	assert.NotEmpty(t, resp.RequestID)
}

func TestFindBestRouteCachesWithinExpirationWindow(t *testing.T) {
	a := &stubAdapter{name: "adapter-a", outAmount: "145670000"}
	b := &stubAdapter{name: "adapter-b", outAmount: "145500000"}
	engine := newTestEngine(t, a, b)
	ctx := context.Background()

	first, err := engine.FindBestRoute(ctx, solUsdcRequest("1000000000"))
	require.NoError(t, err)

	second, err := engine.FindBestRoute(ctx, solUsdcRequest("1000000000"))
	require.NoError(t, err)

	// Exactly one fan-out for identical requests inside the window.
	assert.Equal(t, int64(1), atomic.LoadInt64(&a.quoteCalls))
	assert.Equal(t, int64(1), atomic.LoadInt64(&b.quoteCalls))
	assert.Equal(t, first.Best.Provider, second.Best.Provider)
	assert.Equal(t, 1.0, second.CacheHitRatio)
	assert.True(t, second.Best.IsCached)
}

func TestFindBestRouteFavorLowLatencySelectsFastProvider(t *testing.T) {
	slow := &stubAdapter{name: "adapter-a", outAmount: "145670000", delay: 150 * time.Millisecond}
	fast := &stubAdapter{name: "adapter-b", outAmount: "140000000", delay: 5 * time.Millisecond}
	engine := newTestEngine(t, slow, fast)

	req := solUsdcRequest("1000000000")
	req.FavorLowLatency = true
	resp, err := engine.FindBestRoute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "adapter-b", resp.Best.Provider)
}

func TestFindBestRouteToleratesPartialFailure(t *testing.T) {
	a := &stubAdapter{name: "adapter-a", outAmount: "145670000"}
	b := &stubAdapter{
		name:     "adapter-b",
		quoteErr: pkgerrors.New(pkgerrors.CodeDexRateLimited, "okx rate limited the request"),
	}
	engine := newTestEngine(t, a, b)

	resp, err := engine.FindBestRoute(context.Background(), solUsdcRequest("1000000000"))
	require.NoError(t, err)

	assert.Equal(t, "adapter-a", resp.Best.Provider)
	assert.Empty(t, resp.Alternatives)
}

func TestFindBestRouteAllBranchesFailed(t *testing.T) {
	a := &stubAdapter{name: "adapter-a", quoteErr: pkgerrors.New(pkgerrors.CodeDexUnavailable, "down")}
	b := &stubAdapter{name: "adapter-b", quoteErr: pkgerrors.New(pkgerrors.CodeDexUnavailable, "down")}
	engine := newTestEngine(t, a, b)

	_, err := engine.FindBestRoute(context.Background(), solUsdcRequest("1000000000"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRouteNotFound))

	var re *pkgerrors.RouterError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, re.Details, "adapter-a")
	assert.Contains(t, re.Details, "adapter-b")
}

func TestFindBestRouteOpensCircuitAfterRepeatedFailures(t *testing.T) {
	a := &stubAdapter{name: "adapter-a", outAmount: "145670000"}
	b := &stubAdapter{
		name:     "adapter-b",
		quoteErr: pkgerrors.New(pkgerrors.CodeDexRateLimited, "okx rate limited the request"),
	}

	mem := cache.NewMemoryCache()
	co := cache.NewCoalescer(mem, zap.NewNop())
	t.Cleanup(func() {
		co.Close()
		mem.Close()
	})
	breakers := breaker.NewRegistry(breaker.DefaultAdapterConfig(), zap.NewNop())
	engine := router.NewEngine([]adapters.Adapter{a, b}, mem, co, breakers, nil, nil, testRouterConfig(), zap.NewNop())
	ctx := context.Background()

	// Distinct amounts bypass route and provider caches so every call
	// reaches adapter-b once, hitting the threshold of three consecutive
	// failures.
	amounts := []string{"1000000001", "1000000002", "1000000003"}
	for _, amount := range amounts {
		_, err := engine.FindBestRoute(ctx, solUsdcRequest(amount))
		require.NoError(t, err)
	}
	assert.Equal(t, breaker.StateOpen, breakers.State("dex:adapter-b", "quote"))

	calls := atomic.LoadInt64(&b.quoteCalls)
	_, err := engine.FindBestRoute(ctx, solUsdcRequest("1000000004"))
	require.NoError(t, err)
	// The open circuit short-circuits the branch without a network call.
	assert.Equal(t, calls, atomic.LoadInt64(&b.quoteCalls))
}

func TestFindBestRouteDropsMalformedRoutePlan(t *testing.T) {
	good := &stubAdapter{name: "adapter-a", outAmount: "145670000"}
	engine := newTestEngine(t, good, &brokenPlanAdapter{})

	resp, err := engine.FindBestRoute(context.Background(), solUsdcRequest("1000000000"))
	require.NoError(t, err)
	assert.Equal(t, "adapter-a", resp.Best.Provider)
	assert.Empty(t, resp.Alternatives)
}

func TestFindBestRouteRejectsInvalidRequest(t *testing.T) {
	engine := newTestEngine(t, &stubAdapter{name: "adapter-a", outAmount: "1"})

	req := solUsdcRequest("1000000000")
	req.OutputMint = req.InputMint
	_, err := engine.FindBestRoute(context.Background(), req)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidInput))

	req = solUsdcRequest("0")
	_, err = engine.FindBestRoute(context.Background(), req)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAmountTooSmall))
}

// brokenPlanAdapter returns quotes whose plan does not span the quoted pair.
type brokenPlanAdapter struct{}

func (b *brokenPlanAdapter) Name() string { return "adapter-z" }

func (b *brokenPlanAdapter) Quote(ctx context.Context, req *adapters.QuoteRequest) (*adapters.NormalizedQuote, error) {
	return &adapters.NormalizedQuote{
		InputMint:  req.InputMint,
		OutputMint: req.OutputMint,
		InAmount:   req.Amount,
		OutAmount:  "999999",
		SwapMode:   adapters.SwapModeExactIn,
		RoutePlan: []adapters.RoutePlanStep{{
			AmmKey:     "z-pool",
			InputMint:  "WrongMint11111111111111111111111111111111111",
			OutputMint: req.OutputMint,
			InAmount:   req.Amount,
			OutAmount:  "999999",
			Percent:    100,
		}},
	}, nil
}

func (b *brokenPlanAdapter) BuildTransaction(ctx context.Context, req *adapters.BuildTransactionRequest) (*adapters.BuildTransactionResult, error) {
	return nil, nil
}

func (b *brokenPlanAdapter) SimulateTransaction(ctx context.Context, txBlob, userPublicKey string) (*adapters.SimulationResult, error) {
	return nil, nil
}

func (b *brokenPlanAdapter) IsHealthy(ctx context.Context) bool { return true }
