// Package router implements the route engine: parallel fan-out to the
// configured upstream adapters, quote normalization and validation, scoring,
// ranking, and result caching.
package router

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Aidin1998/dexroute_unified/internal/adapters"
	"github.com/Aidin1998/dexroute_unified/internal/breaker"
	"github.com/Aidin1998/dexroute_unified/internal/cache"
	"github.com/Aidin1998/dexroute_unified/internal/config"
	pkgerrors "github.com/Aidin1998/dexroute_unified/pkg/errors"
	"github.com/Aidin1998/dexroute_unified/pkg/metrics"
	"github.com/Aidin1998/dexroute_unified/pkg/models"
)

// RankedQuote is a normalized quote with its provider, observed latency and
// score attached.
type RankedQuote struct {
	adapters.NormalizedQuote
	Provider       string     `json:"provider"`
	ResponseTimeMs int64      `json:"responseTime"`
	Score          RouteScore `json:"score"`
	IsCached       bool       `json:"isCached"`
}

// RouteResponse is the ranked routing result.
type RouteResponse struct {
	Best                RankedQuote   `json:"bestRoute"`
	Alternatives        []RankedQuote `json:"alternatives"`
	RequestID           string        `json:"requestId"`
	QuoteID             string        `json:"quoteId,omitempty"`
	TotalResponseTimeMs int64         `json:"totalResponseTime"`
	CacheHitRatio       float64       `json:"cacheHitRatio"`
}

// QuoteStore persists quote records. Persistence is best-effort on the route
// path; failures never fail the route.
type QuoteStore interface {
	CreateQuote(ctx context.Context, record *models.QuoteRecord) error
}

// EventPublisher emits lifecycle events. Implementations must be nil-safe on
// the engine side: a nil publisher disables publishing.
type EventPublisher interface {
	QuoteServed(ctx context.Context, resp *RouteResponse)
}

// Engine is the route engine.
type Engine struct {
	providers []adapters.Adapter
	cache     cache.Cache
	coalescer *cache.Coalescer
	breakers  *breaker.Registry
	store     QuoteStore
	events    EventPublisher
	scorer    *Scorer
	cfg       config.RouterConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine wires the route engine. store and events may be nil.
func NewEngine(
	providers []adapters.Adapter,
	c cache.Cache,
	coalescer *cache.Coalescer,
	breakers *breaker.Registry,
	store QuoteStore,
	events EventPublisher,
	cfg config.RouterConfig,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		providers: providers,
		cache:     c,
		coalescer: coalescer,
		breakers:  breakers,
		store:     store,
		events:    events,
		scorer:    NewScorer(cfg.Weights, cfg.Normalization, cfg.Reliability),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// branchResult is the outcome of one provider fan-out branch.
type branchResult struct {
	provider     string
	quote        *adapters.NormalizedQuote
	responseTime time.Duration
	cached       bool
	err          error
}

// FindBestRoute resolves the best route for the request plus ranked
// alternatives. Identical concurrent requests share one calculation via two
// coalescing layers: the request fingerprint (slippage-sensitive) and the
// route fingerprint underneath it. Results are cached for the
// route-expiration window.
func (e *Engine) FindBestRoute(ctx context.Context, req *adapters.QuoteRequest) (*RouteResponse, error) {
	start := e.now()

	e.applyDefaults(req)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	quoteKey := cache.QuoteKey(req.InputMint, req.OutputMint, req.Amount, req.SlippageBps)
	res, err := e.coalescer.GetWithCoalescing(ctx, quoteKey, func(fctx context.Context) ([]byte, error) {
		resp, err := e.routeLevel(fctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	}, e.cfg.QuoteCoalesceTimeout, e.cfg.RouteExpiration)
	if err != nil {
		return nil, err
	}

	var resp RouteResponse
	if err := json.Unmarshal(res.Value, &resp); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeRouteCalculationFailed, "cached route response is corrupt")
	}
	if res.Cached {
		resp.CacheHitRatio = 1.0
		resp.Best.IsCached = true
		for i := range resp.Alternatives {
			resp.Alternatives[i].IsCached = true
		}
	}
	resp.RequestID = uuid.New().String()
	resp.TotalResponseTimeMs = time.Since(start).Milliseconds()
	metrics.RouteLatency.Observe(time.Since(start).Seconds())
	return &resp, nil
}

// routeLevel is the route-fingerprint coalescing layer under FindBestRoute.
func (e *Engine) routeLevel(ctx context.Context, req *adapters.QuoteRequest) (*RouteResponse, error) {
	routeKey := cache.RouteKey(req.InputMint, req.OutputMint, req.Amount)
	res, err := e.coalescer.GetWithCoalescing(ctx, routeKey, func(fctx context.Context) ([]byte, error) {
		resp, err := e.calculate(fctx, req, routeKey)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	}, e.cfg.RouteCoalesceTimeout, e.cfg.RouteExpiration)
	if err != nil {
		return nil, err
	}

	var resp RouteResponse
	if err := json.Unmarshal(res.Value, &resp); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeRouteCalculationFailed, "cached route response is corrupt")
	}
	if res.Cached {
		resp.CacheHitRatio = 1.0
	}
	return &resp, nil
}

func (e *Engine) applyDefaults(req *adapters.QuoteRequest) {
	if req.SlippageBps == 0 {
		req.SlippageBps = e.cfg.SlippageToleranceBps
	}
	if req.MaxAlternatives == 0 {
		req.MaxAlternatives = e.cfg.MaxAlternatives
	}
	if req.SwapMode == "" {
		req.SwapMode = adapters.SwapModeExactIn
	}
}

// calculate is the coalesced route computation: fan out, validate, score,
// rank, persist.
func (e *Engine) calculate(ctx context.Context, req *adapters.QuoteRequest, routeKey string) (*RouteResponse, error) {
	// A flight can win the coalescer race just after another finished;
	// re-check the cache before paying for a fresh fan-out.
	if prev, ok, _ := e.cache.Get(ctx, routeKey); ok && prev != nil {
		var resp RouteResponse
		if err := json.Unmarshal(prev, &resp); err == nil {
			resp.CacheHitRatio = 1.0
			return &resp, nil
		}
	}

	branches := e.fanOut(ctx, req)

	var (
		ranked      []RankedQuote
		cachedCount int
		causes      = map[string]interface{}{}
	)
	for _, br := range branches {
		if br.err != nil {
			causes[br.provider] = br.err.Error()
			if pkgerrors.IsCode(br.err, pkgerrors.CodeCircuitBreakerOpen) {
				e.logger.Debug("provider skipped, circuit open", zap.String("provider", br.provider))
			} else {
				e.logger.Warn("provider quote failed",
					zap.String("provider", br.provider), zap.Error(br.err))
			}
			continue
		}
		if err := validateQuote(br.quote); err != nil {
			// A malformed plan is not a provider failure; drop the quote
			// without feeding the circuit.
			causes[br.provider] = err.Error()
			e.logger.Warn("provider quote dropped",
				zap.String("provider", br.provider), zap.Error(err))
			continue
		}
		if br.cached {
			cachedCount++
		}
		ranked = append(ranked, RankedQuote{
			NormalizedQuote: *br.quote,
			Provider:        br.provider,
			ResponseTimeMs:  br.responseTime.Milliseconds(),
			Score:           e.scorer.Score(br.quote, br.provider, br.responseTime),
			IsCached:        br.cached,
		})
	}

	if len(ranked) == 0 {
		err := pkgerrors.New(pkgerrors.CodeRouteNotFound, "no provider returned a viable route")
		for provider, cause := range causes {
			err.WithDetail(provider, cause)
		}
		return nil, err
	}

	rankQuotes(ranked, req.FavorLowLatency)

	maxAlt := req.MaxAlternatives
	if maxAlt > len(ranked)-1 {
		maxAlt = len(ranked) - 1
	}
	resp := &RouteResponse{
		Best:          ranked[0],
		Alternatives:  ranked[1 : 1+maxAlt],
		CacheHitRatio: float64(cachedCount) / float64(len(branches)),
	}

	resp.QuoteID = e.persistQuote(ctx, &resp.Best)
	metrics.RoutesServed.WithLabelValues(resp.Best.Provider).Inc()
	if e.events != nil {
		e.events.QuoteServed(ctx, resp)
	}
	return resp, nil
}

// fanOut queries every adapter in parallel, each branch going through its own
// provider-level coalescer entry and circuit breaker.
func (e *Engine) fanOut(ctx context.Context, req *adapters.QuoteRequest) []branchResult {
	results := make([]branchResult, len(e.providers))
	var wg sync.WaitGroup
	for i, provider := range e.providers {
		wg.Add(1)
		go func(i int, p adapters.Adapter) {
			defer wg.Done()
			results[i] = e.providerQuote(ctx, p, req)
		}(i, provider)
	}
	wg.Wait()
	return results
}

func (e *Engine) providerQuote(ctx context.Context, p adapters.Adapter, req *adapters.QuoteRequest) branchResult {
	name := p.Name()
	start := e.now()

	key := cache.ProviderQuoteKey(name, req.InputMint, req.OutputMint, req.Amount, req.SlippageBps)
	res, err := e.coalescer.GetWithCoalescing(ctx, key, func(fctx context.Context) ([]byte, error) {
		var quote *adapters.NormalizedQuote
		err := e.breakers.Execute(fctx, "dex:"+name, "quote", func(cctx context.Context) error {
			var qerr error
			quote, qerr = p.Quote(cctx, req)
			return qerr
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(quote)
	}, e.cfg.ProviderCoalesceTimeout, e.cfg.ProviderQuoteTTL)
	if err != nil {
		return branchResult{provider: name, err: err, responseTime: time.Since(start)}
	}

	var quote adapters.NormalizedQuote
	if err := json.Unmarshal(res.Value, &quote); err != nil {
		return branchResult{provider: name, err: errCorruptQuote(name, err), responseTime: time.Since(start)}
	}
	return branchResult{
		provider:     name,
		quote:        &quote,
		responseTime: time.Since(start),
		cached:       res.Cached,
	}
}

func errCorruptQuote(provider string, err error) error {
	return pkgerrors.Wrap(err, pkgerrors.CodeDexInvalidResponse, "cached quote for "+provider+" is corrupt")
}

// persistQuote writes the winning quote for later execution. Best-effort: a
// store failure is logged and the route is served without a quoteId.
func (e *Engine) persistQuote(ctx context.Context, best *RankedQuote) string {
	if e.store == nil {
		return ""
	}
	now := e.now()
	plan, _ := json.Marshal(best.RoutePlan)
	efficiency := best.Score.TotalScore
	reliability := best.Score.Reliability
	record := &models.QuoteRecord{
		ID:               uuid.New().String(),
		Provider:         best.Provider,
		InputMint:        best.InputMint,
		OutputMint:       best.OutputMint,
		InAmount:         best.InAmount,
		OutAmount:        best.OutAmount,
		SlippageBps:      best.SlippageBps,
		PriceImpactPct:   best.PriceImpactPct,
		RoutePlan:        plan,
		GasEstimate:      best.GasEstimate,
		ResponseTimeMs:   best.ResponseTimeMs,
		IsCached:         best.IsCached,
		EfficiencyScore:  &efficiency,
		ReliabilityScore: &reliability,
		CreatedAt:        now,
		ExpiresAt:        now.Add(e.cfg.RouteExpiration),
	}
	if best.PlatformFee != nil {
		record.PlatformFee = best.PlatformFee.Amount
	}
	if err := e.store.CreateQuote(ctx, record); err != nil {
		e.logger.Warn("quote persistence failed", zap.Error(err))
		return ""
	}
	return record.ID
}

// validateQuote drops quotes the engine cannot safely rank: empty or "0"
// amounts, empty plans, and plans that do not telescope from the quote input
// to the quote output. Amounts are not parsed here.
func validateQuote(q *adapters.NormalizedQuote) error {
	if q.OutAmount == "" || q.OutAmount == "0" || q.InAmount == "" || q.InAmount == "0" {
		return pkgerrors.New(pkgerrors.CodeDexInvalidResponse, "quote has a zero amount")
	}
	if len(q.RoutePlan) == 0 {
		return pkgerrors.New(pkgerrors.CodeDexInvalidResponse, "quote has no route plan")
	}
	first, last := q.RoutePlan[0], q.RoutePlan[len(q.RoutePlan)-1]
	if first.InputMint != q.InputMint || last.OutputMint != q.OutputMint {
		return pkgerrors.New(pkgerrors.CodeDexInvalidResponse, "route plan does not span the quoted pair")
	}
	for i := 1; i < len(q.RoutePlan); i++ {
		prev, cur := q.RoutePlan[i-1], q.RoutePlan[i]
		if prev.OutputMint != cur.InputMint {
			return pkgerrors.New(pkgerrors.CodeDexInvalidResponse, "route plan hops do not chain")
		}
		// Amount telescoping only holds for unsplit plans.
		if prev.Percent == 100 && cur.Percent == 100 && prev.OutAmount != cur.InAmount {
			return pkgerrors.New(pkgerrors.CodeDexInvalidResponse, "route plan amounts do not telescope")
		}
	}
	return nil
}

// Health reports adapter reachability and circuit state for the health probe.
func (e *Engine) Health(ctx context.Context) map[string]interface{} {
	providers := make(map[string]bool, len(e.providers))
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, p := range e.providers {
		wg.Add(1)
		go func(p adapters.Adapter) {
			defer wg.Done()
			healthy := p.IsHealthy(ctx)
			mu.Lock()
			providers[p.Name()] = healthy
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return map[string]interface{}{
		"providers": providers,
		"circuits":  e.breakers.Snapshots(),
		"inflight":  e.coalescer.InflightCount(),
	}
}
