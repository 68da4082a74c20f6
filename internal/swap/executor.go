package swap

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/dexroute_unified/internal/adapters"
	"github.com/Aidin1998/dexroute_unified/internal/breaker"
	pkgerrors "github.com/Aidin1998/dexroute_unified/pkg/errors"
	"github.com/Aidin1998/dexroute_unified/pkg/metrics"
	"github.com/Aidin1998/dexroute_unified/pkg/models"
)

// EventPublisher emits swap lifecycle events, best-effort.
type EventPublisher interface {
	SwapCreated(ctx context.Context, record *models.SwapTransactionRecord)
	SwapStatusChanged(ctx context.Context, record *models.SwapTransactionRecord)
}

// ExecuteResult is the outcome of a successful swap build.
type ExecuteResult struct {
	TransactionID    string                           `json:"transactionId"`
	Status           models.SwapStatus                `json:"status"`
	Transaction      *adapters.BuildTransactionResult `json:"transaction"`
	ProcessingTimeMs int64                            `json:"processingTime"`
	ExpiresAt        time.Time                        `json:"expiresAt"`
}

// SimulateResult extends ExecuteResult with the simulation outcome.
type SimulateResult struct {
	ExecuteResult
	Simulation *adapters.SimulationResult `json:"simulation"`
}

// routeData is the audit blob attached to every swap record: the original
// quote, the build request and the returned transaction.
type routeData struct {
	Quote       *models.QuoteRecord               `json:"quote"`
	Request     *adapters.BuildTransactionRequest `json:"request"`
	Transaction *adapters.BuildTransactionResult  `json:"transaction,omitempty"`
	Simulation  *adapters.SimulationResult        `json:"simulation,omitempty"`
}

// Executor drives the quote-to-transaction path.
type Executor struct {
	store     *Store
	providers map[string]adapters.Adapter
	breakers  *breaker.Registry
	events    EventPublisher
	expiry    time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewExecutor wires the swap executor. events may be nil.
func NewExecutor(store *Store, providers []adapters.Adapter, breakers *breaker.Registry, events EventPublisher, expiry time.Duration, logger *zap.Logger) *Executor {
	byName := make(map[string]adapters.Adapter, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	if expiry <= 0 {
		expiry = 30 * time.Second
	}
	return &Executor{
		store:     store,
		providers: byName,
		breakers:  breakers,
		events:    events,
		expiry:    expiry,
		logger:    logger,
		now:       time.Now,
	}
}

// ExecuteSwap binds a stored quote to a user key, builds the transaction via
// the quote's provider and persists the lifecycle record.
func (e *Executor) ExecuteSwap(ctx context.Context, quoteID, userPublicKey string, opts adapters.BuildOptions) (*ExecuteResult, error) {
	start := e.now()

	quote, err := e.store.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if quote.Expired(start) {
		return nil, pkgerrors.New(pkgerrors.CodeRouteExpired, "quote has expired").
			WithDetail("quoteId", quoteID).
			WithDetail("expiresAt", quote.ExpiresAt)
	}

	buildReq := &adapters.BuildTransactionRequest{
		Quote:         quoteFromRecord(quote),
		UserPublicKey: userPublicKey,
		Options:       opts,
	}

	record := e.newSwapRecord(quote, userPublicKey, start)
	data, _ := json.Marshal(routeData{Quote: quote, Request: buildReq})
	record.RouteData = data
	if err := e.store.CreateSwap(ctx, record); err != nil {
		return nil, err
	}

	built, err := e.buildTransaction(ctx, quote.Provider, buildReq)
	if err != nil {
		// The record stays PENDING; it is failed via UpdateSwapStatus or
		// swept at expiry by the lifecycle collaborator.
		metrics.SwapsExecuted.WithLabelValues(quote.Provider, "error").Inc()
		return nil, err
	}

	data, _ = json.Marshal(routeData{Quote: quote, Request: buildReq, Transaction: built})
	record.RouteData = data
	if err := e.store.SaveSwap(ctx, record); err != nil {
		return nil, err
	}

	metrics.SwapsExecuted.WithLabelValues(quote.Provider, "success").Inc()
	if e.events != nil {
		e.events.SwapCreated(ctx, record)
	}

	return &ExecuteResult{
		TransactionID:    record.ID,
		Status:           record.Status,
		Transaction:      built,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		ExpiresAt:        record.ExpiresAt,
	}, nil
}

// SimulateSwap builds and dry-runs a transaction without opening a PENDING
// lifecycle record; a synthetic terminal record is written for audit.
func (e *Executor) SimulateSwap(ctx context.Context, quoteID, userPublicKey string) (*SimulateResult, error) {
	start := e.now()

	quote, err := e.store.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if quote.Expired(start) {
		return nil, pkgerrors.New(pkgerrors.CodeRouteExpired, "quote has expired").
			WithDetail("quoteId", quoteID)
	}

	buildReq := &adapters.BuildTransactionRequest{
		Quote:         quoteFromRecord(quote),
		UserPublicKey: userPublicKey,
	}
	built, err := e.buildTransaction(ctx, quote.Provider, buildReq)
	if err != nil {
		return nil, err
	}

	adapter := e.providers[quote.Provider]
	var sim *adapters.SimulationResult
	err = e.breakers.Execute(ctx, "dex:"+quote.Provider, "simulate", func(cctx context.Context) error {
		var serr error
		sim, serr = adapter.SimulateTransaction(cctx, built.SwapTransaction, userPublicKey)
		return serr
	})
	if err != nil {
		return nil, err
	}

	record := e.newSwapRecord(quote, userPublicKey, start)
	if sim.Success {
		record.Status = models.SwapStatusCompleted
	} else {
		record.Status = models.SwapStatusFailed
		record.ErrorCode = string(pkgerrors.CodeTransactionFailed)
		record.ErrorMessage = sim.Error
	}
	elapsed := time.Since(start).Milliseconds()
	record.ExecutionTimeMs = &elapsed
	data, _ := json.Marshal(routeData{Quote: quote, Request: buildReq, Transaction: built, Simulation: sim})
	record.RouteData = data
	if err := e.store.CreateSwap(ctx, record); err != nil {
		e.logger.Warn("simulation audit record write failed", zap.Error(err))
	}

	return &SimulateResult{
		ExecuteResult: ExecuteResult{
			TransactionID:    record.ID,
			Status:           record.Status,
			Transaction:      built,
			ProcessingTimeMs: elapsed,
			ExpiresAt:        record.ExpiresAt,
		},
		Simulation: sim,
	}, nil
}

// GetSwapStatus reads a swap transaction record.
func (e *Executor) GetSwapStatus(ctx context.Context, transactionID string) (*models.SwapTransactionRecord, error) {
	return e.store.GetSwap(ctx, transactionID)
}

// UpdateSwapStatus applies a monotone lifecycle transition and publishes the
// change.
func (e *Executor) UpdateSwapStatus(ctx context.Context, transactionID string, status models.SwapStatus, txHash, errCode, errMsg string) (*models.SwapTransactionRecord, error) {
	record, err := e.store.UpdateSwapStatus(ctx, transactionID, status, txHash, errCode, errMsg)
	if err != nil {
		return nil, err
	}
	if e.events != nil {
		e.events.SwapStatusChanged(ctx, record)
	}
	return record, nil
}

// CancelSwap fails a PENDING swap on the user's request.
func (e *Executor) CancelSwap(ctx context.Context, transactionID string) (*models.SwapTransactionRecord, error) {
	record, err := e.store.GetSwap(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if record.Status != models.SwapStatusPending {
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalidInput,
			"only PENDING swaps can be cancelled, status is %s", record.Status).
			WithDetail("transactionId", transactionID)
	}
	return e.UpdateSwapStatus(ctx, transactionID, models.SwapStatusFailed, "", "CANCELLED", "cancelled by user")
}

func (e *Executor) buildTransaction(ctx context.Context, provider string, req *adapters.BuildTransactionRequest) (*adapters.BuildTransactionResult, error) {
	adapter, ok := e.providers[provider]
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeDexUnavailable, "no adapter configured for provider %s", provider)
	}
	var built *adapters.BuildTransactionResult
	err := e.breakers.Execute(ctx, "dex:"+provider, "build", func(cctx context.Context) error {
		var berr error
		built, berr = adapter.BuildTransaction(cctx, req)
		return berr
	})
	if err != nil {
		return nil, err
	}
	return built, nil
}

func (e *Executor) newSwapRecord(quote *models.QuoteRecord, userPublicKey string, now time.Time) *models.SwapTransactionRecord {
	return &models.SwapTransactionRecord{
		UserPublicKey: userPublicKey,
		QuoteID:       quote.ID,
		InputMint:     quote.InputMint,
		OutputMint:    quote.OutputMint,
		InAmount:      quote.InAmount,
		OutAmount:     quote.OutAmount,
		MinOutAmount:  minOutAmount(quote.OutAmount, quote.SlippageBps),
		SlippageBps:   quote.SlippageBps,
		Provider:      quote.Provider,
		Status:        models.SwapStatusPending,
		FeeAmount:     quote.PlatformFee,
		GasEstimate:   quote.GasEstimate,
		CreatedAt:     now,
		ExpiresAt:     now.Add(e.expiry),
	}
}

// quoteFromRecord rebuilds the normalized quote an adapter needs from the
// persisted record.
func quoteFromRecord(record *models.QuoteRecord) *adapters.NormalizedQuote {
	var plan []adapters.RoutePlanStep
	_ = json.Unmarshal(record.RoutePlan, &plan)
	q := &adapters.NormalizedQuote{
		InputMint:            record.InputMint,
		OutputMint:           record.OutputMint,
		InAmount:             record.InAmount,
		OutAmount:            record.OutAmount,
		OtherAmountThreshold: minOutAmount(record.OutAmount, record.SlippageBps),
		SwapMode:             adapters.SwapModeExactIn,
		SlippageBps:          record.SlippageBps,
		PriceImpactPct:       record.PriceImpactPct,
		RoutePlan:            plan,
		GasEstimate:          record.GasEstimate,
	}
	if record.PlatformFee != "" {
		q.PlatformFee = &adapters.PlatformFee{Amount: record.PlatformFee}
	}
	return q
}

// minOutAmount floors out*(1 - bps/10000) to an integer string.
func minOutAmount(outAmount string, slippageBps int) string {
	out, err := decimal.NewFromString(outAmount)
	if err != nil {
		return outAmount
	}
	factor := decimal.NewFromInt(10000 - int64(slippageBps)).Div(decimal.NewFromInt(10000))
	return out.Mul(factor).Floor().String()
}
