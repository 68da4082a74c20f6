package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/dexroute_unified/pkg/metrics"
)

const (
	okxName = "okx"

	// Solana chain id in the OKX DEX aggregator API.
	okxSolanaChainID = "501"

	okxQuotePath    = "/api/v5/dex/aggregator/quote"
	okxSwapPath     = "/api/v5/dex/aggregator/swap"
	okxSimulatePath = "/api/v5/dex/pre-transaction/simulate"
	okxTimePath     = "/api/v5/public/time"
)

// OKXAdapter talks to the OKX DEX aggregator API. Every aggregator call is
// signed; see Signer for the canonical scheme.
type OKXAdapter struct {
	baseURL string
	chainID string
	client  *http.Client
	signer  *Signer
	logger  *zap.Logger
	now     func() time.Time
}

// NewOKXAdapter creates an OKX adapter with the given credentials.
func NewOKXAdapter(baseURL string, timeout time.Duration, signer *Signer, logger *zap.Logger) *OKXAdapter {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &OKXAdapter{
		baseURL: baseURL,
		chainID: okxSolanaChainID,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		signer: signer,
		logger: logger,
		now:    time.Now,
	}
}

// Name returns the provider name used for routing and metrics.
func (a *OKXAdapter) Name() string { return okxName }

// okxEnvelope is the uniform OKX response wrapper.
type okxEnvelope struct {
	Code string            `json:"code"`
	Msg  string            `json:"msg"`
	Data []json.RawMessage `json:"data"`
}

// okxQuoteData mirrors the aggregator quote payload.
type okxQuoteData struct {
	FromTokenAmount       string `json:"fromTokenAmount"`
	ToTokenAmount         string `json:"toTokenAmount"`
	MinimumReceived       string `json:"minimumReceived"`
	EstimateGasFee        string `json:"estimateGasFee"`
	PriceImpactPercentage string `json:"priceImpactPercentage"`
	TradeFee              string `json:"tradeFee"`
	DexRouterList         []struct {
		Router        string `json:"router"`
		RouterPercent string `json:"routerPercent"`
		SubRouterList []struct {
			DexProtocol []struct {
				DexName string `json:"dexName"`
				Percent string `json:"percent"`
			} `json:"dexProtocol"`
		} `json:"subRouterList"`
	} `json:"dexRouterList"`
}

// Quote fetches and normalizes a quote. A single attempt; no retries.
func (a *OKXAdapter) Quote(ctx context.Context, req *QuoteRequest) (*NormalizedQuote, error) {
	start := a.now()

	// OKX expresses slippage as a decimal fraction, not bps.
	slippage := decimal.NewFromInt(int64(req.SlippageBps)).Div(decimal.NewFromInt(10000))
	params := map[string]string{
		"chainId":          a.chainID,
		"amount":           req.Amount,
		"fromTokenAddress": req.InputMint,
		"toTokenAddress":   req.OutputMint,
		"slippage":         slippage.String(),
	}

	data, err := a.signedGet(ctx, okxQuotePath, params)
	a.observe("quote", start, err)
	if err != nil {
		return nil, err
	}

	var q okxQuoteData
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, errInvalidPayload(okxName, "quote payload is not valid JSON")
	}
	if q.ToTokenAmount == "" {
		return nil, errInvalidPayload(okxName, "quote payload is missing toTokenAmount")
	}

	threshold := q.MinimumReceived
	if threshold == "" {
		threshold = minOutAfterSlippage(q.ToTokenAmount, req.SlippageBps)
	}

	label := "okx-aggregator"
	router := "okx"
	if len(q.DexRouterList) > 0 {
		router = q.DexRouterList[0].Router
		if len(q.DexRouterList[0].SubRouterList) > 0 && len(q.DexRouterList[0].SubRouterList[0].DexProtocol) > 0 {
			label = q.DexRouterList[0].SubRouterList[0].DexProtocol[0].DexName
		}
	}

	var gas int64
	if q.EstimateGasFee != "" {
		gas, _ = strconv.ParseInt(q.EstimateGasFee, 10, 64)
	}

	nq := &NormalizedQuote{
		InputMint:            req.InputMint,
		OutputMint:           req.OutputMint,
		InAmount:             q.FromTokenAmount,
		OutAmount:            q.ToTokenAmount,
		OtherAmountThreshold: threshold,
		SwapMode:             SwapModeExactIn,
		SlippageBps:          req.SlippageBps,
		PriceImpactPct:       q.PriceImpactPercentage,
		GasEstimate:          gas,
		TimeTakenMs:          time.Since(start).Milliseconds(),
		// OKX reports an aggregate split, not per-hop amounts; normalize to a
		// single consolidated step so the plan telescopes end to end.
		RoutePlan: []RoutePlanStep{{
			AmmKey:     router,
			Label:      label,
			InputMint:  req.InputMint,
			OutputMint: req.OutputMint,
			InAmount:   q.FromTokenAmount,
			OutAmount:  q.ToTokenAmount,
			Percent:    100,
		}},
	}
	if q.TradeFee != "" {
		nq.PlatformFee = &PlatformFee{Amount: q.TradeFee}
	}
	if nq.InAmount == "" {
		nq.InAmount = req.Amount
		nq.RoutePlan[0].InAmount = req.Amount
	}
	return nq, nil
}

// okxSwapData mirrors the aggregator swap payload.
type okxSwapData struct {
	Tx struct {
		Data string `json:"data"`
		Gas  string `json:"gas"`
	} `json:"tx"`
}

// BuildTransaction converts a quote into an unsigned transaction blob.
func (a *OKXAdapter) BuildTransaction(ctx context.Context, req *BuildTransactionRequest) (*BuildTransactionResult, error) {
	start := a.now()

	slippage := decimal.NewFromInt(int64(req.Quote.SlippageBps)).Div(decimal.NewFromInt(10000))
	params := map[string]string{
		"chainId":           a.chainID,
		"amount":            req.Quote.InAmount,
		"fromTokenAddress":  req.Quote.InputMint,
		"toTokenAddress":    req.Quote.OutputMint,
		"slippage":          slippage.String(),
		"userWalletAddress": req.UserPublicKey,
	}
	if req.Options.FeeAccount != "" {
		params["referrerAddress"] = req.Options.FeeAccount
	}
	if req.Options.ComputeUnitPriceMicroLamports != nil {
		params["computeUnitPrice"] = strconv.FormatUint(*req.Options.ComputeUnitPriceMicroLamports, 10)
	}

	data, err := a.signedGet(ctx, okxSwapPath, params)
	a.observe("build", start, err)
	if err != nil {
		return nil, err
	}

	var s okxSwapData
	if err := json.Unmarshal(data, &s); err != nil || s.Tx.Data == "" {
		return nil, errInvalidPayload(okxName, "swap payload is missing tx.data")
	}
	return &BuildTransactionResult{SwapTransaction: s.Tx.Data}, nil
}

// SimulateTransaction dry-runs a built transaction through the
// pre-transaction simulate endpoint.
func (a *OKXAdapter) SimulateTransaction(ctx context.Context, txBlob, userPublicKey string) (*SimulationResult, error) {
	start := a.now()

	body := map[string]interface{}{
		"chainId":     a.chainID,
		"fromAddress": userPublicKey,
		"txData":      txBlob,
	}
	data, err := a.signedPost(ctx, okxSimulatePath, body)
	a.observe("simulate", start, err)
	if err != nil {
		return nil, err
	}

	var out struct {
		FailReason string   `json:"failReason"`
		GasUsed    string   `json:"gasUsed"`
		Logs       []string `json:"logs"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errInvalidPayload(okxName, "simulate payload is not valid JSON")
	}
	res := &SimulationResult{
		Success: out.FailReason == "",
		Error:   out.FailReason,
		Logs:    out.Logs,
	}
	if out.GasUsed != "" {
		if units, err := strconv.ParseUint(out.GasUsed, 10, 64); err == nil {
			res.ComputeUnitsConsumed = &units
		}
	}
	return res, nil
}

// IsHealthy checks the unauthenticated server-time endpoint.
func (a *OKXAdapter) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+okxTimePath, nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// signedGet performs an authenticated GET. The canonical query string is both
// sent on the wire and covered by the signature.
func (a *OKXAdapter) signedGet(ctx context.Context, path string, params map[string]string) (json.RawMessage, error) {
	query := CanonicalQuery(params)
	payload := ""
	fullPath := path
	if query != "" {
		payload = "?" + query
		fullPath = path + "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+fullPath, nil)
	if err != nil {
		return nil, translateTransport(okxName, err)
	}
	for k, v := range a.signer.Headers(a.now(), http.MethodGet, path, payload) {
		req.Header.Set(k, v)
	}
	return a.roundTrip(req)
}

// signedPost performs an authenticated POST; the exact body bytes are signed.
func (a *OKXAdapter) signedPost(ctx context.Context, path string, payload interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, translateTransport(okxName, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, translateTransport(okxName, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.signer.Headers(a.now(), http.MethodPost, path, string(body)) {
		req.Header.Set(k, v)
	}
	return a.roundTrip(req)
}

func (a *OKXAdapter) roundTrip(req *http.Request) (json.RawMessage, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, translateTransport(okxName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, translateTransport(okxName, err)
	}
	if resp.StatusCode != http.StatusOK {
		a.logger.Debug("okx returned non-200",
			zap.Int("status", resp.StatusCode),
			zap.String("path", req.URL.Path))
		return nil, translateStatus(okxName, resp.StatusCode)
	}

	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errInvalidPayload(okxName, "response envelope is not valid JSON")
	}
	if env.Code != "0" {
		return nil, errInvalidPayload(okxName, "upstream code "+env.Code)
	}
	if len(env.Data) == 0 {
		return nil, errInvalidPayload(okxName, "response envelope has no data")
	}
	return env.Data[0], nil
}

func (a *OKXAdapter) observe(operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.ProviderRequests.WithLabelValues(okxName, operation, result).Inc()
	metrics.ProviderLatency.WithLabelValues(okxName, operation).Observe(time.Since(start).Seconds())
}

// minOutAfterSlippage floors out*(1 - bps/10000) to an integer string.
func minOutAfterSlippage(outAmount string, slippageBps int) string {
	out, err := decimal.NewFromString(outAmount)
	if err != nil {
		return outAmount
	}
	factor := decimal.NewFromInt(10000 - int64(slippageBps)).Div(decimal.NewFromInt(10000))
	return out.Mul(factor).Floor().String()
}
