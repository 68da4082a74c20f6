package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/dexroute_unified/pkg/metrics"
)

const jupiterName = "jupiter"

// JupiterAdapter talks to the public Jupiter v6 aggregator API.
type JupiterAdapter struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewJupiterAdapter creates a Jupiter adapter with a pooled HTTP client and
// the given per-request timeout.
func NewJupiterAdapter(baseURL string, timeout time.Duration, logger *zap.Logger) *JupiterAdapter {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &JupiterAdapter{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Name returns the provider name used for routing and metrics.
func (a *JupiterAdapter) Name() string { return jupiterName }

// jupiterQuote mirrors the Jupiter v6 /quote response.
type jupiterQuote struct {
	InputMint            string `json:"inputMint"`
	InAmount             string `json:"inAmount"`
	OutputMint           string `json:"outputMint"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	SwapMode             string `json:"swapMode"`
	SlippageBps          int    `json:"slippageBps"`
	PlatformFee          *struct {
		Amount string `json:"amount"`
		FeeBps int    `json:"feeBps"`
	} `json:"platformFee"`
	PriceImpactPct string `json:"priceImpactPct"`
	RoutePlan      []struct {
		SwapInfo struct {
			AmmKey     string `json:"ammKey"`
			Label      string `json:"label"`
			InputMint  string `json:"inputMint"`
			OutputMint string `json:"outputMint"`
			InAmount   string `json:"inAmount"`
			OutAmount  string `json:"outAmount"`
			FeeAmount  string `json:"feeAmount"`
			FeeMint    string `json:"feeMint"`
		} `json:"swapInfo"`
		Percent int `json:"percent"`
	} `json:"routePlan"`
	ContextSlot uint64  `json:"contextSlot"`
	TimeTaken   float64 `json:"timeTaken"`
}

// Quote fetches and normalizes a quote. A single attempt; no retries.
func (a *JupiterAdapter) Quote(ctx context.Context, req *QuoteRequest) (*NormalizedQuote, error) {
	start := time.Now()

	params := url.Values{}
	params.Set("inputMint", req.InputMint)
	params.Set("outputMint", req.OutputMint)
	params.Set("amount", req.Amount)
	params.Set("slippageBps", fmt.Sprintf("%d", req.SlippageBps))
	if req.SwapMode == SwapModeExactOut {
		params.Set("swapMode", string(SwapModeExactOut))
	}

	body, err := a.get(ctx, "/quote?"+params.Encode())
	a.observe("quote", start, err)
	if err != nil {
		return nil, err
	}

	var q jupiterQuote
	if err := json.Unmarshal(body, &q); err != nil {
		return nil, errInvalidPayload(jupiterName, "quote response is not valid JSON")
	}
	if q.OutAmount == "" || len(q.RoutePlan) == 0 {
		return nil, errInvalidPayload(jupiterName, "quote response is missing outAmount or routePlan")
	}

	nq := &NormalizedQuote{
		InputMint:            q.InputMint,
		OutputMint:           q.OutputMint,
		InAmount:             q.InAmount,
		OutAmount:            q.OutAmount,
		OtherAmountThreshold: q.OtherAmountThreshold,
		SwapMode:             SwapMode(q.SwapMode),
		SlippageBps:          q.SlippageBps,
		PriceImpactPct:       q.PriceImpactPct,
		ContextSlot:          q.ContextSlot,
		TimeTakenMs:          int64(q.TimeTaken * 1000),
	}
	if nq.SwapMode == "" {
		nq.SwapMode = SwapModeExactIn
	}
	if nq.TimeTakenMs == 0 {
		nq.TimeTakenMs = time.Since(start).Milliseconds()
	}
	if q.PlatformFee != nil {
		nq.PlatformFee = &PlatformFee{Amount: q.PlatformFee.Amount, FeeBps: q.PlatformFee.FeeBps}
	}
	for _, step := range q.RoutePlan {
		nq.RoutePlan = append(nq.RoutePlan, RoutePlanStep{
			AmmKey:     step.SwapInfo.AmmKey,
			Label:      step.SwapInfo.Label,
			InputMint:  step.SwapInfo.InputMint,
			OutputMint: step.SwapInfo.OutputMint,
			InAmount:   step.SwapInfo.InAmount,
			OutAmount:  step.SwapInfo.OutAmount,
			FeeAmount:  step.SwapInfo.FeeAmount,
			FeeMint:    step.SwapInfo.FeeMint,
			Percent:    step.Percent,
		})
	}
	return nq, nil
}

// BuildTransaction converts a quote into an unsigned transaction blob via the
// /swap endpoint.
func (a *JupiterAdapter) BuildTransaction(ctx context.Context, req *BuildTransactionRequest) (*BuildTransactionResult, error) {
	start := time.Now()

	payload := map[string]interface{}{
		"quoteResponse": jupiterQuotePayload(req.Quote),
		"userPublicKey": req.UserPublicKey,
	}
	// Jupiter defaults wrapAndUnwrapSol to true; the flag is sent only when
	// the caller set it explicitly.
	if req.Options.WrapAndUnwrapSol != nil {
		payload["wrapAndUnwrapSol"] = *req.Options.WrapAndUnwrapSol
	}
	if req.Options.UseSharedAccounts != nil {
		payload["useSharedAccounts"] = *req.Options.UseSharedAccounts
	}
	if req.Options.FeeAccount != "" {
		payload["feeAccount"] = req.Options.FeeAccount
	}
	if req.Options.ComputeUnitPriceMicroLamports != nil {
		payload["computeUnitPriceMicroLamports"] = *req.Options.ComputeUnitPriceMicroLamports
	}
	if req.Options.AsLegacyTransaction {
		payload["asLegacyTransaction"] = true
	}

	body, err := a.post(ctx, "/swap", payload)
	a.observe("build", start, err)
	if err != nil {
		return nil, err
	}

	var out struct {
		SwapTransaction           string  `json:"swapTransaction"`
		LastValidBlockHeight      *uint64 `json:"lastValidBlockHeight"`
		PrioritizationFeeLamports *uint64 `json:"prioritizationFeeLamports"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.SwapTransaction == "" {
		return nil, errInvalidPayload(jupiterName, "swap response is missing swapTransaction")
	}
	return &BuildTransactionResult{
		SwapTransaction:           out.SwapTransaction,
		LastValidBlockHeight:      out.LastValidBlockHeight,
		PrioritizationFeeLamports: out.PrioritizationFeeLamports,
	}, nil
}

// SimulateTransaction dry-runs a built transaction.
func (a *JupiterAdapter) SimulateTransaction(ctx context.Context, txBlob, userPublicKey string) (*SimulationResult, error) {
	start := time.Now()

	body, err := a.post(ctx, "/simulate", map[string]interface{}{
		"swapTransaction": txBlob,
		"userPublicKey":   userPublicKey,
	})
	a.observe("simulate", start, err)
	if err != nil {
		return nil, err
	}

	var out struct {
		Success              bool     `json:"success"`
		Error                string   `json:"error"`
		ComputeUnitsConsumed *uint64  `json:"computeUnitsConsumed"`
		Logs                 []string `json:"logs"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errInvalidPayload(jupiterName, "simulate response is not valid JSON")
	}
	return &SimulationResult{
		Success:              out.Success,
		Error:                out.Error,
		ComputeUnitsConsumed: out.ComputeUnitsConsumed,
		Logs:                 out.Logs,
	}, nil
}

// IsHealthy reports transport-level reachability. Any HTTP response counts;
// only a failed round trip marks the provider down.
func (a *JupiterAdapter) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/quote", nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (a *JupiterAdapter) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return nil, translateTransport(jupiterName, err)
	}
	return a.roundTrip(req)
}

func (a *JupiterAdapter) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, translateTransport(jupiterName, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, translateTransport(jupiterName, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.roundTrip(req)
}

func (a *JupiterAdapter) roundTrip(req *http.Request) ([]byte, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, translateTransport(jupiterName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, translateTransport(jupiterName, err)
	}
	if resp.StatusCode != http.StatusOK {
		a.logger.Debug("jupiter returned non-200",
			zap.Int("status", resp.StatusCode),
			zap.String("path", req.URL.Path))
		return nil, translateStatus(jupiterName, resp.StatusCode)
	}
	if len(body) == 0 {
		return nil, errInvalidPayload(jupiterName, "empty response body")
	}
	return body, nil
}

func (a *JupiterAdapter) observe(operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.ProviderRequests.WithLabelValues(jupiterName, operation, result).Inc()
	metrics.ProviderLatency.WithLabelValues(jupiterName, operation).Observe(time.Since(start).Seconds())
}

// jupiterQuotePayload reshapes a normalized quote back into the wire form the
// /swap endpoint expects as quoteResponse.
func jupiterQuotePayload(q *NormalizedQuote) map[string]interface{} {
	routePlan := make([]map[string]interface{}, 0, len(q.RoutePlan))
	for _, step := range q.RoutePlan {
		routePlan = append(routePlan, map[string]interface{}{
			"swapInfo": map[string]interface{}{
				"ammKey":     step.AmmKey,
				"label":      step.Label,
				"inputMint":  step.InputMint,
				"outputMint": step.OutputMint,
				"inAmount":   step.InAmount,
				"outAmount":  step.OutAmount,
				"feeAmount":  step.FeeAmount,
				"feeMint":    step.FeeMint,
			},
			"percent": step.Percent,
		})
	}
	payload := map[string]interface{}{
		"inputMint":            q.InputMint,
		"inAmount":             q.InAmount,
		"outputMint":           q.OutputMint,
		"outAmount":            q.OutAmount,
		"otherAmountThreshold": q.OtherAmountThreshold,
		"swapMode":             string(q.SwapMode),
		"slippageBps":          q.SlippageBps,
		"priceImpactPct":       q.PriceImpactPct,
		"routePlan":            routePlan,
		"contextSlot":          q.ContextSlot,
	}
	if q.PlatformFee != nil {
		payload["platformFee"] = map[string]interface{}{
			"amount": q.PlatformFee.Amount,
			"feeBps": q.PlatformFee.FeeBps,
		}
	}
	return payload
}
