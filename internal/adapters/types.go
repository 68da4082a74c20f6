// Package adapters defines the uniform upstream-aggregator capability and its
// concrete implementations. Adapters are stateless beyond credentials and a
// shared connection pool; retry and isolation live in the circuit breaker and
// coalescer above them.
package adapters

import (
	"context"
	"strconv"

	pkgerrors "github.com/Aidin1998/dexroute_unified/pkg/errors"
)

// SwapMode selects which side of the swap is fixed.
type SwapMode string

const (
	SwapModeExactIn  SwapMode = "ExactIn"
	SwapModeExactOut SwapMode = "ExactOut"
)

// MaxAmount is the largest input amount accepted, 2^64-1 as a decimal string.
const MaxAmount = "18446744073709551615"

// QuoteRequest is the normalized routing input shared by the engine and all
// adapters. Amounts are arbitrary-precision non-negative integers encoded as
// decimal strings.
type QuoteRequest struct {
	InputMint       string   `json:"inputMint"`
	OutputMint      string   `json:"outputMint"`
	Amount          string   `json:"amount"`
	SlippageBps     int      `json:"slippageBps"`
	SwapMode        SwapMode `json:"swapMode,omitempty"`
	UserPublicKey   string   `json:"userPublicKey,omitempty"`
	FavorLowLatency bool     `json:"favorLowLatency,omitempty"`
	MaxAlternatives int      `json:"maxAlternatives,omitempty"`
}

// Validate enforces the request invariants: input != output, 1 <= amount <=
// 2^64-1, slippage in [1,10000].
func (r *QuoteRequest) Validate() error {
	if r.InputMint == "" || r.OutputMint == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "inputMint and outputMint are required")
	}
	if r.InputMint == r.OutputMint {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "inputMint and outputMint must differ")
	}
	amount, err := strconv.ParseUint(r.Amount, 10, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return pkgerrors.New(pkgerrors.CodeAmountTooLarge, "amount exceeds the supported range")
		}
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be a decimal integer string")
	}
	if amount < 1 {
		return pkgerrors.New(pkgerrors.CodeAmountTooSmall, "amount must be at least 1")
	}
	if r.SlippageBps < 1 || r.SlippageBps > 10000 {
		return pkgerrors.New(pkgerrors.CodeSlippageTooHigh, "slippageBps must be in [1,10000]")
	}
	if r.MaxAlternatives < 0 || r.MaxAlternatives > 10 {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "maxAlternatives must be in [0,10]")
	}
	return nil
}

// PlatformFee is the aggregator's fee attached to a quote.
type PlatformFee struct {
	Amount string `json:"amount"`
	FeeBps int    `json:"feeBps"`
}

// RoutePlanStep is one AMM hop in a route plan.
type RoutePlanStep struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	FeeAmount  string `json:"feeAmount,omitempty"`
	FeeMint    string `json:"feeMint,omitempty"`
	Percent    int    `json:"percent,omitempty"`
}

// NormalizedQuote is the adapter-agnostic quote shape consumed by the engine.
type NormalizedQuote struct {
	InputMint            string          `json:"inputMint"`
	OutputMint           string          `json:"outputMint"`
	InAmount             string          `json:"inAmount"`
	OutAmount            string          `json:"outAmount"`
	OtherAmountThreshold string          `json:"otherAmountThreshold"`
	SwapMode             SwapMode        `json:"swapMode"`
	SlippageBps          int             `json:"slippageBps"`
	PlatformFee          *PlatformFee    `json:"platformFee,omitempty"`
	PriceImpactPct       string          `json:"priceImpactPct"`
	RoutePlan            []RoutePlanStep `json:"routePlan"`
	GasEstimate          int64           `json:"gasEstimate,omitempty"`
	TimeTakenMs          int64           `json:"timeTakenMs,omitempty"`
	ContextSlot          uint64          `json:"contextSlot,omitempty"`
}

// BuildOptions are the caller-supplied transaction build knobs. Pointers
// distinguish "unset" from "false"; adapter-specific mapping is the adapter's
// responsibility.
type BuildOptions struct {
	WrapAndUnwrapSol              *bool   `json:"wrapAndUnwrapSol,omitempty"`
	UseSharedAccounts             *bool   `json:"useSharedAccounts,omitempty"`
	FeeAccount                    string  `json:"feeAccount,omitempty"`
	ComputeUnitPriceMicroLamports *uint64 `json:"computeUnitPriceMicroLamports,omitempty"`
	AsLegacyTransaction           bool    `json:"asLegacyTransaction,omitempty"`
}

// BuildTransactionRequest binds a quote to a user key for transaction build.
type BuildTransactionRequest struct {
	Quote         *NormalizedQuote `json:"quote"`
	UserPublicKey string           `json:"userPublicKey"`
	Options       BuildOptions     `json:"options"`
}

// BuildTransactionResult carries the opaque transaction blob returned by the
// upstream plus its validity hints.
type BuildTransactionResult struct {
	SwapTransaction           string  `json:"swapTransaction"`
	LastValidBlockHeight      *uint64 `json:"lastValidBlockHeight,omitempty"`
	PrioritizationFeeLamports *uint64 `json:"prioritizationFeeLamports,omitempty"`
}

// SimulationResult is the outcome of a dry-run of a built transaction.
type SimulationResult struct {
	Success              bool     `json:"success"`
	Error                string   `json:"error,omitempty"`
	ComputeUnitsConsumed *uint64  `json:"computeUnitsConsumed,omitempty"`
	Logs                 []string `json:"logs,omitempty"`
}

// Adapter is the uniform upstream-aggregator capability.
type Adapter interface {
	Name() string
	Quote(ctx context.Context, req *QuoteRequest) (*NormalizedQuote, error)
	BuildTransaction(ctx context.Context, req *BuildTransactionRequest) (*BuildTransactionResult, error)
	SimulateTransaction(ctx context.Context, txBlob, userPublicKey string) (*SimulationResult, error)
	IsHealthy(ctx context.Context) bool
}
