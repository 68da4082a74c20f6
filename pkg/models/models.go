// Package models holds the durable records owned by the store: quotes served
// to clients and the lifecycle of swap transactions built from them.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SwapStatus is the lifecycle state of a swap transaction record.
type SwapStatus string

const (
	SwapStatusPending   SwapStatus = "PENDING"
	SwapStatusCompleted SwapStatus = "COMPLETED"
	SwapStatusFailed    SwapStatus = "FAILED"
	SwapStatusExpired   SwapStatus = "EXPIRED"
)

// Terminal reports whether the status admits no further transitions.
func (s SwapStatus) Terminal() bool {
	return s == SwapStatusCompleted || s == SwapStatusFailed || s == SwapStatusExpired
}

// CanTransitionTo enforces the monotone PENDING -> terminal state machine.
func (s SwapStatus) CanTransitionTo(next SwapStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case SwapStatusCompleted, SwapStatusFailed, SwapStatusExpired:
		return true
	}
	return false
}

// QuoteRecord is the persisted snapshot of a served quote. Immutable after
// write; ExpiresAt bounds how long the quote may be executed against.
type QuoteRecord struct {
	ID               string    `gorm:"type:uuid;primaryKey" json:"id"`
	Provider         string    `gorm:"index;not null" json:"provider"`
	InputMint        string    `gorm:"not null" json:"inputMint"`
	OutputMint       string    `gorm:"not null" json:"outputMint"`
	InAmount         string    `gorm:"not null" json:"inAmount"`
	OutAmount        string    `gorm:"not null" json:"outAmount"`
	SlippageBps      int       `json:"slippageBps"`
	PriceImpactPct   string    `json:"priceImpactPct"`
	RoutePlan        []byte    `gorm:"type:jsonb" json:"routePlan"`
	PlatformFee      string    `json:"platformFee"`
	GasEstimate      int64     `json:"gasEstimate"`
	ResponseTimeMs   int64     `json:"responseTimeMs"`
	IsCached         bool      `json:"isCached"`
	EfficiencyScore  *float64  `json:"efficiencyScore,omitempty"`
	ReliabilityScore *float64  `json:"reliabilityScore,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	ExpiresAt        time.Time `gorm:"index" json:"expiresAt"`
}

// BeforeCreate assigns the quote id when the caller has not.
func (q *QuoteRecord) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	return nil
}

// Expired reports whether the quote can no longer be executed.
func (q *QuoteRecord) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// SwapTransactionRecord tracks a swap from build to terminal state. RouteData
// embeds the quote, the build request, and the returned transaction blob for
// audit.
type SwapTransactionRecord struct {
	ID              string     `gorm:"type:uuid;primaryKey" json:"id"`
	UserPublicKey   string     `gorm:"index;not null" json:"userPublicKey"`
	QuoteID         string     `gorm:"index" json:"quoteId"`
	InputMint       string     `gorm:"not null" json:"inputMint"`
	OutputMint      string     `gorm:"not null" json:"outputMint"`
	InAmount        string     `gorm:"not null" json:"inAmount"`
	OutAmount       string     `json:"outAmount"`
	MinOutAmount    string     `json:"minOutAmount"`
	SlippageBps     int        `json:"slippageBps"`
	Provider        string     `gorm:"index" json:"provider"`
	Status          SwapStatus `gorm:"index;not null" json:"status"`
	TxHash          string     `json:"txHash,omitempty"`
	RouteData       []byte     `gorm:"type:jsonb" json:"routeData,omitempty"`
	FeeAmount       string     `json:"feeAmount,omitempty"`
	GasEstimate     int64      `json:"gasEstimate,omitempty"`
	ExecutionTimeMs *int64     `json:"executionTimeMs,omitempty"`
	ErrorCode       string     `json:"errorCode,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	ExpiresAt       time.Time  `gorm:"index" json:"expiresAt"`
}

// BeforeCreate assigns the transaction id when the caller has not.
func (s *SwapTransactionRecord) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}
