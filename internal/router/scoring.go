package router

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/dexroute_unified/internal/adapters"
	"github.com/Aidin1998/dexroute_unified/internal/config"
)

// RouteScore holds the five sub-scores in [0,1] and the weighted total.
// Sub-scores are stored in their raw orientation; the "lower is better"
// dimensions (fees, gas, latency) are inverted at weighting time.
type RouteScore struct {
	OutputAmount float64 `json:"outputAmount"`
	Fees         float64 `json:"fees"`
	GasEstimate  float64 `json:"gasEstimate"`
	Latency      float64 `json:"latency"`
	Reliability  float64 `json:"reliability"`
	TotalScore   float64 `json:"totalScore"`
}

// Scorer maps normalized quotes onto comparable scores. Scores order quotes
// within one weight configuration; they are not stable across config changes.
type Scorer struct {
	weights     config.PerformanceWeights
	norm        config.ScoreNormalization
	reliability map[string]float64
}

// NewScorer builds a scorer from validated configuration.
func NewScorer(weights config.PerformanceWeights, norm config.ScoreNormalization, reliability map[string]float64) *Scorer {
	return &Scorer{weights: weights, norm: norm, reliability: reliability}
}

// Score computes the sub-scores and weighted total for one quote.
func (s *Scorer) Score(q *adapters.NormalizedQuote, provider string, responseTime time.Duration) RouteScore {
	sc := RouteScore{
		OutputAmount: s.outputScore(q.OutAmount),
		Fees:         s.feeScore(q),
		GasEstimate:  s.gasScore(q.GasEstimate),
		Latency:      clamp01(float64(responseTime) / float64(s.norm.LatencyEnvelope)),
		Reliability:  s.providerReliability(provider),
	}
	sc.TotalScore = s.weights.OutputAmount*sc.OutputAmount +
		s.weights.Fees*(1-sc.Fees) +
		s.weights.GasEstimate*(1-sc.GasEstimate) +
		s.weights.Latency*(1-sc.Latency) +
		s.weights.Reliability*sc.Reliability
	return sc
}

// providerReliability looks the provider up in the configured table. The
// table is authoritative; unknown providers get the configured default.
func (s *Scorer) providerReliability(provider string) float64 {
	if r, ok := s.reliability[provider]; ok {
		return r
	}
	return s.norm.DefaultReliability
}

func (s *Scorer) outputScore(outAmount string) float64 {
	out, err := decimal.NewFromString(outAmount)
	if err != nil {
		return 0
	}
	v, _ := out.Float64()
	return clamp01(v / s.norm.OutputEnvelope)
}

// feeScore normalizes the platform fee as a fraction of the input amount,
// saturating at the configured ratio. A missing fee scores 0.
func (s *Scorer) feeScore(q *adapters.NormalizedQuote) float64 {
	if q.PlatformFee == nil || q.PlatformFee.Amount == "" {
		return 0
	}
	fee, err := decimal.NewFromString(q.PlatformFee.Amount)
	if err != nil {
		return 0
	}
	in, err := decimal.NewFromString(q.InAmount)
	if err != nil || in.IsZero() {
		return 0
	}
	ratio, _ := fee.Div(in).Float64()
	return clamp01(ratio / s.norm.FeeSaturationPct)
}

func (s *Scorer) gasScore(gas int64) float64 {
	g := float64(gas)
	if g <= 0 {
		g = s.norm.GasDefault
	}
	return clamp01(g / s.norm.GasEnvelope)
}

// PolicyMetric is the quantity quotes are ranked by. With favorLowLatency the
// ranking biases toward fast providers instead of the full weighted total.
func PolicyMetric(sc RouteScore, favorLowLatency bool) float64 {
	if favorLowLatency {
		return 0.6*(1-sc.Latency) + 0.4*sc.OutputAmount
	}
	return sc.TotalScore
}

// rankQuotes sorts ranked quotes by the policy metric descending, breaking
// ties by provider name for determinism.
func rankQuotes(quotes []RankedQuote, favorLowLatency bool) {
	sort.Slice(quotes, func(i, j int) bool {
		mi := PolicyMetric(quotes[i].Score, favorLowLatency)
		mj := PolicyMetric(quotes[j].Score, favorLowLatency)
		if mi != mj {
			return mi > mj
		}
		return quotes[i].Provider < quotes[j].Provider
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
