package router_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aidin1998/dexroute_unified/internal/adapters"
	"github.com/Aidin1998/dexroute_unified/internal/config"
	"github.com/Aidin1998/dexroute_unified/internal/router"
)

func testWeights() config.PerformanceWeights {
	return config.PerformanceWeights{
		OutputAmount: 0.40,
		Fees:         0.25,
		GasEstimate:  0.15,
		Latency:      0.15,
		Reliability:  0.05,
	}
}

func testNormalization() config.ScoreNormalization {
	return config.ScoreNormalization{
		OutputEnvelope:     1e12,
		FeeSaturationPct:   0.01,
		GasEnvelope:        200000,
		GasDefault:         100000,
		LatencyEnvelope:    3 * time.Second,
		DefaultReliability: 0.80,
	}
}

func testScorer() *router.Scorer {
	return router.NewScorer(testWeights(), testNormalization(), map[string]float64{
		"jupiter": 0.95,
		"okx":     0.90,
	})
}

func baseQuote() *adapters.NormalizedQuote {
	return &adapters.NormalizedQuote{
		InputMint:  "So11111111111111111111111111111111111111112",
		OutputMint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		InAmount:   "1000000000",
		OutAmount:  "145670000",
	}
}

func TestScoringHigherOutputScoresHigher(t *testing.T) {
	s := testScorer()

	low := baseQuote()
	high := baseQuote()
	high.OutAmount = "245670000"

	scoreLow := s.Score(low, "jupiter", 250*time.Millisecond)
	scoreHigh := s.Score(high, "jupiter", 250*time.Millisecond)
	assert.Greater(t, scoreHigh.TotalScore, scoreLow.TotalScore)
}

func TestScoringHigherFeesScoreLower(t *testing.T) {
	s := testScorer()

	cheap := baseQuote()
	cheap.PlatformFee = &adapters.PlatformFee{Amount: "100000"}
	pricey := baseQuote()
	pricey.PlatformFee = &adapters.PlatformFee{Amount: "5000000"}

	scoreCheap := s.Score(cheap, "jupiter", 250*time.Millisecond)
	scorePricey := s.Score(pricey, "jupiter", 250*time.Millisecond)
	assert.Greater(t, scoreCheap.TotalScore, scorePricey.TotalScore)
}

func TestScoringHigherGasScoresLower(t *testing.T) {
	s := testScorer()

	light := baseQuote()
	light.GasEstimate = 50000
	heavy := baseQuote()
	heavy.GasEstimate = 180000

	assert.Greater(t,
		s.Score(light, "jupiter", 250*time.Millisecond).TotalScore,
		s.Score(heavy, "jupiter", 250*time.Millisecond).TotalScore)
}

func TestScoringHigherLatencyScoresLower(t *testing.T) {
	s := testScorer()
	q := baseQuote()

	assert.Greater(t,
		s.Score(q, "jupiter", 100*time.Millisecond).TotalScore,
		s.Score(q, "jupiter", 2*time.Second).TotalScore)
}

func TestScoringReliabilityTableIsAuthoritative(t *testing.T) {
	s := testScorer()
	q := baseQuote()

	jup := s.Score(q, "jupiter", 250*time.Millisecond)
	okx := s.Score(q, "okx", 250*time.Millisecond)
	unknown := s.Score(q, "mystery", 250*time.Millisecond)

	assert.Equal(t, 0.95, jup.Reliability)
	assert.Equal(t, 0.90, okx.Reliability)
	assert.Equal(t, 0.80, unknown.Reliability)
	assert.Greater(t, jup.TotalScore, okx.TotalScore)
}

func TestScoringMissingGasUsesDefault(t *testing.T) {
	s := testScorer()
	q := baseQuote()
	q.GasEstimate = 0

	score := s.Score(q, "jupiter", 250*time.Millisecond)
	assert.InDelta(t, 0.5, score.GasEstimate, 1e-9) // 100000 / 200000
}

func TestScoringSubScoresSaturate(t *testing.T) {
	s := testScorer()
	q := baseQuote()
	q.OutAmount = "99999999999999" // far beyond the envelope
	q.GasEstimate = 900000

	score := s.Score(q, "jupiter", 10*time.Second)
	assert.Equal(t, 1.0, score.OutputAmount)
	assert.Equal(t, 1.0, score.GasEstimate)
	assert.Equal(t, 1.0, score.Latency)
}

func TestPolicyMetricFavorsLatencyWhenAsked(t *testing.T) {
	s := testScorer()

	fast := baseQuote()
	fast.OutAmount = "140000000"
	slow := baseQuote()
	slow.OutAmount = "145670000"

	fastScore := s.Score(fast, "okx", 80*time.Millisecond)
	slowScore := s.Score(slow, "jupiter", 900*time.Millisecond)

	assert.Greater(t,
		router.PolicyMetric(fastScore, true),
		router.PolicyMetric(slowScore, true))
}
