package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/dexroute_unified/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Router.SlippageToleranceBps)
	assert.Equal(t, 3, cfg.Router.MaxAlternatives)
	assert.InDelta(t, 1.0, cfg.Router.Weights.Sum(), 1e-9)
	assert.Equal(t, 0.95, cfg.Router.Reliability["jupiter"])
	assert.Equal(t, 0.90, cfg.Router.Reliability["okx"])
	assert.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
	assert.True(t, cfg.Adapters.Jupiter.Enabled)
	assert.False(t, cfg.Adapters.OKX.Enabled)
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.Router.Weights.OutputAmount = 0.80 // sum now 1.40
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadSlippage(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.Router.SlippageToleranceBps = 0
	assert.Error(t, cfg.Validate())

	cfg.Router.SlippageToleranceBps = 10001
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroThresholds(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.CircuitBreaker.FailureThreshold = 0
	assert.Error(t, cfg.Validate())
}
