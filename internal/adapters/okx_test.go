package adapters_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/dexroute_unified/internal/adapters"
	pkgerrors "github.com/Aidin1998/dexroute_unified/pkg/errors"
)

const okxQuoteBody = `{
	"code": "0",
	"msg": "",
	"data": [{
		"fromTokenAmount": "1000000000",
		"toTokenAmount": "145500000",
		"minimumReceived": "144772500",
		"estimateGasFee": "120000",
		"priceImpactPercentage": "0.002",
		"tradeFee": "90000",
		"dexRouterList": [{
			"router": "okx-router-1",
			"routerPercent": "100",
			"subRouterList": [{
				"dexProtocol": [{"dexName": "Raydium", "percent": "100"}]
			}]
		}]
	}]
}`

func newOKX(t *testing.T, srvURL string) *adapters.OKXAdapter {
	t.Helper()
	signer := &adapters.Signer{APIKey: "key", SecretKey: "secret", Passphrase: "phrase"}
	return adapters.NewOKXAdapter(srvURL, time.Second, signer, zap.NewNop())
}

func TestOKXQuoteNormalization(t *testing.T) {
	var gotHeaders http.Header
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotQuery = r.URL.RawQuery
		w.Write([]byte(okxQuoteBody))
	}))
	defer srv.Close()

	a := newOKX(t, srv.URL)
	quote, err := a.Quote(context.Background(), quoteRequest())
	require.NoError(t, err)

	// Authentication headers must all be present.
	assert.Equal(t, "key", gotHeaders.Get("OK-ACCESS-KEY"))
	assert.Equal(t, "phrase", gotHeaders.Get("OK-ACCESS-PASSPHRASE"))
	assert.NotEmpty(t, gotHeaders.Get("OK-ACCESS-SIGN"))
	assert.NotEmpty(t, gotHeaders.Get("OK-ACCESS-TIMESTAMP"))

	// Slippage travels as a decimal fraction.
	assert.Contains(t, gotQuery, "slippage=0.005")
	assert.Contains(t, gotQuery, "chainId=501")

	assert.Equal(t, "145500000", quote.OutAmount)
	assert.Equal(t, "144772500", quote.OtherAmountThreshold)
	assert.Equal(t, int64(120000), quote.GasEstimate)
	require.NotNil(t, quote.PlatformFee)
	assert.Equal(t, "90000", quote.PlatformFee.Amount)
	require.Len(t, quote.RoutePlan, 1)
	assert.Equal(t, "okx-router-1", quote.RoutePlan[0].AmmKey)
	assert.Equal(t, "Raydium", quote.RoutePlan[0].Label)
	assert.Equal(t, "1000000000", quote.RoutePlan[0].InAmount)
	assert.Equal(t, "145500000", quote.RoutePlan[0].OutAmount)
}

func TestOKXNonZeroCodeIsInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": "51008", "msg": "insufficient liquidity", "data": []}`))
	}))
	defer srv.Close()

	a := newOKX(t, srv.URL)
	_, err := a.Quote(context.Background(), quoteRequest())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDexInvalidResponse))
}

func TestOKXRateLimitTranslation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := newOKX(t, srv.URL)
	_, err := a.Quote(context.Background(), quoteRequest())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDexRateLimited))
}

func TestOKXBuildTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "userWalletAddress=UserKey1111111111111111111111111111111111111")
		w.Write([]byte(`{"code": "0", "data": [{"tx": {"data": "b2t4dHg=", "gas": "140000"}}]}`))
	}))
	defer srv.Close()

	a := newOKX(t, srv.URL)
	res, err := a.BuildTransaction(context.Background(), &adapters.BuildTransactionRequest{
		Quote: &adapters.NormalizedQuote{
			InputMint:   "So11111111111111111111111111111111111111112",
			OutputMint:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			InAmount:    "1000000000",
			OutAmount:   "145500000",
			SlippageBps: 50,
		},
		UserPublicKey: "UserKey1111111111111111111111111111111111111",
	})
	require.NoError(t, err)
	assert.Equal(t, "b2t4dHg=", res.SwapTransaction)
}

func TestOKXSimulateTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NotEmpty(t, r.Header.Get("OK-ACCESS-SIGN"))
		w.Write([]byte(`{"code": "0", "data": [{"failReason": "", "gasUsed": "95000"}]}`))
	}))
	defer srv.Close()

	a := newOKX(t, srv.URL)
	res, err := a.SimulateTransaction(context.Background(), "blob", "user")
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotNil(t, res.ComputeUnitsConsumed)
	assert.Equal(t, uint64(95000), *res.ComputeUnitsConsumed)
}

func TestOKXSimulateFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": "0", "data": [{"failReason": "slippage exceeded", "gasUsed": "0"}]}`))
	}))
	defer srv.Close()

	a := newOKX(t, srv.URL)
	res, err := a.SimulateTransaction(context.Background(), "blob", "user")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "slippage exceeded", res.Error)
}
