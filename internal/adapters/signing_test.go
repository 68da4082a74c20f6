package adapters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var fixtureTime = time.Date(2024, 3, 15, 8, 30, 0, 123_000_000, time.UTC)

func TestSignTimestampFormat(t *testing.T) {
	assert.Equal(t, "2024-03-15T08:30:00.123Z", SignTimestamp(fixtureTime))

	// Sub-millisecond precision is truncated, not rounded.
	withNanos := time.Date(2024, 3, 15, 8, 30, 0, 123_999_999, time.UTC)
	assert.Equal(t, "2024-03-15T08:30:00.123Z", SignTimestamp(withNanos))
}

func TestCanonicalQuerySortsAndOmitsEmpty(t *testing.T) {
	query := CanonicalQuery(map[string]string{
		"toTokenAddress":   "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		"chainId":          "501",
		"amount":           "1000000000",
		"fromTokenAddress": "So11111111111111111111111111111111111111112",
		"slippage":         "0.005",
		"referrerAddress":  "",
	})
	assert.Equal(t,
		"amount=1000000000&chainId=501&fromTokenAddress=So11111111111111111111111111111111111111112&slippage=0.005&toTokenAddress=EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		query)
}

// The canonical pre-hash string must be a pure function of its inputs and
// reproduce a known signature byte for byte.
func TestSignReproducesKnownFixture(t *testing.T) {
	signer := &Signer{
		APIKey:     "test-api-key",
		SecretKey:  "test-secret-key",
		Passphrase: "test-passphrase",
	}
	ts := SignTimestamp(fixtureTime)
	query := "?amount=1000000000&chainId=501&fromTokenAddress=So11111111111111111111111111111111111111112&slippage=0.005&toTokenAddress=EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

	sig := signer.Sign(ts, "GET", "/api/v5/dex/aggregator/quote", query)
	assert.Equal(t, "Gb1xKpf2Wm2M5J/5cl2606Jd637HueAFYIxgYdnQhn8=", sig)
}

func TestSignCoversJSONBodyForPost(t *testing.T) {
	signer := &Signer{SecretKey: "test-secret-key"}
	ts := SignTimestamp(fixtureTime)
	body := `{"chainId":"501","fromAddress":"user","txData":"blob"}`

	sig := signer.Sign(ts, "POST", "/api/v5/dex/pre-transaction/simulate", body)
	assert.Equal(t, "ddGJk5SfcRSvg9JyihgVM5WBtKvu1Bk9P7l1Nw6JV5M=", sig)
}

func TestHeadersCarryAllCredentials(t *testing.T) {
	signer := &Signer{
		APIKey:     "key",
		SecretKey:  "secret",
		Passphrase: "phrase",
	}
	headers := signer.Headers(fixtureTime, "GET", "/api/v5/dex/aggregator/quote", "")

	assert.Equal(t, "key", headers["OK-ACCESS-KEY"])
	assert.Equal(t, "phrase", headers["OK-ACCESS-PASSPHRASE"])
	assert.Equal(t, "2024-03-15T08:30:00.123Z", headers["OK-ACCESS-TIMESTAMP"])
	assert.NotEmpty(t, headers["OK-ACCESS-SIGN"])
}

func TestPreHashConcatenationOrder(t *testing.T) {
	assert.Equal(t, "tsGET/pathquery", PreHash("ts", "get", "/path", "query"))
}
