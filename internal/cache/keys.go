package cache

import (
	"fmt"
	"strings"
)

// Cache keys are stable flat strings. The first segment before ':' is the
// cache-type label used by metrics.

// QuoteKey fingerprints a client-facing quote request.
func QuoteKey(inputMint, outputMint, amount string, slippageBps int) string {
	return fmt.Sprintf("quote:%s:%s:%s:%d", inputMint, outputMint, amount, slippageBps)
}

// RouteKey fingerprints a route calculation.
func RouteKey(inputMint, outputMint, amount string) string {
	return fmt.Sprintf("route:%s:%s:%s", inputMint, outputMint, amount)
}

// ProviderQuoteKey fingerprints a single provider's quote call.
func ProviderQuoteKey(provider, inputMint, outputMint, amount string, slippageBps int) string {
	return fmt.Sprintf("provider_quote:%s:%s:%s:%s:%d", provider, inputMint, outputMint, amount, slippageBps)
}

// TokenKey fingerprints token metadata lookups.
func TokenKey(address string) string {
	return fmt.Sprintf("token:%s", address)
}

// LockKey names an advisory lock entry.
func LockKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}

// CacheType returns the metrics label for a key: its first ':' segment.
func CacheType(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "other"
}
