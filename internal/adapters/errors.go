package adapters

import (
	"context"
	"errors"
	"net"
	"net/http"

	pkgerrors "github.com/Aidin1998/dexroute_unified/pkg/errors"
)

// translateStatus maps an upstream HTTP status to the error taxonomy:
// 429 -> DEX_RATE_LIMITED, other 4xx -> DEX_INVALID_RESPONSE (non-retryable),
// 5xx -> DEX_UNAVAILABLE.
func translateStatus(provider string, status int) *pkgerrors.RouterError {
	switch {
	case status == http.StatusTooManyRequests:
		return pkgerrors.Newf(pkgerrors.CodeDexRateLimited, "%s rate limited the request", provider).
			WithDetail("provider", provider).
			WithDetail("status", status)
	case status >= 400 && status < 500:
		return pkgerrors.Newf(pkgerrors.CodeDexInvalidResponse, "%s rejected the request", provider).
			WithDetail("provider", provider).
			WithDetail("status", status)
	default:
		return pkgerrors.Newf(pkgerrors.CodeDexUnavailable, "%s is unavailable", provider).
			WithDetail("provider", provider).
			WithDetail("status", status)
	}
}

// translateTransport maps transport failures: deadline exhaustion becomes
// TRANSACTION_TIMEOUT, everything else DEX_UNAVAILABLE.
func translateTransport(provider string, err error) *pkgerrors.RouterError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return pkgerrors.Wrap(err, pkgerrors.CodeTransactionTimeout, provider+" request timed out").
			WithDetail("provider", provider)
	}
	return pkgerrors.Wrap(err, pkgerrors.CodeDexUnavailable, provider+" request failed").
		WithDetail("provider", provider)
}

// errInvalidPayload marks an empty or malformed upstream payload.
func errInvalidPayload(provider, detail string) *pkgerrors.RouterError {
	return pkgerrors.Newf(pkgerrors.CodeDexInvalidResponse, "%s returned an invalid payload", provider).
		WithDetail("provider", provider).
		WithDetail("reason", detail)
}
