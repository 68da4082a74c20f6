package adapters

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Signer produces the authenticated provider's request signature. The scheme
// is content-addressed: the canonical pre-hash string is
//
//	timestamp + METHOD + requestPath + (queryString | jsonBody)
//
// HMAC-SHA256'd with the secret key and base64-encoded. Clients that build
// the canonical string differently from the server cannot authenticate.
type Signer struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

// SignTimestamp formats t as ISO-8601 with a trailing Z, truncated to
// millisecond precision.
func SignTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format("2006-01-02T15:04:05.000Z")
}

// PreHash assembles the canonical string covered by the signature. For GET
// requests payload is "?"+canonical query (empty when there are no params);
// for POST it is the exact JSON body bytes.
func PreHash(timestamp, method, requestPath, payload string) string {
	return timestamp + strings.ToUpper(method) + requestPath + payload
}

// Sign computes base64(HMAC-SHA256(secret, preHash)).
func (s *Signer) Sign(timestamp, method, requestPath, payload string) string {
	mac := hmac.New(sha256.New, []byte(s.SecretKey))
	mac.Write([]byte(PreHash(timestamp, method, requestPath, payload)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// CanonicalQuery serializes params deterministically: keys sorted, empty
// values omitted, standard URL escaping. The same bytes must be sent on the
// wire and covered by the signature.
func CanonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

// Headers returns the authentication headers for a request signed at ts.
func (s *Signer) Headers(ts time.Time, method, requestPath, payload string) map[string]string {
	timestamp := SignTimestamp(ts)
	return map[string]string{
		"OK-ACCESS-KEY":        s.APIKey,
		"OK-ACCESS-SIGN":       s.Sign(timestamp, method, requestPath, payload),
		"OK-ACCESS-TIMESTAMP":  timestamp,
		"OK-ACCESS-PASSPHRASE": s.Passphrase,
	}
}
