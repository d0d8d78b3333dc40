package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/projectpulse/ingest/core"
)

// Verifier authenticates a raw webhook delivery before anything else
// reads the body. Verification runs over the exact bytes received; any
// re-serialization would change the digest.
type Verifier interface {
	Verify(ctx context.Context, body []byte, headers map[string]string) error
}

// HeaderHMACVerifier checks an HMAC-SHA256 digest carried in a request
// header. The header value may be bare hex or carry a "sha256=" prefix.
// An empty secret disables verification for that upstream; the caller
// decides whether that is acceptable for its environment.
type HeaderHMACVerifier struct {
	Header string
	Secret string
}

func NewHeaderHMACVerifier(header, secret string) HeaderHMACVerifier {
	return HeaderHMACVerifier{
		Header: strings.TrimSpace(header),
		Secret: strings.TrimSpace(secret),
	}
}

func (v HeaderHMACVerifier) Verify(_ context.Context, body []byte, headers map[string]string) error {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return nil
	}

	header := strings.TrimSpace(headerValue(headers, v.Header))
	if header == "" {
		return core.NewUnauthorizedError(
			fmt.Sprintf("signature: %s signature header is required", strings.TrimSpace(v.Header)),
		)
	}

	provided := header
	if idx := strings.IndexByte(provided, '='); idx >= 0 && strings.EqualFold(provided[:idx], "sha256") {
		provided = provided[idx+1:]
	}
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return core.NewUnauthorizedError("signature: signature value is required")
	}

	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return core.NewUnauthorizedError("signature: signature is not valid hex")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)

	if !hmac.Equal(decoded, expected) {
		return core.NewUnauthorizedError("signature: signature verification failed")
	}
	return nil
}

// Sign produces the hex digest an upstream would send for body. Used by
// tests and by the refresh callback registration handshake.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func headerValue(headers map[string]string, name string) string {
	if len(headers) == 0 {
		return ""
	}
	if value, ok := headers[name]; ok {
		return value
	}
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}
