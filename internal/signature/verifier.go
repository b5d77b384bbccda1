// Package signature verifies inbound webhook authenticity. It is pure
// computation with no I/O so it can be exercised exhaustively in tests.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Verification failures. All of them are terminal: a rejected delivery is
// never retried by this side.
var (
	ErrMissingHeader    = errors.New("signature or timestamp header is missing")
	ErrInvalidTimestamp = errors.New("timestamp header is not unix seconds")
	ErrTimestampSkew    = errors.New("timestamp outside tolerance window")
	ErrMalformedSig     = errors.New("signature header is malformed")
	ErrMismatch         = errors.New("signature mismatch")
)

const sigPrefix = "sha256="

// Sign computes the hex HMAC-SHA256 of body||timestamp, prefixed with
// "sha256=". Senders and the verifier share this canonical form.
func Sign(secret string, body []byte, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(ts))
	return sigPrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature header against the raw body and shared secret.
// The embedded timestamp must be within tolerance of now, boundary inclusive.
// Any decode error fails closed.
func Verify(body []byte, sigHeader, tsHeader, secret string, tolerance time.Duration, now time.Time) error {
	if sigHeader == "" || tsHeader == "" {
		return ErrMissingHeader
	}

	unix, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	if skew := abs64(now.Unix() - unix); skew > int64(tolerance.Seconds()) {
		return ErrTimestampSkew
	}

	got, ok := strings.CutPrefix(sigHeader, sigPrefix)
	if !ok {
		return ErrMalformedSig
	}
	gotRaw, err := hex.DecodeString(got)
	if err != nil {
		return ErrMalformedSig
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(tsHeader))
	if !hmac.Equal(gotRaw, mac.Sum(nil)) {
		return ErrMismatch
	}
	return nil
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
