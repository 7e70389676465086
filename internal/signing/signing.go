// Package signing implements the HMAC-SHA256 request signing scheme used by
// the control-plane auth middleware.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"math"
	"strings"
	"time"
)

// DefaultTolerance is the default timestamp skew window accepted by
// TimestampFresh, and the window the auth middleware rejects beyond.
const DefaultTolerance = 300 * time.Second

// Sign canonicalises the request as
//
//	timestamp\nUPPERCASE_METHOD\npath\nsha256hex(body)
//
// and returns HMAC-SHA256(secret, canonical) as lowercase hex.
func Sign(method, path, body, timestamp, secret string) string {
	canonical := canonicalize(method, path, body, timestamp)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the expected signature and compares it to sig using a
// constant-time comparison. It never panics: malformed hex or a length
// mismatch simply yield false.
func Verify(method, path, body, timestamp, secret, sig string) bool {
	expected := Sign(method, path, body, timestamp, secret)

	expectedBytes, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	gotBytes, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	if len(expectedBytes) != len(gotBytes) {
		return false
	}
	return subtle.ConstantTimeCompare(expectedBytes, gotBytes) == 1
}

// TimestampFresh reports whether ts (unix seconds) is
// within tolerance of the current wall-clock time. A tolerance of zero uses
// DefaultTolerance.
func TimestampFresh(ts int64, now time.Time, tolerance time.Duration) bool {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	diff := now.Unix() - ts
	return math.Abs(float64(diff)) <= tolerance.Seconds()
}

func canonicalize(method, path, body, timestamp string) string {
	sum := sha256.Sum256([]byte(body))
	parts := []string{
		timestamp,
		strings.ToUpper(method),
		path,
		hex.EncodeToString(sum[:]),
	}
	return strings.Join(parts, "\n")
}
