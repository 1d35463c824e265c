// Package sdkhook signs and verifies webhook requests exchanged with SDK
// runtimes. Requests carry an HMAC-SHA256 signature over
// "<timestamp>.<nonce>.<body>" so the receiver can authenticate the sender
// and reject replays outside the freshness window.
package sdkhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	HeaderSignature = "X-Argus-Signature"
	HeaderTimestamp = "X-Argus-Timestamp"
	HeaderNonce     = "X-Argus-Nonce"

	// maxSkew is how far a request timestamp may drift from local time.
	maxSkew = 300 * time.Second
)

var (
	ErrBadSignature = errors.New("signature mismatch")
	ErrStale        = errors.New("timestamp outside freshness window")
)

// Signature holds the header values for one signed request.
type Signature struct {
	Signature string
	Timestamp string
	Nonce     string
}

// Sign produces headers for the given body at the given time.
func Sign(secret []byte, body []byte, at time.Time) (Signature, error) {
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return Signature{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(nonceBytes)
	ts := strconv.FormatInt(at.Unix(), 10)
	return Signature{
		Signature: compute(secret, ts, nonce, body),
		Timestamp: ts,
		Nonce:     nonce,
	}, nil
}

// Verify checks a received signature against the body. The timestamp must
// be within the skew window and the digest must match in constant time.
func Verify(secret []byte, body []byte, sig Signature, now time.Time) error {
	ts, err := strconv.ParseInt(sig.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	drift := now.Sub(time.Unix(ts, 0))
	if drift > maxSkew || drift < -maxSkew {
		return ErrStale
	}
	expected := compute(secret, sig.Timestamp, sig.Nonce, body)
	if !hmac.Equal([]byte(expected), []byte(sig.Signature)) {
		return ErrBadSignature
	}
	return nil
}

func compute(secret []byte, timestamp, nonce string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write([]byte(nonce))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
