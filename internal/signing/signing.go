// Package signing produces and checks HMAC-SHA256 signed, timestamped
// envelopes around arbitrary JSON-serializable messages.
//
// Verification always works on the exact payload string that was signed, never
// on a re-encoding of the decoded message, so key order and whitespace cannot
// break a valid signature.
//
// There is no nonce: an envelope can be replayed any number of times until it
// is older than the maximum age.
package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ent0n29/xiaobei/internal/agenterr"
)

// DefaultMaxAge is used by Verify when no positive maximum age is given.
const DefaultMaxAge = 5 * time.Minute

const secretBytes = 32

// Envelope is the signed form of a message.
type Envelope struct {
	Payload   string `json:"payload"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// Result is the tagged outcome of Verify.
type Result struct {
	Valid   bool
	Kind    agenterr.Kind
	Message json.RawMessage
	Reason  string
}

// Err returns nil for a valid result and a signature-class error otherwise.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return agenterr.Signature(r.Kind, "%s", r.Reason)
}

type signedPayload struct {
	Message   any   `json:"message"`
	Timestamp int64 `json:"timestamp"`
}

type parsedPayload struct {
	Message   json.RawMessage `json:"message"`
	Timestamp *int64          `json:"timestamp"`
}

// Sign wraps message with the current time and signs it with secret.
func Sign(message any, secret string) (Envelope, error) {
	return SignAt(message, secret, time.Now())
}

// SignAt is Sign with an explicit clock reading.
func SignAt(message any, secret string, now time.Time) (Envelope, error) {
	ts := now.UnixMilli()
	raw, err := json.Marshal(signedPayload{Message: message, Timestamp: ts})
	if err != nil {
		return Envelope{}, fmt.Errorf("encode payload: %w", err)
	}
	payload := string(raw)
	return Envelope{
		Payload:   payload,
		Timestamp: ts,
		Signature: digest(payload, secret),
	}, nil
}

// Verify checks payload against signature. A maxAge <= 0 means DefaultMaxAge.
func Verify(payload, signature, secret string, maxAge time.Duration) Result {
	return VerifyAt(payload, signature, secret, maxAge, time.Now())
}

// VerifyAt is Verify with an explicit clock reading.
func VerifyAt(payload, signature, secret string, maxAge time.Duration, now time.Time) Result {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	var parsed parsedPayload
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return Result{Kind: agenterr.KindMalformed, Reason: "invalid payload format"}
	}
	if parsed.Timestamp == nil {
		return Result{Kind: agenterr.KindMalformed, Reason: "payload has no timestamp"}
	}

	age := now.UnixMilli() - *parsed.Timestamp
	if age > maxAge.Milliseconds() {
		return Result{Kind: agenterr.KindExpired, Reason: "signature expired"}
	}

	expected := digest(payload, secret)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return Result{Kind: agenterr.KindBadSignature, Reason: "invalid signature"}
	}

	msg := parsed.Message
	if msg == nil {
		msg = json.RawMessage("null")
	}
	return Result{Valid: true, Message: msg}
}

// GenerateSecret returns 32 random bytes, hex encoded.
func GenerateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Hash is the SHA-256 of message's JSON encoding, hex encoded.
func Hash(message any) (string, error) {
	raw, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func digest(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
