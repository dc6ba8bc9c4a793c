// Package idempotency makes mutating endpoints safe to retry: the first
// request under a key runs, its response is recorded, and replays of the
// same key and payload get the recorded response back.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long recorded responses are replayable.
const DefaultTTL = 24 * time.Hour

// Status tracks a record through its lifecycle.
type Status string

const (
	// StatusPending marks a key claimed by an in-flight request.
	StatusPending Status = "pending"
	// StatusCompleted marks a key with a recorded response.
	StatusCompleted Status = "completed"
)

// Disposition says what the middleware should do after claiming a key.
type Disposition int

const (
	// DispositionProceed lets the request through to the handler.
	DispositionProceed Disposition = iota
	// DispositionReplay returns the recorded response.
	DispositionReplay
	// DispositionInFlight rejects because another request holds the key.
	DispositionInFlight
)

// Claim is the result of claiming a key.
type Claim struct {
	Disposition Disposition
	Record      Record
}

// Record is the persisted state for one idempotency key.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

// Response is the recorded handler output.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists claims and recorded responses.
type Store interface {
	// Claim reserves the key for this fingerprint, or reports a replay or
	// in-flight conflict. Expired records are claimed fresh.
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error)
	// Complete records the response for later replays.
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	// Forget drops the claim so the caller may retry.
	Forget(ctx context.Context, key, fingerprint string) error
	// Purge removes up to limit expired records.
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch reports a key reused with a different payload.
var ErrFingerprintMismatch = errors.New("idempotency: key reused with a different request")

// recordID derives the document id from the scoped key. The fingerprint is
// stored and compared on the record itself, never in the id, so a key reuse
// with a different payload is detectable.
func recordID(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// storableHeaders strips hop-by-hop and derived headers before recording.
func storableHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	out := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		switch strings.ToLower(canonical) {
		case "content-length", "date", "connection", "keep-alive",
			"proxy-authenticate", "proxy-authorization", "te", "trailers",
			"transfer-encoding", "upgrade":
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
