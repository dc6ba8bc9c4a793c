package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type staticSecrets map[string]string

func (s staticSecrets) GetSecret(_ context.Context, name string) (string, error) {
	if secret, ok := s[name]; ok {
		return secret, nil
	}
	return "", fmt.Errorf("secret %s not found", name)
}

// signedRequest builds a request carrying a valid signature for the body.
func signedRequest(t *testing.T, secret, target string, body []byte, at time.Time, nonce string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	timestamp := at.UTC().Format(time.RFC3339)
	signature := computeHMAC([]byte(secret), buildCanonicalString(req, body, timestamp, nonce))
	req.Header.Set(defaultSignatureHeader, base64.StdEncoding.EncodeToString(signature))
	req.Header.Set(defaultTimestampHeader, timestamp)
	req.Header.Set(defaultNonceHeader, nonce)
	return req
}

func newTestValidator(secrets SecretProvider, now time.Time, metrics MetricsRecorder) *HMACValidator {
	opts := []HMACOption{
		WithHMACLogger(noopLogger{}),
		WithHMACClock(func() time.Time { return now }),
	}
	if metrics != nil {
		opts = append(opts, WithHMACMetrics(metrics))
	}
	return NewHMACValidator(secrets, NewInMemoryNonceStore(), opts...)
}

func TestRequireHMACAcceptsValidSignature(t *testing.T) {
	const secretName = "webhooks/stripe"
	now := time.Now().UTC().Truncate(time.Second)
	metrics := &recordingMetrics{}
	validator := newTestValidator(staticSecrets{secretName: "super-secret"}, now, metrics)

	body := []byte(`{"event":"payment_intent.succeeded"}`)
	req := signedRequest(t, "super-secret", "/webhooks/payments/stripe", body, now, "nonce-1")

	rec := httptest.NewRecorder()
	validator.RequireHMAC(secretName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, ok := HMACMetadataFromContext(r.Context())
		if !ok {
			t.Fatal("hmac metadata missing from context")
		}
		if meta.SecretName != secretName || meta.Nonce != "nonce-1" {
			t.Fatalf("unexpected metadata: %+v", meta)
		}
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if len(metrics.records) != 1 || !metrics.records[0].success {
		t.Fatalf("metrics = %+v, want one success", metrics.records)
	}
}

func TestRequireHMACRejectsReplay(t *testing.T) {
	const secretName = "webhooks/paypal"
	now := time.Now().UTC().Truncate(time.Second)
	validator := newTestValidator(staticSecrets{secretName: "pp-secret"}, now, nil)

	body := []byte(`{"status":"completed"}`)
	handler := validator.RequireHMAC(secretName)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, "pp-secret", "/webhooks/payments/paypal", body, now, "nonce-replay"))
	if rec.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, "pp-secret", "/webhooks/payments/paypal", body, now, "nonce-replay"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", rec.Code)
	}
}

func TestRequireHMACRejectsTamperedBody(t *testing.T) {
	const secretName = "webhooks/shipping"
	now := time.Now().UTC().Truncate(time.Second)
	validator := newTestValidator(staticSecrets{secretName: "ship-secret"}, now, nil)

	// Sign one body, deliver another.
	req := signedRequest(t, "ship-secret", "/webhooks/shipping/ups", []byte(`{"shipment":"in_transit"}`), now, "nonce-ship")
	tampered := httptest.NewRequest(http.MethodPost, "/webhooks/shipping/ups", bytes.NewReader([]byte(`{"shipment":"delivered"}`)))
	tampered.Header = req.Header

	rec := httptest.NewRecorder()
	validator.RequireHMAC(secretName)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run on a signature mismatch")
	})).ServeHTTP(rec, tampered)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireHMACRejectsStaleTimestamp(t *testing.T) {
	const secretName = "webhooks/psp"
	now := time.Now().UTC().Truncate(time.Second)
	validator := newTestValidator(staticSecrets{secretName: "psp-secret"}, now, nil)

	req := signedRequest(t, "psp-secret", "/webhooks/payments/psp", []byte(`{}`), now.Add(-10*time.Minute), "nonce-old")

	rec := httptest.NewRecorder()
	validator.RequireHMAC(secretName)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run when the timestamp is outside the window")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireHMACSecretUnavailable(t *testing.T) {
	provider := SecretProviderFunc(func(context.Context, string) (string, error) {
		return "", fmt.Errorf("secret backend down")
	})
	now := time.Now().UTC().Truncate(time.Second)
	validator := newTestValidator(provider, now, nil)

	rec := httptest.NewRecorder()
	validator.RequireHMAC("missing/secret")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run when the secret cannot be loaded")
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/test", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestRequireHMACResolverRoutesToSecret(t *testing.T) {
	const secretName = "payments/stripe"
	now := time.Now().UTC().Truncate(time.Second)
	validator := newTestValidator(staticSecrets{secretName: "resolver-secret"}, now, nil)

	req := signedRequest(t, "resolver-secret", "/webhooks/payments/stripe", []byte(`{"event":"test"}`), now, "nonce-r")

	rec := httptest.NewRecorder()
	validator.RequireHMACResolver(func(*http.Request) (string, bool) {
		return secretName, true
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	validator.RequireHMACResolver(func(*http.Request) (string, bool) {
		return "", false
	})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run for an unknown provider")
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/unknown", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown provider status = %d, want 401", rec.Code)
	}
}

func TestInMemoryNonceStoreExpiresEntries(t *testing.T) {
	store := NewInMemoryNonceStore()
	ctx := context.Background()

	stored, err := store.UseNonce(ctx, "scope", "n1", time.Now().Add(50*time.Millisecond))
	if err != nil || !stored {
		t.Fatalf("UseNonce = %v, %v", stored, err)
	}
	stored, err = store.UseNonce(ctx, "scope", "n1", time.Now().Add(time.Minute))
	if err != nil || stored {
		t.Fatalf("duplicate nonce accepted: %v, %v", stored, err)
	}

	time.Sleep(60 * time.Millisecond)
	stored, err = store.UseNonce(ctx, "scope", "n1", time.Now().Add(time.Minute))
	if err != nil || !stored {
		t.Fatalf("expired nonce not reusable: %v, %v", stored, err)
	}
}
