package idempotency

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func fixedClock() func() time.Time {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func newGuardedHandler(t *testing.T, store Store, calls *int) http.Handler {
	t.Helper()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order_id":"AX-1001"}`))
	})
	return Middleware(store, WithClock(fixedClock()))(inner)
}

func TestMiddlewareRequiresKeyOnMutatingMethods(t *testing.T) {
	calls := 0
	handler := newGuardedHandler(t, NewMemoryStore(), &calls)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(`{}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if calls != 0 {
		t.Fatalf("handler ran %d times, want 0", calls)
	}
}

func TestMiddlewareLetsReadsThrough(t *testing.T) {
	calls := 0
	handler := newGuardedHandler(t, NewMemoryStore(), &calls)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
}

func TestMiddlewareReplaysRecordedResponse(t *testing.T) {
	calls := 0
	handler := newGuardedHandler(t, NewMemoryStore(), &calls)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(`{"flow":"flow-1"}`))
		req.Header.Set("Idempotency-Key", "key-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d, want %d", first.Code, http.StatusCreated)
	}
	if first.Header().Get("X-Idempotent-Replay") != "" {
		t.Fatal("first response must not carry the replay marker")
	}

	second := send()
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status = %d, want %d", second.Code, http.StatusCreated)
	}
	if second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatal("replay response missing the replay marker")
	}
	body, _ := io.ReadAll(second.Body)
	if !strings.Contains(string(body), "AX-1001") {
		t.Fatalf("replay body = %s", body)
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
}

func TestMiddlewareRejectsKeyReuseWithDifferentPayload(t *testing.T) {
	calls := 0
	handler := newGuardedHandler(t, NewMemoryStore(), &calls)

	first := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(`{"flow":"flow-1"}`))
	first.Header.Set("Idempotency-Key", "key-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first status = %d", rec.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(`{"flow":"flow-2"}`))
	second.Header.Set("Idempotency-Key", "key-1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	if rec.Code != http.StatusConflict {
		t.Fatalf("reuse status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
}

func TestMiddlewareReportsInFlightKeys(t *testing.T) {
	calls := 0
	handler := newGuardedHandler(t, &inFlightStore{}, &calls)

	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(`{}`))
	req.Header.Set("Idempotency-Key", "key-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if calls != 0 {
		t.Fatalf("handler ran %d times, want 0", calls)
	}
}

func TestMiddlewareStoreFailureDoesNotLeakSuccess(t *testing.T) {
	store := &failingCompleteStore{MemoryStore: NewMemoryStore(), fail: true}
	calls := 0
	handler := newGuardedHandler(t, store, &calls)

	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(`{}`))
	req.Header.Set("Idempotency-Key", "key-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}

	// The claim was forgotten, so a retry runs the handler again.
	store.fail = false
	req = httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(`{}`))
	req.Header.Set("Idempotency-Key", "key-1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("retry status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if calls != 2 {
		t.Fatalf("handler ran %d times, want 2", calls)
	}
}

func TestMemoryStorePurge(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	if _, err := store.Claim(context.Background(), "old", "fp", now.Add(-48*time.Hour), time.Hour); err != nil {
		t.Fatalf("claim old: %v", err)
	}
	if _, err := store.Claim(context.Background(), "fresh", "fp", now, time.Hour); err != nil {
		t.Fatalf("claim fresh: %v", err)
	}

	removed, err := store.Purge(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
}

type inFlightStore struct{ MemoryStore }

func (s *inFlightStore) Claim(context.Context, string, string, time.Time, time.Duration) (Claim, error) {
	return Claim{Disposition: DispositionInFlight}, nil
}

type failingCompleteStore struct {
	*MemoryStore
	fail bool
}

func (s *failingCompleteStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if s.fail {
		return errors.New("firestore unavailable")
	}
	return s.MemoryStore.Complete(ctx, key, fingerprint, resp, now, ttl)
}
