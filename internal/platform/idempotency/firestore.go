package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection = "idempotency_keys"
	defaultTxAttempts = 5
	defaultPurgeLimit = 100
)

// FirestoreOption customises the Firestore-backed store.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding idempotency records.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// WithMaxAttempts bounds transaction retries.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(store *FirestoreStore) {
		if attempts > 0 {
			store.attempts = attempts
		}
	}
}

// FirestoreStore implements Store on a Firestore collection. Claims run in
// transactions so two racing requests cannot both win a key.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	attempts   int
}

// NewFirestoreStore wraps the client.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{
		client:     client,
		collection: defaultCollection,
		attempts:   defaultTxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(recordID(key))
}

func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref := s.doc(key)

	var claim Claim
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		fresh := storedRecord{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      string(StatusPending),
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}

		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			if err := tx.Set(ref, fresh); err != nil {
				return err
			}
			claim = Claim{Disposition: DispositionProceed, Record: fresh.toRecord()}
			return nil
		}
		if err != nil {
			return err
		}

		var stored storedRecord
		if err := snap.DataTo(&stored); err != nil {
			return err
		}
		if stored.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		if !stored.ExpiresAt.IsZero() && !now.Before(stored.ExpiresAt) {
			if err := tx.Set(ref, fresh); err != nil {
				return err
			}
			claim = Claim{Disposition: DispositionProceed, Record: fresh.toRecord()}
			return nil
		}

		if stored.Status == string(StatusCompleted) {
			claim = Claim{Disposition: DispositionReplay, Record: stored.toRecord()}
		} else {
			claim = Claim{Disposition: DispositionInFlight, Record: stored.toRecord()}
		}
		return nil
	}, firestore.MaxAttempts(s.attempts))

	return claim, err
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref := s.doc(key)
	headers := storableHeaders(resp.Headers)
	body := append([]byte(nil), resp.Body...)

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var stored storedRecord
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			stored = storedRecord{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&stored); err != nil {
				return err
			}
			if stored.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			if stored.CreatedAt.IsZero() {
				stored.CreatedAt = now
			}
		}

		stored.Status = string(StatusCompleted)
		stored.ResponseStatus = resp.Status
		stored.ResponseHeaders = headers
		stored.ResponseBody = body
		stored.UpdatedAt = now
		stored.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, stored)
	}, firestore.MaxAttempts(s.attempts))
}

func (s *FirestoreStore) Forget(ctx context.Context, key, _ string) error {
	_, err := s.doc(key).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultPurgeLimit
	}
	docs, err := s.client.Collection(s.collection).
		Where("expires_at", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	batch := s.client.Batch()
	for _, snap := range docs {
		batch.Delete(snap.Ref)
	}
	_, err = batch.Commit(ctx)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

type storedRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"response_status"`
	ResponseHeaders map[string][]string `firestore:"response_headers"`
	ResponseBody    []byte              `firestore:"response_body"`
	CreatedAt       time.Time           `firestore:"created_at"`
	UpdatedAt       time.Time           `firestore:"updated_at"`
	ExpiresAt       time.Time           `firestore:"expires_at"`
}

func (r storedRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
