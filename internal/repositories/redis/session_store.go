package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/services"
)

const (
	defaultConfirmationTTL = 30 * time.Minute
	defaultNotesTTL        = 24 * time.Hour
)

// ErrStoreUnavailable indicates the Redis backend could not be reached.
var ErrStoreUnavailable = errors.New("redis: session store unavailable")

// Config controls the Redis session stores.
type Config struct {
	Addr            string
	Password        string
	DB              int
	KeyPrefix       string
	ConfirmationTTL time.Duration
	NotesTTL        time.Duration
}

// SessionStore keeps short-lived checkout state keyed by session. Confirmation
// snapshots are read once and deleted; notes survive reloads until cleared.
type SessionStore struct {
	client          *redis.Client
	prefix          string
	confirmationTTL time.Duration
	notesTTL        time.Duration
}

// NewSessionStore connects a session store to Redis.
func NewSessionStore(cfg Config) (*SessionStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis: addr is required")
	}

	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "checkout"
	}
	confirmationTTL := cfg.ConfirmationTTL
	if confirmationTTL <= 0 {
		confirmationTTL = defaultConfirmationTTL
	}
	notesTTL := cfg.NotesTTL
	if notesTTL <= 0 {
		notesTTL = defaultNotesTTL
	}

	return &SessionStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix:          prefix,
		confirmationTTL: confirmationTTL,
		notesTTL:        notesTTL,
	}, nil
}

// Close releases the Redis client.
func (s *SessionStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Ping verifies connectivity for readiness probes.
func (s *SessionStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return ErrStoreUnavailable
	}
	return s.client.Ping(ctx).Err()
}

// Save stores the confirmation snapshot for one post-submit read.
func (s *SessionStore) Save(ctx context.Context, sessionID string, confirmation domain.OrderConfirmation) error {
	key, err := s.key("confirmation", sessionID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(confirmation)
	if err != nil {
		return fmt.Errorf("redis: encode confirmation: %w", err)
	}
	if err := s.client.Set(ctx, key, payload, s.confirmationTTL).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// Take reads and deletes the confirmation snapshot in one round trip so a
// refresh of the confirmation view cannot replay it.
func (s *SessionStore) Take(ctx context.Context, sessionID string) (domain.OrderConfirmation, bool, error) {
	key, err := s.key("confirmation", sessionID)
	if err != nil {
		return domain.OrderConfirmation{}, false, err
	}

	raw, err := s.client.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return domain.OrderConfirmation{}, false, nil
	}
	if err != nil {
		return domain.OrderConfirmation{}, false, errors.Join(ErrStoreUnavailable, err)
	}

	var confirmation domain.OrderConfirmation
	if err := json.Unmarshal([]byte(raw), &confirmation); err != nil {
		return domain.OrderConfirmation{}, false, fmt.Errorf("redis: decode confirmation: %w", err)
	}
	return confirmation, true, nil
}

// NotesStore exposes the order-notes portion of the session store.
type NotesStore struct {
	store *SessionStore
}

// Notes returns the notes store backed by the same Redis client.
func (s *SessionStore) Notes() *NotesStore {
	return &NotesStore{store: s}
}

// Save keeps the draft order notes for the session.
func (n *NotesStore) Save(ctx context.Context, sessionID, notes string) error {
	key, err := n.store.key("notes", sessionID)
	if err != nil {
		return err
	}
	if err := n.store.client.Set(ctx, key, notes, n.store.notesTTL).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// Load returns the draft notes, empty when none were saved.
func (n *NotesStore) Load(ctx context.Context, sessionID string) (string, error) {
	key, err := n.store.key("notes", sessionID)
	if err != nil {
		return "", err
	}
	notes, err := n.store.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.Join(ErrStoreUnavailable, err)
	}
	return notes, nil
}

// Clear discards the draft notes after submission.
func (n *NotesStore) Clear(ctx context.Context, sessionID string) error {
	key, err := n.store.key("notes", sessionID)
	if err != nil {
		return err
	}
	if err := n.store.client.Del(ctx, key).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SessionStore) key(kind, sessionID string) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("redis: session store not initialised")
	}
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return "", errors.New("redis: session id is required")
	}
	return fmt.Sprintf("%s:%s:%s", s.prefix, kind, sid), nil
}

var (
	_ services.ConfirmationStore = (*SessionStore)(nil)
	_ services.NotesStore        = (*NotesStore)(nil)
)
