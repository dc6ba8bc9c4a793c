package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/axleworks/api/internal/domain"
	pfirestore "github.com/axleworks/api/internal/platform/firestore"
	"github.com/axleworks/api/internal/repositories"
)

const userCollection = "users"

// UserRepository persists customer profiles in Firestore.
type UserRepository struct {
	base *pfirestore.BaseRepository[userDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{
		base: pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil),
	}, nil
}

// FindByID loads the profile by UID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.UserProfile{}, errors.New("user repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.UserProfile{}, err
	}

	profile := doc.Data.toDomain(doc.ID)
	profile.LastSyncTime = doc.UpdateTime
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = doc.CreateTime
	}
	return profile, nil
}

// Upsert writes the full profile document.
func (r *UserRepository) Upsert(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	uid := strings.TrimSpace(profile.ID)
	if uid == "" {
		return domain.UserProfile{}, errors.New("user repository: profile id is required")
	}

	doc := encodeUserProfile(profile)
	result, err := r.base.Set(ctx, uid, doc)
	if err != nil {
		return domain.UserProfile{}, err
	}

	saved := doc.toDomain(uid)
	saved.LastSyncTime = result.UpdateTime
	return saved, nil
}

type userDocument struct {
	FirstName string           `firestore:"firstName,omitempty"`
	LastName  string           `firestore:"lastName,omitempty"`
	Email     string           `firestore:"email,omitempty"`
	Phone     string           `firestore:"phone,omitempty"`
	Role      string           `firestore:"role,omitempty"`
	Billing   *orderAddressDoc `firestore:"billing,omitempty"`
	Shipping  *orderAddressDoc `firestore:"shipping,omitempty"`
	CreatedAt time.Time        `firestore:"createdAt"`
	UpdatedAt time.Time        `firestore:"updatedAt"`
}

func encodeUserProfile(profile domain.UserProfile) userDocument {
	doc := userDocument{
		FirstName: strings.TrimSpace(profile.FirstName),
		LastName:  strings.TrimSpace(profile.LastName),
		Email:     strings.ToLower(strings.TrimSpace(profile.Email)),
		Phone:     strings.TrimSpace(profile.Phone),
		Role:      strings.TrimSpace(profile.Role),
		CreatedAt: profile.CreatedAt.UTC(),
		UpdatedAt: profile.UpdatedAt.UTC(),
	}
	if profile.Billing != nil {
		billing := encodeOrderAddress(*profile.Billing)
		doc.Billing = &billing
	}
	if profile.Shipping != nil {
		shipping := encodeOrderAddress(*profile.Shipping)
		doc.Shipping = &shipping
	}
	return doc
}

func (d userDocument) toDomain(id string) domain.UserProfile {
	profile := domain.UserProfile{
		ID:        id,
		FirstName: d.FirstName,
		LastName:  d.LastName,
		Email:     d.Email,
		Phone:     d.Phone,
		Role:      d.Role,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.Billing != nil {
		billing := decodeOrderAddress(*d.Billing)
		profile.Billing = &billing
	}
	if d.Shipping != nil {
		shipping := decodeOrderAddress(*d.Shipping)
		profile.Shipping = &shipping
	}
	return profile
}

var _ repositories.UserRepository = (*UserRepository)(nil)
