package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/payments"
	"github.com/axleworks/api/internal/repositories"
)

var errUserRepositoryRequired = errors.New("user service: repository is required")

// ErrUserInvalidInput indicates the caller supplied invalid input.
var ErrUserInvalidInput = errors.New("user service: invalid input")

// ErrUserUnavailable indicates the user backend could not be reached.
var ErrUserUnavailable = errors.New("user service: unavailable")

// PaymentMethodVerifier refreshes stored payment method metadata from the PSP.
type PaymentMethodVerifier interface {
	Lookup(ctx context.Context, token string) (payments.PaymentMethodDetails, error)
}

// UserServiceDeps wires the repositories behind the profile surface.
type UserServiceDeps struct {
	Users          repositories.UserRepository
	PaymentMethods repositories.PaymentMethodRepository
	Verifier       PaymentMethodVerifier
	Clock          func() time.Time
	Logger         func(context.Context, string, map[string]any)
}

type userService struct {
	users    repositories.UserRepository
	methods  repositories.PaymentMethodRepository
	verifier PaymentMethodVerifier
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewUserService constructs the profile service.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errUserRepositoryRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &userService{
		users:    deps.Users,
		methods:  deps.PaymentMethods,
		verifier: deps.Verifier,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// GetProfile loads the profile projection. Identity lives with the auth
// provider, so an absent projection resolves to a skeleton rather than an
// error.
func (s *userService) GetProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.UserProfile{}, ErrUserInvalidInput
	}

	profile, err := s.users.FindByID(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.UserProfile{ID: uid}, nil
		}
		return domain.UserProfile{}, errors.Join(ErrUserUnavailable, err)
	}
	return profile, nil
}

// UpdateProfile merges the provided fields into the stored projection. Nil
// address pointers leave the stored value alone.
func (s *userService) UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) error {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return ErrUserInvalidInput
	}

	profile, err := s.GetProfile(ctx, uid)
	if err != nil {
		return err
	}

	if cmd.Billing != nil {
		billing := cmd.Billing.Normalize()
		profile.Billing = &billing
		if profile.FirstName == "" {
			profile.FirstName = billing.FirstName
		}
		if profile.LastName == "" {
			profile.LastName = billing.LastName
		}
		if profile.Email == "" {
			profile.Email = billing.Email
		}
	}
	if cmd.Shipping != nil {
		shipping := cmd.Shipping.Normalize()
		profile.Shipping = &shipping
	}
	if phone := domain.CleanField(cmd.Phone); phone != "" {
		profile.Phone = phone
	}

	now := s.now()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	profile.LastSyncTime = now

	if _, err := s.users.Upsert(ctx, profile); err != nil {
		return errors.Join(ErrUserUnavailable, err)
	}
	return nil
}

// ListPaymentMethods returns stored PSP references, refreshing display
// metadata from the PSP when a verifier is configured. Refresh failures fall
// back to the stored snapshot.
func (s *userService) ListPaymentMethods(ctx context.Context, userID string) ([]domain.StoredPaymentMethod, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, ErrUserInvalidInput
	}
	if s.methods == nil {
		return []domain.StoredPaymentMethod{}, nil
	}

	methods, err := s.methods.ListByUser(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return []domain.StoredPaymentMethod{}, nil
		}
		return nil, errors.Join(ErrUserUnavailable, err)
	}

	if s.verifier == nil {
		return methods, nil
	}
	for i := range methods {
		if !strings.EqualFold(methods[i].Provider, "stripe") {
			continue
		}
		details, err := s.verifier.Lookup(ctx, methods[i].Reference)
		if err != nil {
			s.logger(ctx, "users.payment_method_refresh_failed", map[string]any{
				"user_id":   uid,
				"method_id": methods[i].ID,
				"error":     err.Error(),
			})
			continue
		}
		if details.Brand != "" {
			methods[i].Brand = details.Brand
		}
		if details.Last4 != "" {
			methods[i].Last4 = details.Last4
		}
		if details.ExpMonth != 0 {
			methods[i].ExpMonth = details.ExpMonth
			methods[i].ExpYear = details.ExpYear
		}
	}
	return methods, nil
}
