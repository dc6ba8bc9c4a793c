package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/payments"
)

type memUserRepo struct {
	profiles map[string]domain.UserProfile
	err      error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{profiles: map[string]domain.UserProfile{}}
}

func (r *memUserRepo) FindByID(_ context.Context, userID string) (domain.UserProfile, error) {
	if r.err != nil {
		return domain.UserProfile{}, r.err
	}
	profile, ok := r.profiles[userID]
	if !ok {
		return domain.UserProfile{}, fakeRepoError{notFound: true}
	}
	return profile, nil
}

func (r *memUserRepo) Upsert(_ context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	if r.err != nil {
		return domain.UserProfile{}, r.err
	}
	r.profiles[profile.ID] = profile
	return profile, nil
}

type memPaymentMethodRepo struct {
	methods map[string][]domain.StoredPaymentMethod
}

func (r *memPaymentMethodRepo) ListByUser(_ context.Context, userID string) ([]domain.StoredPaymentMethod, error) {
	return r.methods[userID], nil
}

func (r *memPaymentMethodRepo) Insert(_ context.Context, userID string, method domain.StoredPaymentMethod) error {
	r.methods[userID] = append(r.methods[userID], method)
	return nil
}

func (r *memPaymentMethodRepo) Delete(_ context.Context, userID string, methodID string) error {
	kept := r.methods[userID][:0]
	for _, m := range r.methods[userID] {
		if m.ID != methodID {
			kept = append(kept, m)
		}
	}
	r.methods[userID] = kept
	return nil
}

type stubVerifier struct {
	lookup func(ctx context.Context, token string) (payments.PaymentMethodDetails, error)
	calls  int
}

func (s *stubVerifier) Lookup(ctx context.Context, token string) (payments.PaymentMethodDetails, error) {
	s.calls++
	if s.lookup == nil {
		return payments.PaymentMethodDetails{Token: token}, nil
	}
	return s.lookup(ctx, token)
}

func newTestUserService(t *testing.T, users *memUserRepo, methods *memPaymentMethodRepo, verifier *stubVerifier) UserService {
	t.Helper()
	deps := UserServiceDeps{
		Users: users,
		Clock: func() time.Time { return time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC) },
	}
	if methods != nil {
		deps.PaymentMethods = methods
	}
	if verifier != nil {
		deps.Verifier = verifier
	}
	svc, err := NewUserService(deps)
	if err != nil {
		t.Fatalf("NewUserService returned error: %v", err)
	}
	return svc
}

func TestGetProfileAbsentReturnsSkeleton(t *testing.T) {
	svc := newTestUserService(t, newMemUserRepo(), nil, nil)

	profile, err := svc.GetProfile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetProfile returned error: %v", err)
	}
	if profile.ID != "u1" || profile.Email != "" {
		t.Fatalf("skeleton = %+v", profile)
	}
}

func TestUpdateProfileMergesAddresses(t *testing.T) {
	users := newMemUserRepo()
	users.profiles["u1"] = domain.UserProfile{
		ID:    "u1",
		Email: "dana@example.com",
		Phone: "555-0100",
	}
	svc := newTestUserService(t, users, nil, nil)

	billing := domain.Address{FirstName: "Dana", LastName: "Ruiz", Address1: "14 Elm St", City: "Dayton", State: "OH", Zip: "45402", Email: "dana@example.com"}
	err := svc.UpdateProfile(context.Background(), UpdateProfileCommand{
		UserID:  "u1",
		Billing: &billing,
		Phone:   "0",
	})
	if err != nil {
		t.Fatalf("UpdateProfile returned error: %v", err)
	}

	saved := users.profiles["u1"]
	if saved.Billing == nil || saved.Billing.City != "Dayton" {
		t.Fatalf("billing not saved: %+v", saved.Billing)
	}
	if saved.Shipping != nil {
		t.Fatalf("shipping set without input: %+v", saved.Shipping)
	}
	if saved.Phone != "555-0100" {
		t.Fatalf("sentinel phone overwrote stored value: %q", saved.Phone)
	}
	if saved.FirstName != "Dana" {
		t.Fatalf("first name not backfilled: %q", saved.FirstName)
	}
	if saved.LastSyncTime.IsZero() {
		t.Fatalf("sync time not stamped")
	}
}

func TestListPaymentMethodsRefreshesFromVerifier(t *testing.T) {
	methods := &memPaymentMethodRepo{methods: map[string][]domain.StoredPaymentMethod{
		"u1": {
			{ID: "pm1", Provider: "stripe", Reference: "pm_tok_1", Brand: "unknown", Last4: "0000"},
			{ID: "pm2", Provider: "paypal", Reference: "ba_tok_2"},
		},
	}}
	verifier := &stubVerifier{lookup: func(_ context.Context, token string) (payments.PaymentMethodDetails, error) {
		return payments.PaymentMethodDetails{Token: token, Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2028}, nil
	}}
	svc := newTestUserService(t, newMemUserRepo(), methods, verifier)

	got, err := svc.ListPaymentMethods(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListPaymentMethods returned error: %v", err)
	}
	if verifier.calls != 1 {
		t.Fatalf("verifier calls = %d, want 1 (stripe only)", verifier.calls)
	}
	if got[0].Brand != "visa" || got[0].Last4 != "4242" {
		t.Fatalf("stripe method not refreshed: %+v", got[0])
	}
	if got[1].Brand != "" {
		t.Fatalf("non-stripe method touched: %+v", got[1])
	}
}

func TestListPaymentMethodsVerifierFailureFallsBack(t *testing.T) {
	methods := &memPaymentMethodRepo{methods: map[string][]domain.StoredPaymentMethod{
		"u1": {{ID: "pm1", Provider: "stripe", Reference: "pm_tok_1", Brand: "visa", Last4: "1111"}},
	}}
	verifier := &stubVerifier{lookup: func(context.Context, string) (payments.PaymentMethodDetails, error) {
		return payments.PaymentMethodDetails{}, errors.New("stripe down")
	}}
	svc := newTestUserService(t, newMemUserRepo(), methods, verifier)

	got, err := svc.ListPaymentMethods(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListPaymentMethods returned error: %v", err)
	}
	if got[0].Brand != "visa" || got[0].Last4 != "1111" {
		t.Fatalf("stored snapshot lost on verifier failure: %+v", got[0])
	}
}

func TestUserServiceBackendFault(t *testing.T) {
	users := newMemUserRepo()
	users.err = fakeRepoError{unavailable: true}
	svc := newTestUserService(t, users, nil, nil)

	if _, err := svc.GetProfile(context.Background(), "u1"); !errors.Is(err, ErrUserUnavailable) {
		t.Fatalf("err = %v, want ErrUserUnavailable", err)
	}
}
