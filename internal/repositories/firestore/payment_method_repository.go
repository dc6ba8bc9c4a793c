package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/axleworks/api/internal/domain"
	pfirestore "github.com/axleworks/api/internal/platform/firestore"
	"github.com/axleworks/api/internal/repositories"
)

// paymentMethodDoc is the stored shape of a PSP payment reference. Card
// numbers never reach this layer; only brand, last4, and expiry are kept.
type paymentMethodDoc struct {
	Provider  string    `firestore:"provider"`
	Reference string    `firestore:"reference"`
	Brand     string    `firestore:"brand,omitempty"`
	Last4     string    `firestore:"last4,omitempty"`
	ExpMonth  int       `firestore:"expMonth,omitempty"`
	ExpYear   int       `firestore:"expYear,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func (d paymentMethodDoc) toDomain(id string) domain.StoredPaymentMethod {
	return domain.StoredPaymentMethod{
		ID:        id,
		Provider:  d.Provider,
		Reference: d.Reference,
		Brand:     d.Brand,
		Last4:     d.Last4,
		ExpMonth:  d.ExpMonth,
		ExpYear:   d.ExpYear,
		CreatedAt: d.CreatedAt,
	}
}

// PaymentMethodRepository keeps each user's stored payment references in a
// paymentMethods subcollection under the user document.
type PaymentMethodRepository struct {
	provider *pfirestore.Provider
}

// NewPaymentMethodRepository constructs a Firestore-backed payment method repository.
func NewPaymentMethodRepository(provider *pfirestore.Provider) (*PaymentMethodRepository, error) {
	if provider == nil {
		return nil, errors.New("payment methods: firestore provider is required")
	}
	return &PaymentMethodRepository{provider: provider}, nil
}

// ListByUser returns the user's stored payment methods newest first.
func (r *PaymentMethodRepository) ListByUser(ctx context.Context, userID string) ([]domain.StoredPaymentMethod, error) {
	coll, err := r.userCollection(ctx, userID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("createdAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var methods []domain.StoredPaymentMethod
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return methods, nil
		}
		if err != nil {
			return nil, pfirestore.WrapError("payment_methods.list", err)
		}
		var doc paymentMethodDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, pfirestore.WrapError("payment_methods.decode", err)
		}
		methods = append(methods, doc.toDomain(snap.Ref.ID))
	}
}

// Insert stores a new payment method reference keyed by its PSP id.
func (r *PaymentMethodRepository) Insert(ctx context.Context, userID string, method domain.StoredPaymentMethod) error {
	coll, err := r.userCollection(ctx, userID)
	if err != nil {
		return err
	}
	id, err := requireMethodID(method.ID)
	if err != nil {
		return err
	}

	doc := paymentMethodDoc{
		Provider:  strings.ToLower(strings.TrimSpace(method.Provider)),
		Reference: strings.TrimSpace(method.Reference),
		Brand:     strings.TrimSpace(method.Brand),
		Last4:     strings.TrimSpace(method.Last4),
		ExpMonth:  method.ExpMonth,
		ExpYear:   method.ExpYear,
		CreatedAt: method.CreatedAt.UTC(),
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	if _, err := coll.Doc(id).Set(ctx, doc); err != nil {
		return pfirestore.WrapError("payment_methods.insert", err)
	}
	return nil
}

// Delete removes a stored payment method reference.
func (r *PaymentMethodRepository) Delete(ctx context.Context, userID, methodID string) error {
	coll, err := r.userCollection(ctx, userID)
	if err != nil {
		return err
	}
	id, err := requireMethodID(methodID)
	if err != nil {
		return err
	}

	if _, err := coll.Doc(id).Delete(ctx); err != nil {
		return pfirestore.WrapError("payment_methods.delete", err)
	}
	return nil
}

func (r *PaymentMethodRepository) userCollection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("payment methods: repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("payment methods: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf("users/%s/paymentMethods", uid)), nil
}

func requireMethodID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("payment methods: method id is required")
	}
	return id, nil
}

var _ repositories.PaymentMethodRepository = (*PaymentMethodRepository)(nil)
