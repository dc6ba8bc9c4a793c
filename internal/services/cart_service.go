package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: cart repository is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart backend cannot fulfil the request.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart or purchase order does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrPurchaseOrderForbidden indicates the purchase order belongs to another dealer.
var ErrPurchaseOrderForbidden = errors.New("cart service: purchase order belongs to another dealer")

// CartServiceDeps wires the repositories behind cart operations.
type CartServiceDeps struct {
	Carts           repositories.CartRepository
	PurchaseOrders  repositories.PurchaseOrderRepository
	Clock           func() time.Time
	DefaultCurrency string
	Logger          func(context.Context, string, map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	pos      repositories.PurchaseOrderRepository
	now      func() time.Time
	currency string
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = "USD"
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		carts:    deps.Carts,
		pos:      deps.PurchaseOrders,
		now:      func() time.Time { return deps.Clock().UTC() },
		currency: currency,
		logger:   logger,
	}, nil
}

// GetCart loads the cart for the user, returning an empty cart when absent.
func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.carts.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return s.emptyCart(uid), nil
		}
		return Cart{}, translateCartRepoError(err)
	}
	return s.normaliseCart(cart, uid), nil
}

// ReplaceLines replaces the whole line collection. Lines are never patched in
// place, which keeps the persisted cart a single source of truth.
func (s *cartService) ReplaceLines(ctx context.Context, userID string, lines []domain.CartLine) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cleaned, err := cleanCartLines(lines)
	if err != nil {
		return Cart{}, err
	}

	cart, err := s.GetCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}
	cart.Lines = cleaned
	cart.UpdatedAt = s.now()

	saved, err := s.carts.SaveCart(ctx, cart)
	if err != nil {
		return Cart{}, translateCartRepoError(err)
	}
	return s.normaliseCart(saved, uid), nil
}

// SetQuantity updates one line's quantity. Zero or negative removes the line.
func (s *cartService) SetQuantity(ctx context.Context, userID string, productID string, quantity int) (Cart, error) {
	uid := strings.TrimSpace(userID)
	pid := strings.TrimSpace(productID)
	if uid == "" || pid == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.GetCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}

	idx := -1
	for i, line := range cart.Lines {
		if strings.EqualFold(strings.TrimSpace(line.ProductID), pid) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Cart{}, ErrCartNotFound
	}

	if quantity <= 0 {
		cart.Lines = append(cart.Lines[:idx], cart.Lines[idx+1:]...)
	} else {
		cart.Lines[idx].Quantity = quantity
	}
	cart.UpdatedAt = s.now()

	saved, err := s.carts.SaveCart(ctx, cart)
	if err != nil {
		return Cart{}, translateCartRepoError(err)
	}
	return s.normaliseCart(saved, uid), nil
}

// ClearCart removes the persisted cart. Absent carts clear successfully.
func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return ErrCartInvalidInput
	}
	if err := s.carts.DeleteCart(ctx, uid); err != nil && !isRepoNotFound(err) {
		return translateCartRepoError(err)
	}
	return nil
}

// SourceForUser adapts the persistent cart to the checkout line source shape.
func (s *cartService) SourceForUser(userID string) CartSource {
	return &userCartSource{svc: s, userID: strings.TrimSpace(userID)}
}

// SourceForPurchaseOrder loads a dealer purchase order and adapts it to the
// checkout line source shape. Ownership is enforced here, not at the handler.
func (s *cartService) SourceForPurchaseOrder(ctx context.Context, dealerID string, poID string) (CartSource, error) {
	if s.pos == nil {
		return nil, ErrCartUnavailable
	}
	did := strings.TrimSpace(dealerID)
	pid := strings.TrimSpace(poID)
	if did == "" || pid == "" {
		return nil, ErrCartInvalidInput
	}

	po, err := s.pos.FindByID(ctx, pid)
	if err != nil {
		if isRepoNotFound(err) {
			return nil, ErrCartNotFound
		}
		return nil, translateCartRepoError(err)
	}
	if !strings.EqualFold(strings.TrimSpace(po.DealerID), did) {
		return nil, ErrPurchaseOrderForbidden
	}
	return &purchaseOrderSource{pos: s.pos, poID: po.ID}, nil
}

func (s *cartService) emptyCart(userID string) domain.Cart {
	now := s.now()
	return domain.Cart{
		ID:        userID,
		UserID:    userID,
		Currency:  s.currency,
		Lines:     []domain.CartLine{},
		UpdatedAt: now,
	}
}

func (s *cartService) normaliseCart(cart domain.Cart, userID string) domain.Cart {
	if strings.TrimSpace(cart.ID) == "" {
		cart.ID = userID
	}
	if strings.TrimSpace(cart.UserID) == "" {
		cart.UserID = userID
	}
	cart.Currency = strings.ToUpper(strings.TrimSpace(cart.Currency))
	if cart.Currency == "" {
		cart.Currency = s.currency
	}
	if cart.Lines == nil {
		cart.Lines = []domain.CartLine{}
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = s.now()
	}
	return cart
}

func cleanCartLines(lines []domain.CartLine) ([]domain.CartLine, error) {
	cleaned := make([]domain.CartLine, 0, len(lines))
	for _, line := range lines {
		line.ProductID = strings.TrimSpace(line.ProductID)
		if line.ProductID == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
		}
		if line.UnitPriceCents < 0 {
			return nil, fmt.Errorf("%w: unit price must be non-negative", ErrCartInvalidInput)
		}
		if line.Quantity <= 0 {
			continue
		}
		cleaned = append(cleaned, line)
	}
	return cleaned, nil
}

// userCartSource presents the persistent cart as checkout lines.
type userCartSource struct {
	svc    *cartService
	userID string
}

func (u *userCartSource) Lines(ctx context.Context) ([]domain.CartLine, error) {
	cart, err := u.svc.GetCart(ctx, u.userID)
	if err != nil {
		return nil, err
	}
	return cart.Lines, nil
}

func (u *userCartSource) Replace(ctx context.Context, lines []domain.CartLine) error {
	_, err := u.svc.ReplaceLines(ctx, u.userID, lines)
	return err
}

func (u *userCartSource) Clear(ctx context.Context) error {
	return u.svc.ClearCart(ctx, u.userID)
}

func (u *userCartSource) IsPurchaseOrder() bool { return false }

func (u *userCartSource) PurchaseOrderID() string { return "" }

// purchaseOrderSource presents a dealer purchase order as checkout lines. PO
// pricing is server-authoritative, so Replace only accepts quantity changes
// against the existing line set.
type purchaseOrderSource struct {
	pos  repositories.PurchaseOrderRepository
	poID string
}

func (p *purchaseOrderSource) Lines(ctx context.Context) ([]domain.CartLine, error) {
	po, err := p.pos.FindByID(ctx, p.poID)
	if err != nil {
		if isRepoNotFound(err) {
			return nil, ErrCartNotFound
		}
		return nil, translateCartRepoError(err)
	}
	return po.Lines, nil
}

func (p *purchaseOrderSource) Replace(ctx context.Context, lines []domain.CartLine) error {
	po, err := p.pos.FindByID(ctx, p.poID)
	if err != nil {
		if isRepoNotFound(err) {
			return ErrCartNotFound
		}
		return translateCartRepoError(err)
	}

	existing := make(map[string]domain.CartLine, len(po.Lines))
	for _, line := range po.Lines {
		existing[strings.ToLower(strings.TrimSpace(line.ProductID))] = line
	}

	quantities := make(map[string]int, len(lines))
	for _, line := range lines {
		key := strings.ToLower(strings.TrimSpace(line.ProductID))
		current, ok := existing[key]
		if !ok {
			return fmt.Errorf("%w: purchase order lines cannot be added", ErrCartInvalidInput)
		}
		if line.UnitPriceCents != current.UnitPriceCents {
			return fmt.Errorf("%w: purchase order pricing cannot be changed", ErrCartInvalidInput)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: purchase order quantities must be positive", ErrCartInvalidInput)
		}
		quantities[current.ProductID] = line.Quantity
	}
	if len(quantities) != len(po.Lines) {
		return fmt.Errorf("%w: purchase order lines cannot be removed", ErrCartInvalidInput)
	}

	if _, err := p.pos.UpdateQuantities(ctx, p.poID, quantities); err != nil {
		return translateCartRepoError(err)
	}
	return nil
}

// Clear marks the purchase order submitted instead of deleting it. The PO
// record stays behind for dealer bookkeeping.
func (p *purchaseOrderSource) Clear(ctx context.Context) error {
	if err := p.pos.MarkSubmitted(ctx, p.poID); err != nil {
		return translateCartRepoError(err)
	}
	return nil
}

func (p *purchaseOrderSource) IsPurchaseOrder() bool { return true }

func (p *purchaseOrderSource) PurchaseOrderID() string { return p.poID }

func translateCartRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
	}
	return ErrCartUnavailable
}
