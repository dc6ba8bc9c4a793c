package services

import (
	"context"
	"errors"
	"strings"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/repositories"
)

var errOrderRepositoryRequired = errors.New("order service: repository is required")

// ErrOrderInvalidInput signals the caller provided invalid data.
var ErrOrderInvalidInput = errors.New("order service: invalid input")

// ErrOrderNotFound indicates the order could not be located.
var ErrOrderNotFound = errors.New("order service: not found")

// ErrOrderUnavailable indicates the order backend could not be reached.
var ErrOrderUnavailable = errors.New("order service: unavailable")

// OrderServiceDeps wires the order repository.
type OrderServiceDeps struct {
	Orders repositories.OrderRepository
}

type orderService struct {
	orders repositories.OrderRepository
}

// NewOrderService constructs the owner-scoped order reader.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errOrderRepositoryRequired
	}
	return &orderService{orders: deps.Orders}, nil
}

// GetOrder loads one order and enforces ownership. Orders belonging to other
// users read as not found rather than forbidden.
func (s *orderService) GetOrder(ctx context.Context, userID string, orderID string) (domain.Order, error) {
	uid := strings.TrimSpace(userID)
	oid := strings.TrimSpace(orderID)
	if uid == "" || oid == "" {
		return domain.Order{}, ErrOrderInvalidInput
	}

	order, err := s.orders.FindByID(ctx, oid)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Order{}, ErrOrderNotFound
		}
		return domain.Order{}, errors.Join(ErrOrderUnavailable, err)
	}
	if !strings.EqualFold(strings.TrimSpace(order.UserID), uid) {
		return domain.Order{}, ErrOrderNotFound
	}
	return order, nil
}

// ListOrders pages through the user's order history, newest first.
func (s *orderService) ListOrders(ctx context.Context, userID string, page domain.Pagination) (domain.CursorPage[domain.Order], error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.CursorPage[domain.Order]{}, ErrOrderInvalidInput
	}

	result, err := s.orders.ListByUser(ctx, uid, normalisePager(page))
	if err != nil {
		return domain.CursorPage[domain.Order]{}, errors.Join(ErrOrderUnavailable, err)
	}
	return result, nil
}
