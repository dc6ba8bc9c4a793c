package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/services"
)

// PubSubReceiptDispatcher hands confirmation emails to the mailer worker via
// a Pub/Sub topic. Delivery is best-effort; callers log and continue.
type PubSubReceiptDispatcher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	newID   func() string
}

// NewPubSubReceiptDispatcher constructs a Pub/Sub backed receipt dispatcher.
func NewPubSubReceiptDispatcher(topic *pubsub.Topic) (*PubSubReceiptDispatcher, error) {
	if topic == nil {
		return nil, errors.New("receipt dispatcher: topic is required")
	}
	return &PubSubReceiptDispatcher{
		topic:   topic,
		marshal: json.Marshal,
		newID:   func() string { return uuid.NewString() },
	}, nil
}

type receiptMessage struct {
	MessageID       string    `json:"message_id"`
	Email           string    `json:"email"`
	OrderID         string    `json:"order_id"`
	SubtotalCents   int64     `json:"subtotal_cents"`
	ShippingCents   int64     `json:"shipping_cents"`
	TaxCents        int64     `json:"tax_cents"`
	DiscountCents   int64     `json:"discount_cents"`
	GrandTotalCents int64     `json:"grand_total_cents"`
	GrandTotal      string    `json:"grand_total"`
	Currency        string    `json:"currency"`
	ShippingMethod  string    `json:"shipping_method,omitempty"`
	LineCount       int       `json:"line_count"`
	PlacedAt        time.Time `json:"placed_at"`
}

// Send publishes one receipt message for the confirmed order.
func (d *PubSubReceiptDispatcher) Send(ctx context.Context, email string, orderID string, confirmation domain.OrderConfirmation) error {
	if d == nil || d.topic == nil {
		return errors.New("receipt dispatcher: not initialised")
	}
	to := strings.TrimSpace(email)
	if to == "" {
		return errors.New("receipt dispatcher: email is required")
	}

	msg := receiptMessage{
		MessageID:       d.newID(),
		Email:           to,
		OrderID:         strings.TrimSpace(orderID),
		SubtotalCents:   confirmation.SubtotalCents,
		ShippingCents:   confirmation.ShippingCents,
		TaxCents:        confirmation.TaxCents,
		DiscountCents:   confirmation.DiscountCents,
		GrandTotalCents: confirmation.GrandTotalCents,
		GrandTotal:      formatAmount(confirmation.GrandTotalCents, confirmation.Currency),
		Currency:        confirmation.Currency,
		ShippingMethod:  confirmation.ShippingMethod,
		LineCount:       len(confirmation.Lines),
		PlacedAt:        confirmation.PlacedAt,
	}

	data, err := d.marshal(msg)
	if err != nil {
		return fmt.Errorf("receipt dispatcher: marshal message: %w", err)
	}

	attrs := map[string]string{"messageId": msg.MessageID}
	if msg.OrderID != "" {
		attrs["orderId"] = msg.OrderID
	}

	result := d.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("receipt dispatcher: publish: %w", err)
	}
	return nil
}

// formatAmount renders a cent total as a localized currency string, e.g.
// "$1,234.56". Unknown currency codes fall back to a bare decimal.
func formatAmount(cents int64, code string) string {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return domain.FormatCents(cents)
	}
	printer := message.NewPrinter(language.AmericanEnglish)
	return printer.Sprintf("%v", currency.Symbol(unit.Amount(float64(cents)/100)))
}

var _ services.ReceiptDispatcher = (*PubSubReceiptDispatcher)(nil)
