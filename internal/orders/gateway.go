package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/services"
)

const (
	defaultSubmitTimeout = 30 * time.Second

	// Success bodies carry the full order document and may be large; error
	// bodies only feed the rejection message and stay short.
	maxResponseBodyBytes = 1 << 20
	maxErrorBodyBytes    = 2048
)

// GatewayConfig configures the HTTP order persistence client.
type GatewayConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// HTTPGateway submits assembled order payloads to the order persistence
// service. Every failure maps onto the submission error taxonomy so the
// submitter can distinguish retryable from rejected outcomes.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewHTTPGateway constructs a gateway against the configured base URL.
func NewHTTPGateway(cfg GatewayConfig) (*HTTPGateway, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("orders: gateway base url is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultSubmitTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  client,
		logger:  logger,
	}, nil
}

type orderAddressBody struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Address1  string `json:"address1"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
	Country   string `json:"country"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

type orderAddOnBody struct {
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

type orderLineBody struct {
	ProductID      string           `json:"product_id"`
	Name           string           `json:"name"`
	PartNumber     string           `json:"part_number,omitempty"`
	Quantity       int              `json:"quantity"`
	UnitPriceCents int64            `json:"unit_price_cents"`
	AddOns         []orderAddOnBody `json:"add_ons,omitempty"`
	ColorName      string           `json:"color_name,omitempty"`
	PlatformLabel  string           `json:"platform_label,omitempty"`
	YearRange      string           `json:"year_range,omitempty"`
}

type orderCardBody struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

type orderRequestBody struct {
	Billing         orderAddressBody `json:"billing"`
	Shipping        orderAddressBody `json:"shipping"`
	Lines           []orderLineBody  `json:"lines"`
	ShippingMethod  string           `json:"shipping_method,omitempty"`
	ShippingCents   int64            `json:"shipping_cents"`
	FreeShipping    bool             `json:"free_shipping,omitempty"`
	TaxCents        int64            `json:"tax_cents"`
	DiscountCents   int64            `json:"discount_cents"`
	CouponCode      string           `json:"coupon_code,omitempty"`
	CouponID        string           `json:"coupon_id,omitempty"`
	CustomerID      string           `json:"customer_id,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	PaymentMethod   string           `json:"payment_method"`
	Card            *orderCardBody   `json:"card,omitempty"`
	SubtotalCents   int64            `json:"subtotal_cents"`
	GrandTotalCents int64            `json:"grand_total_cents"`
	Currency        string           `json:"currency"`
	PurchaseOrderID string           `json:"purchase_order_id,omitempty"`
	PayPalOrderID   string           `json:"paypal_order_id,omitempty"`
}

type orderResponseBody struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

type orderErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Create posts the payload. Outcomes map to the submission taxonomy: transport
// failures become NetworkError, unparseable bodies MalformedResponseError, and
// well-formed non-2xx responses RejectionError with the most specific message
// the body offers.
func (g *HTTPGateway) Create(ctx context.Context, payload domain.OrderPayload) (services.OrderCreateResponse, error) {
	encoded, err := json.Marshal(toOrderRequestBody(payload))
	if err != nil {
		return services.OrderCreateResponse{}, fmt.Errorf("orders: encode payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/orders", bytes.NewReader(encoded))
	if err != nil {
		return services.OrderCreateResponse{}, fmt.Errorf("orders: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return services.OrderCreateResponse{}, &services.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return services.OrderCreateResponse{}, &services.NetworkError{Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		var decoded orderResponseBody
		if err := json.Unmarshal(raw, &decoded); err != nil || strings.TrimSpace(decoded.OrderID) == "" {
			g.logger(ctx, "orders.gateway_malformed_success", map[string]any{
				"status": resp.StatusCode,
			})
			return services.OrderCreateResponse{}, &services.MalformedResponseError{Status: resp.StatusCode}
		}
		return services.OrderCreateResponse{
			OrderID:     strings.TrimSpace(decoded.OrderID),
			OrderNumber: strings.TrimSpace(decoded.OrderNumber),
		}, nil
	}

	if len(raw) > maxErrorBodyBytes {
		raw = raw[:maxErrorBodyBytes]
	}
	return services.OrderCreateResponse{}, &services.RejectionError{
		Status:  resp.StatusCode,
		Message: extractRejectionMessage(raw),
	}
}

// extractRejectionMessage prefers the body's error field, then its message
// field, then a short raw body, then a generic fallback.
func extractRejectionMessage(raw []byte) string {
	var decoded orderErrorBody
	if err := json.Unmarshal(raw, &decoded); err == nil {
		if msg := strings.TrimSpace(decoded.Error); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(decoded.Message); msg != "" {
			return msg
		}
	}
	if body := strings.TrimSpace(string(raw)); body != "" && len(body) <= 200 {
		return body
	}
	return "order was rejected"
}

func toOrderRequestBody(payload domain.OrderPayload) orderRequestBody {
	body := orderRequestBody{
		Billing:         toOrderAddress(payload.Billing),
		Shipping:        toOrderAddress(payload.Shipping),
		ShippingMethod:  payload.ShippingMethod,
		ShippingCents:   payload.ShippingCents,
		FreeShipping:    payload.FreeShipping,
		TaxCents:        payload.TaxCents,
		DiscountCents:   payload.DiscountCents,
		CouponCode:      payload.CouponCode,
		CouponID:        payload.CouponID,
		CustomerID:      payload.CustomerID,
		Notes:           payload.Notes,
		PaymentMethod:   string(payload.PaymentMethod),
		SubtotalCents:   payload.SubtotalCents,
		GrandTotalCents: payload.GrandTotalCents,
		Currency:        payload.Currency,
		PurchaseOrderID: payload.PurchaseOrderID,
		PayPalOrderID:   payload.PayPalOrderID,
	}
	for _, line := range payload.Lines {
		lineBody := orderLineBody{
			ProductID:      line.ProductID,
			Name:           line.Name,
			PartNumber:     line.PartNumber,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			ColorName:      line.ColorName,
			PlatformLabel:  line.PlatformLabel,
			YearRange:      line.YearRange,
		}
		for _, addOn := range line.AddOns {
			lineBody.AddOns = append(lineBody.AddOns, orderAddOnBody{
				Kind:       string(addOn.Kind),
				Name:       addOn.Name,
				PriceCents: addOn.PriceCents,
			})
		}
		body.Lines = append(body.Lines, lineBody)
	}
	if payload.Card != nil {
		body.Card = &orderCardBody{
			Brand:    payload.Card.Brand,
			Last4:    payload.Card.Last4,
			ExpMonth: payload.Card.ExpMonth,
			ExpYear:  payload.Card.ExpYear,
		}
	}
	return body
}

func toOrderAddress(addr domain.Address) orderAddressBody {
	n := addr.Normalize()
	return orderAddressBody{
		FirstName: n.FirstName,
		LastName:  n.LastName,
		Address1:  n.Address1,
		Address2:  n.Address2,
		City:      n.City,
		State:     n.State,
		Zip:       n.Zip,
		Country:   n.Country,
		Phone:     n.Phone,
		Email:     n.Email,
	}
}

var _ services.OrderGateway = (*HTTPGateway)(nil)
