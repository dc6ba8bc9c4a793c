package tax

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/axleworks/api/internal/services"
)

const defaultTaxTimeout = 10 * time.Second

// ErrTaxUnavailable indicates the tax provider could not answer.
var ErrTaxUnavailable = errors.New("tax: provider unavailable")

// ResolverConfig configures the HTTP tax resolver.
type ResolverConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPTaxResolver quotes sales tax from the tax provider. All jurisdiction
// rules live provider-side; the resolver only ships amounts and destination.
type HTTPTaxResolver struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPTaxResolver constructs a resolver against the configured provider.
func NewHTTPTaxResolver(cfg ResolverConfig) (*HTTPTaxResolver, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("tax: base url is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTaxTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPTaxResolver{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  client,
	}, nil
}

type taxLineBody struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Amount    int64  `json:"amount_cents"`
}

type taxRequestBody struct {
	SubtotalCents int64         `json:"subtotal_cents"`
	DiscountCents int64         `json:"discount_cents"`
	ShippingCents int64         `json:"shipping_cents"`
	State         string        `json:"state"`
	Lines         []taxLineBody `json:"lines"`
}

type taxResponseBody struct {
	TaxCents int64 `json:"tax_cents"`
}

// GetTax posts the taxable amounts and returns the provider's quote in cents.
func (r *HTTPTaxResolver) GetTax(ctx context.Context, q services.TaxQuery) (int64, error) {
	body := taxRequestBody{
		SubtotalCents: q.SubtotalCents,
		DiscountCents: q.DiscountCents,
		ShippingCents: q.ShippingCents,
		State:         strings.ToUpper(strings.TrimSpace(q.DestinationState)),
	}
	for _, line := range q.Lines {
		body.Lines = append(body.Lines, taxLineBody{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Amount:    line.LineTotalCents(),
		})
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("tax: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/quote", bytes.NewReader(encoded))
	if err != nil {
		return 0, fmt.Errorf("tax: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return 0, errors.Join(ErrTaxUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: provider returned status %d", ErrTaxUnavailable, resp.StatusCode)
	}

	var decoded taxResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, errors.Join(ErrTaxUnavailable, err)
	}
	if decoded.TaxCents < 0 {
		return 0, nil
	}
	return decoded.TaxCents, nil
}

var _ services.TaxResolver = (*HTTPTaxResolver)(nil)
