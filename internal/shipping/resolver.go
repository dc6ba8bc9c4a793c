package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/services"
)

const defaultRateTimeout = 10 * time.Second

// ErrRatesUnavailable indicates the rate provider could not produce options.
var ErrRatesUnavailable = errors.New("shipping: rates unavailable")

// ResolverConfig configures the HTTP rate resolver.
type ResolverConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// HTTPRateResolver fetches carrier rates from the shipping provider.
type HTTPRateResolver struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewHTTPRateResolver constructs a resolver against the configured provider.
func NewHTTPRateResolver(cfg ResolverConfig) (*HTTPRateResolver, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("shipping: base url is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultRateTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &HTTPRateResolver{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  client,
		logger:  logger,
	}, nil
}

type rateAddress struct {
	Name    string `json:"name,omitempty"`
	Street1 string `json:"street1"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
	Phone   string `json:"phone,omitempty"`
}

type ratePackage struct {
	WeightLbs float64 `json:"weight_lbs"`
	Length    float64 `json:"length"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
}

type rateRequestBody struct {
	From       rateAddress   `json:"from"`
	To         rateAddress   `json:"to"`
	Packages   []ratePackage `json:"packages"`
	ProductIDs []string      `json:"product_ids,omitempty"`
}

type rateOptionBody struct {
	Code         string  `json:"code"`
	Service      string  `json:"service"`
	Description  string  `json:"description"`
	AmountDollar float64 `json:"amount"`
	DeliveryDays *int    `json:"delivery_days"`
}

type rateResponseBody struct {
	Rates []rateOptionBody `json:"rates"`
}

// GetRates posts the shipment to the provider and maps its options. Package
// dimensions are floored to 1 before leaving the process because carriers
// reject zero dimensions.
func (r *HTTPRateResolver) GetRates(ctx context.Context, req services.RateRequest) ([]domain.RateOption, error) {
	body := rateRequestBody{
		From:       toRateAddress(req.From),
		To:         toRateAddress(req.To),
		ProductIDs: req.ProductIDs,
	}
	for _, pkg := range req.Packages {
		floored := pkg.Floored()
		body.Packages = append(body.Packages, ratePackage{
			WeightLbs: floored.WeightLbs,
			Length:    floored.Length,
			Width:     floored.Width,
			Height:    floored.Height,
		})
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("shipping: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rates", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("shipping: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, errors.Join(ErrRatesUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.logger(ctx, "shipping.rate_request_failed", map[string]any{
			"status": resp.StatusCode,
		})
		return nil, fmt.Errorf("%w: provider returned status %d", ErrRatesUnavailable, resp.StatusCode)
	}

	var decoded rateResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.Join(ErrRatesUnavailable, err)
	}

	options := make([]domain.RateOption, 0, len(decoded.Rates))
	for _, rate := range decoded.Rates {
		cost := domain.ParseCents(rate.AmountDollar)
		options = append(options, domain.RateOption{
			Code:         strings.TrimSpace(rate.Code),
			Service:      strings.TrimSpace(rate.Service),
			Description:  strings.TrimSpace(rate.Description),
			CostCents:    cost,
			DeliveryDays: rate.DeliveryDays,
		})
	}
	return options, nil
}

func toRateAddress(addr domain.Address) rateAddress {
	n := addr.Normalize()
	return rateAddress{
		Name:    strings.TrimSpace(n.FirstName + " " + n.LastName),
		Street1: n.Address1,
		Street2: n.Address2,
		City:    n.City,
		State:   n.State,
		Zip:     n.Zip,
		Country: n.Country,
		Phone:   n.Phone,
	}
}
