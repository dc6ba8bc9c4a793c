package payments

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
)

var (
	// ErrPayPalNotConfigured indicates PayPal credentials are missing. Callers
	// surface this differently from a transient outage.
	ErrPayPalNotConfigured = errors.New("paypal: not configured")
	// ErrPayPalUnavailable indicates a transient PayPal failure worth retrying.
	ErrPayPalUnavailable = errors.New("paypal: temporarily unavailable")
)

// PayPalLogger defines the logging contract for PayPal operations.
type PayPalLogger func(ctx context.Context, event string, fields map[string]any)

// PayPalClientConfig configures the PayPal order-initiation client.
type PayPalClientConfig struct {
	BaseURL    string
	ClientID   string
	Secret     string
	ReturnURL  string
	CancelURL  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     PayPalLogger
}

// PayPalClient requests approval URLs for redirect-based payments.
type PayPalClient struct {
	baseURL   string
	clientID  string
	secret    string
	returnURL string
	cancelURL string
	http      *http.Client
	logger    PayPalLogger
}

// NewPayPalClient constructs the client. Missing credentials are tolerated
// here and reported per call, so a storefront without PayPal still boots.
func NewPayPalClient(cfg PayPalClientConfig) *PayPalClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PayPalClient{
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		clientID:  strings.TrimSpace(cfg.ClientID),
		secret:    strings.TrimSpace(cfg.Secret),
		returnURL: strings.TrimSpace(cfg.ReturnURL),
		cancelURL: strings.TrimSpace(cfg.CancelURL),
		http:      httpClient,
		logger:    logger,
	}
}

type paypalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id,omitempty"`
	Amount      paypalAmount `json:"amount"`
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalCreateOrderRequest struct {
	Intent             string               `json:"intent"`
	PurchaseUnits      []paypalPurchaseUnit `json:"purchase_units"`
	ApplicationContext map[string]string    `json:"application_context,omitempty"`
}

type paypalCreateOrderResponse struct {
	ID    string `json:"id"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

// CreateOrder initiates a PayPal order and returns the approval URL the
// storefront redirects to. The order is finalized by the return-from-PayPal
// webhook, not here.
func (c *PayPalClient) CreateOrder(ctx context.Context, payload domain.OrderPayload) (string, error) {
	if c == nil || c.baseURL == "" || c.clientID == "" || c.secret == "" {
		return "", ErrPayPalNotConfigured
	}

	body := paypalCreateOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: payload.PurchaseOrderID,
			Amount: paypalAmount{
				CurrencyCode: payload.Currency,
				Value:        domain.FormatCents(payload.GrandTotalCents),
			},
		}},
	}
	if c.returnURL != "" || c.cancelURL != "" {
		body.ApplicationContext = map[string]string{}
		if c.returnURL != "" {
			body.ApplicationContext["return_url"] = c.returnURL
		}
		if c.cancelURL != "" {
			body.ApplicationContext["cancel_url"] = c.cancelURL
		}
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("paypal: encode order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/checkout/orders", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("paypal: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.clientID, c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger(ctx, "paypal.create_order_unreachable", map[string]any{"error": err.Error()})
		return "", errors.Join(ErrPayPalUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Join(ErrPayPalUnavailable, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		c.logger(ctx, "paypal.create_order_unavailable", map[string]any{"status": resp.StatusCode})
		return "", fmt.Errorf("%w: status %d", ErrPayPalUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("paypal: order rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed paypalCreateOrderResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("paypal: decode response: %w", err)
	}
	for _, link := range parsed.Links {
		if strings.EqualFold(link.Rel, "approve") && link.Href != "" {
			return link.Href, nil
		}
	}
	return "", fmt.Errorf("paypal: no approval link in response for order %q", parsed.ID)
}
