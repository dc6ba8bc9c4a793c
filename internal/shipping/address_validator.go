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
)

const defaultValidateTimeout = 10 * time.Second

// ErrValidationUnavailable indicates the address provider could not answer.
var ErrValidationUnavailable = errors.New("shipping: address validation unavailable")

// ValidatorConfig configures the HTTP address validator.
type ValidatorConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPAddressValidator checks deliverability against the address provider and
// reduces its verdict to a single flag.
type HTTPAddressValidator struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPAddressValidator constructs a validator against the configured provider.
func NewHTTPAddressValidator(cfg ValidatorConfig) (*HTTPAddressValidator, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("shipping: validator base url is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultValidateTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPAddressValidator{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  client,
	}, nil
}

type validateResponseBody struct {
	Valid bool `json:"valid"`
}

// Validate posts the normalized address and returns the provider's verdict.
func (v *HTTPAddressValidator) Validate(ctx context.Context, address domain.Address) (bool, error) {
	encoded, err := json.Marshal(toRateAddress(address))
	if err != nil {
		return false, fmt.Errorf("shipping: encode address: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/validate", bytes.NewReader(encoded))
	if err != nil {
		return false, fmt.Errorf("shipping: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return false, errors.Join(ErrValidationUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("%w: provider returned status %d", ErrValidationUnavailable, resp.StatusCode)
	}

	var decoded validateResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return false, errors.Join(ErrValidationUnavailable, err)
	}
	return decoded.Valid, nil
}
