// Package config assembles runtime configuration from defaults, an optional
// dotenv file, environment variables, and secret manager references.
// Precedence is dotenv < OS environment < explicit overrides.
package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultClientTimeout    = 10 * time.Second
	defaultSubmitTimeout    = 30 * time.Second
	defaultConfirmationTTL  = 30 * time.Minute
	defaultNotesTTL         = 24 * time.Hour
	defaultFlowTTL          = 2 * time.Hour
	defaultRatePerMinute    = 120
	defaultAuthRate         = 240
	defaultWebhookBurst     = 60
	defaultEnvironmentName  = "local"
	defaultClockSkew        = 5 * time.Minute
	defaultNonceTTL         = 5 * time.Minute
	defaultIdemHeader       = "Idempotency-Key"
	defaultIdemTTL          = 24 * time.Hour
	defaultCleanupInterval  = time.Hour
	defaultCleanupBatchSize = 200

	googleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
	googleIssuer  = "https://accounts.google.com"
	iapIssuer     = "https://cloud.google.com/iap"

	headerSignature = "X-Signature"
	headerTimestamp = "X-Signature-Timestamp"
	headerNonce     = "X-Signature-Nonce"
)

// Config is the full runtime configuration, grouped by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Redis       RedisConfig
	PSP         PSPConfig
	Shipping    ShippingConfig
	Tax         TaxConfig
	Orders      OrdersConfig
	Receipts    ReceiptsConfig
	Checkout    CheckoutConfig
	Webhooks    WebhookConfig
	RateLimits  RateLimitConfig
	Features    FeatureFlags
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig holds HTTP listener parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig identifies the Firebase project used for end-user auth.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig locates the document store.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// RedisConfig locates the checkout session store.
type RedisConfig struct {
	Addr            string
	Password        string
	DB              int
	KeyPrefix       string
	ConfirmationTTL time.Duration
	NotesTTL        time.Duration
}

// PSPConfig carries payment provider credentials.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	PayPalClientID      string
	PayPalSecret        string
}

// ShippingConfig points at the shipping rate and address validation service.
type ShippingConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// TaxConfig points at the tax quote service.
type TaxConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// OrdersConfig points at the upstream order management gateway.
type OrdersConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ReceiptsConfig names the Pub/Sub topic carrying confirmation emails.
type ReceiptsConfig struct {
	Topic string
}

// CheckoutConfig tunes storefront checkout behaviour.
type CheckoutConfig struct {
	DefaultCurrency     string
	PayPalOnlyCountries []string
	FlowTTL             time.Duration
}

// WebhookConfig holds inbound webhook security parameters.
type WebhookConfig struct {
	SigningSecret string
	AllowedHosts  []string
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute       int
	AuthenticatedPerMinute int
	WebhookBurst           int
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	EnableCoupons      bool
	EnableDealerOrders bool
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
	HMAC        HMACConfig
}

// OIDCConfig controls Google-signed token verification. Audiences maps an
// environment name to its audience when a single Audience is not set.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// HMACConfig captures webhook signing expectations per provider.
type HMACConfig struct {
	Secrets         map[string]string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
}

// IdempotencyConfig controls the idempotency middleware.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError reports required fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

func (c Config) validate() error {
	var bad []string
	require := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	require(c.Server.Port != "", "Server.Port")
	require(c.Firebase.ProjectID != "", "Firebase.ProjectID")
	require(c.Firestore.ProjectID != "", "Firestore.ProjectID")
	require(c.Checkout.DefaultCurrency != "", "Checkout.DefaultCurrency")
	require(strings.TrimSpace(c.Idempotency.Header) != "", "Idempotency.Header")
	require(c.Idempotency.TTL > 0, "Idempotency.TTL")
	require(c.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(c.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}
