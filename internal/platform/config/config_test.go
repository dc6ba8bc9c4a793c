package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func load(t *testing.T, env map[string]string, extra ...Option) Config {
	t.Helper()
	opts := append([]Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}, extra...)
	cfg, err := Load(context.Background(), opts...)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func mapResolver(secrets map[string]string) SecretResolver {
	return SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if value, ok := secrets[ref]; ok {
			return value, nil
		}
		return "", errors.New("unknown secret")
	})
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg := load(t, map[string]string{"API_FIREBASE_PROJECT_ID": "ax-dev"})

	if cfg.Server.Port != defaultPort {
		t.Errorf("Server.Port = %q", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != defaultReadTimeout {
		t.Errorf("Server.ReadTimeout = %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "ax-dev" {
		t.Errorf("Firestore.ProjectID = %q, want the firebase project", cfg.Firestore.ProjectID)
	}
	if cfg.Checkout.DefaultCurrency != "USD" {
		t.Errorf("Checkout.DefaultCurrency = %q", cfg.Checkout.DefaultCurrency)
	}
	if cfg.Checkout.FlowTTL != defaultFlowTTL {
		t.Errorf("Checkout.FlowTTL = %s", cfg.Checkout.FlowTTL)
	}
	if cfg.Redis.KeyPrefix != "checkout" {
		t.Errorf("Redis.KeyPrefix = %q", cfg.Redis.KeyPrefix)
	}
	if cfg.Redis.ConfirmationTTL != defaultConfirmationTTL {
		t.Errorf("Redis.ConfirmationTTL = %s", cfg.Redis.ConfirmationTTL)
	}
	if cfg.Shipping.Timeout != defaultClientTimeout {
		t.Errorf("Shipping.Timeout = %s", cfg.Shipping.Timeout)
	}
	if cfg.Orders.Timeout != defaultSubmitTimeout {
		t.Errorf("Orders.Timeout = %s", cfg.Orders.Timeout)
	}
	if cfg.RateLimits.DefaultPerMinute != defaultRatePerMinute {
		t.Errorf("RateLimits.DefaultPerMinute = %d", cfg.RateLimits.DefaultPerMinute)
	}
	if len(cfg.Webhooks.AllowedHosts) != 0 {
		t.Errorf("Webhooks.AllowedHosts = %v", cfg.Webhooks.AllowedHosts)
	}
	if cfg.Security.Environment != defaultEnvironmentName {
		t.Errorf("Security.Environment = %q", cfg.Security.Environment)
	}
	if cfg.Security.OIDC.JWKSURL != googleJWKSURL {
		t.Errorf("Security.OIDC.JWKSURL = %q", cfg.Security.OIDC.JWKSURL)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("Security.OIDC.Issuers = %v, want google and iap", cfg.Security.OIDC.Issuers)
	}
	if cfg.Security.HMAC.SignatureHeader != headerSignature {
		t.Errorf("Security.HMAC.SignatureHeader = %q", cfg.Security.HMAC.SignatureHeader)
	}
	if cfg.Idempotency.Header != defaultIdemHeader {
		t.Errorf("Idempotency.Header = %q", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdemTTL {
		t.Errorf("Idempotency.TTL = %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupInterval != defaultCleanupInterval {
		t.Errorf("Idempotency.CleanupInterval = %s", cfg.Idempotency.CleanupInterval)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultCleanupBatchSize {
		t.Errorf("Idempotency.CleanupBatchSize = %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadOverridesAndResolvesSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                    "9090",
		"API_SERVER_IDLE_TIMEOUT":            "2m",
		"API_FIREBASE_PROJECT_ID":            "ax-prod",
		"API_FIRESTORE_PROJECT_ID":           "ax-fire",
		"API_REDIS_ADDR":                     "redis.internal:6379",
		"API_REDIS_KEY_PREFIX":               "storefront",
		"API_REDIS_CONFIRMATION_TTL":         "15m",
		"API_PSP_STRIPE_API_KEY":             "secret://stripe/api",
		"API_PSP_PAYPAL_CLIENT_ID":           "paypal-client",
		"API_PSP_PAYPAL_SECRET":              "secret://paypal/secret",
		"API_SHIPPING_BASE_URL":              "https://rates.example.com",
		"API_SHIPPING_API_KEY":               "secret://shipping/key",
		"API_TAX_API_KEY":                    "tax-plain-key",
		"API_ORDERS_API_KEY":                 "secret://orders/key",
		"API_ORDERS_TIMEOUT":                 "45s",
		"API_RECEIPTS_TOPIC":                 "order-receipts",
		"API_CHECKOUT_DEFAULT_CURRENCY":      "usd",
		"API_CHECKOUT_PAYPAL_ONLY_COUNTRIES": "RU, UA",
		"API_WEBHOOK_ALLOWED_HOSTS":          "https://example.com, https://foo.bar",
		"API_FEATURE_COUPONS":                "false",
		"API_FEATURE_DEALER_ORDERS":          "true",
		"API_SECURITY_ENVIRONMENT":           "prod",
		"API_SECURITY_OIDC_AUDIENCE":         "https://service.example.com",
		"API_SECURITY_HMAC_SECRETS":          "payments/stripe=secret://hmac/stripe,shipping=shipping-plain",
		"API_SECURITY_HMAC_HEADER_SIGNATURE": "X-Custom-Signature",
		"API_SECURITY_HMAC_CLOCK_SKEW":       "3m",
		"API_IDEMPOTENCY_HEADER":             "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":                "48h",
		"API_IDEMPOTENCY_CLEANUP_BATCH":      "500",
	}
	resolver := mapResolver(map[string]string{
		"secret://stripe/api":    "stripe-key",
		"secret://paypal/secret": "paypal-secret",
		"secret://shipping/key":  "shipping-key",
		"secret://orders/key":    "orders-key",
		"secret://hmac/stripe":   "stripe-hmac",
	})

	cfg := load(t, env, WithSecretResolver(resolver))

	if cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Redis.Addr != "redis.internal:6379" || cfg.Redis.KeyPrefix != "storefront" {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.Redis.ConfirmationTTL != 15*time.Minute {
		t.Errorf("Redis.ConfirmationTTL = %s", cfg.Redis.ConfirmationTTL)
	}
	if cfg.PSP.StripeAPIKey != "stripe-key" || cfg.PSP.PayPalSecret != "paypal-secret" {
		t.Errorf("psp secrets not resolved: %+v", cfg.PSP)
	}
	if cfg.Shipping.APIKey != "shipping-key" {
		t.Errorf("Shipping.APIKey = %q", cfg.Shipping.APIKey)
	}
	if cfg.Tax.APIKey != "tax-plain-key" {
		t.Errorf("plain value must pass through, got %q", cfg.Tax.APIKey)
	}
	if cfg.Orders.APIKey != "orders-key" || cfg.Orders.Timeout != 45*time.Second {
		t.Errorf("orders = %+v", cfg.Orders)
	}
	if cfg.Receipts.Topic != "order-receipts" {
		t.Errorf("Receipts.Topic = %q", cfg.Receipts.Topic)
	}
	if cfg.Checkout.DefaultCurrency != "USD" {
		t.Errorf("currency not uppercased: %q", cfg.Checkout.DefaultCurrency)
	}
	if len(cfg.Checkout.PayPalOnlyCountries) != 2 || len(cfg.Webhooks.AllowedHosts) != 2 {
		t.Errorf("list parsing: countries=%v hosts=%v", cfg.Checkout.PayPalOnlyCountries, cfg.Webhooks.AllowedHosts)
	}
	if cfg.Features.EnableCoupons || !cfg.Features.EnableDealerOrders {
		t.Errorf("features = %+v", cfg.Features)
	}
	if cfg.Security.OIDC.Audience != "https://service.example.com" {
		t.Errorf("Security.OIDC.Audience = %q", cfg.Security.OIDC.Audience)
	}
	if cfg.Security.HMAC.Secrets["payments/stripe"] != "stripe-hmac" {
		t.Errorf("hmac secret not resolved: %v", cfg.Security.HMAC.Secrets)
	}
	if cfg.Security.HMAC.Secrets["shipping"] != "shipping-plain" {
		t.Errorf("plain hmac secret must pass through: %v", cfg.Security.HMAC.Secrets)
	}
	if cfg.Security.HMAC.SignatureHeader != "X-Custom-Signature" || cfg.Security.HMAC.ClockSkew != 3*time.Minute {
		t.Errorf("hmac = %+v", cfg.Security.HMAC)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.TTL != 48*time.Hour || cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("idempotency = %+v", cfg.Idempotency)
	}
}

func TestLoadPicksAudienceForEnvironment(t *testing.T) {
	cfg := load(t, map[string]string{
		"API_FIREBASE_PROJECT_ID":     "ax-dev",
		"API_SECURITY_ENVIRONMENT":    "staging",
		"API_SECURITY_OIDC_AUDIENCES": "staging=https://stg.example.com,prod=https://prod.example.com",
	})
	if cfg.Security.OIDC.Audience != "https://stg.example.com" {
		t.Fatalf("Audience = %q, want the staging entry", cfg.Security.OIDC.Audience)
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env.test")
	contents := "# local overrides\nexport API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=\"ax-dot\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("Server.Port = %q, want dotenv value", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "ax-dot" {
		t.Errorf("Firebase.ProjectID = %q, want unquoted dotenv value", cfg.Firebase.ProjectID)
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(nil), WithoutSystemEnv(), WithEnvFile(""))
	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestLoadSurfacesResolverFailure(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(map[string]string{
			"API_FIREBASE_PROJECT_ID": "ax-dev",
			"API_PSP_STRIPE_API_KEY":  "secret://missing",
		}),
		WithoutSystemEnv(), WithEnvFile(""),
	)
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("err = %v, want SecretError", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("Ref = %q", secretErr.Ref)
	}
}

func TestLoadRewritesLegacySecretScheme(t *testing.T) {
	resolver := mapResolver(map[string]string{"secret://webhook/secret": "legacy-secret"})
	cfg := load(t, map[string]string{
		"API_FIREBASE_PROJECT_ID":    "ax-dev",
		"API_WEBHOOK_SIGNING_SECRET": "sm://webhook/secret",
	}, WithSecretResolver(resolver))

	if cfg.Webhooks.SigningSecret != "legacy-secret" {
		t.Fatalf("SigningSecret = %q", cfg.Webhooks.SigningSecret)
	}
}

func TestLoadRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(map[string]string{"API_FIREBASE_PROJECT_ID": "ax-dev"}),
		WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("Webhooks.SigningSecret", "Webhooks.SigningSecret", " "),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingSecretsError", err)
	}
	if names := missing.Names(); len(names) != 1 || names[0] != "Webhooks.SigningSecret" {
		t.Fatalf("Names = %v", names)
	}
	if redacted := missing.RedactedNames(); len(redacted) != 1 || redacted[0] != redactSecretName("Webhooks.SigningSecret") {
		t.Fatalf("RedactedNames = %v", redacted)
	}
}

func TestEnvironmentValuesPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env.test")
	contents := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(path), WithEnvMap(map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS": "secret://stripe/api=5",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}

	want := map[string]string{
		"API_FIREBASE_PROJECT_ID":  "override-project",
		"API_SECRET_FALLBACK_FILE": ".dot.local",
		"API_SECRET_PROJECT_IDS":   "prod=project-prod",
		"API_SECRET_VERSION_PINS":  "secret://stripe/api=5",
	}
	for key, expected := range want {
		if got := values[key]; got != expected {
			t.Errorf("%s = %q, want %q", key, got, expected)
		}
	}
}
