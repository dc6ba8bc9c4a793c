package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultEnvFile = ".env"

// Option customises Load and EnvironmentValues behaviour.
type Option func(*settings)

type settings struct {
	envFile   string
	overrides map[string]string
	systemEnv bool
	resolver  SecretResolver
	required  []string
}

func newSettings(opts []Option) settings {
	st := settings{
		envFile:   defaultEnvFile,
		systemEnv: true,
	}
	for _, opt := range opts {
		opt(&st)
	}
	return st
}

// WithEnvFile overrides the dotenv file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(st *settings) { st.envFile = path }
}

// WithEnvMap injects an explicit key/value map that takes precedence over
// system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(st *settings) { st.overrides = values }
}

// WithoutSystemEnv disables os.LookupEnv, relying only on the dotenv file and
// explicit maps.
func WithoutSystemEnv() Option {
	return func(st *settings) { st.systemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(st *settings) { st.resolver = resolver }
}

// WithRequiredSecrets marks config fields as mandatory secrets. Names match
// the field paths recorded while resolving, e.g. "PSP.StripeAPIKey" or
// "Security.HMAC.Secrets[payments]".
func WithRequiredSecrets(names ...string) Option {
	return func(st *settings) { st.required = append(st.required, names...) }
}

// envSource answers key lookups with the loader's precedence rules applied.
type envSource struct {
	overrides map[string]string
	dotenv    map[string]string
	system    bool
}

func (s envSource) get(key string) (string, bool) {
	if value, ok := s.overrides[key]; ok {
		return value, true
	}
	if s.system {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := s.dotenv[key]
	return value, ok
}

func (s envSource) str(key, fallback string) string {
	if value, ok := s.get(key); ok && value != "" {
		return value
	}
	return fallback
}

func (s envSource) dur(key string, fallback time.Duration) time.Duration {
	if value, ok := s.get(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (s envSource) num(key string, fallback int) int {
	if value, ok := s.get(key); ok && value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func (s envSource) flag(key string, fallback bool) bool {
	value, ok := s.get(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

// list splits a comma-separated value, dropping empty entries.
func (s envSource) list(key string) []string {
	raw, _ := s.get(key)
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// pairs parses "name=value,name=value" into a map with lowercased names.
func (s envSource) pairs(key string) map[string]string {
	out := make(map[string]string)
	raw, _ := s.get(key)
	for _, entry := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}

// EnvironmentValues returns the merged key/value environment visible to Load,
// so callers can bootstrap dependencies (such as the secret fetcher) from the
// same inputs before loading the full config.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	st := newSettings(opts)

	dotenv, err := parseDotEnv(st.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	for key, value := range dotenv {
		values[key] = value
	}
	if st.systemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range st.overrides {
		values[key] = value
	}
	return values, nil
}

// Load builds the application configuration. Required fields are validated
// and secret:// references are resolved through the configured resolver.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	st := newSettings(opts)

	dotenv, err := parseDotEnv(st.envFile)
	if err != nil {
		return Config{}, err
	}
	env := envSource{overrides: st.overrides, dotenv: dotenv, system: st.systemEnv}

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.dur("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.dur("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.dur("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Redis: RedisConfig{
			Addr:            env.str("API_REDIS_ADDR", ""),
			Password:        env.str("API_REDIS_PASSWORD", ""),
			DB:              env.num("API_REDIS_DB", 0),
			KeyPrefix:       env.str("API_REDIS_KEY_PREFIX", "checkout"),
			ConfirmationTTL: env.dur("API_REDIS_CONFIRMATION_TTL", defaultConfirmationTTL),
			NotesTTL:        env.dur("API_REDIS_NOTES_TTL", defaultNotesTTL),
		},
		PSP: PSPConfig{
			StripeAPIKey:        env.str("API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: env.str("API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			PayPalClientID:      env.str("API_PSP_PAYPAL_CLIENT_ID", ""),
			PayPalSecret:        env.str("API_PSP_PAYPAL_SECRET", ""),
		},
		Shipping: ShippingConfig{
			BaseURL: env.str("API_SHIPPING_BASE_URL", ""),
			APIKey:  env.str("API_SHIPPING_API_KEY", ""),
			Timeout: env.dur("API_SHIPPING_TIMEOUT", defaultClientTimeout),
		},
		Tax: TaxConfig{
			BaseURL: env.str("API_TAX_BASE_URL", ""),
			APIKey:  env.str("API_TAX_API_KEY", ""),
			Timeout: env.dur("API_TAX_TIMEOUT", defaultClientTimeout),
		},
		Orders: OrdersConfig{
			BaseURL: env.str("API_ORDERS_BASE_URL", ""),
			APIKey:  env.str("API_ORDERS_API_KEY", ""),
			Timeout: env.dur("API_ORDERS_TIMEOUT", defaultSubmitTimeout),
		},
		Receipts: ReceiptsConfig{
			Topic: env.str("API_RECEIPTS_TOPIC", ""),
		},
		Checkout: CheckoutConfig{
			DefaultCurrency:     strings.ToUpper(env.str("API_CHECKOUT_DEFAULT_CURRENCY", "USD")),
			PayPalOnlyCountries: env.list("API_CHECKOUT_PAYPAL_ONLY_COUNTRIES"),
			FlowTTL:             env.dur("API_CHECKOUT_FLOW_TTL", defaultFlowTTL),
		},
		Webhooks: WebhookConfig{
			SigningSecret: env.str("API_WEBHOOK_SIGNING_SECRET", ""),
			AllowedHosts:  env.list("API_WEBHOOK_ALLOWED_HOSTS"),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:       env.num("API_RATELIMIT_DEFAULT_PER_MIN", defaultRatePerMinute),
			AuthenticatedPerMinute: env.num("API_RATELIMIT_AUTH_PER_MIN", defaultAuthRate),
			WebhookBurst:           env.num("API_RATELIMIT_WEBHOOK_BURST", defaultWebhookBurst),
		},
		Features: FeatureFlags{
			EnableCoupons:      env.flag("API_FEATURE_COUPONS", true),
			EnableDealerOrders: env.flag("API_FEATURE_DEALER_ORDERS", true),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.str("API_SECURITY_ENVIRONMENT", defaultEnvironmentName)),
			OIDC: OIDCConfig{
				JWKSURL:   env.str("API_SECURITY_OIDC_JWKS_URL", googleJWKSURL),
				Audience:  env.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: env.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   env.list("API_SECURITY_OIDC_ISSUERS"),
			},
			HMAC: HMACConfig{
				Secrets:         env.pairs("API_SECURITY_HMAC_SECRETS"),
				SignatureHeader: env.str("API_SECURITY_HMAC_HEADER_SIGNATURE", headerSignature),
				TimestampHeader: env.str("API_SECURITY_HMAC_HEADER_TIMESTAMP", headerTimestamp),
				NonceHeader:     env.str("API_SECURITY_HMAC_HEADER_NONCE", headerNonce),
				ClockSkew:       env.dur("API_SECURITY_HMAC_CLOCK_SKEW", defaultClockSkew),
				NonceTTL:        env.dur("API_SECURITY_HMAC_NONCE_TTL", defaultNonceTTL),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdemHeader),
			TTL:              env.dur("API_IDEMPOTENCY_TTL", defaultIdemTTL),
			CleanupInterval:  env.dur("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultCleanupInterval),
			CleanupBatchSize: env.num("API_IDEMPOTENCY_CLEANUP_BATCH", defaultCleanupBatchSize),
		},
	}

	// Firestore project defaults to the Firebase project when unset.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{googleIssuer, iapIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}

	resolved, err := resolveConfigSecrets(ctx, &cfg, st.resolver)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if err := requireSecrets(st.required, resolved); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// parseDotEnv reads KEY=VALUE lines from path. A missing file is not an
// error. Lines may carry an "export " prefix; surrounding quotes are
// stripped from values.
func parseDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "export "); ok {
			line = strings.TrimSpace(rest)
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
