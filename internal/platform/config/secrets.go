package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// SecretResolver resolves secret:// references to their values.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// SecretError describes a failure while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates required secrets that did not resolve to a
// value. Error output carries redacted identifiers only.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns sorted redacted identifiers of the missing secrets.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the sorted plain identifiers of the missing secrets.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

// canonicalRef reports whether value is a secret reference and returns it
// with the legacy sm:// scheme rewritten to secret://.
func canonicalRef(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest, true
	}
	if strings.HasPrefix(trimmed, "secret://") {
		return trimmed, true
	}
	return value, false
}

// resolveConfigSecrets walks the secret-bearing fields of cfg, resolving
// references in place. It returns every resolved field keyed by its path so
// required-secret checks can run against the outcome.
func resolveConfigSecrets(ctx context.Context, cfg *Config, resolver SecretResolver) (map[string]string, error) {
	resolved := make(map[string]string)

	lookup := func(value string) (string, error) {
		ref, isRef := canonicalRef(value)
		if value == "" || !isRef {
			return value, nil
		}
		if resolver == nil {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}
		secret, err := resolver.ResolveSecret(ctx, ref)
		if err != nil {
			return "", &SecretError{Ref: ref, Err: err}
		}
		return secret, nil
	}

	for name, value := range cfg.Security.HMAC.Secrets {
		secret, err := lookup(value)
		if err != nil {
			return nil, err
		}
		cfg.Security.HMAC.Secrets[name] = secret
		resolved[fmt.Sprintf("Security.HMAC.Secrets[%s]", name)] = strings.TrimSpace(secret)
	}

	fields := []struct {
		path   string
		target *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"PSP.PayPalSecret", &cfg.PSP.PayPalSecret},
		{"Shipping.APIKey", &cfg.Shipping.APIKey},
		{"Tax.APIKey", &cfg.Tax.APIKey},
		{"Orders.APIKey", &cfg.Orders.APIKey},
		{"Webhooks.SigningSecret", &cfg.Webhooks.SigningSecret},
	}
	for _, field := range fields {
		secret, err := lookup(*field.target)
		if err != nil {
			return nil, err
		}
		*field.target = secret
		resolved[field.path] = strings.TrimSpace(secret)
	}

	return resolved, nil
}

// requireSecrets verifies that every required secret resolved to a non-empty
// value.
func requireSecrets(required []string, resolved map[string]string) error {
	if len(required) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var missing []missingSecret
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] != "" {
			continue
		}
		missing = append(missing, missingSecret{name: name, redacted: redactSecretName(name)})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

// redactSecretName hashes an identifier so logs never carry secret names.
func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
