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

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// SecretResolver turns a secret://project/name reference into its value.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// SecretError reports a reference that could not be resolved.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve secret %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secrets that resolved to nothing. Error only prints hashed
// names so the message can be logged.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return "missing required secrets [" + strings.Join(e.RedactedNames(), ", ") + "]"
}

// Names returns the missing field names, sorted.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.names...)
}

// RedactedNames returns the hashed names, sorted.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.names) == 0 {
		return nil
	}
	out := make([]string, len(e.names))
	for i, name := range e.names {
		out[i] = redactSecretName(name)
	}
	sort.Strings(out)
	return out
}

// resolveSecretFields replaces secret references in cfg and returns every secret field's final value.
func resolveSecretFields(ctx context.Context, cfg *Config, resolver SecretResolver) (map[string]string, error) {
	resolved := map[string]string{}
	for name, field := range cfg.secretFields() {
		value := strings.TrimSpace(*field)
		if ref, ok := secretReference(value); ok {
			if resolver == nil {
				return nil, &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
			}
			secret, err := resolver.ResolveSecret(ctx, ref)
			if err != nil {
				return nil, &SecretError{Ref: ref, Err: err}
			}
			*field = secret
			value = strings.TrimSpace(secret)
		}
		resolved[name] = value
	}
	return resolved, nil
}

// secretReference reports whether value is a secret:// reference, rewriting the older sm:// scheme.
func secretReference(value string) (string, bool) {
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest, true
	}
	return value, strings.HasPrefix(value, "secret://")
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := map[string]bool{}
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &MissingSecretsError{names: missing}
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
