package secrets

import (
	"context"
	"fmt"
	"strings"
)

const secretRefPrefix = "$SECRET:"

// Resolver resolves $SECRET:name references embedded in RequestGet
// header values (SPEC_FULL.md SUPPLEMENTED FEATURE 5) to the plaintext
// values held in Store.
type Resolver struct {
	store *Store
}

// NewResolver creates a new secret resolver
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// ResolveHeaders resolves every $SECRET: reference in a RequestGet
// header map and returns a new map with plaintext values, leaving
// ordinary header values untouched. Invoked once per outbound request
// from requestGetCommand.Execute, so a single bad reference fails the
// whole call rather than sending a partially-resolved header set.
func (r *Resolver) ResolveHeaders(ctx context.Context, headers map[string]string) (map[string]string, error) {
	if len(headers) == 0 {
		return headers, nil
	}

	resolved := make(map[string]string, len(headers))
	for name, value := range headers {
		resolvedValue, err := r.ResolveValue(ctx, value)
		if err != nil {
			return nil, fmt.Errorf("resolve header %s: %w", name, err)
		}
		resolved[name] = resolvedValue
	}

	return resolved, nil
}

// ResolveValue resolves a single value that may contain $SECRET:name reference
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	if !strings.HasPrefix(value, secretRefPrefix) {
		return value, nil
	}

	secretName := strings.TrimPrefix(value, secretRefPrefix)
	if secretName == "" {
		return "", fmt.Errorf("empty secret name in reference")
	}

	secretValue, err := r.store.Get(ctx, secretName)
	if err != nil {
		return "", fmt.Errorf("get secret '%s': %w", secretName, err)
	}

	return string(secretValue), nil
}
