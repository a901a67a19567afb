// Package credentials supplies bearer tokens to outbound API calls. A
// Provider is consulted on every request and never cached, so a token change
// takes effect on the next call.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// StorageKey is the key the auth token is stored under.
const StorageKey = "authToken"

// Provider returns the current bearer token. An empty token means the
// request goes out unauthenticated.
type Provider func(ctx context.Context) (string, error)

// Static always returns token.
func Static(token string) Provider {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// None never supplies a token.
func None() Provider {
	return Static("")
}

// FileStore reads the token from a JSON object file at path under
// StorageKey. The file is read on every call; a missing file yields no token.
func FileStore(path string) Provider {
	return func(context.Context) (string, error) {
		values, err := readStore(path)
		if err != nil {
			return "", err
		}
		token, _ := values[StorageKey].(string)
		return strings.TrimSpace(token), nil
	}
}

// SaveToken writes token into the store at path, keeping any other keys.
// An empty token removes the entry.
func SaveToken(path, token string) error {
	values, err := readStore(path)
	if err != nil {
		return err
	}
	if token == "" {
		delete(values, StorageKey)
	} else {
		values[StorageKey] = token
	}
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token store dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing token store %s: %w", path, err)
	}
	return nil
}

func readStore(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token store %s: %w", path, err)
	}
	values := map[string]any{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parsing token store %s: %w", path, err)
	}
	// A file holding JSON null decodes to a nil map.
	if values == nil {
		values = map[string]any{}
	}
	return values, nil
}

type contextKey struct{}

// WithToken returns a context carrying token for FromContext.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, contextKey{}, token)
}

// FromContext supplies the token stored by WithToken, typically the caller's
// own bearer token captured by HTTP middleware.
func FromContext() Provider {
	return func(ctx context.Context) (string, error) {
		token, _ := ctx.Value(contextKey{}).(string)
		return token, nil
	}
}

// Chain returns the first non-empty token from providers. Errors stop the
// chain.
func Chain(providers ...Provider) Provider {
	return func(ctx context.Context) (string, error) {
		for _, p := range providers {
			if p == nil {
				continue
			}
			token, err := p(ctx)
			if err != nil {
				return "", err
			}
			if token != "" {
				return token, nil
			}
		}
		return "", nil
	}
}
