package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreReadsFreshEachCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	p := FileStore(path)
	ctx := context.Background()

	token, err := p(ctx)
	if err != nil || token != "" {
		t.Fatalf("missing file: token=%q err=%v", token, err)
	}

	if err := SaveToken(path, "first"); err != nil {
		t.Fatal(err)
	}
	if token, _ := p(ctx); token != "first" {
		t.Fatalf("token = %q, want first", token)
	}

	if err := SaveToken(path, "second"); err != nil {
		t.Fatal(err)
	}
	if token, _ := p(ctx); token != "second" {
		t.Fatalf("token change not picked up: %q", token)
	}

	if err := SaveToken(path, ""); err != nil {
		t.Fatal(err)
	}
	if token, _ := p(ctx); token != "" {
		t.Fatalf("expected cleared token, got %q", token)
	}
}

func TestSaveTokenKeepsOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	if err := os.WriteFile(path, []byte(`{"theme":"dark"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := SaveToken(path, "tok"); err != nil {
		t.Fatal(err)
	}
	values, err := readStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if values["theme"] != "dark" || values[StorageKey] != "tok" {
		t.Errorf("store = %v", values)
	}
}

func TestSaveTokenOverNullStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	if err := os.WriteFile(path, []byte("null"), 0o600); err != nil {
		t.Fatal(err)
	}
	if token, err := FileStore(path)(context.Background()); err != nil || token != "" {
		t.Fatalf("null store: token=%q err=%v", token, err)
	}
	if err := SaveToken(path, "abc"); err != nil {
		t.Fatal(err)
	}
	if token, _ := FileStore(path)(context.Background()); token != "abc" {
		t.Fatalf("token = %q, want abc", token)
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	if err := os.WriteFile(path, []byte(`not json`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := FileStore(path)(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestChain(t *testing.T) {
	ctx := WithToken(context.Background(), "from-ctx")
	p := Chain(None(), FromContext(), Static("fallback"))
	if token, _ := p(ctx); token != "from-ctx" {
		t.Errorf("token = %q, want from-ctx", token)
	}
	if token, _ := p(context.Background()); token != "fallback" {
		t.Errorf("token = %q, want fallback", token)
	}

	boom := errors.New("boom")
	failing := Chain(func(context.Context) (string, error) { return "", boom }, Static("x"))
	if _, err := failing(ctx); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}
