package snapshot

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/pabbly/hookdash/internal/analytics"
	"github.com/pabbly/hookdash/pkg/config"
	apperrors "github.com/pabbly/hookdash/pkg/errors"
	"github.com/pabbly/hookdash/pkg/postgres"
	"github.com/pabbly/hookdash/pkg/sqlite"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := NewStore(context.Background(), db, sqlite.DriverName)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func result(customers int, start string) *analytics.Result {
	return &analytics.Result{
		Summary:     analytics.Summary{TotalCustomers: customers, TotalMRR: 99.5},
		MRR:         []analytics.MRRPoint{{Date: "2024-01", MRR: 99.5}},
		Filters:     analytics.Filters{}.Set("startDate", start),
		GeneratedAt: time.Date(2024, 6, 1, 10, 0, 0, 123, time.UTC),
	}
}

func TestSaveAndGet(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, result(42, "2024-01-01"))
	if err != nil {
		t.Fatal(err)
	}
	snap, err := s.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Query != "startDate=2024-01-01" {
		t.Errorf("query = %q", snap.Query)
	}
	if !snap.GeneratedAt.Equal(time.Date(2024, 6, 1, 10, 0, 0, 123, time.UTC)) {
		t.Errorf("generatedAt = %v", snap.GeneratedAt)
	}
	if snap.Result.Summary.TotalCustomers != 42 || len(snap.Result.MRR) != 1 {
		t.Errorf("result = %+v", snap.Result)
	}
	if got := snap.Result.Filters.String("startDate"); got != "2024-01-01" {
		t.Errorf("filters = %v", snap.Result.Filters)
	}
}

func TestGetMissing(t *testing.T) {
	s := newSQLiteStore(t)
	_, err := s.Get(context.Background(), 999)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestListNewestFirstAndPrune(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	if latest, err := s.Latest(ctx); err != nil || latest != nil {
		t.Fatalf("empty latest = %v, %v", latest, err)
	}
	for i := 1; i <= 5; i++ {
		if _, err := s.Save(ctx, result(i, "2024-01-01")); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.List(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].Result.Summary.TotalCustomers != 5 || list[2].Result.Summary.TotalCustomers != 3 {
		t.Fatalf("list = %+v", list)
	}
	latest, err := s.Latest(ctx)
	if err != nil || latest.Result.Summary.TotalCustomers != 5 {
		t.Fatalf("latest = %+v, %v", latest, err)
	}

	n, err := s.Prune(ctx, 2)
	if err != nil || n != 3 {
		t.Fatalf("pruned n=%d err=%v", n, err)
	}
	list, _ = s.List(ctx, 0)
	if len(list) != 2 {
		t.Fatalf("after prune len = %d", len(list))
	}
}

func TestSaveNil(t *testing.T) {
	s := newSQLiteStore(t)
	if _, err := s.Save(context.Background(), nil); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := NewStore(context.Background(), nil, "mysql"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRebind(t *testing.T) {
	s := &Store{driver: postgres.DriverName}
	got := s.rebind("INSERT INTO t (a, b) VALUES (?, ?)")
	if got != "INSERT INTO t (a, b) VALUES ($1, $2)" {
		t.Errorf("got %q", got)
	}
	s.driver = sqlite.DriverName
	if got := s.rebind("? ?"); got != "? ?" {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}

func TestPostgresRoundTrip(t *testing.T) {
	host := os.Getenv("HOOK_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("HOOK_TEST_POSTGRES_HOST not set, skipping postgres test")
	}
	client, err := postgres.New(config.PostgresConfig{
		Host:     host,
		Port:     5432,
		Database: "hookdash",
		User:     "hookdash",
		Password: "hookdash",
		SSLMode:  "disable",
	})
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	defer client.Close()

	s, err := NewStore(context.Background(), client.DB, postgres.DriverName)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Save(context.Background(), result(3, "2024-02-01"))
	if err != nil {
		t.Fatal(err)
	}
	snap, err := s.Get(context.Background(), id)
	if err != nil || snap.Result.Summary.TotalCustomers != 3 {
		t.Fatalf("snap=%+v err=%v", snap, err)
	}
}
