package bunstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/xraph/beacon/internal/storetest"
	"github.com/xraph/beacon/store"
	"github.com/xraph/beacon/store/bunstore"
)

func newSQLiteStore(t *testing.T) store.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:beacon-test-%d?mode=memory&cache=shared", time.Now().UnixNano())
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s := bunstore.New(bun.NewDB(sqlDB, sqlitedialect.New()))
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Migrate twice to prove it is idempotent.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, newSQLiteStore)
}

func TestPing(t *testing.T) {
	s := newSQLiteStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}
