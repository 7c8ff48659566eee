package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"           // postgres driver for database/sql
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver for database/sql
	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/xraph/beacon/store"
	"github.com/xraph/beacon/store/bunstore"
	"github.com/xraph/beacon/store/memory"
	redisstore "github.com/xraph/beacon/store/redis"
)

// ErrUnknownDriver is returned for an unsupported store.driver value.
var ErrUnknownDriver = errors.New("beacond: unknown store driver")

// openStore builds the configured backend and migrates it when asked to.
func openStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	var (
		s   store.Store
		err error
	)

	switch cfg.Driver {
	case "", "memory":
		s = memory.New()
	case "redis":
		s, err = openRedis(cfg.DSN)
	case "postgres":
		s, err = openBun("postgres", cfg.DSN)
	case "sqlite":
		s, err = openBun("sqlite3", cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("beacond: ping %s store: %w", cfg.Driver, err)
	}
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func openRedis(dsn string) (store.Store, error) {
	if dsn == "" {
		dsn = "redis://localhost:6379/0"
	}
	opts, err := goredis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("beacond: parse redis url: %w", err)
	}
	return redisstore.NewFromClient(goredis.NewClient(opts)), nil
}

func openBun(driverName, dsn string) (store.Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("beacond: store.dsn is required for %s", driverName)
	}
	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("beacond: open %s: %w", driverName, err)
	}

	var db *bun.DB
	switch driverName {
	case "postgres":
		db = bun.NewDB(sqlDB, pgdialect.New())
	default:
		// SQLite allows one writer at a time.
		sqlDB.SetMaxOpenConns(1)
		db = bun.NewDB(sqlDB, sqlitedialect.New())
	}
	return bunstore.New(db), nil
}
