package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-request-network/core"
	"github.com/goliatone/go-request-network/webhooks"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type RepositoryFactory struct {
	db *bun.DB

	deliveryLedger *DeliveryLedger
	cachedLedger   *CachedDeliveryLedger
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.Build(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.Build(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// Build resolves a *bun.DB, or anything exposing DB() *bun.DB, and wires
// the ledger on top of it.
func (f *RepositoryFactory) Build(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.deliveryLedger != nil {
		return nil
	}
	ledger, err := NewDeliveryLedger(f.db)
	if err != nil {
		return err
	}
	f.deliveryLedger = ledger
	return nil
}

// WithCache puts a read cache in front of the ledger returned by Ledger.
func (f *RepositoryFactory) WithCache(cacheService repositorycache.CacheService) error {
	if f == nil || f.deliveryLedger == nil {
		return fmt.Errorf("sqlstore: repository factory is not built")
	}
	cached, err := NewCachedDeliveryLedger(f.deliveryLedger, cacheService)
	if err != nil {
		return err
	}
	f.cachedLedger = cached
	return nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

// Ledger returns the cached ledger when a cache was configured.
func (f *RepositoryFactory) Ledger() webhooks.DeliveryLedger {
	if f == nil {
		return nil
	}
	if f.cachedLedger != nil {
		return f.cachedLedger
	}
	if f.deliveryLedger == nil {
		return nil
	}
	return f.deliveryLedger
}

func (f *RepositoryFactory) DeliveryLedger() *DeliveryLedger {
	if f == nil {
		return nil
	}
	return f.deliveryLedger
}

// OpenDB opens a bun database for driver ("sqlite3" or "postgres").
func OpenDB(driver string, dsn string) (*bun.DB, error) {
	driver = normalizeDriver(driver)
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required")
	}
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	switch driver {
	case DriverSQLite:
		sqlDB.SetMaxOpenConns(1)
		return bun.NewDB(sqlDB, sqlitedialect.New()), nil
	case DriverPostgres:
		return bun.NewDB(sqlDB, pgdialect.New()), nil
	default:
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

// OpenLedgerConfig opens the database named by cfg and builds a factory on it.
func OpenLedgerConfig(ctx context.Context, cfg core.LedgerConfig) (*RepositoryFactory, error) {
	db, err := OpenDB(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewRepositoryFactoryFromDB(db)
}

// EnsureSchema creates the ledger table and indexes when missing. It
// mirrors the embedded migrations for databases that are not migrated.
func EnsureSchema(ctx context.Context, db *bun.DB) error {
	if db == nil {
		return fmt.Errorf("sqlstore: bun db is required")
	}
	if _, err := db.NewCreateTable().
		Model((*deliveryRecord)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("sqlstore: create webhook_deliveries: %w", err)
	}
	if _, err := db.NewCreateIndex().
		Model((*deliveryRecord)(nil)).
		Unique().
		IfNotExists().
		Index("ux_webhook_deliveries_event_delivery").
		Column("event", "delivery_id").
		Exec(ctx); err != nil {
		return fmt.Errorf("sqlstore: create delivery index: %w", err)
	}
	if _, err := db.NewCreateIndex().
		Model((*deliveryRecord)(nil)).
		IfNotExists().
		Index("ix_webhook_deliveries_due").
		Column("status", "next_attempt_at").
		Exec(ctx); err != nil {
		return fmt.Errorf("sqlstore: create due index: %w", err)
	}
	return nil
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite
	case "postgres", "postgresql", "pg":
		return DriverPostgres
	default:
		return strings.ToLower(strings.TrimSpace(driver))
	}
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
