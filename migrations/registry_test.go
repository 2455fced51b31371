package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"testing"
	"testing/fstest"

	requestnetwork "github.com/goliatone/go-request-network"
	_ "github.com/mattn/go-sqlite3"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems(nil)
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}

	seen := map[string]bool{}
	for _, entry := range filesystems {
		matches, globErr := fs.Glob(entry.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", entry.Dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s migration files, got none", entry.Dialect)
		}
		seen[entry.Dialect] = true
	}
	if !seen[DialectPostgres] || !seen[DialectSQLite] {
		t.Fatalf("expected postgres and sqlite filesystems, got %v", seen)
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	reg, err := Register(context.Background(), func(_ context.Context, dialect string, label string, _ fs.FS) error {
		if label != "go-request-network" {
			t.Fatalf("unexpected source label %q", label)
		}
		calls = append(calls, dialect)
		return nil
	}, WithValidationTargets(" SQLite "))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(calls) != 1 || calls[0] != DialectSQLite {
		t.Fatalf("expected a single sqlite registration, got %v", calls)
	}
	if len(reg.Filesystems) != 2 {
		t.Fatalf("expected both filesystems on the registration, got %d", len(reg.Filesystems))
	}
}

func TestRegister_AcceptsDriverNamesAndLabel(t *testing.T) {
	var labels []string
	_, err := Register(context.Background(), func(_ context.Context, dialect string, label string, _ fs.FS) error {
		labels = append(labels, dialect+"@"+label)
		return nil
	}, WithValidationTargets("sqlite3", "pg", "mysql"), WithSourceLabel("ledger"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(labels) != 2 || labels[0] != "postgres@ledger" || labels[1] != "sqlite@ledger" {
		t.Fatalf("unexpected registrations %v", labels)
	}
}

func TestDialectForDriver(t *testing.T) {
	cases := map[string]string{
		"sqlite3":  DialectSQLite,
		" SQLite ": DialectSQLite,
		"postgres": DialectPostgres,
		"pgx":      DialectPostgres,
		"mysql":    "",
		"":         "",
	}
	for driver, want := range cases {
		if got := DialectForDriver(driver); got != want {
			t.Fatalf("driver %q: expected %q, got %q", driver, want, got)
		}
	}
}

func TestFilesystems_RejectsTreeWithoutMigrations(t *testing.T) {
	if _, err := Filesystems(fstest.MapFS{"README.md": {Data: []byte("x")}}); err == nil {
		t.Fatalf("expected missing migrations tree to fail")
	}
}

func TestRegister_RequiresRegisterFunc(t *testing.T) {
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected error without register function")
	}
}

func TestDeliveryLedgerMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := requestnetwork.GetMigrationsFS()
	paths := []string{
		"data/sql/migrations/00001_webhook_deliveries.up.sql",
		"data/sql/migrations/00001_webhook_deliveries.down.sql",
		"data/sql/migrations/sqlite/00001_webhook_deliveries.up.sql",
		"data/sql/migrations/sqlite/00001_webhook_deliveries.down.sql",
	}
	for _, path := range paths {
		if _, err := fs.Stat(root, path); err != nil {
			t.Fatalf("expected migration %s: %v", path, err)
		}
	}
}

func TestSQLiteDeliveryLedgerMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-delivery-ledger?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	sqliteMigrations, err := fs.Sub(requestnetwork.GetMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	ctx := context.Background()
	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_webhook_deliveries.up.sql"); err != nil {
		t.Fatalf("apply up migration: %v", err)
	}

	insert := `INSERT INTO webhook_deliveries (id, event, delivery_id, status, attempts) VALUES (?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insert, "d1", "payment.confirmed", "delivery-1", "processing", 1); err != nil {
		t.Fatalf("insert delivery: %v", err)
	}
	if _, err := db.ExecContext(ctx, insert, "d2", "payment.confirmed", "delivery-1", "processing", 1); err == nil {
		t.Fatalf("expected unique violation for duplicate event/delivery pair")
	}
	if _, err := db.ExecContext(ctx, insert, "d3", "payment.failed", "delivery-1", "processing", 1); err != nil {
		t.Fatalf("expected same delivery id under another event to insert: %v", err)
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_webhook_deliveries.down.sql"); err != nil {
		t.Fatalf("apply down migration: %v", err)
	}
	var name string
	err = db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"webhook_deliveries",
	).Scan(&name)
	if err != sql.ErrNoRows {
		t.Fatalf("expected table to be dropped, got name=%q err=%v", name, err)
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
