// Package store is the operational SQL store: the embedded, transactional
// engine spec.md §1/§6 describes, holding files, POIs, evidence bundles,
// final relationships, the outbox, and dead-letter/failed-POI records.
//
// Grounded on RomanQed-gqs's sql subpackage: modernc.org/sqlite as the
// embedded driver, uptrace/bun as the query builder, one bun.Tx per unit
// of work so a worker's data writes and outbox event are always
// committed together (invariant I3).
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client wraps the bun handle to the embedded operational store.
type Client struct {
	DB *bun.DB
}

// Open creates (or reopens) the embedded SQLite database at path and
// applies migrations. A single open connection is used — modernc's
// sqlite driver, like the teacher's own sqlite usage, does not tolerate
// concurrent writers across pooled connections.
func Open(ctx context.Context, path string) (*Client, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening embedded store: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	db := bun.NewDB(sqlDB, sqlitedialect.New())
	c := &Client{DB: db}
	if err := c.migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrating embedded store: %w", err)
	}
	return c, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.DB.Close()
}

// Health pings the store, for process readiness checks.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.DB.PingContext(ctx)
}

// migrate applies every embedded .sql file in lexical order inside a
// schema_migrations-tracked transaction. This mirrors the teacher's own
// pattern of running raw embedded DDL directly against the driver
// (pkg/database/migrations.go's CreateGINIndexes) rather than reaching
// for golang-migrate, whose only sqlite driver requires cgo and would
// conflict with the pure-Go modernc.org/sqlite engine (see DESIGN.md).
func (c *Client) migrate(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at TIMESTAMP NOT NULL)`); err != nil {
		return err
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		var applied int
		if err := c.DB.NewSelect().
			Table("schema_migrations").
			ColumnExpr("count(*)").
			Where("name = ?", name).
			Scan(ctx, &applied); err != nil {
			return err
		}
		if applied > 0 {
			continue
		}

		sqlBytes, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		slog.Info("applying migration", "name", name)
		tx, err := c.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("applying %s: %w", name, err)
		}
		if _, err := tx.NewInsert().
			Model(&struct {
				bun.BaseModel `bun:"table:schema_migrations"`
				Name          string    `bun:"name,pk"`
				AppliedAt     time.Time `bun:"applied_at"`
			}{Name: name, AppliedAt: time.Now()}).
			Exec(ctx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on error or panic. Every worker that writes operational
// rows and an outbox event uses this helper so the two writes are always
// visible together (I3).
func (c *Client) WithTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) (err error) {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(ctx, tx)
	return err
}
