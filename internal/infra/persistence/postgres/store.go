// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics while keeping a normalized periods table on disk.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"periodcore/internal/infra/persistence/memory"
	"periodcore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/periodcore?sslmode=disable"
)

// schemaStatements create the periods table and its sibling lookup index.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS periods (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		parent_id TEXT NOT NULL,
		start_at TIMESTAMPTZ,
		end_at TIMESTAMPTZ,
		attributes JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS periods_siblings_idx ON periods (kind, parent_id, start_at, end_at)`,
}

const periodColumns = "id, kind, parent_id, start_at, end_at, attributes, created_at, updated_at"

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It applies the schema and hydrates the in-memory store from the periods table.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

// RunInTransaction applies the provided function within a transaction, then snapshots to Postgres if successful.
// A failed snapshot restores the in-memory state held before the call.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.ExportState()
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx); err != nil {
		s.ImportState(prev)
		return res, err
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func applySchema(ctx context.Context, db execer) error {
	for _, stmt := range schemaStatements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+periodColumns+` FROM periods`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select periods: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := memory.Snapshot{Periods: make(map[string]domain.Period)}
	for rows.Next() {
		var (
			p          domain.Period
			kind       string
			start, end sql.NullTime
			attrs      []byte
		)
		if err := rows.Scan(&p.ID, &kind, &p.ParentID, &start, &end, &attrs, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan period: %w", err)
		}
		p.Kind = domain.Kind(kind)
		if start.Valid {
			p.StartAt = domain.At(start.Time.UTC())
		}
		if end.Valid {
			p.EndAt = domain.At(end.Time.UTC())
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
				return memory.Snapshot{}, fmt.Errorf("decode attributes of %s: %w", p.ID, err)
			}
		}
		snapshot.Periods[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate periods: %w", err)
	}
	return snapshot, nil
}

// persist runs under s.mu.
func (s *Store) persist(ctx context.Context) error {
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `TRUNCATE TABLE periods`); err != nil {
		return fmt.Errorf("truncate periods: %w", err)
	}
	insert := `INSERT INTO periods (` + periodColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, p := range snapshot.Periods {
		var attrs []byte
		if p.Attributes != nil {
			attrs, err = json.Marshal(p.Attributes)
			if err != nil {
				return fmt.Errorf("encode attributes of %s: %w", p.ID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, insert,
			p.ID, string(p.Kind), p.ParentID, nullTime(p.StartAt), nullTime(p.EndAt), attrs, p.CreatedAt, p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert period %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
