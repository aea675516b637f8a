package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	flowcontract "github.com/futurxlab/checkpointstore/contract"
	"github.com/futurxlab/checkpointstore/keys"
	"github.com/futurxlab/checkpointstore/table"
	"github.com/futurxlab/checkpointstore/xerror"
)

const (
	defaultBusyTimeout = 5 * time.Second
	defaultTableName   = "checkpoints"
)

// Table stores items in one SQLite table keyed by (pk, sk). SQLite compares
// TEXT with BINARY collation, so ORDER BY sk is byte order.
type Table struct {
	db          *sql.DB
	name        string
	busyTimeout time.Duration
	enableWAL   bool
	maxOpenConn int
	autoCreate  bool
}

// Option configures a sqlite Table.
type Option func(*Table)

func WithTableName(name string) Option {
	return func(t *Table) {
		if isSafeIdent(name) {
			t.name = name
		}
	}
}

func WithBusyTimeout(timeout time.Duration) Option {
	return func(t *Table) {
		if timeout >= 0 {
			t.busyTimeout = timeout
		}
	}
}

func WithWAL(enabled bool) Option {
	return func(t *Table) {
		t.enableWAL = enabled
	}
}

func WithMaxOpenConns(n int) Option {
	return func(t *Table) {
		if n > 0 {
			t.maxOpenConn = n
		}
	}
}

// WithAutoCreate controls whether New creates the table when it is missing.
func WithAutoCreate(enabled bool) Option {
	return func(t *Table) {
		t.autoCreate = enabled
	}
}

// New opens the database at path, creating its directory, and creates the
// table unless WithAutoCreate(false) was given.
func New(ctx context.Context, path string, opts ...Option) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	t := &Table{
		name:        defaultTableName,
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
		maxOpenConn: 1,
		autoCreate:  true,
	}
	for _, opt := range opts {
		opt(t)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(t.maxOpenConn)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	t.db = db
	if err := t.initialize(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return t, nil
}

func (t *Table) initialize(ctx context.Context) error {
	if t.busyTimeout > 0 {
		ms := int(t.busyTimeout / time.Millisecond)
		if _, err := t.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}
	if t.enableWAL {
		if _, err := t.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable wal: %w", err)
		}
	}
	if t.autoCreate {
		return t.EnsureTable(ctx)
	}
	return nil
}

// EnsureTable creates the table if it does not exist yet.
func (t *Table) EnsureTable(ctx context.Context) error {
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  pk    TEXT NOT NULL,
  sk    TEXT NOT NULL,
  attrs BLOB NOT NULL,
  PRIMARY KEY (pk, sk)
) WITHOUT ROWID;
`, t.name)

	if _, err := t.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Ping checks the database answers.
func (t *Table) Ping(ctx context.Context) error {
	return t.db.PingContext(ctx)
}

func (t *Table) Get(ctx context.Context, key keys.CompositeKey) (table.Item, error) {
	q := fmt.Sprintf(`SELECT attrs FROM %s WHERE pk = ? AND sk = ?;`, t.name)

	var raw []byte
	err := t.db.QueryRowContext(ctx, q, key.PK, key.SK).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, xerror.Wrap(flowcontract.ErrNotFound)
		}
		return nil, xerror.Wrap(fmt.Errorf("failed to get item %s: %w", key, err))
	}

	item, err := table.DecodeItem(raw)
	if err != nil {
		return nil, xerror.Wrap(err)
	}
	return item, nil
}

// Put upserts item at key.
func (t *Table) Put(ctx context.Context, key keys.CompositeKey, item table.Item) error {
	raw, err := table.EncodeItem(item)
	if err != nil {
		return xerror.Wrap(err)
	}

	q := fmt.Sprintf(`
INSERT INTO %s (pk, sk, attrs) VALUES (?, ?, ?)
ON CONFLICT(pk, sk) DO UPDATE SET attrs = excluded.attrs;
`, t.name)

	if _, err := t.db.ExecContext(ctx, q, key.PK, key.SK, raw); err != nil {
		return xerror.Wrap(fmt.Errorf("failed to put item %s: %w", key, err))
	}
	return nil
}

func (t *Table) Query(ctx context.Context, query table.Query) ([]keys.CompositeKey, error) {
	sqlText, args := t.buildQuery(query)

	rows, err := t.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, xerror.Wrap(fmt.Errorf("failed to query partition %s: %w", query.PK, err))
	}
	defer rows.Close()

	out := make([]keys.CompositeKey, 0)
	for rows.Next() {
		var sk string
		if err := rows.Scan(&sk); err != nil {
			return nil, xerror.Wrap(fmt.Errorf("failed to scan sort key: %w", err))
		}
		out = append(out, keys.CompositeKey{PK: query.PK, SK: sk})
	}
	if err := rows.Err(); err != nil {
		return nil, xerror.Wrap(fmt.Errorf("failed to iterate sort keys: %w", err))
	}
	return out, nil
}

func (t *Table) buildQuery(query table.Query) (string, []any) {
	from, to := query.Range()

	sqlText := fmt.Sprintf("SELECT sk FROM %s WHERE pk = ? AND sk >= ?", t.name)
	args := []any{query.PK, from}

	if to != "" {
		sqlText += " AND sk < ?"
		args = append(args, to)
	}

	if query.Descending {
		sqlText += " ORDER BY sk DESC"
	} else {
		sqlText += " ORDER BY sk ASC"
	}

	if query.Limit > 0 {
		sqlText += " LIMIT ?"
		args = append(args, query.Limit)
	}

	return sqlText + ";", args
}

// Close closes the database.
func (t *Table) Close() error {
	if t.db == nil {
		return nil
	}
	return t.db.Close()
}

func isSafeIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			continue
		}
		return false
	}
	return true
}
