package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	flowcontract "github.com/futurxlab/checkpointstore/contract"
	"github.com/futurxlab/checkpointstore/keys"
	"github.com/futurxlab/checkpointstore/table"
	"github.com/futurxlab/checkpointstore/xerror"
)

const defaultTableName = "checkpoints"

// Table stores items in one PostgreSQL table. The sort key column uses the
// "C" collation so range scans and ORDER BY follow byte order whatever the
// database default is.
type Table struct {
	pool       *pgxpool.Pool
	ownsPool   bool
	name       string
	autoCreate bool
}

// Option configures a postgres Table.
type Option func(*Table)

func WithTableName(name string) Option {
	return func(t *Table) {
		if (pgx.Identifier{name}).Sanitize() == `"`+name+`"` && strings.TrimSpace(name) != "" {
			t.name = name
		}
	}
}

func WithAutoCreate(enabled bool) Option {
	return func(t *Table) {
		t.autoCreate = enabled
	}
}

// WithPool reuses an existing pool. Close leaves it open.
func WithPool(pool *pgxpool.Pool) Option {
	return func(t *Table) {
		t.pool = pool
	}
}

// New connects to dsn, or uses the pool from WithPool, pings it and creates
// the table unless WithAutoCreate(false) was given.
func New(ctx context.Context, dsn string, opts ...Option) (*Table, error) {
	t := &Table{
		name:       defaultTableName,
		autoCreate: true,
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.pool == nil {
		if strings.TrimSpace(dsn) == "" {
			return nil, fmt.Errorf("postgres dsn is required")
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		t.pool = pool
		t.ownsPool = true
	}

	if err := t.Ping(ctx); err != nil {
		t.Close()
		return nil, err
	}

	if t.autoCreate {
		if err := t.EnsureTable(ctx); err != nil {
			t.Close()
			return nil, err
		}
	}

	return t, nil
}

func (t *Table) ident() string {
	return pgx.Identifier{t.name}.Sanitize()
}

func (t *Table) EnsureTable(ctx context.Context) error {
	_, err := t.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			pk    TEXT NOT NULL,
			sk    TEXT COLLATE "C" NOT NULL,
			attrs BYTEA NOT NULL,
			PRIMARY KEY (pk, sk)
		)
	`, t.ident()))
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.name, err)
	}
	return nil
}

// Ping checks the database answers.
func (t *Table) Ping(ctx context.Context) error {
	if err := t.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (t *Table) Get(ctx context.Context, key keys.CompositeKey) (table.Item, error) {
	var raw []byte
	err := t.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT attrs FROM %s WHERE pk = $1 AND sk = $2
	`, t.ident()), key.PK, key.SK).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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

	_, err = t.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (pk, sk, attrs) VALUES ($1, $2, $3)
		ON CONFLICT (pk, sk) DO UPDATE SET attrs = EXCLUDED.attrs
	`, t.ident()), key.PK, key.SK, raw)
	if err != nil {
		return xerror.Wrap(fmt.Errorf("failed to put item %s: %w", key, err))
	}
	return nil
}

func (t *Table) Query(ctx context.Context, q table.Query) ([]keys.CompositeKey, error) {
	from, to := q.Range()

	sqlText := fmt.Sprintf("SELECT sk FROM %s WHERE pk = $1 AND sk >= $2", t.ident())
	args := []any{q.PK, from}

	if to != "" {
		args = append(args, to)
		sqlText += fmt.Sprintf(" AND sk < $%d", len(args))
	}
	if q.Descending {
		sqlText += " ORDER BY sk DESC"
	} else {
		sqlText += " ORDER BY sk ASC"
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sqlText += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := t.pool.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, xerror.Wrap(fmt.Errorf("failed to query partition %s: %w", q.PK, err))
	}
	defer rows.Close()

	out := make([]keys.CompositeKey, 0)
	for rows.Next() {
		var sk string
		if err := rows.Scan(&sk); err != nil {
			return nil, xerror.Wrap(fmt.Errorf("failed to scan sort key: %w", err))
		}
		out = append(out, keys.CompositeKey{PK: q.PK, SK: sk})
	}
	if err := rows.Err(); err != nil {
		return nil, xerror.Wrap(fmt.Errorf("failed to iterate sort keys: %w", err))
	}
	return out, nil
}

// Close closes the pool unless it came from WithPool.
func (t *Table) Close() error {
	if t.pool != nil && t.ownsPool {
		t.pool.Close()
	}
	return nil
}
