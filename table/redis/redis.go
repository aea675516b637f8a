package redis

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	flowcontract "github.com/futurxlab/checkpointstore/contract"
	"github.com/futurxlab/checkpointstore/keys"
	"github.com/futurxlab/checkpointstore/table"
	"github.com/futurxlab/checkpointstore/xerror"
)

const defaultPrefix = "ckpt"

// Table keeps each item in a hash and indexes every partition with a sorted
// set whose members are sort keys at score 0, so ZRANGEBYLEX walks them in
// byte order.
type Table struct {
	client     *goredis.Client
	ownsClient bool
	prefix     string
	addr       string
	db         int
	password   string
}

// Option configures a redis Table.
type Option func(*Table)

func WithPassword(password string) Option {
	return func(t *Table) {
		t.password = password
	}
}

func WithDB(db int) Option {
	return func(t *Table) {
		t.db = db
	}
}

func WithPrefix(prefix string) Option {
	return func(t *Table) {
		if strings.TrimSpace(prefix) != "" {
			t.prefix = strings.TrimSpace(prefix)
		}
	}
}

// WithClient reuses an existing client. Close leaves it open.
func WithClient(client *goredis.Client) Option {
	return func(t *Table) {
		if client != nil {
			t.client = client
		}
	}
}

// New connects to addr, or uses the client from WithClient, and pings it.
func New(ctx context.Context, addr string, opts ...Option) (*Table, error) {
	t := &Table{
		prefix: defaultPrefix,
		addr:   addr,
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.client == nil {
		if strings.TrimSpace(t.addr) == "" {
			return nil, fmt.Errorf("redis addr is required")
		}
		t.client = goredis.NewClient(&goredis.Options{
			Addr:     t.addr,
			Password: t.password,
			DB:       t.db,
		})
		t.ownsClient = true
	}

	if err := t.Ping(ctx); err != nil {
		if t.ownsClient {
			_ = t.client.Close()
		}
		return nil, err
	}

	return t, nil
}

// Ping checks the server answers.
func (t *Table) Ping(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// itemKey length-prefixes the partition so (pk, sk) pairs that concatenate to
// the same text still map to different keys.
func (t *Table) itemKey(key keys.CompositeKey) string {
	return fmt.Sprintf("%s:item:%d:%s:%s", t.prefix, len(key.PK), key.PK, key.SK)
}

func (t *Table) indexKey(pk string) string {
	return fmt.Sprintf("%s:idx:%s", t.prefix, pk)
}

// Get reads the hash stored at key.
func (t *Table) Get(ctx context.Context, key keys.CompositeKey) (table.Item, error) {
	fields, err := t.client.HGetAll(ctx, t.itemKey(key)).Result()
	if err != nil {
		return nil, xerror.Wrap(fmt.Errorf("failed to get item %s: %w", key, err))
	}
	if len(fields) == 0 {
		return nil, xerror.Wrap(flowcontract.ErrNotFound)
	}

	item := make(table.Item, len(fields))
	for name, value := range fields {
		item[name] = []byte(value)
	}
	return item, nil
}

// Put replaces the hash and indexes the sort key in one MULTI/EXEC.
func (t *Table) Put(ctx context.Context, key keys.CompositeKey, item table.Item) error {
	itemKey := t.itemKey(key)

	fields := make([]interface{}, 0, len(item)*2)
	for name, value := range item {
		fields = append(fields, name, value)
	}

	pipe := t.client.TxPipeline()
	pipe.Del(ctx, itemKey)
	if len(fields) > 0 {
		pipe.HSet(ctx, itemKey, fields...)
	}
	pipe.ZAdd(ctx, t.indexKey(key.PK), goredis.Z{Score: 0, Member: key.SK})

	if _, err := pipe.Exec(ctx); err != nil {
		return xerror.Wrap(fmt.Errorf("failed to put item %s: %w", key, err))
	}
	return nil
}

// Query range-scans the partition index by sort key.
func (t *Table) Query(ctx context.Context, q table.Query) ([]keys.CompositeKey, error) {
	from, to := q.Range()

	by := &goredis.ZRangeBy{
		Min: "[" + from,
		Max: "+",
	}
	if to != "" {
		by.Max = "(" + to
	}
	if q.Limit > 0 {
		by.Count = int64(q.Limit)
	}

	var (
		members []string
		err     error
	)
	if q.Descending {
		members, err = t.client.ZRevRangeByLex(ctx, t.indexKey(q.PK), by).Result()
	} else {
		members, err = t.client.ZRangeByLex(ctx, t.indexKey(q.PK), by).Result()
	}
	if err != nil {
		return nil, xerror.Wrap(fmt.Errorf("failed to query partition %s: %w", q.PK, err))
	}

	out := make([]keys.CompositeKey, 0, len(members))
	for _, sk := range members {
		out = append(out, keys.CompositeKey{PK: q.PK, SK: sk})
	}
	return out, nil
}

// Close closes the client unless it came from WithClient.
func (t *Table) Close() error {
	if t.client == nil || !t.ownsClient {
		return nil
	}
	return t.client.Close()
}
