// Package factory builds the configured table backend and its decorators.
package factory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/futurxlab/checkpointstore/config"
	flowcontract "github.com/futurxlab/checkpointstore/contract"
	"github.com/futurxlab/checkpointstore/logger"
	"github.com/futurxlab/checkpointstore/serde"
	"github.com/futurxlab/checkpointstore/table"
	"github.com/futurxlab/checkpointstore/table/cache"
	"github.com/futurxlab/checkpointstore/table/memory"
	"github.com/futurxlab/checkpointstore/table/postgres"
	"github.com/futurxlab/checkpointstore/table/redis"
	"github.com/futurxlab/checkpointstore/table/sqlite"
	"github.com/futurxlab/checkpointstore/table/traced"
	"github.com/futurxlab/checkpointstore/xerror"
)

const defaultRetryDelay = 500 * time.Millisecond

type options struct {
	tracerProvider trace.TracerProvider
	retryDelay     time.Duration
}

// Option configures Open.
type Option func(*options)

// WithTracerProvider sets the provider spans go to when tracing is enabled.
// Without it spans are dropped.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithRetryDelay sets the initial delay between readiness attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		o.retryDelay = d
	}
}

// Open connects to the backend named by cfg, retrying until it answers or
// the attempts run out, and layers the cache and tracing decorators on top.
func Open(ctx context.Context, cfg config.Storage, log logger.ILogger, opts ...Option) (table.Table, error) {
	o := &options{retryDelay: defaultRetryDelay}
	for _, opt := range opts {
		opt(o)
	}

	if cfg.Cache.Enabled && cfg.Shared() {
		return nil, xerror.Wrap(fmt.Errorf("%w: read cache cannot be enabled for shared backend %s", flowcontract.ErrInvalidConfig, cfg.Backend))
	}

	attempts := cfg.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}

	var tbl table.Table
	err := retry.Do(
		func() error {
			var err error
			tbl, err = open(ctx, cfg)
			if errors.Is(err, flowcontract.ErrInvalidConfig) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(o.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warnf(ctx, "retrying %s table connect attempt: %d, error: %s", cfg.Backend, n, err)
		}),
	)
	if err != nil {
		return nil, xerror.Wrap(err)
	}

	log.Infof(ctx, "opened %s checkpoint table %q", cfg.Backend, cfg.Table)

	if cfg.Cache.Enabled {
		cached, err := cache.New(tbl,
			cache.WithNumCounters(cfg.Cache.NumCounters),
			cache.WithMaxCost(cfg.Cache.MaxCost),
			cache.WithTTL(cfg.Cache.TTL),
		)
		if err != nil {
			_ = tbl.Close()
			return nil, xerror.Wrap(err)
		}
		log.Debugf(ctx, "checkpoint read cache enabled, max cost %d", cfg.Cache.MaxCost)
		tbl = cached
	}

	if cfg.Tracing {
		tbl = traced.New(tbl, cfg.Backend, o.tracerProvider)
	}

	return tbl, nil
}

func open(ctx context.Context, cfg config.Storage) (table.Table, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendSQLite:
		return sqlite.New(ctx, cfg.SQLite.Path,
			sqlite.WithTableName(cfg.Table),
			sqlite.WithBusyTimeout(cfg.SQLite.BusyTimeout),
			sqlite.WithAutoCreate(cfg.AutoCreate),
		)
	case config.BackendRedis:
		return redis.New(ctx, cfg.Redis.Addr,
			redis.WithPassword(cfg.Redis.Password),
			redis.WithDB(cfg.Redis.DB),
			redis.WithPrefix(cfg.Redis.Prefix),
		)
	case config.BackendPostgres:
		return postgres.New(ctx, cfg.Postgres.DSN,
			postgres.WithTableName(cfg.Table),
			postgres.WithAutoCreate(cfg.AutoCreate),
		)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", flowcontract.ErrInvalidConfig, cfg.Backend)
	}
}

// Serializer returns the serializer that writes cfg.Codec and reads every
// codec in the default registry.
func Serializer(cfg config.Storage) (serde.Serializer, error) {
	if cfg.Codec == "" {
		return serde.Default(), nil
	}
	s, err := serde.New(serde.DefaultRegistry(), cfg.Codec)
	if err != nil {
		return nil, xerror.Wrap(fmt.Errorf("%w: codec %q: %w", flowcontract.ErrInvalidConfig, cfg.Codec, err))
	}
	return s, nil
}
