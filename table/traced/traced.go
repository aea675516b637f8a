// Package traced wraps a table.Table so each operation emits an
// OpenTelemetry span.
package traced

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	flowcontract "github.com/futurxlab/checkpointstore/contract"
	"github.com/futurxlab/checkpointstore/keys"
	"github.com/futurxlab/checkpointstore/table"
)

const instrumentationName = "github.com/futurxlab/checkpointstore/table"

// Table is a table.Table that records a span per call.
type Table struct {
	next    table.Table
	tracer  trace.Tracer
	backend string
}

// New traces calls to next. A nil tp falls back to a noop provider.
func New(next table.Table, backend string, tp trace.TracerProvider) *Table {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Table{
		next:    next,
		tracer:  tp.Tracer(instrumentationName),
		backend: backend,
	}
}

func (t *Table) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("checkpointstore.backend", t.backend))
	return t.tracer.Start(ctx, "checkpointstore.table."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func finish(span trace.Span, err error) {
	defer span.End()

	// a miss is an answer, not a failure
	if err == nil || errors.Is(err, flowcontract.ErrNotFound) {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (t *Table) Get(ctx context.Context, key keys.CompositeKey) (table.Item, error) {
	ctx, span := t.start(ctx, "get",
		attribute.String("checkpointstore.pk", key.PK),
		attribute.String("checkpointstore.sk", key.SK),
	)
	item, err := t.next.Get(ctx, key)
	span.SetAttributes(attribute.Bool("checkpointstore.found", err == nil))
	finish(span, err)
	return item, err
}

func (t *Table) Put(ctx context.Context, key keys.CompositeKey, item table.Item) error {
	ctx, span := t.start(ctx, "put",
		attribute.String("checkpointstore.pk", key.PK),
		attribute.String("checkpointstore.sk", key.SK),
		attribute.Int64("checkpointstore.item_bytes", item.Size()),
	)
	err := t.next.Put(ctx, key, item)
	finish(span, err)
	return err
}

func (t *Table) Query(ctx context.Context, q table.Query) ([]keys.CompositeKey, error) {
	ctx, span := t.start(ctx, "query",
		attribute.String("checkpointstore.pk", q.PK),
		attribute.String("checkpointstore.prefix", q.Prefix),
		attribute.String("checkpointstore.before", q.Before),
		attribute.Bool("checkpointstore.descending", q.Descending),
		attribute.Int("checkpointstore.limit", q.Limit),
	)
	found, err := t.next.Query(ctx, q)
	span.SetAttributes(attribute.Int("checkpointstore.results", len(found)))
	finish(span, err)
	return found, err
}

func (t *Table) Close() error {
	return t.next.Close()
}
