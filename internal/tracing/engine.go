package tracing

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"lkvs/internal/storage"
)

// TracedEngine emits a span for every put and get on the wrapped engine.
type TracedEngine struct {
	storage.StorageEngine
	tracing *TracingService
	path    string
}

var _ storage.StorageEngine = (*TracedEngine)(nil)

func NewTracedEngine(engine storage.StorageEngine, ts *TracingService) *TracedEngine {
	return &TracedEngine{
		StorageEngine: engine,
		tracing:       ts,
		path:          engine.Info().Path,
	}
}

func (te *TracedEngine) Put(key, value []byte) error {
	return te.PutContext(context.Background(), key, value)
}

func (te *TracedEngine) PutContext(ctx context.Context, key, value []byte) error {
	_, span := te.tracing.InstrumentDeviceOperation(ctx, "put", te.path, key)
	defer span.End()

	span.SetAttributes(attribute.Int("lkvs.value_size", len(value)))
	if err := te.StorageEngine.Put(key, value); err != nil {
		te.tracing.RecordError(span, err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (te *TracedEngine) Get(key []byte, expectedLength int) ([]byte, error) {
	return te.GetContext(context.Background(), key, expectedLength)
}

// GetContext records a miss as a span event rather than an error.
func (te *TracedEngine) GetContext(ctx context.Context, key []byte, expectedLength int) ([]byte, error) {
	_, span := te.tracing.InstrumentDeviceOperation(ctx, "get", te.path, key)
	defer span.End()

	span.SetAttributes(attribute.Int("lkvs.expected_size", expectedLength))
	value, err := te.StorageEngine.Get(key, expectedLength)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		span.AddEvent("key not found")
		return nil, err
	case err != nil:
		te.tracing.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("lkvs.value_size", len(value)))
	span.SetStatus(codes.Ok, "")
	return value, nil
}
