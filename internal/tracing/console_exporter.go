package tracing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
)

// ConsoleExporter writes one JSON object per finished span.
type ConsoleExporter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

var _ trace.SpanExporter = (*ConsoleExporter)(nil)

func NewConsoleExporter(w io.Writer) *ConsoleExporter {
	return &ConsoleExporter{enc: json.NewEncoder(w)}
}

func (ce *ConsoleExporter) ExportSpans(ctx context.Context, spans []trace.ReadOnlySpan) error {
	ce.mu.Lock()
	defer ce.mu.Unlock()

	for _, span := range spans {
		record := map[string]interface{}{
			"trace_id":   span.SpanContext().TraceID().String(),
			"span_id":    span.SpanContext().SpanID().String(),
			"parent_id":  span.Parent().SpanID().String(),
			"name":       span.Name(),
			"start_time": span.StartTime(),
			"duration":   span.EndTime().Sub(span.StartTime()).String(),
			"status":     span.Status().Code.String(),
			"attributes": attributesToMap(span.Attributes()),
		}
		if desc := span.Status().Description; desc != "" {
			record["status_description"] = desc
		}
		if err := ce.enc.Encode(record); err != nil {
			return fmt.Errorf("failed to write span: %w", err)
		}
	}
	return nil
}

func (ce *ConsoleExporter) Shutdown(ctx context.Context) error {
	return nil
}

func attributesToMap(attrs []attribute.KeyValue) map[string]interface{} {
	result := make(map[string]interface{}, len(attrs))
	for _, attr := range attrs {
		result[string(attr.Key)] = attr.Value.AsInterface()
	}
	return result
}
