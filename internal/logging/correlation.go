package logging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateOperationID generates a new operation ID
func GenerateOperationID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		// Fallback to timestamp-based ID if random fails
		return fmt.Sprintf("op_%d", time.Now().UnixNano())
	}
	return "op_" + id.String()[:8]
}

// NewOperationContext tags ctx with a fresh operation ID and the device path.
func NewOperationContext(ctx context.Context, devicePath string) context.Context {
	ctx = context.WithValue(ctx, OperationIDKey, GenerateOperationID())
	if devicePath != "" {
		ctx = context.WithValue(ctx, DeviceKey, devicePath)
	}
	return ctx
}

// ExtractOperationID extracts the operation ID from context
func ExtractOperationID(ctx context.Context) string {
	if id, ok := ctx.Value(OperationIDKey).(string); ok {
		return id
	}
	return ""
}
