package interfaces

import (
	"context"

	"livedash/internal/types"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, raw []byte)
}

// Appender accepts already-coerced observations in arrival order.
type Appender interface {
	Append(value float64) types.DataPoint
}

type PointSource interface {
	Snapshot() []types.DataPoint
}
