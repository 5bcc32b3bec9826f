package dispatchobs

import (
	"context"

	"livedash/internal/interfaces"
	"livedash/internal/logger"
	"livedash/internal/trace"

	"go.opentelemetry.io/otel/attribute"
)

// observableDispatcher wraps a Dispatcher with observability (logging & tracing)
type observableDispatcher struct {
	dispatcher interfaces.Dispatcher
}

// Compile-time interface check
var _ interfaces.Dispatcher = (*observableDispatcher)(nil)

// Wrap wraps a dispatcher with observability middleware
func Wrap(dispatcher interfaces.Dispatcher) interfaces.Dispatcher {
	return &observableDispatcher{
		dispatcher: dispatcher,
	}
}

// Dispatch routes one frame inside a span
func (od *observableDispatcher) Dispatch(ctx context.Context, raw []byte) {
	ctx, span := trace.StartSpan(ctx, "dispatch.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.Int("frame.size", len(raw)))

	logger.DebugSkip(ctx, 1, "Dispatching frame", "size", len(raw))
	od.dispatcher.Dispatch(ctx, raw)
}
