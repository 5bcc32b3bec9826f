package interfaces

import (
	"context"

	"livedash/internal/types"
)

type Renderer interface {
	Render(ctx context.Context, points []types.DataPoint) error
}
