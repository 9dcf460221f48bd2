// Package sink provides durable append-only destinations for samples.
package sink

import (
	"context"

	"github.com/skobkin/erwait-web/internal/sampler"
)

// Sink persists samples. Append is atomic per sample: on error the
// destination is left unchanged.
type Sink interface {
	Append(ctx context.Context, sample sampler.Sample) error
}
