package numerator

import (
	"context"
	"time"
)

// Generator hands out sequential reference numbers.
type Generator interface {
	// GetNextNumber returns the next formatted number for cfg in the given period,
	// e.g. PI-2026-00001.
	GetNextNumber(ctx context.Context, cfg Config, opts *Options, period time.Time) (string, error)
}
