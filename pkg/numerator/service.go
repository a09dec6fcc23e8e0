// Package numerator hands out document reference numbers backed by the
// sys_sequences table.
package numerator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	core "stockrecon/internal/core/numerator"
)

var tracer = otel.Tracer("stockrecon/numerator")

// Querier is the subset of pgx used for sequence updates.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QuerierFunc picks the querier for a call, typically the active transaction.
type QuerierFunc func(ctx context.Context) Querier

type cachedRange struct {
	current int64
	max     int64
}

// Service implements core.Generator.
//
// With StrategyStrict the increment runs in the caller's transaction, so a
// rolled back submission gives its number back. StrategyCached reserves
// ranges and may leave gaps after a restart.
type Service struct {
	querier QuerierFunc

	mu     sync.Mutex
	ranges map[string]*cachedRange
}

var _ core.Generator = (*Service)(nil)

// New creates a service that always uses q.
func New(q Querier) *Service {
	return NewWithQuerier(func(context.Context) Querier { return q })
}

// NewWithQuerier creates a service that resolves its querier per call.
func NewWithQuerier(fn QuerierFunc) *Service {
	return &Service{querier: fn, ranges: make(map[string]*cachedRange)}
}

// GetNextNumber returns the next number for cfg in period, e.g. PI-2026-00001.
func (s *Service) GetNextNumber(ctx context.Context, cfg core.Config, opts *core.Options, period time.Time) (string, error) {
	if s == nil {
		return "", fmt.Errorf("numerator service is not initialized")
	}
	if opts == nil {
		opts = core.DefaultOptions()
	}

	key := buildKey(cfg, period)
	ctx, span := tracer.Start(ctx, "numerator.next")
	span.SetAttributes(attribute.String("numerator.key", key))
	defer span.End()

	var (
		num int64
		err error
	)
	if opts.Strategy == core.StrategyCached {
		num, err = s.nextCached(ctx, key, opts.RangeSize)
	} else {
		num, err = s.reserve(ctx, key, 1)
	}
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return formatNumber(cfg, period, num), nil
}

// reserve bumps the sequence by n and returns its new value.
func (s *Service) reserve(ctx context.Context, key string, n int64) (int64, error) {
	var last int64
	err := s.querier(ctx).QueryRow(ctx, `
		INSERT INTO sys_sequences (key, current_val)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET current_val = sys_sequences.current_val + $2
		RETURNING current_val`, key, n).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("next number %s: %w", key, err)
	}
	return last, nil
}

func (s *Service) nextCached(ctx context.Context, key string, size int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rng, ok := s.ranges[key]
	if !ok {
		rng = &cachedRange{}
		s.ranges[key] = rng
	}
	if rng.current >= rng.max {
		if size <= 0 {
			size = 50
		}
		last, err := s.reserve(ctx, key, size)
		if err != nil {
			return 0, err
		}
		rng.current = last - size
		rng.max = last
	}
	rng.current++
	return rng.current, nil
}

// SetNextNumber stores value as the last issued number, for data migration.
func (s *Service) SetNextNumber(ctx context.Context, cfg core.Config, period time.Time, value int64) error {
	key := buildKey(cfg, period)

	var stored int64
	err := s.querier(ctx).QueryRow(ctx, `
		INSERT INTO sys_sequences (key, current_val)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET current_val = $2
		RETURNING current_val`, key, value).Scan(&stored)

	s.mu.Lock()
	delete(s.ranges, key)
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("set number %s: %w", key, err)
	}
	return nil
}

func buildKey(cfg core.Config, period time.Time) string {
	switch cfg.ResetPeriod {
	case "month":
		return cfg.Prefix + "_" + period.Format("2006_01")
	case "year":
		return cfg.Prefix + "_" + period.Format("2006")
	default:
		return cfg.Prefix
	}
}

func formatNumber(cfg core.Config, period time.Time, num int64) string {
	width := cfg.PadWidth
	if width == 0 {
		width = 5
	}
	if cfg.IncludeYear {
		return fmt.Sprintf("%s-%s-%0*d", cfg.Prefix, period.Format("2006"), width, num)
	}
	return fmt.Sprintf("%s-%0*d", cfg.Prefix, width, num)
}

// ParseNumber extracts the numeric part of a formatted number, or -1.
func ParseNumber(formatted string) int64 {
	i := strings.LastIndexByte(formatted, '-')
	if i < 0 {
		return -1
	}
	num, err := strconv.ParseInt(formatted[i+1:], 10, 64)
	if err != nil || num < 0 {
		return -1
	}
	return num
}
