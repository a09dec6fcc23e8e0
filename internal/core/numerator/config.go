// Package numerator provides domain contracts for document reference numbers.
package numerator

// Strategy defines the numbering generation strategy.
type Strategy int

const (
	// StrategyStrict increments the stored sequence for every number.
	// Gapless, at the cost of a round-trip per number.
	StrategyStrict Strategy = iota

	// StrategyCached reserves ranges in memory. Restarts may leave gaps.
	StrategyCached
)

// ParseStrategy maps a configuration value to a Strategy. Unknown values fall back to strict.
func ParseStrategy(s string) Strategy {
	if s == "cached" {
		return StrategyCached
	}
	return StrategyStrict
}

// Options configuration for number generation.
type Options struct {
	Strategy Strategy
	// RangeSize is the number of values reserved at once by StrategyCached (default 50).
	RangeSize int64
}

// DefaultOptions returns strict options.
func DefaultOptions() *Options {
	return &Options{Strategy: StrategyStrict}
}

// Config holds numbering configuration for one document kind.
type Config struct {
	// Prefix added to all numbers (e.g. "PI", "SA")
	Prefix string

	IncludeYear bool

	// PadWidth is the minimum width of the numeric part (default 5)
	PadWidth int

	// ResetPeriod: "year", "month", "never"
	ResetPeriod string
}

// DefaultConfig returns PREFIX-YEAR-00001 numbering that restarts every year.
func DefaultConfig(prefix string) Config {
	return Config{
		Prefix:      prefix,
		IncludeYear: true,
		PadWidth:    5,
		ResetPeriod: "year",
	}
}
