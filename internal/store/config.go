package store

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the per-store tuning knobs.
type Config struct {
	// NumBatchesToRetain controls the retention horizon: cached versions
	// older than latest-NumBatchesToRetain are evicted, and on disk only
	// files below the newest snapshot at or under that horizon are pruned
	// (with no such snapshot, the whole chain stays on disk).
	NumBatchesToRetain int `validate:"min=1"`
	// MaxDeltaChainForSnapshots is the delta-run length (since the last
	// snapshot) that triggers the maintainer to write a new snapshot.
	MaxDeltaChainForSnapshots int `validate:"min=1"`
	// MaintenancePeriod is how often the maintainer ticks. Fixed at 10s
	// process-wide by default; it is still a field so tests can run the
	// loop faster. Zero is a valid sentinel meaning "never start the shared
	// ticker" — maintenance then only runs when called directly, through
	// Maintainer.RunOnce (as the admin surface's force-maintenance endpoint
	// does) or Store.RunMaintenance (as the S4/S5 tests do).
	MaintenancePeriod time.Duration `validate:"min=0"`
}

// DefaultConfig returns the process-wide defaults.
func DefaultConfig() Config {
	return Config{
		NumBatchesToRetain:        2,
		MaxDeltaChainForSnapshots: 10,
		MaintenancePeriod:         10 * time.Second,
	}
}

var validate = validator.New()

// Validate checks the configuration, returning a ConfigError on the first
// violation.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errConfig("invalid store configuration: %v", err)
	}
	return nil
}
