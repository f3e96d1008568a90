package journal

import "codeberg.org/mutker/autoprofiled/internal/errors"

const (
	defaultDirPerm   = 0o755
	defaultBatchSize = 16
)

type Config struct {
	DBPath string
	// BatchSize is the number of entries buffered before a flush. Values
	// below two write every entry immediately.
	BatchSize int
	// BatchTimeout is the maximum age of a buffered entry, in seconds.
	BatchTimeout int
	Enabled      bool
}

func DefaultConfig() Config {
	return Config{
		BatchSize:    defaultBatchSize,
		BatchTimeout: 30,
		Enabled:      false,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			BatchSize    int
			BatchTimeout int
		}{
			BatchSize:    c.BatchSize,
			BatchTimeout: c.BatchTimeout,
		})
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
