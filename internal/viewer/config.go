package viewer

import (
	"runtime"

	"github.com/ironsheep/large-image-mcp/internal/geometry"
)

// Config holds the construction-time settings of a Viewer.
type Config struct {
	// BudgetBytes caps the bytes held by tile buffers, installed and pooled.
	BudgetBytes int64

	// TileSize is the tile edge in decoded pixels.
	TileSize int

	// PrefetchMargin is the number of extra tile rings decoded around the
	// visible area.
	PrefetchMargin int

	// Workers is the number of decode goroutines, which is also the limit on
	// tiles decoding at once.
	Workers int

	// ExpiredRetention is how many expired tiles keep their pixels until the
	// memory is needed. Zero releases them at once.
	ExpiredRetention int
}

// DefaultConfig returns the recommended settings. New falls back to them for
// a zero BudgetBytes, TileSize or Workers.
func DefaultConfig() Config {
	workers := runtime.NumCPU()
	if workers > 4 {
		workers = 4
	}
	return Config{
		BudgetBytes:      64 << 20,
		TileSize:         geometry.DefaultTileSize,
		PrefetchMargin:   1,
		Workers:          workers,
		ExpiredRetention: 16,
	}
}

// withDefaults fills unset or invalid fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BudgetBytes <= 0 {
		c.BudgetBytes = def.BudgetBytes
	}
	if c.TileSize <= 0 {
		c.TileSize = def.TileSize
	}
	if c.PrefetchMargin < 0 {
		c.PrefetchMargin = 0
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.ExpiredRetention < 0 {
		c.ExpiredRetention = 0
	}
	return c
}
