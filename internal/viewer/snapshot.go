package viewer

import (
	"image"

	"github.com/ironsheep/large-image-mcp/internal/imaging"
	"github.com/ironsheep/large-image-mcp/internal/pool"
	"github.com/ironsheep/large-image-mcp/internal/tiles"
)

// Snapshot is a read-only view of a viewer for diagnostics.
type Snapshot struct {
	Source      imaging.SourceImage `json:"source"`
	PreviewSize image.Point         `json:"preview_size"`

	Ready        bool   `json:"ready"`
	Initializing bool   `json:"initializing"`
	Destroyed    bool   `json:"destroyed"`
	Error        string `json:"error,omitempty"`

	// TilesNeeded is false when the preview already holds every source pixel,
	// in which case no tiles are ever decoded.
	TilesNeeded bool `json:"tiles_needed"`

	TileSize     int  `json:"tile_size"`
	ShowTileRect bool `json:"show_tile_rect"`

	// Scale and VisibleRect describe the last applied viewport.
	Scale       float64         `json:"scale"`
	VisibleRect image.Rectangle `json:"visible_rect"`
	SampleSize  int             `json:"sample_size"`

	DecodeRect    image.Rectangle `json:"decode_rect"`
	DecodeSrcRect image.Rectangle `json:"decode_src_rect"`

	Tiles      []tiles.Info `json:"tiles"`
	TileBytes  int64        `json:"tile_bytes"`
	Generation uint64       `json:"generation"`
	Pool       pool.Stats   `json:"pool"`
}
