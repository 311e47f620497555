// Package detail turns a viewer snapshot into the human-readable report shown
// by the image detail tool.
package detail

import (
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/ironsheep/large-image-mcp/internal/diskcache"
	"github.com/ironsheep/large-image-mcp/internal/pool"
	"github.com/ironsheep/large-image-mcp/internal/viewer"
)

// DiskUsage is where an image's bytes live on disk, if anywhere.
type DiskUsage struct {
	Known bool `json:"known"`

	// Bytes is the on-disk size.
	Bytes int64 `json:"bytes"`

	// Where is "disk cache" or "local file".
	Where string `json:"where,omitempty"`
}

// LookupDiskUsage reports the disk cache entry for uri if there is one,
// otherwise the size of localPath. cache may be nil and localPath empty.
func LookupDiskUsage(cache *diskcache.Cache, uri, localPath string) DiskUsage {
	if cache != nil {
		if entry, ok := cache.Get(uri); ok {
			return DiskUsage{Known: true, Bytes: entry.Size, Where: "disk cache"}
		}
	}
	if localPath != "" {
		if stat, err := os.Stat(localPath); err == nil && stat.Mode().IsRegular() {
			return DiskUsage{Known: true, Bytes: stat.Size(), Where: "local file"}
		}
	}
	return DiskUsage{}
}

// Detail is the structured form of the report.
type Detail struct {
	URI       string    `json:"uri"`
	MIME      string    `json:"mime"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Disk      DiskUsage `json:"disk"`
	MemoryEst int64     `json:"memory_estimate"`

	PreviewWidth  int   `json:"preview_width"`
	PreviewHeight int   `json:"preview_height"`
	PreviewBytes  int64 `json:"preview_bytes"`

	Scale       float64         `json:"scale"`
	VisibleRect image.Rectangle `json:"visible_rect"`

	// LargeImage is "ready", "initializing", "not needed", "failed" or
	// "closed". The tile fields are only meaningful when it is "ready".
	LargeImage    string          `json:"large_image"`
	TileBytes     int64           `json:"tile_bytes"`
	TileBase      int             `json:"tile_base"`
	TileCount     int             `json:"tile_count"`
	DecodeRect    image.Rectangle `json:"decode_rect"`
	DecodeSrcRect image.Rectangle `json:"decode_src_rect"`
	Error         string          `json:"error,omitempty"`

	Text string `json:"text"`
}

// Build assembles the report for a viewer snapshot.
func Build(s viewer.Snapshot, disk DiskUsage) *Detail {
	d := &Detail{
		URI:           s.Source.URI,
		MIME:          s.Source.MIME,
		Width:         s.Source.Width,
		Height:        s.Source.Height,
		Disk:          disk,
		MemoryEst:     int64(s.Source.Width) * int64(s.Source.Height) * pool.BytesPerPixel,
		PreviewWidth:  s.PreviewSize.X,
		PreviewHeight: s.PreviewSize.Y,
		PreviewBytes:  int64(s.PreviewSize.X) * int64(s.PreviewSize.Y) * pool.BytesPerPixel,
		Scale:         s.Scale,
		VisibleRect:   s.VisibleRect,
		Error:         s.Error,
	}

	switch {
	case s.Destroyed:
		d.LargeImage = "closed"
	case s.Error != "":
		d.LargeImage = "failed"
	case s.Initializing:
		d.LargeImage = "initializing"
	case !s.TilesNeeded:
		d.LargeImage = "not needed"
	default:
		d.LargeImage = "ready"
		d.TileBytes = s.TileBytes
		d.TileBase = s.TileSize
		d.TileCount = len(s.Tiles)
		d.DecodeRect = s.DecodeRect
		d.DecodeSrcRect = s.DecodeSrcRect
	}

	d.Text = d.render()
	return d
}

func (d *Detail) render() string {
	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "%s: %s\n", label, value)
	}

	line("URI", d.URI)
	line("Type", d.MIME)
	line("Size", fmt.Sprintf("%dx%d", d.Width, d.Height))
	if d.Disk.Known {
		line("Disk usage", fmt.Sprintf("%s (%s)", bytesString(d.Disk.Bytes), d.Disk.Where))
	} else {
		line("Disk usage", "unknown")
	}
	line("Memory", bytesString(d.MemoryEst))

	b.WriteString("\n")
	if d.PreviewWidth > 0 {
		line("Preview size", fmt.Sprintf("%dx%d", d.PreviewWidth, d.PreviewHeight))
		line("Preview memory", bytesString(d.PreviewBytes))
	} else {
		line("Preview", "not available")
	}

	b.WriteString("\n")
	if d.Scale > 0 {
		line("Zoom scale", strconv.FormatFloat(d.Scale, 'f', 2, 64))
		line("Visible rect", shortRect(d.VisibleRect))
	} else {
		line("Viewport", "not set")
	}

	b.WriteString("\n")
	switch d.LargeImage {
	case "ready":
		line("Tile memory", bytesString(d.TileBytes))
		line("Tile base", strconv.Itoa(d.TileBase))
		line("Tile count", strconv.Itoa(d.TileCount))
		line("Decode rect", shortRect(d.DecodeRect))
		line("Decode src rect", shortRect(d.DecodeSrcRect))
	case "initializing":
		b.WriteString("Large image viewer initializing...\n")
	case "not needed":
		b.WriteString("Large image viewer not needed\n")
	case "failed":
		line("Large image viewer failed", d.Error)
	default:
		b.WriteString("Large image viewer closed\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func bytesString(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// shortRect formats r as "[x0,y0][x1,y1]".
func shortRect(r image.Rectangle) string {
	return fmt.Sprintf("[%d,%d][%d,%d]", r.Min.X, r.Min.Y, r.Max.X, r.Max.Y)
}
