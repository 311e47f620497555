package tiles

import (
	"image"

	"github.com/ironsheep/large-image-mcp/internal/geometry"
	"github.com/ironsheep/large-image-mcp/internal/pool"
)

// State is a tile's position in its lifecycle.
type State int

const (
	// Pending tiles are queued and waiting for a worker slot.
	Pending State = iota
	// Decoding tiles have a task in flight and a buffer on loan to a worker.
	Decoding
	// Ready tiles own a decoded buffer.
	Ready
	// Expired tiles are no longer needed. A retained buffer may still be
	// reclaimed from them.
	Expired
	// Released tiles have returned their buffer and left the manager.
	Released
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Decoding:
		return "decoding"
	case Ready:
		return "ready"
	case Expired:
		return "expired"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// Tile is one grid cell of the source image decoded at a sample size.
// Tiles are owned by the Manager and only touched from its goroutine.
type Tile struct {
	Cell       geometry.Cell
	State      State
	Generation uint64

	// Err is the decode error of a tile that failed.
	Err error

	buf *pool.Buffer
	img *image.RGBA
}

// Image returns the decoded pixels of a Ready tile, or nil.
func (t *Tile) Image() *image.RGBA {
	if t.State != Ready {
		return nil
	}
	return t.img
}

// Bytes returns the size class of the buffer the tile currently holds.
func (t *Tile) Bytes() int {
	if t.buf == nil {
		return 0
	}
	return t.buf.Class()
}

// Info is a read-only snapshot of a tile for diagnostics.
type Info struct {
	Row        int             `json:"row"`
	Col        int             `json:"col"`
	Rect       image.Rectangle `json:"rect"`
	SampleSize int             `json:"sample_size"`
	State      string          `json:"state"`
	Generation uint64          `json:"generation"`
	Bytes      int             `json:"bytes"`
	Margin     bool            `json:"margin"`
	Error      string          `json:"error,omitempty"`
}

func (t *Tile) info() Info {
	in := Info{
		Row:        t.Cell.Row,
		Col:        t.Cell.Col,
		Rect:       t.Cell.Rect,
		SampleSize: t.Cell.SampleSize,
		State:      t.State.String(),
		Generation: t.Generation,
		Bytes:      t.Bytes(),
		Margin:     t.Cell.Margin,
	}
	if t.Err != nil {
		in.Error = t.Err.Error()
	}
	return in
}

// bufferImage wraps a pool buffer as an RGBA image of the given size.
func bufferImage(b *pool.Buffer, size image.Point) *image.RGBA {
	stride := size.X * pool.BytesPerPixel
	return &image.RGBA{
		Pix:    b.Pix[:stride*size.Y],
		Stride: stride,
		Rect:   image.Rectangle{Max: size},
	}
}
