package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"io"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/exp/mmap"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

// DefaultPreviewSize is the longest edge of the preview when none is given.
const DefaultPreviewSize = 1024

// ErrNotPrepared is returned by region decodes issued before Prepare succeeded.
var ErrNotPrepared = errors.New("imaging: image not prepared")

// SourceImage describes an opened image. It never changes after Open.
type SourceImage struct {
	// URI identifies the image: a file path or the key it was imported under.
	URI string `json:"uri"`

	// Width is the image width in pixels.
	Width int `json:"width"`

	// Height is the image height in pixels.
	Height int `json:"height"`

	// MIME is the content type derived from the detected format, such as
	// "image/png". Unrecognised formats report "application/octet-stream".
	MIME string `json:"mime"`

	// Format is the registered decoder name: "png", "jpeg", "gif", "bmp",
	// "tiff" or "webp".
	Format string `json:"format"`
}

// Size returns the image dimensions as a point.
func (s SourceImage) Size() image.Point {
	return image.Pt(s.Width, s.Height)
}

// LargeImage is an opened source image.
//
// Opening only reads the header. Prepare decodes the pixels once and builds
// the low-resolution preview; after that DecodeRegion serves tiles from the
// decoded pixels and is safe for concurrent use.
//
// # Example Usage
//
//	img, err := imaging.Open("/path/to/scan.tiff", 1024)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer img.Close()
//	if err := img.Prepare(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	preview := img.Preview()
type LargeImage struct {
	desc       SourceImage
	path       string
	reader     io.ReaderAt
	size       int64
	closer     io.Closer
	previewMax int

	once    sync.Once
	mu      sync.RWMutex
	full    image.Image
	preview *image.NRGBA
	err     error
}

// Open maps the file at path into memory and reads its header.
//
// Parameters:
//   - path: Path to the image file. Any format with a registered decoder is
//     accepted: PNG, JPEG, GIF, BMP, TIFF and WebP.
//   - previewMax: Longest edge of the preview in pixels. Values below 1 use
//     DefaultPreviewSize.
//
// Returns:
//   - *LargeImage: The opened image. The caller must Close it.
//   - error: Non-nil if the file cannot be mapped or its header is not a
//     recognised image.
func Open(path string, previewMax int) (*LargeImage, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	img, err := newLargeImage(path, r, int64(r.Len()), previewMax)
	if err != nil {
		r.Close()
		return nil, err
	}
	img.path = path
	img.closer = r
	return img, nil
}

// OpenBytes reads the header of an encoded image held in memory. uri is
// reported in the descriptor and need not name a file.
func OpenBytes(uri string, data []byte, previewMax int) (*LargeImage, error) {
	return newLargeImage(uri, bytes.NewReader(data), int64(len(data)), previewMax)
}

func newLargeImage(uri string, r io.ReaderAt, size int64, previewMax int) (*LargeImage, error) {
	cfg, format, err := image.DecodeConfig(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("image has no pixels: %dx%d", cfg.Width, cfg.Height)
	}
	if previewMax < 1 {
		previewMax = DefaultPreviewSize
	}

	return &LargeImage{
		desc: SourceImage{
			URI:    uri,
			Width:  cfg.Width,
			Height: cfg.Height,
			MIME:   mimeType(format),
			Format: format,
		},
		reader:     r,
		size:       size,
		previewMax: previewMax,
	}, nil
}

// Descriptor returns the immutable image description.
func (l *LargeImage) Descriptor() SourceImage {
	return l.desc
}

// Path returns the file the image was opened from, or "" for in-memory data.
func (l *LargeImage) Path() string {
	return l.path
}

// EncodedSize returns the size of the encoded image in bytes.
func (l *LargeImage) EncodedSize() int64 {
	return l.size
}

// Prepare decodes the image and builds its preview. Only the first call does
// any work; later calls return the first call's result.
//
// The decode itself cannot be interrupted. ctx is checked before it starts
// and before the preview is built.
func (l *LargeImage) Prepare(ctx context.Context) error {
	l.once.Do(func() {
		l.setResult(l.prepare(ctx))
	})
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

func (l *LargeImage) prepare(ctx context.Context) (image.Image, *image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	full, _, err := image.Decode(io.NewSectionReader(l.reader, 0, l.size))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var preview *image.NRGBA
	b := full.Bounds()
	if b.Dx() > l.previewMax || b.Dy() > l.previewMax {
		preview = imaging.Fit(full, l.previewMax, l.previewMax, imaging.Box)
	} else {
		preview = imaging.Clone(full)
	}
	return full, preview, nil
}

func (l *LargeImage) setResult(full image.Image, preview *image.NRGBA, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.full, l.preview, l.err = full, preview, err
}

// Prepared reports whether Prepare has completed successfully.
func (l *LargeImage) Prepared() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.full != nil
}

// Preview returns the low-resolution preview, or nil before Prepare.
func (l *LargeImage) Preview() image.Image {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.preview == nil {
		return nil
	}
	return l.preview
}

// Close releases the file mapping. Decoded pixels stay usable.
func (l *LargeImage) Close() error {
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	return err
}

func (l *LargeImage) source() image.Image {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.full
}

func mimeType(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "bmp":
		return "image/bmp"
	case "tiff":
		return "image/tiff"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
