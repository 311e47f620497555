package imaging

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"sync"
	"testing"
)

// createTestImage creates a simple test image file and returns its path.
// The caller is responsible for removing the file.
func createTestImage(t *testing.T, width, height int, c color.Color) string {
	t.Helper()
	return writeTestPNG(t, createInMemoryImage(width, height, c))
}

// createTestImageWithPattern creates a test image with a specific pattern:
// red top-left, green top-right, blue bottom-left, white bottom-right.
func createTestImageWithPattern(t *testing.T, width, height int) string {
	t.Helper()
	return writeTestPNG(t, createPatternImage(width, height))
}

func createInMemoryImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func createPatternImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var c color.Color
			if x < width/2 && y < height/2 {
				c = color.RGBA{255, 0, 0, 255} // Red
			} else if x >= width/2 && y < height/2 {
				c = color.RGBA{0, 255, 0, 255} // Green
			} else if x < width/2 && y >= height/2 {
				c = color.RGBA{0, 0, 255, 255} // Blue
			} else {
				c = color.RGBA{255, 255, 255, 255} // White
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func writeTestPNG(t *testing.T, img image.Image) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "test-image-*.png")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer tmpFile.Close()

	if err := png.Encode(tmpFile, img); err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("failed to encode image: %v", err)
	}
	return tmpFile.Name()
}

func openPrepared(t *testing.T, path string, previewMax int) *LargeImage {
	t.Helper()
	img, err := Open(path, previewMax)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { img.Close() })
	if err := img.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	return img
}

func TestOpen(t *testing.T) {
	imgPath := createTestImage(t, 300, 200, color.RGBA{255, 0, 0, 255})
	defer os.Remove(imgPath)

	img, err := Open(imgPath, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer img.Close()

	desc := img.Descriptor()
	if desc.Width != 300 || desc.Height != 200 {
		t.Errorf("dimensions: got %dx%d, want 300x200", desc.Width, desc.Height)
	}
	if desc.URI != imgPath {
		t.Errorf("URI: got %s, want %s", desc.URI, imgPath)
	}
	if desc.MIME != "image/png" || desc.Format != "png" {
		t.Errorf("format: got %s (%s), want image/png (png)", desc.MIME, desc.Format)
	}
	if desc.Size() != image.Pt(300, 200) {
		t.Errorf("Size: got %v", desc.Size())
	}
	if img.Path() != imgPath {
		t.Errorf("Path: got %s", img.Path())
	}

	stat, _ := os.Stat(imgPath)
	if img.EncodedSize() != stat.Size() {
		t.Errorf("EncodedSize: got %d, want %d", img.EncodedSize(), stat.Size())
	}

	// Nothing is decoded until Prepare.
	if img.Prepared() {
		t.Error("Prepared before Prepare")
	}
	if img.Preview() != nil {
		t.Error("Preview available before Prepare")
	}
}

func TestOpen_NonExistent(t *testing.T) {
	_, err := Open("/nonexistent/path/to/image.png", 0)
	if err == nil {
		t.Error("Open should fail for non-existent file")
	}
}

func TestOpen_InvalidImage(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "invalid-image-*.png")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.WriteString("not an image")
	tmpFile.Close()
	defer os.Remove(tmpFile.Name())

	_, err = Open(tmpFile.Name(), 0)
	if err == nil {
		t.Error("Open should fail for invalid image data")
	}
}

func TestOpenBytes(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, createInMemoryImage(64, 48, color.RGBA{0, 128, 255, 255}), nil); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}

	img, err := OpenBytes("https://example.com/photo.jpg", buf.Bytes(), 0)
	if err != nil {
		t.Fatalf("OpenBytes failed: %v", err)
	}
	defer img.Close()

	desc := img.Descriptor()
	if desc.URI != "https://example.com/photo.jpg" {
		t.Errorf("URI: got %s", desc.URI)
	}
	if desc.MIME != "image/jpeg" {
		t.Errorf("MIME: got %s, want image/jpeg", desc.MIME)
	}
	if desc.Width != 64 || desc.Height != 48 {
		t.Errorf("dimensions: got %dx%d, want 64x48", desc.Width, desc.Height)
	}
	if img.Path() != "" {
		t.Errorf("Path: got %q, want empty for in-memory data", img.Path())
	}
	if img.EncodedSize() != int64(buf.Len()) {
		t.Errorf("EncodedSize: got %d, want %d", img.EncodedSize(), buf.Len())
	}
}

func TestPrepare_BuildsPreview(t *testing.T) {
	imgPath := createTestImage(t, 400, 200, color.RGBA{0, 255, 0, 255})
	defer os.Remove(imgPath)

	img := openPrepared(t, imgPath, 100)
	if !img.Prepared() {
		t.Fatal("Prepared false after Prepare")
	}

	preview := img.Preview()
	if preview == nil {
		t.Fatal("Preview is nil after Prepare")
	}
	b := preview.Bounds()
	if b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("preview: got %dx%d, want 100x50", b.Dx(), b.Dy())
	}
	r, g, bl, _ := preview.At(50, 25).RGBA()
	if r>>8 != 0 || g>>8 != 255 || bl>>8 != 0 {
		t.Errorf("preview colour: got (%d,%d,%d), want green", r>>8, g>>8, bl>>8)
	}
}

func TestPrepare_SmallImageKeepsSize(t *testing.T) {
	imgPath := createTestImage(t, 50, 40, color.RGBA{0, 0, 255, 255})
	defer os.Remove(imgPath)

	img := openPrepared(t, imgPath, 100)
	b := img.Preview().Bounds()
	if b.Dx() != 50 || b.Dy() != 40 {
		t.Errorf("preview: got %dx%d, want 50x40", b.Dx(), b.Dy())
	}
}

func TestPrepare_OnlyOnce(t *testing.T) {
	imgPath := createTestImage(t, 80, 80, color.RGBA{10, 20, 30, 255})
	defer os.Remove(imgPath)

	img := openPrepared(t, imgPath, 40)
	first := img.Preview()
	if err := img.Prepare(context.Background()); err != nil {
		t.Fatalf("second Prepare failed: %v", err)
	}
	if img.Preview() != first {
		t.Error("second Prepare rebuilt the preview")
	}
}

func TestPrepare_Cancelled(t *testing.T) {
	imgPath := createTestImage(t, 80, 80, color.RGBA{10, 20, 30, 255})
	defer os.Remove(imgPath)

	img, err := Open(imgPath, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer img.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := img.Prepare(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Prepare: got %v, want context.Canceled", err)
	}
	// The outcome of the first attempt sticks.
	if err := img.Prepare(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("second Prepare: got %v, want context.Canceled", err)
	}
	if img.Prepared() {
		t.Error("Prepared after a cancelled Prepare")
	}
}

func TestPrepare_ConcurrentCallers(t *testing.T) {
	imgPath := createTestImageWithPattern(t, 120, 120)
	defer os.Remove(imgPath)

	img, err := Open(imgPath, 60)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer img.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- img.Prepare(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Prepare failed: %v", err)
		}
	}
}

func TestMimeType(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"png", "image/png"},
		{"jpeg", "image/jpeg"},
		{"gif", "image/gif"},
		{"bmp", "image/bmp"},
		{"tiff", "image/tiff"},
		{"webp", "image/webp"},
		{"heic", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := mimeType(tt.format); got != tt.want {
			t.Errorf("mimeType(%q): got %s, want %s", tt.format, got, tt.want)
		}
	}
}
