package detail

import (
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ironsheep/large-image-mcp/internal/diskcache"
	"github.com/ironsheep/large-image-mcp/internal/imaging"
	"github.com/ironsheep/large-image-mcp/internal/tiles"
	"github.com/ironsheep/large-image-mcp/internal/viewer"
)

func readySnapshot() viewer.Snapshot {
	return viewer.Snapshot{
		Source:        imaging.SourceImage{URI: "https://example.com/map.png", Width: 4096, Height: 4096, MIME: "image/png"},
		PreviewSize:   image.Pt(512, 512),
		Ready:         true,
		TilesNeeded:   true,
		TileSize:      512,
		Scale:         1,
		VisibleRect:   image.Rect(0, 0, 1024, 1024),
		SampleSize:    1,
		DecodeRect:    image.Rect(0, 0, 1536, 1536),
		DecodeSrcRect: image.Rect(0, 0, 1536, 1536),
		Tiles:         make([]tiles.Info, 9),
		TileBytes:     9 << 20,
	}
}

func assertContains(t *testing.T, text string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(text, w) {
			t.Errorf("report missing %q:\n%s", w, text)
		}
	}
}

func TestBuild_Ready(t *testing.T) {
	d := Build(readySnapshot(), DiskUsage{Known: true, Bytes: 2_500_000, Where: "disk cache"})

	if d.LargeImage != "ready" {
		t.Errorf("LargeImage: got %s, want ready", d.LargeImage)
	}
	if d.TileCount != 9 || d.TileBase != 512 {
		t.Errorf("tiles: count %d base %d", d.TileCount, d.TileBase)
	}
	if d.MemoryEst != 4096*4096*4 {
		t.Errorf("MemoryEst: got %d", d.MemoryEst)
	}
	if d.PreviewBytes != 512*512*4 {
		t.Errorf("PreviewBytes: got %d", d.PreviewBytes)
	}

	assertContains(t, d.Text,
		"URI: https://example.com/map.png",
		"Type: image/png",
		"Size: 4096x4096",
		"Disk usage: 2.5 MB (disk cache)",
		"Memory: 67 MB",
		"Preview size: 512x512",
		"Zoom scale: 1.00",
		"Visible rect: [0,0][1024,1024]",
		"Tile base: 512",
		"Tile count: 9",
		"Decode rect: [0,0][1536,1536]",
		"Decode src rect: [0,0][1536,1536]",
	)
}

func TestBuild_States(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*viewer.Snapshot)
		want   string
		text   string
	}{
		{"initializing", func(s *viewer.Snapshot) { s.Ready, s.Initializing = false, true }, "initializing", "initializing..."},
		{"not needed", func(s *viewer.Snapshot) { s.TilesNeeded = false }, "not needed", "not needed"},
		{"failed", func(s *viewer.Snapshot) { s.Ready, s.Error = false, "failed to decode" }, "failed", "failed to decode"},
		{"closed", func(s *viewer.Snapshot) { s.Ready, s.Destroyed = false, true }, "closed", "closed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := readySnapshot()
			tt.modify(&s)
			d := Build(s, DiskUsage{})
			if d.LargeImage != tt.want {
				t.Errorf("LargeImage: got %s, want %s", d.LargeImage, tt.want)
			}
			if d.TileCount != 0 {
				t.Errorf("tile fields filled in state %s", d.LargeImage)
			}
			assertContains(t, d.Text, tt.text)
			if strings.Contains(d.Text, "Tile count") {
				t.Errorf("tile section present in state %s", d.LargeImage)
			}
		})
	}
}

func TestBuild_UnknownDiskAndNoViewport(t *testing.T) {
	s := readySnapshot()
	s.Scale = 0
	s.VisibleRect = image.Rectangle{}
	s.PreviewSize = image.Point{}

	d := Build(s, DiskUsage{})
	assertContains(t, d.Text, "Disk usage: unknown", "Viewport: not set", "Preview: not available")
}

func TestLookupDiskUsage(t *testing.T) {
	dir := t.TempDir()
	cache, err := diskcache.New(filepath.Join(dir, "cache"))
	if err != nil {
		t.Fatalf("diskcache.New failed: %v", err)
	}

	local := filepath.Join(dir, "local.png")
	if err := os.WriteFile(local, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if got := LookupDiskUsage(cache, local, local); !got.Known || got.Bytes != 10 || got.Where != "local file" {
		t.Errorf("local file: got %+v", got)
	}

	entry, err := cache.Put("https://example.com/a.png", strings.NewReader("cached bytes"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if got := LookupDiskUsage(cache, "https://example.com/a.png", ""); !got.Known || got.Bytes != entry.Size || got.Where != "disk cache" {
		t.Errorf("cache entry: got %+v", got)
	}

	if got := LookupDiskUsage(nil, "https://example.com/b.png", ""); got.Known {
		t.Errorf("nothing on disk: got %+v", got)
	}
}
