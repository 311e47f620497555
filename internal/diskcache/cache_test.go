package diskcache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.Dir() != dir {
		t.Errorf("Dir: got %s, want %s", c.Dir(), dir)
	}
	if stat, err := os.Stat(dir); err != nil || !stat.IsDir() {
		t.Errorf("cache directory not created: %v", err)
	}
}

func TestNew_EmptyDir(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("New should fail without a directory")
	}
}

func TestPutAndReadAll(t *testing.T) {
	c := newTestCache(t)
	data := bytes.Repeat([]byte("large image payload "), 4096)

	entry, err := c.Put("https://example.com/big.png", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if entry.URI != "https://example.com/big.png" {
		t.Errorf("URI: got %s", entry.URI)
	}
	if entry.Size <= 0 || entry.Size >= int64(len(data)) {
		t.Errorf("Size: got %d, want compressed below %d", entry.Size, len(data))
	}
	if filepath.Dir(entry.Path) != c.Dir() {
		t.Errorf("Path %s outside cache directory", entry.Path)
	}

	got, err := c.ReadAll("https://example.com/big.png")
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("ReadAll returned %d bytes, want %d identical bytes", len(got), len(data))
	}
}

func TestGet(t *testing.T) {
	c := newTestCache(t)
	if _, ok := c.Get("mem://missing"); ok {
		t.Error("Get found an entry that was never stored")
	}

	put, err := c.Put("mem://present", strings.NewReader("pixels"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, ok := c.Get("mem://present")
	if !ok {
		t.Fatal("Get missed a stored entry")
	}
	if *got != *put {
		t.Errorf("Get: got %+v, want %+v", got, put)
	}
}

func TestReadAll_NotCached(t *testing.T) {
	c := newTestCache(t)
	_, err := c.ReadAll("mem://missing")
	if !errors.Is(err, ErrNotCached) {
		t.Errorf("got %v, want ErrNotCached", err)
	}
}

func TestPut_Replaces(t *testing.T) {
	c := newTestCache(t)
	if _, err := c.Put("mem://img", strings.NewReader("first")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := c.Put("mem://img", strings.NewReader("second")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := c.ReadAll("mem://img")
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("got %q, want %q", got, "second")
	}

	// No temporary files are left behind.
	files, _ := os.ReadDir(c.Dir())
	if len(files) != 1 {
		t.Errorf("cache holds %d files, want 1", len(files))
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestPut_ReaderError(t *testing.T) {
	c := newTestCache(t)
	if _, err := c.Put("mem://broken", failingReader{}); err == nil {
		t.Fatal("Put should fail when the reader fails")
	}
	if _, ok := c.Get("mem://broken"); ok {
		t.Error("failed Put left an entry")
	}
	files, _ := os.ReadDir(c.Dir())
	if len(files) != 0 {
		t.Errorf("failed Put left %d files", len(files))
	}
}

func TestRemove(t *testing.T) {
	c := newTestCache(t)
	if _, err := c.Put("mem://img", strings.NewReader("pixels")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Remove("mem://img"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, ok := c.Get("mem://img"); ok {
		t.Error("entry still present after Remove")
	}
	if err := c.Remove("mem://img"); err != nil {
		t.Errorf("second Remove: %v", err)
	}
}

func TestEntry_Open(t *testing.T) {
	c := newTestCache(t)
	entry, err := c.Put("mem://stream", strings.NewReader("streamed content"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rc, err := entry.Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if err := rc.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if string(got) != "streamed content" {
		t.Errorf("got %q", got)
	}
}

func TestConcurrentPuts(t *testing.T) {
	c := newTestCache(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uri := fmt.Sprintf("mem://img-%d", i)
			if _, err := c.Put(uri, strings.NewReader(uri)); err != nil {
				t.Errorf("Put %s: %v", uri, err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		uri := fmt.Sprintf("mem://img-%d", i)
		got, err := c.ReadAll(uri)
		if err != nil || string(got) != uri {
			t.Errorf("ReadAll %s: got %q, %v", uri, got, err)
		}
	}
}
