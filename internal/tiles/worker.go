package tiles

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/large-image-mcp/internal/pool"
)

// ErrDecodeFailed wraps every error produced while decoding a tile.
var ErrDecodeFailed = errors.New("tiles: decode failed")

// Decoder decodes a region of the source image.
//
// DecodeRegion fills dst, whose bounds start at (0,0) and match rect
// downscaled by sampleSize, with the pixels of rect. It is called from worker
// goroutines and must be safe for concurrent use.
type Decoder interface {
	DecodeRegion(ctx context.Context, rect image.Rectangle, sampleSize int, dst *image.RGBA) error
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(ctx context.Context, rect image.Rectangle, sampleSize int, dst *image.RGBA) error

// DecodeRegion calls f.
func (f DecoderFunc) DecodeRegion(ctx context.Context, rect image.Rectangle, sampleSize int, dst *image.RGBA) error {
	return f(ctx, rect, sampleSize, dst)
}

// Task is a request to decode one tile. It carries copies of the tile's
// geometry and generation, never the tile itself.
type Task struct {
	ID         uint64
	Generation uint64
	Rect       image.Rectangle
	SampleSize int
	Size       image.Point
	Buffer     *pool.Buffer
}

// ResultKind tells the manager how a task ended.
type ResultKind int

const (
	ResultReady ResultKind = iota
	ResultFailed
	ResultCancelled
)

func (k ResultKind) String() string {
	switch k {
	case ResultReady:
		return "ready"
	case ResultFailed:
		return "failed"
	case ResultCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is a finished task handed back to the control goroutine. The buffer
// always travels back with it, whatever the outcome.
type Result struct {
	TaskID     uint64
	Generation uint64
	Kind       ResultKind
	Buffer     *pool.Buffer
	Image      *image.RGBA
	Err        error
}

// Workers is a fixed-size pool of decode goroutines.
type Workers struct {
	tasks   chan Task
	results chan Result
	cancel  context.CancelFunc

	mu      sync.Mutex
	stopped bool
}

// StartWorkers launches n decode goroutines. The results channel is closed
// once Stop has been called and every worker has returned.
func StartWorkers(ctx context.Context, n int, dec Decoder) *Workers {
	if n < 1 {
		n = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	w := &Workers{
		tasks:   make(chan Task, n),
		results: make(chan Result, n),
		cancel:  cancel,
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			for task := range w.tasks {
				w.results <- decode(gctx, dec, task)
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(w.results)
	}()

	return w
}

// Submit queues a task without blocking. It returns false if the queue is
// full or the workers have been stopped.
func (w *Workers) Submit(t Task) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return false
	}
	select {
	case w.tasks <- t:
		return true
	default:
		return false
	}
}

// Results delivers finished tasks.
func (w *Workers) Results() <-chan Result {
	return w.results
}

// Stop cancels in-flight decodes and stops accepting tasks. Tasks already
// queued are drained as cancelled results. Stop is idempotent.
func (w *Workers) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	w.stopped = true
	w.cancel()
	close(w.tasks)
}

// decode runs one task. Panics and errors from the decoder become failed
// results; nothing escapes the worker.
func decode(ctx context.Context, dec Decoder, task Task) (res Result) {
	res = Result{
		TaskID:     task.ID,
		Generation: task.Generation,
		Buffer:     task.Buffer,
	}

	if ctx.Err() != nil {
		res.Kind = ResultCancelled
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			res.Kind = ResultFailed
			res.Image = nil
			res.Err = fmt.Errorf("%w: panic: %v", ErrDecodeFailed, r)
		}
	}()

	img := bufferImage(task.Buffer, task.Size)
	if err := dec.DecodeRegion(ctx, task.Rect, task.SampleSize, img); err != nil {
		if ctx.Err() != nil {
			res.Kind = ResultCancelled
			return res
		}
		res.Kind = ResultFailed
		res.Err = fmt.Errorf("%w: region %v: %w", ErrDecodeFailed, task.Rect, err)
		return res
	}

	res.Kind = ResultReady
	res.Image = img
	return res
}
