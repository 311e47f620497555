package tiles

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/ironsheep/large-image-mcp/internal/pool"
)

func newTask(t *testing.T, p *pool.Pool, id uint64, size image.Point) Task {
	t.Helper()
	buf, err := p.Acquire(size.X * size.Y * pool.BytesPerPixel)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	return Task{
		ID:         id,
		Generation: 1,
		Rect:       image.Rectangle{Max: size},
		SampleSize: 1,
		Size:       size,
		Buffer:     buf,
	}
}

func waitResult(t *testing.T, w *Workers) Result {
	t.Helper()
	select {
	case res, ok := <-w.Results():
		if !ok {
			t.Fatal("results channel closed")
		}
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a result")
	}
	return Result{}
}

func TestWorkers_DecodeIntoBuffer(t *testing.T) {
	p := pool.New(1<<20, 4*4*pool.BytesPerPixel)
	fill := color.RGBA{R: 10, G: 20, B: 30, A: 255}
	dec := DecoderFunc(func(_ context.Context, _ image.Rectangle, _ int, dst *image.RGBA) error {
		b := dst.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst.SetRGBA(x, y, fill)
			}
		}
		return nil
	})

	w := StartWorkers(context.Background(), 2, dec)
	defer w.Stop()

	task := newTask(t, p, 7, image.Pt(4, 4))
	if !w.Submit(task) {
		t.Fatal("Submit rejected a task on an idle pool")
	}

	res := waitResult(t, w)
	if res.Kind != ResultReady {
		t.Fatalf("Kind: got %s, want ready (err %v)", res.Kind, res.Err)
	}
	if res.TaskID != 7 || res.Generation != 1 {
		t.Errorf("result identity: got task %d gen %d", res.TaskID, res.Generation)
	}
	if res.Buffer != task.Buffer {
		t.Error("result does not carry the task's buffer")
	}
	if res.Image.Bounds() != image.Rect(0, 0, 4, 4) {
		t.Errorf("image bounds: got %v", res.Image.Bounds())
	}
	if got := res.Image.RGBAAt(3, 3); got != fill {
		t.Errorf("pixel (3,3): got %v, want %v", got, fill)
	}
	// The image aliases the pool buffer.
	if &res.Image.Pix[0] != &task.Buffer.Pix[0] {
		t.Error("decoded image does not share the pool buffer")
	}
}

func TestWorkers_DecoderErrorIsWrapped(t *testing.T) {
	p := pool.New(1<<20, 16)
	cause := errors.New("corrupt stream")
	dec := DecoderFunc(func(context.Context, image.Rectangle, int, *image.RGBA) error {
		return cause
	})

	w := StartWorkers(context.Background(), 1, dec)
	defer w.Stop()

	w.Submit(newTask(t, p, 1, image.Pt(2, 2)))
	res := waitResult(t, w)
	if res.Kind != ResultFailed {
		t.Fatalf("Kind: got %s, want failed", res.Kind)
	}
	if !errors.Is(res.Err, ErrDecodeFailed) {
		t.Errorf("error %v does not wrap ErrDecodeFailed", res.Err)
	}
	if !errors.Is(res.Err, cause) {
		t.Errorf("error %v does not wrap the decoder error", res.Err)
	}
	if res.Buffer == nil {
		t.Error("failed result lost its buffer")
	}
}

func TestWorkers_PanicBecomesFailure(t *testing.T) {
	p := pool.New(1<<20, 16)
	dec := DecoderFunc(func(context.Context, image.Rectangle, int, *image.RGBA) error {
		panic("bad huffman table")
	})

	w := StartWorkers(context.Background(), 1, dec)
	defer w.Stop()

	w.Submit(newTask(t, p, 1, image.Pt(2, 2)))
	res := waitResult(t, w)
	if res.Kind != ResultFailed {
		t.Fatalf("Kind: got %s, want failed", res.Kind)
	}
	if !errors.Is(res.Err, ErrDecodeFailed) || !strings.Contains(res.Err.Error(), "bad huffman table") {
		t.Errorf("unexpected error: %v", res.Err)
	}
	if res.Image != nil {
		t.Error("failed result carries an image")
	}

	// The worker survives the panic.
	w.Submit(newTask(t, p, 2, image.Pt(2, 2)))
	if res := waitResult(t, w); res.TaskID != 2 {
		t.Errorf("second task: got id %d", res.TaskID)
	}
}

func TestWorkers_StopCancelsInFlight(t *testing.T) {
	p := pool.New(1<<20, 16)
	started := make(chan struct{})
	dec := DecoderFunc(func(ctx context.Context, _ image.Rectangle, _ int, _ *image.RGBA) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	w := StartWorkers(context.Background(), 1, dec)
	w.Submit(newTask(t, p, 1, image.Pt(2, 2)))
	<-started
	w.Stop()

	res := waitResult(t, w)
	if res.Kind != ResultCancelled {
		t.Errorf("Kind: got %s, want cancelled", res.Kind)
	}
	if res.Buffer == nil {
		t.Error("cancelled result lost its buffer")
	}

	select {
	case _, ok := <-w.Results():
		if ok {
			t.Error("unexpected extra result")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("results channel not closed after Stop")
	}
}

func TestWorkers_SubmitAfterStop(t *testing.T) {
	dec := DecoderFunc(func(context.Context, image.Rectangle, int, *image.RGBA) error { return nil })
	w := StartWorkers(context.Background(), 1, dec)
	w.Stop()
	w.Stop()

	p := pool.New(1<<20, 16)
	if w.Submit(newTask(t, p, 1, image.Pt(2, 2))) {
		t.Error("Submit accepted a task after Stop")
	}
}

func TestWorkers_SubmitNeverBlocks(t *testing.T) {
	p := pool.New(1<<20, 16)
	release := make(chan struct{})
	dec := DecoderFunc(func(context.Context, image.Rectangle, int, *image.RGBA) error {
		<-release
		return nil
	})

	w := StartWorkers(context.Background(), 1, dec)
	defer w.Stop()
	defer close(release)

	accepted := 0
	for i := 0; i < 10; i++ {
		if w.Submit(newTask(t, p, uint64(i+1), image.Pt(2, 2))) {
			accepted++
		}
	}
	if accepted == 0 || accepted == 10 {
		t.Errorf("accepted %d of 10 tasks; want the queue to fill", accepted)
	}
}

func TestResultKind_String(t *testing.T) {
	for k, want := range map[ResultKind]string{
		ResultReady:     "ready",
		ResultFailed:    "failed",
		ResultCancelled: "cancelled",
		ResultKind(9):   "unknown",
	} {
		if got := k.String(); got != want {
			t.Errorf("ResultKind(%d): got %s, want %s", k, got, want)
		}
	}
}
