package decoder

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-product-verifier/pkg/models"
)

func TestNewWorkerPool(t *testing.T) {
	pool := NewWorkerPool(4)
	if pool == nil {
		t.Fatal("Expected non-nil worker pool")
	}
	if pool.workers != 4 {
		t.Errorf("Expected 4 workers, got %d", pool.workers)
	}
}

func TestNewWorkerPool_ZeroWorkers(t *testing.T) {
	pool := NewWorkerPool(0)
	if pool.workers <= 0 {
		t.Errorf("Expected workers to default to NumCPU, got %d", pool.workers)
	}
}

func TestWorkerPool_Submit(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Start()
	defer pool.Close()

	var counter int
	var mu sync.Mutex

	for i := 0; i < 5; i++ {
		if err := pool.Submit(context.Background(), func() {
			mu.Lock()
			counter++
			mu.Unlock()
		}); err != nil {
			t.Fatalf("unexpected submit error: %v", err)
		}
	}

	pool.Wait()

	if counter != 5 {
		t.Errorf("Expected counter to be 5, got %d", counter)
	}
}

func TestWorkerPool_StartAndCloseOnce(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Start()
	pool.Start()

	var ran int32
	if err := pool.Submit(context.Background(), func() { atomic.AddInt32(&ran, 1) }); err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	pool.Wait()

	pool.Close()
	pool.Close()

	if atomic.LoadInt32(&ran) != 1 {
		t.Errorf("Expected job to run once, got %d", ran)
	}
}

// blockingDecoder tracks peak concurrency
type blockingDecoder struct {
	active int32
	peak   int32
	delay  time.Duration
}

func (d *blockingDecoder) Decode(ctx context.Context, img image.Image) (models.DecodedCode, error) {
	n := atomic.AddInt32(&d.active, 1)
	for {
		p := atomic.LoadInt32(&d.peak)
		if n <= p || atomic.CompareAndSwapInt32(&d.peak, p, n) {
			break
		}
	}
	time.Sleep(d.delay)
	atomic.AddInt32(&d.active, -1)
	return models.DecodedCode{RawText: "ok"}, nil
}

func TestPooledDecoder_BoundsConcurrency(t *testing.T) {
	inner := &blockingDecoder{delay: 20 * time.Millisecond}
	pooled := NewPooledDecoder(inner, 2)
	defer pooled.Close()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := pooled.Decode(context.Background(), image.NewGray(image.Rect(0, 0, 1, 1)))
			if err != nil || code.RawText != "ok" {
				t.Errorf("unexpected result %q, %v", code.RawText, err)
			}
		}()
	}
	wg.Wait()

	if peak := atomic.LoadInt32(&inner.peak); peak > 2 {
		t.Errorf("Expected at most 2 concurrent decodes, got %d", peak)
	}
}

func TestPooledDecoder_CancelledContext(t *testing.T) {
	pooled := NewPooledDecoder(&blockingDecoder{}, 1)
	defer pooled.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := pooled.Decode(ctx, image.NewGray(image.Rect(0, 0, 1, 1))); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// gatedDecoder blocks every decode until release is closed
type gatedDecoder struct {
	started chan struct{}
	release chan struct{}
}

func (d *gatedDecoder) Decode(ctx context.Context, img image.Image) (models.DecodedCode, error) {
	select {
	case d.started <- struct{}{}:
	default:
	}
	<-d.release
	return models.DecodedCode{RawText: "ok"}, nil
}

func TestWorkerPool_SubmitHonoursContextWhenFull(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Close()

	// Not started, so the two queue slots fill and stay full
	for i := 0; i < 2; i++ {
		if err := pool.Submit(context.Background(), func() {}); err != nil {
			t.Fatalf("unexpected submit error: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := pool.Submit(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}

	pool.Start()
	pool.Wait()
}

func TestPooledDecoder_DeadlineWhilePoolSaturated(t *testing.T) {
	inner := &gatedDecoder{started: make(chan struct{}, 1), release: make(chan struct{})}
	pooled := NewPooledDecoder(inner, 1)
	defer pooled.Close()
	defer close(inner.release)

	img := image.NewGray(image.Rect(0, 0, 1, 1))

	// Occupy the worker, then fill both queue slots
	go pooled.Decode(context.Background(), img)
	<-inner.started
	for i := 0; i < 2; i++ {
		go pooled.Decode(context.Background(), img)
	}
	deadline := time.Now().Add(time.Second)
	for len(pooled.pool.jobQueue) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := pooled.Decode(ctx, img)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Expected Decode to return near its deadline, took %s", elapsed)
	}
}
