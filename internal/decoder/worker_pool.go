package decoder

import (
	"context"
	"image"
	"runtime"
	"sync"

	"go-product-verifier/pkg/models"
)

// WorkerPool runs decode jobs on a fixed number of goroutines
type WorkerPool struct {
	workers  int
	jobQueue chan func()
	wg       sync.WaitGroup
	start    sync.Once
	stop     sync.Once
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &WorkerPool{
		workers:  workers,
		jobQueue: make(chan func(), workers*2),
	}
}

// Start launches the workers; later calls are no-ops
func (wp *WorkerPool) Start() {
	wp.start.Do(func() {
		for i := 0; i < wp.workers; i++ {
			go wp.worker()
		}
	})
}

func (wp *WorkerPool) worker() {
	for job := range wp.jobQueue {
		job()
		wp.wg.Done()
	}
}

// Submit queues a job, blocking while the queue is full. It gives up with
// ctx.Err() when ctx ends before a slot frees up.
func (wp *WorkerPool) Submit(ctx context.Context, job func()) error {
	wp.wg.Add(1)
	select {
	case wp.jobQueue <- job:
		return nil
	case <-ctx.Done():
		wp.wg.Done()
		return ctx.Err()
	}
}

// Wait blocks until every submitted job has finished
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Close stops accepting jobs; queued jobs still run
func (wp *WorkerPool) Close() {
	wp.stop.Do(func() {
		close(wp.jobQueue)
	})
}

// PooledDecoder bounds how many decodes run at once across all callers
type PooledDecoder struct {
	inner Decoder
	pool  *WorkerPool
}

// NewPooledDecoder wraps inner with a started pool of the given size
func NewPooledDecoder(inner Decoder, workers int) *PooledDecoder {
	pool := NewWorkerPool(workers)
	pool.Start()
	return &PooledDecoder{inner: inner, pool: pool}
}

type decodeResult struct {
	code models.DecodedCode
	err  error
}

// Decode hands the image to a worker and waits for the result or ctx
func (p *PooledDecoder) Decode(ctx context.Context, img image.Image) (models.DecodedCode, error) {
	if err := ctx.Err(); err != nil {
		return models.DecodedCode{}, err
	}

	done := make(chan decodeResult, 1)
	err := p.pool.Submit(ctx, func() {
		if ctx.Err() != nil {
			done <- decodeResult{err: ctx.Err()}
			return
		}
		code, err := p.inner.Decode(ctx, img)
		done <- decodeResult{code: code, err: err}
	})
	if err != nil {
		return models.DecodedCode{}, err
	}

	select {
	case res := <-done:
		return res.code, res.err
	case <-ctx.Done():
		return models.DecodedCode{}, ctx.Err()
	}
}

// Close drains the pool
func (p *PooledDecoder) Close() {
	p.pool.Close()
	p.pool.Wait()
}
