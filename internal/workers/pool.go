// Package workers runs blocking work such as file hashing and converter subprocesses on a
// bounded number of goroutines with a per-task deadline.
package workers

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/kapnodes/kapimage/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// PoolConfig contains configuration for the worker pool
type PoolConfig struct {
	MaxWorkers int           `mapstructure:"max" yaml:"max"`         // Concurrent tasks
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"` // Deadline per task
}

// Pool bounds concurrency of blocking tasks
type Pool struct {
	sem     *semaphore.Weighted
	size    int64
	timeout time.Duration
	logger  *zap.Logger
}

// NewPool creates a pool, defaulting to GOMAXPROCS workers and a 60s timeout
func NewPool(config PoolConfig) *Pool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = runtime.GOMAXPROCS(0)
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(config.MaxWorkers)),
		size:    int64(config.MaxWorkers),
		timeout: config.Timeout,
		logger:  logger.Get(),
	}
}

// Do waits for a free slot and runs fn with a context bounded by the pool timeout.
// If fn overruns the deadline Do returns the context error without waiting for it;
// fn is expected to honour ctx.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.DoTimeout(ctx, p.timeout, fn)
}

// DoTimeout is Do with an explicit deadline
func (p *Pool) DoTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		timeout = p.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for worker: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Worker task panicked", zap.Any("panic", r))
				done <- fmt.Errorf("worker task panicked: %v", r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		p.logger.Warn("Worker task exceeded deadline", zap.Duration("timeout", timeout))
		return fmt.Errorf("worker task: %w", ctx.Err())
	}
}

// Size returns the maximum number of concurrent tasks
func (p *Pool) Size() int {
	return int(p.size)
}

// Timeout returns the default per-task deadline
func (p *Pool) Timeout() time.Duration {
	return p.timeout
}
