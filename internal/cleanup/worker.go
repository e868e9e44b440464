package cleanup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/mkb/internal/model"
)

var ErrWorkerClosed = errors.New("cleanup worker closed")

type WorkerConfig struct {
	Workers         int
	QueueSize       int
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Worker removes blobs in-process. Tasks that do not fit into the queue or
// exhaust their attempts stay in the outbox until the sweeper dispatches
// them again.
type Worker struct {
	remover *Remover
	cfg     WorkerConfig
	queue   chan *model.BlobCleanupTask

	mu     sync.RWMutex
	closed bool
	group  errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

func NewWorker(remover *Remover, cfg WorkerConfig) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	return &Worker{
		remover: remover,
		cfg:     cfg,
		queue:   make(chan *model.BlobCleanupTask, cfg.QueueSize),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.ctx, w.cancel = context.WithCancel(ctx)
	for i := 0; i < w.cfg.Workers; i++ {
		w.group.Go(func() error {
			for task := range w.queue {
				w.handle(w.ctx, task)
			}
			return nil
		})
	}
}

func (w *Worker) Dispatch(ctx context.Context, task *model.BlobCleanupTask) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWorkerClosed
	}
	select {
	case w.queue <- task:
	default:
		logutil.GetLogger(ctx).Warn("cleanup queue full, leaving task to sweeper",
			zap.String("task_id", task.ID), zap.String("storage_path", task.StoragePath))
	}
	return nil
}

// Close stops accepting tasks and waits for queued ones until ctx expires.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = w.group.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if w.cancel != nil {
			w.cancel()
		}
		<-done
		return ctx.Err()
	}
	if w.cancel != nil {
		w.cancel()
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, task *model.BlobCleanupTask) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.cfg.InitialInterval
	policy.MaxInterval = w.cfg.MaxInterval
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, w.remover.Remove(ctx, task)
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(w.cfg.MaxAttempts)))
	if err != nil {
		w.remover.Fail(context.WithoutCancel(ctx), task, err)
	}
}
