package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mkb/internal/model"
)

const (
	TaskBlobDelete = "blob:delete"
	QueueCleanup   = "cleanup"
)

type blobDeletePayload struct {
	TaskID      string `json:"task_id"`
	StoragePath string `json:"storage_path"`
}

func NewBlobDeleteTask(task *model.BlobCleanupTask, maxRetry int) (*asynq.Task, error) {
	payload, err := json.Marshal(blobDeletePayload{
		TaskID:      task.ID,
		StoragePath: task.StoragePath,
	})
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(time.Minute),
		asynq.Queue(QueueCleanup),
	}
	if task.ID != "" {
		opts = append(opts, asynq.TaskID(task.ID))
	}
	return asynq.NewTask(TaskBlobDelete, payload, opts...), nil
}

// AsynqDispatcher hands cleanup tasks to a redis backed asynq queue.
type AsynqDispatcher struct {
	client   *asynq.Client
	maxRetry int
}

func NewAsynqDispatcher(redisOpt asynq.RedisClientOpt, maxRetry int) *AsynqDispatcher {
	return &AsynqDispatcher{client: asynq.NewClient(redisOpt), maxRetry: maxRetry}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, task *model.BlobCleanupTask) error {
	t, err := NewBlobDeleteTask(task, d.maxRetry)
	if err != nil {
		return err
	}
	info, err := d.client.EnqueueContext(ctx, t)
	if err != nil {
		// already queued under the same id
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue blob cleanup: %w", err)
	}
	logutil.GetLogger(ctx).Debug("blob cleanup enqueued",
		zap.String("task_id", task.ID), zap.String("queue", info.Queue))
	return nil
}

func (d *AsynqDispatcher) Close() error {
	return d.client.Close()
}

// AsynqServer consumes blob:delete tasks.
type AsynqServer struct {
	server  *asynq.Server
	remover *Remover
}

func NewAsynqServer(redisOpt asynq.RedisClientOpt, concurrency int, remover *Remover) *AsynqServer {
	s := &AsynqServer{remover: remover}
	s.server = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueCleanup: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logutil.GetLogger(ctx).Warn("cleanup task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})
	return s
}

func (s *AsynqServer) HandleBlobDelete(ctx context.Context, t *asynq.Task) error {
	var payload blobDeletePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}
	if payload.StoragePath == "" {
		return fmt.Errorf("empty storage path: %w", asynq.SkipRetry)
	}
	task := &model.BlobCleanupTask{ID: payload.TaskID, StoragePath: payload.StoragePath}
	if err := s.remover.Remove(ctx, task); err != nil {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if retried >= maxRetry {
			s.remover.Fail(ctx, task, err)
		}
		return err
	}
	return nil
}

func (s *AsynqServer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskBlobDelete, s.HandleBlobDelete)
	return s.server.Start(mux)
}

func (s *AsynqServer) Shutdown() {
	s.server.Shutdown()
}
