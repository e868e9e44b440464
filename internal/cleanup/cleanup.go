package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mkb/internal/filestore"
	"github.com/xxxsen/mkb/internal/model"
)

// Dispatcher schedules removal of a blob that no longer has an owning
// source. Dispatch never blocks on the removal itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *model.BlobCleanupTask) error
}

// Outbox tracks blob paths whose removal has not been confirmed yet.
type Outbox interface {
	Delete(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id, lastError string, mtime int64) error
}

// Remover deletes the blob of a cleanup task and clears its outbox row.
type Remover struct {
	blobs  filestore.Store
	outbox Outbox
}

func NewRemover(blobs filestore.Store, outbox Outbox) *Remover {
	return &Remover{blobs: blobs, outbox: outbox}
}

// Remove treats a blob that is already gone as removed.
func (r *Remover) Remove(ctx context.Context, task *model.BlobCleanupTask) error {
	deleted, err := r.blobs.Delete(ctx, task.StoragePath)
	if err != nil {
		return fmt.Errorf("delete blob %s: %w", task.StoragePath, err)
	}
	logutil.GetLogger(ctx).Debug("blob removed",
		zap.String("task_id", task.ID),
		zap.String("storage_path", task.StoragePath),
		zap.Bool("existed", deleted))
	if r.outbox == nil || task.ID == "" {
		return nil
	}
	if err := r.outbox.Delete(ctx, task.ID); err != nil {
		return fmt.Errorf("clear cleanup task %s: %w", task.ID, err)
	}
	return nil
}

// Fail leaves the outbox row for the sweeper and records why.
func (r *Remover) Fail(ctx context.Context, task *model.BlobCleanupTask, cause error) {
	logger := logutil.GetLogger(ctx).With(zap.String("task_id", task.ID), zap.String("storage_path", task.StoragePath))
	logger.Warn("blob cleanup failed", zap.Error(cause))
	if r.outbox == nil || task.ID == "" {
		return
	}
	if err := r.outbox.RecordFailure(ctx, task.ID, cause.Error(), time.Now().Unix()); err != nil {
		logger.Warn("record cleanup failure failed", zap.Error(err))
	}
}
