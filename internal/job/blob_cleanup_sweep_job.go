package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mkb/internal/cleanup"
	"github.com/xxxsen/mkb/internal/model"
)

const sweepBatch = 200

type pendingCleanups interface {
	ListPending(ctx context.Context, cutoff int64, limit uint) ([]*model.BlobCleanupTask, error)
}

// BlobCleanupSweepJob dispatches outbox rows whose earlier dispatch was lost
// or failed.
type BlobCleanupSweepJob struct {
	repo       pendingCleanups
	dispatcher cleanup.Dispatcher
	grace      time.Duration
}

func NewBlobCleanupSweepJob(repo pendingCleanups, dispatcher cleanup.Dispatcher, grace time.Duration) *BlobCleanupSweepJob {
	return &BlobCleanupSweepJob{repo: repo, dispatcher: dispatcher, grace: grace}
}

func (j *BlobCleanupSweepJob) Name() string {
	return "blob_cleanup_sweep"
}

func (j *BlobCleanupSweepJob) Run(ctx context.Context) error {
	if j.repo == nil || j.dispatcher == nil {
		return nil
	}
	grace := j.grace
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	tasks, err := j.repo.ListPending(ctx, time.Now().Add(-grace).Unix(), sweepBatch)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if err := j.dispatcher.Dispatch(ctx, task); err != nil {
			return err
		}
	}
	if len(tasks) > 0 {
		logutil.GetLogger(ctx).Info("blob cleanup tasks redispatched", zap.Int("count", len(tasks)))
	}
	return nil
}
