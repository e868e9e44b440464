package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mkb/internal/model"
	appErr "github.com/xxxsen/mkb/internal/pkg/errors"
)

const staleBatch = 100

type staleSources interface {
	ListStale(ctx context.Context, cutoff int64, limit uint) ([]*model.Source, error)
	FailStale(ctx context.Context, id string, cutoff int64, message string, mtime int64) error
}

// StaleProcessingJob fails sources left in processing by a crashed or
// killed ingestion, dropping any chunks they left, so they can be
// reingested.
type StaleProcessingJob struct {
	repo       staleSources
	staleAfter time.Duration
}

func NewStaleProcessingJob(repo staleSources, staleAfter time.Duration) *StaleProcessingJob {
	return &StaleProcessingJob{repo: repo, staleAfter: staleAfter}
}

func (j *StaleProcessingJob) Name() string {
	return "stale_processing_recovery"
}

func (j *StaleProcessingJob) Run(ctx context.Context) error {
	if j.repo == nil {
		return nil
	}
	staleAfter := j.staleAfter
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	now := time.Now()
	cutoff := now.Add(-staleAfter).Unix()
	sources, err := j.repo.ListStale(ctx, cutoff, staleBatch)
	if err != nil {
		return err
	}
	for _, src := range sources {
		err := j.repo.FailStale(ctx, src.ID, cutoff, "ingestion interrupted", now.Unix())
		if appErr.IsNotFound(err) {
			// finished meanwhile
			continue
		}
		if err != nil {
			return err
		}
		logutil.GetLogger(ctx).Warn("stale source marked failed",
			zap.String("source_id", src.ID), zap.String("collection_id", src.CollectionID))
	}
	return nil
}
