package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type cacheCleaner interface {
	DeleteBefore(ctx context.Context, cutoff int64) (int64, error)
}

// EmbeddingCacheCleanupJob expires persisted embeddings older than maxAge.
type EmbeddingCacheCleanupJob struct {
	cache  cacheCleaner
	maxAge time.Duration
}

func NewEmbeddingCacheCleanupJob(cache cacheCleaner, maxAge time.Duration) *EmbeddingCacheCleanupJob {
	return &EmbeddingCacheCleanupJob{cache: cache, maxAge: maxAge}
}

func (j *EmbeddingCacheCleanupJob) Name() string {
	return "embedding_cache_cleanup"
}

func (j *EmbeddingCacheCleanupJob) Run(ctx context.Context) error {
	if j.cache == nil {
		return nil
	}
	maxAge := j.maxAge
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	removed, err := j.cache.DeleteBefore(ctx, time.Now().Add(-maxAge).Unix())
	if err != nil {
		return err
	}
	if removed > 0 {
		logutil.GetLogger(ctx).Info("expired embedding cache rows removed", zap.Int64("count", removed))
	}
	return nil
}
