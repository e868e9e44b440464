package embedcache

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mkb/internal/ai"
	"github.com/xxxsen/mkb/internal/model"
)

// Store is the persistent side of the cache, implemented by
// repo.EmbeddingCacheRepo.
type Store interface {
	GetBatch(ctx context.Context, modelName, taskType string, dimension int, contentHashes []string) (map[string][]float32, error)
	SaveBatch(ctx context.Context, items []*model.EmbeddingCache) error
}

func WrapDBCacheToEmbedder(e ai.IEmbedder, store Store) ai.IEmbedder {
	if e == nil || store == nil {
		return e
	}
	return &dbEmbedder{next: e, store: store}
}

type dbEmbedder struct {
	next  ai.IEmbedder
	store Store
}

func (d *dbEmbedder) Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	logger := logutil.GetLogger(ctx)
	dimension := d.next.Dimension()
	keys := make([]cacheKey, len(texts))
	hashes := make([]string, 0, len(texts))
	for i, text := range texts {
		keys[i] = buildCacheKey(d.next.ModelName(), taskType, dimension, text)
		hashes = append(hashes, keys[i].contentHash)
	}
	results := make([][]float32, len(texts))
	cached, err := d.store.GetBatch(ctx, keys[0].modelName, taskType, dimension, hashes)
	if err != nil {
		// fall through to the remote embedder
		logger.Warn("load embedding cache failed", zap.Error(err))
	}
	hits := 0
	for i := range texts {
		if values, ok := cached[keys[i].contentHash]; ok && len(values) == dimension {
			results[i] = values
			hits++
		}
	}
	if hits > 0 {
		logger.Debug("embedding cache hit (db)", zap.String("task_type", taskType),
			zap.Int("hits", hits), zap.Int("batch", len(texts)))
	}
	filled, err := fillMisses(ctx, d.next, texts, taskType, keys, results)
	if err != nil {
		return nil, err
	}
	if len(filled) == 0 {
		return results, nil
	}
	now := time.Now().Unix()
	items := make([]*model.EmbeddingCache, 0, len(filled))
	for _, i := range filled {
		items = append(items, &model.EmbeddingCache{
			ModelName:   keys[i].modelName,
			TaskType:    taskType,
			Dimension:   dimension,
			ContentHash: keys[i].contentHash,
			Embedding:   results[i],
			Ctime:       now,
		})
	}
	if err := d.store.SaveBatch(ctx, items); err != nil {
		logger.Warn("failed to cache embedding", zap.Int("count", len(items)), zap.Error(err))
	}
	return results, nil
}

func (d *dbEmbedder) ModelName() string {
	return d.next.ModelName()
}

func (d *dbEmbedder) Dimension() int {
	return d.next.Dimension()
}
