package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/mkb/internal/model"
	"github.com/xxxsen/mkb/internal/pkg/dbutil"
)

type EmbeddingCacheRepo struct {
	db dbutil.Querier
}

func NewEmbeddingCacheRepo(db dbutil.Querier) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{db: db}
}

// GetBatch returns the cached vectors keyed by content hash. Missing hashes
// are simply absent from the result.
func (r *EmbeddingCacheRepo) GetBatch(ctx context.Context, modelName, taskType string, dimension int, contentHashes []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(contentHashes))
	if len(contentHashes) == 0 {
		return out, nil
	}
	const query = `
		SELECT content_hash, embedding
		FROM embedding_cache
		WHERE model_name = $1 AND task_type = $2 AND dimension = $3 AND content_hash = ANY($4)
	`
	rows, err := r.db.QueryContext(ctx, query, modelName, taskType, dimension, pq.Array(contentHashes))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var hash string
		var embedding pgvector.Vector
		if err := rows.Scan(&hash, &embedding); err != nil {
			return nil, err
		}
		out[hash] = embedding.Slice()
	}
	return out, rows.Err()
}

func (r *EmbeddingCacheRepo) SaveBatch(ctx context.Context, items []*model.EmbeddingCache) error {
	if len(items) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO embedding_cache (model_name, task_type, dimension, content_hash, embedding, ctime) VALUES ")
	args := make([]interface{}, 0, len(items)*6)
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		key := item.ModelName + "\x00" + item.TaskType + "\x00" + item.ContentHash
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if len(args) > 0 {
			sb.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, item.ModelName, item.TaskType, item.Dimension, item.ContentHash,
			pgvector.NewVector(item.Embedding), item.Ctime)
	}
	sb.WriteString(` ON CONFLICT (model_name, task_type, dimension, content_hash) DO UPDATE SET
		embedding = EXCLUDED.embedding,
		ctime = EXCLUDED.ctime`)
	_, err := r.db.ExecContext(ctx, sb.String(), args...)
	return err
}

func (r *EmbeddingCacheRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	const query = `DELETE FROM embedding_cache WHERE ctime < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
