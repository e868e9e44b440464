package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/didi/gendry/builder"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/mkb/internal/model"
	"github.com/xxxsen/mkb/internal/pkg/dbutil"
)

// chunkInsertBatch keeps a single INSERT well below the 65535 bind
// parameter limit of postgres.
const chunkInsertBatch = 500

type ChunkRepo struct {
	db dbutil.Querier
}

func NewChunkRepo(db dbutil.Querier) *ChunkRepo {
	return &ChunkRepo{db: db}
}

func (r *ChunkRepo) InsertBatch(ctx context.Context, chunks []*model.ChunkEmbedding) error {
	for begin := 0; begin < len(chunks); begin += chunkInsertBatch {
		end := begin + chunkInsertBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := r.insert(ctx, chunks[begin:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *ChunkRepo) insert(ctx context.Context, chunks []*model.ChunkEmbedding) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO source_chunks (id, collection_id, source_id, chunk_index, content, embedding, ctime) VALUES ")
	args := make([]interface{}, 0, len(chunks)*7)
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7)
		args = append(args, c.ID, c.CollectionID, c.SourceID, c.Position, c.Content,
			pgvector.NewVector(c.Embedding), c.Ctime)
	}
	_, err := r.db.ExecContext(ctx, sb.String(), args...)
	return err
}

func (r *ChunkRepo) DeleteBySource(ctx context.Context, sourceID string) (int64, error) {
	return r.delete(ctx, map[string]interface{}{"source_id": sourceID})
}

func (r *ChunkRepo) DeleteByCollection(ctx context.Context, collectionID string) (int64, error) {
	return r.delete(ctx, map[string]interface{}{"collection_id": collectionID})
}

func (r *ChunkRepo) delete(ctx context.Context, where map[string]interface{}) (int64, error) {
	sqlStr, args, err := builder.BuildDelete("source_chunks", where)
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ChunkRepo) CountBySource(ctx context.Context, sourceID string) (int, error) {
	sqlStr, args, err := builder.BuildSelect("source_chunks", map[string]interface{}{"source_id": sourceID}, []string{"count(*)"})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var count int
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListBySource returns the chunks of a source in position order, without
// their vectors.
func (r *ChunkRepo) ListBySource(ctx context.Context, sourceID string) ([]*model.ChunkEmbedding, error) {
	where := map[string]interface{}{
		"source_id": sourceID,
		"_orderby":  "chunk_index asc",
	}
	fields := []string{"id", "collection_id", "source_id", "chunk_index", "content", "ctime"}
	sqlStr, args, err := builder.BuildSelect("source_chunks", where, fields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]*model.ChunkEmbedding, 0)
	for rows.Next() {
		var c model.ChunkEmbedding
		if err := rows.Scan(&c.ID, &c.CollectionID, &c.SourceID, &c.Position, &c.Content, &c.Ctime); err != nil {
			return nil, err
		}
		items = append(items, &c)
	}
	return items, rows.Err()
}

// Search returns the limit chunks closest to query by cosine distance,
// restricted to collectionIDs. Equal distances keep insertion order.
func (r *ChunkRepo) Search(ctx context.Context, query []float32, collectionIDs []string, limit int) ([]model.SearchHit, error) {
	if len(collectionIDs) == 0 || limit <= 0 {
		return []model.SearchHit{}, nil
	}
	const stmt = `
		SELECT c.id, c.collection_id, c.source_id, s.file_name, c.chunk_index, c.content,
			c.embedding <=> $1 AS distance
		FROM source_chunks c
		JOIN sources s ON s.id = c.source_id
		WHERE c.collection_id = ANY($2)
		ORDER BY distance ASC, c.seq ASC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, stmt, pgvector.NewVector(query), pq.Array(collectionIDs), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	hits := make([]model.SearchHit, 0, limit)
	for rows.Next() {
		var hit model.SearchHit
		var distance float64
		if err := rows.Scan(&hit.ChunkID, &hit.CollectionID, &hit.SourceID, &hit.SourceName,
			&hit.Position, &hit.Content, &distance); err != nil {
			return nil, err
		}
		hit.Score = 1 - distance
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}
