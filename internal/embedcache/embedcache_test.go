package embedcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mkb/internal/model"
	appErr "github.com/xxxsen/mkb/internal/pkg/errors"
)

type countingEmbedder struct {
	batches [][]string
	err     error
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string, _ string) ([][]float32, error) {
	c.batches = append(c.batches, append([]string(nil), texts...))
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func (c *countingEmbedder) ModelName() string { return "test-model" }
func (c *countingEmbedder) Dimension() int    { return 2 }

type memoryStore struct {
	mu     sync.Mutex
	rows   map[string][]float32
	getErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: map[string][]float32{}}
}

func (m *memoryStore) GetBatch(_ context.Context, modelName, taskType string, dimension int, hashes []string) (map[string][]float32, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]float32{}
	for _, h := range hashes {
		if v, ok := m.rows[modelName+taskType+h]; ok && len(v) == dimension {
			out[h] = v
		}
	}
	return out, nil
}

func (m *memoryStore) SaveBatch(_ context.Context, items []*model.EmbeddingCache) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		m.rows[item.ModelName+item.TaskType+item.ContentHash] = item.Embedding
	}
	return nil
}

func TestLRUServesHitsAndEmbedsMissesOnce(t *testing.T) {
	next := &countingEmbedder{}
	e := WrapLruCacheToEmbedder(next, 16, time.Minute)
	ctx := context.Background()

	res, err := e.Embed(ctx, []string{"a", "bb"}, "RETRIEVAL_DOCUMENT")
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1, 1}, {2, 1}}, res)

	res, err = e.Embed(ctx, []string{"ccc", "a", "ccc", "bb"}, "RETRIEVAL_DOCUMENT")
	require.NoError(t, err)
	require.Equal(t, [][]float32{{3, 1}, {1, 1}, {3, 1}, {2, 1}}, res)
	require.Equal(t, [][]string{{"a", "bb"}, {"ccc"}}, next.batches)

	// task type is part of the key
	_, err = e.Embed(ctx, []string{"a"}, "RETRIEVAL_QUERY")
	require.NoError(t, err)
	require.Len(t, next.batches, 3)
}

func TestLRUEmptyAndDisabled(t *testing.T) {
	next := &countingEmbedder{}
	require.Same(t, next, WrapLruCacheToEmbedder(next, 0, time.Minute))
	e := WrapLruCacheToEmbedder(next, 4, time.Minute)
	res, err := e.Embed(context.Background(), nil, "")
	require.NoError(t, err)
	require.Empty(t, res)
	require.Empty(t, next.batches)
	require.Equal(t, "test-model", e.ModelName())
	require.Equal(t, 2, e.Dimension())
}

func TestLRUDoesNotCacheFailures(t *testing.T) {
	next := &countingEmbedder{err: appErr.Wrap(appErr.ErrEmbeddingFailure, errors.New("down"))}
	e := WrapLruCacheToEmbedder(next, 4, time.Minute)
	_, err := e.Embed(context.Background(), []string{"a"}, "")
	require.True(t, appErr.IsEmbeddingFailure(err))
	next.err = nil
	_, err = e.Embed(context.Background(), []string{"a"}, "")
	require.NoError(t, err)
	require.Len(t, next.batches, 2)
}

func TestDBCachePersistsMisses(t *testing.T) {
	store := newMemoryStore()
	next := &countingEmbedder{}
	e := WrapDBCacheToEmbedder(next, store)
	ctx := context.Background()

	_, err := e.Embed(ctx, []string{"x", "yy"}, "RETRIEVAL_DOCUMENT")
	require.NoError(t, err)
	require.Len(t, store.rows, 2)

	res, err := e.Embed(ctx, []string{"yy", "zzz"}, "RETRIEVAL_DOCUMENT")
	require.NoError(t, err)
	require.Equal(t, [][]float32{{2, 1}, {3, 1}}, res)
	require.Equal(t, [][]string{{"x", "yy"}, {"zzz"}}, next.batches)
}

func TestDBCacheLookupFailureFallsThrough(t *testing.T) {
	store := newMemoryStore()
	store.getErr = errors.New("connection refused")
	next := &countingEmbedder{}
	res, err := WrapDBCacheToEmbedder(next, store).Embed(context.Background(), []string{"x"}, "")
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1, 1}}, res)
	require.Len(t, next.batches, 1)
}

func TestBuildCacheKey(t *testing.T) {
	a := buildCacheKey(" m ", "q", 768, "hello")
	b := buildCacheKey("m", "q", 1536, "hello")
	require.Equal(t, "m", a.modelName)
	require.Equal(t, a.contentHash, b.contentHash)
	require.NotEqual(t, a.key, b.key)
	require.Equal(t, "unknown", buildCacheKey("", "q", 8, "x").modelName)
}
