package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/mkb/internal/pkg/errors"
)

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

type groupEmbedder struct {
	items     []EmbedderEntry
	dimension int
}

// NewGroupEmbedder tries each embedder in order until one succeeds. All
// entries must produce vectors of the same dimension.
func NewGroupEmbedder(items []EmbedderEntry) (IEmbedder, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("embedder not configured")
	}
	dimension := 0
	for _, item := range items {
		if item.Embedder == nil {
			continue
		}
		if dimension == 0 {
			dimension = item.Embedder.Dimension()
			continue
		}
		if item.Embedder.Dimension() != dimension {
			return nil, fmt.Errorf("embedder %s has dimension %d, want %d", item.Name, item.Embedder.Dimension(), dimension)
		}
	}
	if dimension == 0 {
		return nil, fmt.Errorf("embedder not configured")
	}
	return &groupEmbedder{items: items, dimension: dimension}, nil
}

func (g *groupEmbedder) Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	var lastErr error
	for i, item := range g.items {
		if item.Embedder == nil {
			continue
		}
		res, err := item.Embedder.Embed(ctx, texts, taskType)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		logutil.GetLogger(ctx).Warn("embedder failed", zap.Int("index", i), zap.String("name", item.Name), zap.Int("batch", len(texts)), zap.Error(err))
	}
	return nil, appErr.WrapEmbedding(lastErr)
}

func (g *groupEmbedder) ModelName() string {
	names := make([]string, 0, len(g.items))
	for _, item := range g.items {
		if item.Name == "" {
			continue
		}
		names = append(names, item.Name)
	}
	if len(names) == 0 {
		return ""
	}
	return strings.Join(names, "|")
}

func (g *groupEmbedder) Dimension() int {
	return g.dimension
}
