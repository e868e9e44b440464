package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/xxxsen/mkb/internal/ai"
	appErr "github.com/xxxsen/mkb/internal/pkg/errors"
)

type cacheKey struct {
	key         string
	contentHash string
	modelName   string
}

func buildCacheKey(modelName, taskType string, dimension int, text string) cacheKey {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	hash := sha256.Sum256([]byte(text))
	contentHash := hex.EncodeToString(hash[:])
	return cacheKey{
		key:         fmt.Sprintf("embed:%s:%s:%d:%s", modelName, taskType, dimension, contentHash),
		contentHash: contentHash,
		modelName:   modelName,
	}
}

// fillMisses embeds every text whose result slot is still nil with a single
// call to next. Identical texts are sent once.
func fillMisses(ctx context.Context, next ai.IEmbedder, texts []string, taskType string, keys []cacheKey, results [][]float32) ([]int, error) {
	var (
		order     []string
		orderKeys []string
	)
	slots := make(map[string][]int)
	for i, text := range texts {
		if results[i] != nil {
			continue
		}
		k := keys[i].key
		if _, ok := slots[k]; !ok {
			order = append(order, text)
			orderKeys = append(orderKeys, k)
		}
		slots[k] = append(slots[k], i)
	}
	if len(order) == 0 {
		return nil, nil
	}
	vectors, err := next.Embed(ctx, order, taskType)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(order) {
		return nil, appErr.Wrap(appErr.ErrEmbeddingFailure,
			fmt.Errorf("%w: got %d vectors for %d inputs", ai.ErrMalformedResponse, len(vectors), len(order)))
	}
	// filled holds one slot per distinct text, the rest hold copies
	filled := make([]int, 0, len(order))
	for j, k := range orderKeys {
		for n, i := range slots[k] {
			if n == 0 {
				results[i] = vectors[j]
				filled = append(filled, i)
				continue
			}
			results[i] = cloneEmbedding(vectors[j])
		}
	}
	return filled, nil
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
