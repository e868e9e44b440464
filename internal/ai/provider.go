package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	appErr "github.com/xxxsen/mkb/internal/pkg/errors"
)

var (
	ErrUnavailable       = errors.New("embedding provider unavailable")
	ErrMalformedResponse = errors.New("malformed embedding response")
	ErrRejected          = errors.New("embedding request rejected")
)

// IEmbedProvider is one remote embedding API. EmbedBatch returns one vector
// per input text, in input order, each of exactly dimension floats.
type IEmbedProvider interface {
	Name() string
	EmbedBatch(ctx context.Context, model string, texts []string, dimension int, taskType string) ([][]float32, error)
}

// IEmbedder embeds a batch of texts with a fixed model and dimension.
// A single query is embedded as a one element batch.
type IEmbedder interface {
	Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error)
	ModelName() string
	Dimension() int
}

type embedder struct {
	provider  IEmbedProvider
	model     string
	dimension int
}

func NewEmbedder(p IEmbedProvider, model string, dimension int) IEmbedder {
	return &embedder{provider: p, model: model, dimension: dimension}
}

func (e *embedder) Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vectors, err := e.provider.EmbedBatch(ctx, e.model, texts, e.dimension, taskType)
	if err != nil {
		return nil, appErr.Wrap(appErr.ErrEmbeddingFailure, fmt.Errorf("%s: %w", e.provider.Name(), err))
	}
	if err := checkVectors(vectors, len(texts), e.dimension); err != nil {
		return nil, appErr.WrapEmbedding(fmt.Errorf("%s: %w", e.provider.Name(), err))
	}
	return vectors, nil
}

func (e *embedder) ModelName() string {
	return e.model
}

func (e *embedder) Dimension() int {
	return e.dimension
}

func checkVectors(vectors [][]float32, count, dimension int) error {
	if len(vectors) != count {
		return fmt.Errorf("%w: got %d vectors for %d inputs", ErrMalformedResponse, len(vectors), count)
	}
	for i, v := range vectors {
		if len(v) != dimension {
			return appErr.Wrap(appErr.ErrIntegrity,
				fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrMalformedResponse, i, len(v), dimension))
		}
	}
	return nil
}

type EmbedProviderFactory func(args interface{}) (IEmbedProvider, error)

var (
	embedRegistryMu sync.RWMutex
	embedRegistry   = map[string]EmbedProviderFactory{}
)

func RegisterEmbed(name string, factory EmbedProviderFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	embedRegistryMu.Lock()
	embedRegistry[key] = factory
	embedRegistryMu.Unlock()
}

func NewEmbedProvider(name string, args interface{}) (IEmbedProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("embedder.provider is required")
	}
	embedRegistryMu.RLock()
	factory := embedRegistry[key]
	embedRegistryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported embed provider: %s", name)
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("ai provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode ai provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode ai provider config: %w", err)
	}
	return nil
}
