package ai

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/mkb/internal/pkg/errors"
)

type fakeProvider struct {
	calls     atomic.Int32
	dimension int
	err       error
	// drop removes the last vector from a response
	drop bool
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) EmbedBatch(_ context.Context, _ string, texts []string, dimension int, _ string) ([][]float32, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	width := p.dimension
	if width == 0 {
		width = dimension
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v := make([]float32, width)
		v[0] = float32(len(text))
		out = append(out, v)
	}
	if p.drop {
		out = out[:len(out)-1]
	}
	return out, nil
}

func TestEmbedderEmptyInputMakesNoCall(t *testing.T) {
	p := &fakeProvider{}
	e := NewEmbedder(p, "m", 4)
	res, err := e.Embed(context.Background(), nil, "RETRIEVAL_DOCUMENT")
	require.NoError(t, err)
	require.Empty(t, res)
	require.NotNil(t, res)
	require.Equal(t, int32(0), p.calls.Load())
}

func TestEmbedderPreservesOrderInOneCall(t *testing.T) {
	p := &fakeProvider{}
	e := NewEmbedder(p, "m", 4)
	res, err := e.Embed(context.Background(), []string{"a", "bbb", "cc"}, "RETRIEVAL_DOCUMENT")
	require.NoError(t, err)
	require.Len(t, res, 3)
	require.Equal(t, float32(1), res[0][0])
	require.Equal(t, float32(3), res[1][0])
	require.Equal(t, float32(2), res[2][0])
	require.Equal(t, int32(1), p.calls.Load())
	require.Equal(t, "m", e.ModelName())
	require.Equal(t, 4, e.Dimension())
}

func TestEmbedderRejectsMalformedResponses(t *testing.T) {
	tests := []struct {
		name      string
		provider  *fakeProvider
		integrity bool
	}{
		{name: "count mismatch", provider: &fakeProvider{drop: true}},
		{name: "wrong width", provider: &fakeProvider{dimension: 3}, integrity: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewEmbedder(tt.provider, "m", 4).Embed(context.Background(), []string{"a", "b"}, "")
			require.Nil(t, res)
			require.True(t, errors.Is(err, ErrMalformedResponse))
			require.Equal(t, tt.integrity, appErr.IsIntegrity(err))
			require.Equal(t, !tt.integrity, appErr.IsEmbeddingFailure(err))
		})
	}
}

func TestWrongWidthSurvivesResilientGroup(t *testing.T) {
	p := &fakeProvider{dimension: 3}
	group, err := NewGroupEmbedder([]EmbedderEntry{{Name: "narrow", Embedder: NewEmbedder(p, "m", 4)}})
	require.NoError(t, err)
	_, err = NewResilientEmbedder(group, fastConfig()).Embed(context.Background(), []string{"a"}, "")
	require.True(t, appErr.IsIntegrity(err))
	require.False(t, appErr.IsEmbeddingFailure(err))
	// not retried
	require.Equal(t, int32(1), p.calls.Load())
}

func TestEmbedderWrapsProviderError(t *testing.T) {
	cause := errors.New("quota exceeded")
	_, err := NewEmbedder(&fakeProvider{err: cause}, "m", 4).Embed(context.Background(), []string{"a"}, "")
	require.True(t, appErr.IsEmbeddingFailure(err))
	require.True(t, errors.Is(err, cause))
}

func TestNewEmbedProviderRegistry(t *testing.T) {
	p, err := NewEmbedProvider("OpenAI", map[string]interface{}{"api_key": "k"})
	require.NoError(t, err)
	require.Equal(t, "openai", p.Name())

	p, err = NewEmbedProvider("openrouter", map[string]interface{}{"api_key": "k"})
	require.NoError(t, err)
	require.Equal(t, "openrouter", p.Name())

	p, err = NewEmbedProvider("gemini", map[string]interface{}{})
	require.NoError(t, err)
	_, err = p.EmbedBatch(context.Background(), "m", []string{"a"}, 4, "")
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = NewEmbedProvider("nope", nil)
	require.Error(t, err)
	_, err = NewEmbedProvider("", nil)
	require.Error(t, err)
}

func TestGroupEmbedderFallsBack(t *testing.T) {
	broken := &fakeProvider{err: errors.New("down")}
	healthy := &fakeProvider{}
	g, err := NewGroupEmbedder([]EmbedderEntry{
		{Name: "primary", Embedder: NewEmbedder(broken, "a", 4)},
		{Name: "backup", Embedder: NewEmbedder(healthy, "b", 4)},
	})
	require.NoError(t, err)
	res, err := g.Embed(context.Background(), []string{"x", "y"}, "")
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, int32(1), broken.calls.Load())
	require.Equal(t, int32(1), healthy.calls.Load())
	require.Equal(t, "primary|backup", g.ModelName())
	require.Equal(t, 4, g.Dimension())
}

func TestGroupEmbedderAllFail(t *testing.T) {
	g, err := NewGroupEmbedder([]EmbedderEntry{
		{Name: "a", Embedder: NewEmbedder(&fakeProvider{err: errors.New("down")}, "a", 4)},
	})
	require.NoError(t, err)
	_, err = g.Embed(context.Background(), []string{"x"}, "")
	require.True(t, appErr.IsEmbeddingFailure(err))
}

func TestGroupEmbedderDimensionMismatch(t *testing.T) {
	_, err := NewGroupEmbedder([]EmbedderEntry{
		{Name: "a", Embedder: NewEmbedder(&fakeProvider{}, "a", 4)},
		{Name: "b", Embedder: NewEmbedder(&fakeProvider{}, "b", 8)},
	})
	require.Error(t, err)
	_, err = NewGroupEmbedder(nil)
	require.Error(t, err)
}
