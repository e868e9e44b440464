package errors

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapMatchesKindAndCause(t *testing.T) {
	err := Wrap(ErrStorage, io.ErrUnexpectedEOF)
	require.True(t, IsStorage(err))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.False(t, IsEmbeddingFailure(err))
	require.Equal(t, "storage error: unexpected EOF", err.Error())
}

func TestWrapNilAndAlreadyKinded(t *testing.T) {
	require.NoError(t, Wrap(ErrStorage, nil))
	inner := Wrap(ErrIntegrity, io.EOF)
	require.Same(t, inner, Wrap(ErrIntegrity, inner))
}

func TestExtractionSentinelsShareKind(t *testing.T) {
	require.True(t, IsExtraction(ErrUnsupportedType))
	require.True(t, IsExtraction(ErrExtractionFailed))
	require.False(t, errors.Is(ErrUnsupportedType, ErrExtractionFailed))

	err := Wrap(ErrValidation, ErrUnsupportedType)
	require.True(t, IsValidation(err))
	require.ErrorIs(t, err, ErrUnsupportedType)
	require.True(t, IsExtraction(err))
}

func TestWrapf(t *testing.T) {
	err := Wrapf(ErrIntegrity, "vector dimension %d, want %d", 3, 4)
	require.True(t, IsIntegrity(err))
	require.Equal(t, "integrity error: vector dimension 3, want 4", err.Error())
}

func TestWrapEmbeddingKeepsIntegrity(t *testing.T) {
	width := Wrap(ErrIntegrity, io.ErrShortBuffer)
	require.Equal(t, width, WrapEmbedding(width))
	require.False(t, IsEmbeddingFailure(WrapEmbedding(width)))

	err := WrapEmbedding(io.EOF)
	require.True(t, IsEmbeddingFailure(err))
	require.ErrorIs(t, err, io.EOF)
	require.Nil(t, WrapEmbedding(nil))
}
