package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mkb/internal/model"
	appErr "github.com/xxxsen/mkb/internal/pkg/errors"
)

func TestNoteTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "atx heading", content: "intro\n\n## Release *notes*\n\nbody", want: "Release notes"},
		{name: "setext heading", content: "Weekly sync\n===========\n\ntext", want: "Weekly sync"},
		{name: "code span", content: "# Using `go test`", want: "Using go test"},
		{name: "no heading", content: "\n\n  first line  \nsecond", want: "first line"},
		{name: "empty heading skipped", content: "#\n\n# Real", want: "Real"},
		{name: "blank", content: "   ", want: defaultNoteTitle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, noteTitle(tt.content))
		})
	}
}

func TestSaveNoteCreatesAndUpdates(t *testing.T) {
	f := newIngestFixture(t)
	src, err := f.svc.SaveNote(context.Background(), &NoteRequest{
		OwnerID:      "u1",
		CollectionID: "c1",
		Content:      "# Shopping\n\nmilk and eggs.",
	})
	require.NoError(t, err)
	require.Equal(t, "Shopping", src.FileName)
	require.Equal(t, model.SourceKindNote, src.Kind)
	require.Empty(t, src.StoragePath)
	require.Len(t, f.store.chunksOf(src.ID), 1)

	updated, err := f.svc.SaveNote(context.Background(), &NoteRequest{
		OwnerID:  "u1",
		SourceID: src.ID,
		Content:  "# Shopping\n\nbread.",
	})
	require.NoError(t, err)
	require.Equal(t, model.SourceStatusCompleted, updated.Status)
	chunks := f.store.chunksOf(src.ID)
	require.Len(t, chunks, 1)
	require.Contains(t, chunks[0].Content, "bread.")

	// notes reingest from their stored text
	_, err = f.svc.Reingest(context.Background(), "u1", src.ID)
	require.NoError(t, err)
	require.Contains(t, f.store.chunksOf(src.ID)[0].Content, "bread.")
	require.Empty(t, f.cleaner.paths())
}

func TestSaveNoteValidation(t *testing.T) {
	f := newIngestFixture(t)
	_, err := f.svc.SaveNote(context.Background(), &NoteRequest{OwnerID: "u1", CollectionID: "c1", Content: " \n "})
	require.True(t, appErr.IsValidation(err))

	file, err := f.svc.Ingest(context.Background(), fileRequest("doc.txt", "hello world."))
	require.NoError(t, err)
	_, err = f.svc.SaveNote(context.Background(), &NoteRequest{OwnerID: "u1", SourceID: file.ID, Content: "x"})
	require.True(t, appErr.IsValidation(err))
}

func TestSaveNoteEmbeddingFailure(t *testing.T) {
	f := newIngestFixture(t)
	f.embedder.err = appErr.Wrap(appErr.ErrEmbeddingFailure, errRemoteDown)
	src, err := f.svc.SaveNote(context.Background(), &NoteRequest{OwnerID: "u1", CollectionID: "c1", Title: "t", Content: "body."})
	require.True(t, appErr.IsEmbeddingFailure(err))
	stored := f.store.source(src.ID)
	require.Equal(t, model.SourceStatusFailed, stored.Status)
	require.Equal(t, "body.", stored.ContentText)
}

func TestSaveNoteUpdateFailureKeepsNewBody(t *testing.T) {
	f := newIngestFixture(t)
	src, err := f.svc.SaveNote(context.Background(), &NoteRequest{OwnerID: "u1", CollectionID: "c1", Content: "old body."})
	require.NoError(t, err)

	f.embedder.err = appErr.Wrap(appErr.ErrEmbeddingFailure, errRemoteDown)
	_, err = f.svc.SaveNote(context.Background(), &NoteRequest{OwnerID: "u1", SourceID: src.ID, Content: "new body."})
	require.True(t, appErr.IsEmbeddingFailure(err))
	stored := f.store.source(src.ID)
	require.Equal(t, model.SourceStatusFailed, stored.Status)
	require.Equal(t, "new body.", stored.ContentText)
	require.Empty(t, f.store.chunksOf(src.ID))

	f.embedder.err = nil
	_, err = f.svc.Reingest(context.Background(), "u1", src.ID)
	require.NoError(t, err)
	chunks := f.store.chunksOf(src.ID)
	require.Len(t, chunks, 1)
	require.Contains(t, chunks[0].Content, "new body.")
	require.NotContains(t, chunks[0].Content, "old body.")
}
