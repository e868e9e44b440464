package service

import (
	"context"

	"github.com/xxxsen/mkb/internal/model"
)

// KnowledgeStore is the relational side of the knowledge base,
// implemented by repo.KnowledgeStore.
type KnowledgeStore interface {
	CreateCollection(ctx context.Context, c *model.Collection) error
	GetCollection(ctx context.Context, ownerID, id string) (*model.Collection, error)
	ListCollections(ctx context.Context, ownerID string) ([]*model.Collection, error)
	FilterOwnedCollections(ctx context.Context, ownerID string, ids []string) ([]string, error)

	CreateSource(ctx context.Context, src *model.Source) error
	GetSource(ctx context.Context, ownerID, id string) (*model.Source, error)
	ListSources(ctx context.Context, collectionID string) ([]*model.Source, error)
	SetStoragePath(ctx context.Context, id, storagePath string, mtime int64) error
	StartProcessing(ctx context.Context, id string, mtime int64, from ...model.SourceStatus) error
	StartNoteUpdate(ctx context.Context, id, contentText string, mtime int64) error
	FailIngestion(ctx context.Context, id, message string, mtime int64) error

	CommitIngestion(ctx context.Context, src *model.Source, contentText string, chunks []*model.ChunkEmbedding, mtime int64) error
	DeleteSource(ctx context.Context, src *model.Source, now int64) (*model.BlobCleanupTask, error)
	DeleteCollection(ctx context.Context, ownerID, collectionID string, now int64) ([]*model.BlobCleanupTask, error)
	QueueBlobCleanup(ctx context.Context, storagePath, reason string, now int64) (*model.BlobCleanupTask, error)
}

// VectorSearcher runs nearest neighbour queries over stored chunks.
type VectorSearcher interface {
	Search(ctx context.Context, query []float32, collectionIDs []string, limit int) ([]model.SearchHit, error)
}
