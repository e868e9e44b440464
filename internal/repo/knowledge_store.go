package repo

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/xxxsen/mkb/internal/model"
	"github.com/xxxsen/mkb/internal/pkg/dbutil"
)

// KnowledgeStore groups the collection, source, chunk and outbox tables.
// Every operation that writes more than one row runs in a single
// transaction, so readers never see a partially replaced chunk set.
type KnowledgeStore struct {
	db          *sql.DB
	collections *CollectionRepo
	sources     *SourceRepo
	chunks      *ChunkRepo
}

func NewKnowledgeStore(db *sql.DB) *KnowledgeStore {
	return &KnowledgeStore{
		db:          db,
		collections: NewCollectionRepo(db),
		sources:     NewSourceRepo(db),
		chunks:      NewChunkRepo(db),
	}
}

func (s *KnowledgeStore) CreateCollection(ctx context.Context, c *model.Collection) error {
	return s.collections.Create(ctx, c)
}

func (s *KnowledgeStore) GetCollection(ctx context.Context, ownerID, id string) (*model.Collection, error) {
	return s.collections.GetByID(ctx, ownerID, id)
}

func (s *KnowledgeStore) ListCollections(ctx context.Context, ownerID string) ([]*model.Collection, error) {
	return s.collections.ListByOwner(ctx, ownerID)
}

func (s *KnowledgeStore) FilterOwnedCollections(ctx context.Context, ownerID string, ids []string) ([]string, error) {
	return s.collections.FilterOwned(ctx, ownerID, ids)
}

func (s *KnowledgeStore) CreateSource(ctx context.Context, src *model.Source) error {
	return s.sources.Create(ctx, src)
}

func (s *KnowledgeStore) GetSource(ctx context.Context, ownerID, id string) (*model.Source, error) {
	return s.sources.GetByID(ctx, ownerID, id)
}

func (s *KnowledgeStore) ListSources(ctx context.Context, collectionID string) ([]*model.Source, error) {
	return s.sources.ListByCollection(ctx, collectionID)
}

func (s *KnowledgeStore) SetStoragePath(ctx context.Context, id, storagePath string, mtime int64) error {
	return s.sources.SetStoragePath(ctx, id, storagePath, mtime)
}

func (s *KnowledgeStore) StartProcessing(ctx context.Context, id string, mtime int64, from ...model.SourceStatus) error {
	return s.sources.StartProcessing(ctx, id, mtime, from...)
}

func (s *KnowledgeStore) CountChunks(ctx context.Context, sourceID string) (int, error) {
	return s.chunks.CountBySource(ctx, sourceID)
}

// Search ranks every chunk of collectionIDs. Plain index scans are disabled
// for the query so the planner cannot pick the approximate hnsw index,
// which filters after it has collected its candidates and can drop
// permitted rows. The collection_id btree stays usable as a bitmap scan.
func (s *KnowledgeStore) Search(ctx context.Context, query []float32, collectionIDs []string, limit int) ([]model.SearchHit, error) {
	if len(collectionIDs) == 0 || limit <= 0 {
		return []model.SearchHit{}, nil
	}
	var hits []model.SearchHit
	err := dbutil.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, exactSearchSetting); err != nil {
			return err
		}
		var err error
		hits, err = NewChunkRepo(tx).Search(ctx, query, collectionIDs, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

const exactSearchSetting = "SET LOCAL enable_indexscan = off"

// StartNoteUpdate stores the new body of a note before it is indexed.
func (s *KnowledgeStore) StartNoteUpdate(ctx context.Context, id, contentText string, mtime int64) error {
	return s.sources.StartNoteUpdate(ctx, id, contentText, mtime)
}

// FailIngestion drops the chunks of a source and marks it failed, so a
// failed source is never searchable.
func (s *KnowledgeStore) FailIngestion(ctx context.Context, id, message string, mtime int64) error {
	return dbutil.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := NewChunkRepo(tx).DeleteBySource(ctx, id); err != nil {
			return err
		}
		return NewSourceRepo(tx).MarkFailed(ctx, id, message, mtime)
	})
}

func (s *KnowledgeStore) ListStale(ctx context.Context, cutoff int64, limit uint) ([]*model.Source, error) {
	return s.sources.ListStale(ctx, cutoff, limit)
}

// FailStale fails a source stuck in processing and drops its chunks. It
// returns ErrNotFound without touching chunks when the source moved on.
func (s *KnowledgeStore) FailStale(ctx context.Context, id string, cutoff int64, message string, mtime int64) error {
	return dbutil.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := NewSourceRepo(tx).FailStale(ctx, id, cutoff, message, mtime); err != nil {
			return err
		}
		_, err := NewChunkRepo(tx).DeleteBySource(ctx, id)
		return err
	})
}

// CommitIngestion replaces the chunks of a processing source and marks it
// completed. Nothing is written when any step fails.
func (s *KnowledgeStore) CommitIngestion(ctx context.Context, src *model.Source, contentText string, chunks []*model.ChunkEmbedding, mtime int64) error {
	return dbutil.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		chunkRepo := NewChunkRepo(tx)
		if _, err := chunkRepo.DeleteBySource(ctx, src.ID); err != nil {
			return err
		}
		if err := chunkRepo.InsertBatch(ctx, chunks); err != nil {
			return err
		}
		if err := NewSourceRepo(tx).Complete(ctx, src.ID, contentText, mtime); err != nil {
			return err
		}
		return NewCollectionRepo(tx).Touch(ctx, src.CollectionID, mtime)
	})
}

// DeleteSource removes the source and its chunks. When the source owns a
// blob, a cleanup task is queued in the same transaction and returned.
func (s *KnowledgeStore) DeleteSource(ctx context.Context, src *model.Source, now int64) (*model.BlobCleanupTask, error) {
	var task *model.BlobCleanupTask
	err := dbutil.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := NewChunkRepo(tx).DeleteBySource(ctx, src.ID); err != nil {
			return err
		}
		if err := NewSourceRepo(tx).Delete(ctx, src.ID); err != nil {
			return err
		}
		if src.StoragePath == "" {
			return nil
		}
		task = newCleanupTask(src.StoragePath, "source deleted", now)
		return NewBlobCleanupRepo(tx).Create(ctx, task)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteCollection removes an owned collection with all of its sources and
// chunks, queueing one cleanup task per stored blob.
func (s *KnowledgeStore) DeleteCollection(ctx context.Context, ownerID, collectionID string, now int64) ([]*model.BlobCleanupTask, error) {
	var tasks []*model.BlobCleanupTask
	err := dbutil.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		collectionRepo := NewCollectionRepo(tx)
		if _, err := collectionRepo.GetByID(ctx, ownerID, collectionID); err != nil {
			return err
		}
		sourceRepo := NewSourceRepo(tx)
		sources, err := sourceRepo.ListByCollection(ctx, collectionID)
		if err != nil {
			return err
		}
		tasks = make([]*model.BlobCleanupTask, 0, len(sources))
		for _, src := range sources {
			if src.StoragePath != "" {
				tasks = append(tasks, newCleanupTask(src.StoragePath, "collection deleted", now))
			}
		}
		if _, err := NewChunkRepo(tx).DeleteByCollection(ctx, collectionID); err != nil {
			return err
		}
		if _, err := sourceRepo.DeleteByCollection(ctx, collectionID); err != nil {
			return err
		}
		if err := collectionRepo.Delete(ctx, collectionID); err != nil {
			return err
		}
		return NewBlobCleanupRepo(tx).Create(ctx, tasks...)
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// QueueBlobCleanup records a blob that lost its source outside of a delete,
// such as after a failed ingestion.
func (s *KnowledgeStore) QueueBlobCleanup(ctx context.Context, storagePath, reason string, now int64) (*model.BlobCleanupTask, error) {
	task := newCleanupTask(storagePath, reason, now)
	if err := NewBlobCleanupRepo(s.db).Create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func newCleanupTask(storagePath, reason string, now int64) *model.BlobCleanupTask {
	return &model.BlobCleanupTask{
		ID:          uuid.NewString(),
		StoragePath: storagePath,
		Reason:      reason,
		Ctime:       now,
		Mtime:       now,
	}
}
