package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mkb/internal/ai"
	"github.com/xxxsen/mkb/internal/chunker"
	"github.com/xxxsen/mkb/internal/cleanup"
	"github.com/xxxsen/mkb/internal/extractor"
	"github.com/xxxsen/mkb/internal/filestore"
	"github.com/xxxsen/mkb/internal/model"
	appErr "github.com/xxxsen/mkb/internal/pkg/errors"
)

const defaultDocumentTask = "RETRIEVAL_DOCUMENT"

type IngestConfig struct {
	ChunkSize    int
	ChunkOverlap int
	MaxFileSize  int64
	Timeout      time.Duration
	DocumentTask string
}

type IngestRequest struct {
	OwnerID      string
	CollectionID string
	FileName     string
	MimeType     string
	FileSize     int64
	Data         []byte
}

// IngestService turns uploaded files and notes into searchable chunks.
type IngestService struct {
	store    KnowledgeStore
	blobs    filestore.Store
	embedder ai.IEmbedder
	cleaner  cleanup.Dispatcher
	chunker  *chunker.Chunker
	cfg      IngestConfig
	guard    *sourceGuard
}

func NewIngestService(store KnowledgeStore, blobs filestore.Store, embedder ai.IEmbedder, cleaner cleanup.Dispatcher, cfg IngestConfig) *IngestService {
	if cfg.DocumentTask == "" {
		cfg.DocumentTask = defaultDocumentTask
	}
	return &IngestService{
		store:    store,
		blobs:    blobs,
		embedder: embedder,
		cleaner:  cleaner,
		chunker:  chunker.New(chunker.WithSize(cfg.ChunkSize), chunker.WithOverlap(cfg.ChunkOverlap)),
		cfg:      cfg,
		guard:    newSourceGuard(),
	}
}

func (s *IngestService) CreateCollection(ctx context.Context, ownerID, name string, kind model.CollectionKind) (*model.Collection, error) {
	name = strings.TrimSpace(name)
	if ownerID == "" || name == "" {
		return nil, appErr.Wrapf(appErr.ErrValidation, "owner and name are required")
	}
	if kind == "" {
		kind = model.CollectionKindKnowledgeBase
	}
	if kind != model.CollectionKindKnowledgeBase && kind != model.CollectionKindNote {
		return nil, appErr.Wrapf(appErr.ErrValidation, "unknown collection kind %q", kind)
	}
	now := time.Now().Unix()
	c := &model.Collection{ID: newID(), OwnerID: ownerID, Kind: kind, Name: name, Ctime: now, Mtime: now}
	if err := s.store.CreateCollection(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *IngestService) ListCollections(ctx context.Context, ownerID string) ([]*model.Collection, error) {
	return s.store.ListCollections(ctx, ownerID)
}

func (s *IngestService) GetSource(ctx context.Context, ownerID, sourceID string) (*model.Source, error) {
	return s.store.GetSource(ctx, ownerID, sourceID)
}

func (s *IngestService) ListSources(ctx context.Context, ownerID, collectionID string) ([]*model.Source, error) {
	if _, err := s.store.GetCollection(ctx, ownerID, collectionID); err != nil {
		return nil, err
	}
	return s.store.ListSources(ctx, collectionID)
}

func (s *IngestService) validate(req *IngestRequest) error {
	if req.OwnerID == "" || req.CollectionID == "" {
		return appErr.Wrapf(appErr.ErrValidation, "owner and collection are required")
	}
	size := int64(len(req.Data))
	if size == 0 {
		return appErr.Wrapf(appErr.ErrValidation, "file is empty")
	}
	if req.FileSize > 0 && req.FileSize != size {
		return appErr.Wrapf(appErr.ErrValidation, "declared size %d does not match %d received bytes", req.FileSize, size)
	}
	if s.cfg.MaxFileSize > 0 && size > s.cfg.MaxFileSize {
		return appErr.Wrapf(appErr.ErrValidation, "file size %d exceeds limit %d", size, s.cfg.MaxFileSize)
	}
	if !extractor.Supported(req.FileName) {
		return appErr.Wrap(appErr.ErrValidation, fmt.Errorf("%w: %q", appErr.ErrUnsupportedType, req.FileName))
	}
	return nil
}

// Ingest stores the file, extracts and indexes it. The returned source is
// completed on success. On failure after the source row exists, the source
// is left failed and the original error is returned.
func (s *IngestService) Ingest(ctx context.Context, req *IngestRequest) (*model.Source, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	if _, err := s.store.GetCollection(ctx, req.OwnerID, req.CollectionID); err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	src := &model.Source{
		ID:           newID(),
		CollectionID: req.CollectionID,
		OwnerID:      req.OwnerID,
		Kind:         model.SourceKindFile,
		FileName:     req.FileName,
		FileSize:     int64(len(req.Data)),
		MimeType:     req.MimeType,
		Status:       model.SourceStatusProcessing,
		Ctime:        now,
		Mtime:        now,
	}
	release, _ := s.guard.acquire(src.ID)
	defer release()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	logger := logutil.GetLogger(ctx).With(
		zap.String("source_id", src.ID),
		zap.String("collection_id", src.CollectionID),
		zap.String("owner_id", src.OwnerID),
		zap.String("file_name", src.FileName),
	)
	start := time.Now()
	if err := s.store.CreateSource(ctx, src); err != nil {
		return nil, err
	}
	path, err := s.blobs.Put(ctx, filestore.Object{
		Data:         req.Data,
		OwnerID:      src.OwnerID,
		CollectionID: src.CollectionID,
		SourceID:     src.ID,
		FileName:     src.FileName,
		MimeType:     src.MimeType,
	})
	if err != nil {
		return src, s.fail(ctx, src, "store", appErr.Wrap(appErr.ErrStorage, err))
	}
	if err := s.store.SetStoragePath(ctx, src.ID, path, time.Now().Unix()); err != nil {
		s.discardBlob(ctx, path)
		return src, s.fail(ctx, src, "store", err)
	}
	src.StoragePath = path

	text, err := extractor.Extract(req.Data, src.FileName)
	if err != nil {
		s.discardStoredBlob(ctx, src)
		return src, s.fail(ctx, src, "extract", err)
	}
	count, step, err := s.index(ctx, src, text)
	if err != nil {
		s.discardStoredBlob(ctx, src)
		return src, s.fail(ctx, src, step, err)
	}
	logger.Info("source ingested", zap.Int("chunks", count), zap.Duration("duration", time.Since(start)))
	return src, nil
}

// Reingest rebuilds the chunks of a completed or failed source from its
// stored blob, or from its text for notes. A failed reingest keeps the blob
// and drops the previous chunks.
func (s *IngestService) Reingest(ctx context.Context, ownerID, sourceID string) (*model.Source, error) {
	src, err := s.store.GetSource(ctx, ownerID, sourceID)
	if err != nil {
		return nil, err
	}
	release, ok := s.guard.acquire(src.ID)
	if !ok {
		return nil, appErr.Wrapf(appErr.ErrConflict, "source %s is busy", src.ID)
	}
	defer release()
	if err := s.store.StartProcessing(ctx, src.ID, time.Now().Unix(), model.SourceStatusCompleted, model.SourceStatusFailed); err != nil {
		return nil, err
	}
	src.Status = model.SourceStatusProcessing
	src.ErrorMessage = ""

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	text := src.ContentText
	if src.Kind != model.SourceKindNote {
		if src.StoragePath == "" {
			return src, s.fail(ctx, src, "load", appErr.Wrapf(appErr.ErrStorage, "source %s has no stored file", src.ID))
		}
		data, err := s.blobs.Get(ctx, src.StoragePath)
		if err != nil {
			return src, s.fail(ctx, src, "load", appErr.Wrap(appErr.ErrStorage, err))
		}
		if text, err = extractor.Extract(data, src.FileName); err != nil {
			return src, s.fail(ctx, src, "extract", err)
		}
	}
	count, step, err := s.index(ctx, src, text)
	if err != nil {
		return src, s.fail(ctx, src, step, err)
	}
	logutil.GetLogger(ctx).Info("source reingested",
		zap.String("source_id", src.ID),
		zap.Int("chunks", count),
		zap.Duration("duration", time.Since(start)))
	return src, nil
}

// index chunks and embeds text, then swaps the chunk set of src in one
// commit. It reports the failed step with the error.
func (s *IngestService) index(ctx context.Context, src *model.Source, text string) (int, string, error) {
	pieces := s.chunker.Split(text)
	if len(pieces) == 0 {
		return 0, "chunk", appErr.Wrapf(appErr.ErrIntegrity, "no chunks produced for source %s", src.ID)
	}
	vectors, err := s.embedder.Embed(ctx, pieces, s.cfg.DocumentTask)
	if err != nil {
		return 0, "embed", appErr.WrapEmbedding(err)
	}
	if len(vectors) != len(pieces) {
		return 0, "embed", appErr.Wrapf(appErr.ErrIntegrity, "got %d vectors for %d chunks", len(vectors), len(pieces))
	}
	dimension := s.embedder.Dimension()
	now := time.Now().Unix()
	rows := make([]*model.ChunkEmbedding, 0, len(pieces))
	for i, piece := range pieces {
		if len(vectors[i]) != dimension {
			return 0, "embed", appErr.Wrapf(appErr.ErrIntegrity, "vector %d has %d dimensions, want %d", i, len(vectors[i]), dimension)
		}
		rows = append(rows, &model.ChunkEmbedding{
			ID:           newID(),
			CollectionID: src.CollectionID,
			SourceID:     src.ID,
			Position:     i,
			Content:      piece,
			Embedding:    vectors[i],
			Ctime:        now,
		})
	}
	if err := s.store.CommitIngestion(ctx, src, text, rows, now); err != nil {
		return 0, "commit", err
	}
	src.ContentText = text
	src.Status = model.SourceStatusCompleted
	src.Mtime = now
	return len(rows), "", nil
}

// fail marks src failed and returns cause unchanged. The status update
// survives a cancelled ctx.
func (s *IngestService) fail(ctx context.Context, src *model.Source, step string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	logger := logutil.GetLogger(ctx).With(zap.String("source_id", src.ID), zap.String("step", step))
	logger.Error("ingestion failed", zap.Error(cause))
	src.Status = model.SourceStatusFailed
	src.ErrorMessage = cause.Error()
	if err := s.store.FailIngestion(ctx, src.ID, src.ErrorMessage, time.Now().Unix()); err != nil {
		logger.Error("mark source failed", zap.Error(err))
	}
	return cause
}

// discardStoredBlob drops the blob of a source whose first ingestion failed.
func (s *IngestService) discardStoredBlob(ctx context.Context, src *model.Source) {
	if src.StoragePath == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.store.SetStoragePath(ctx, src.ID, "", time.Now().Unix()); err != nil {
		logutil.GetLogger(ctx).Warn("clear storage path failed", zap.String("source_id", src.ID), zap.Error(err))
		return
	}
	s.discardBlob(ctx, src.StoragePath)
	src.StoragePath = ""
}

func (s *IngestService) discardBlob(ctx context.Context, path string) {
	ctx = context.WithoutCancel(ctx)
	task, err := s.store.QueueBlobCleanup(ctx, path, "ingestion failed", time.Now().Unix())
	if err != nil {
		logutil.GetLogger(ctx).Warn("queue blob cleanup failed", zap.String("storage_path", path), zap.Error(err))
		task = &model.BlobCleanupTask{StoragePath: path, Reason: "ingestion failed"}
	}
	s.dispatch(ctx, task)
}

func (s *IngestService) dispatch(ctx context.Context, tasks ...*model.BlobCleanupTask) {
	if s.cleaner == nil {
		return
	}
	for _, task := range tasks {
		if task == nil {
			continue
		}
		if err := s.cleaner.Dispatch(ctx, task); err != nil {
			logutil.GetLogger(ctx).Warn("dispatch blob cleanup failed",
				zap.String("storage_path", task.StoragePath), zap.Error(err))
		}
	}
}

// DeleteSource removes the source with its chunks and schedules the blob
// for removal.
func (s *IngestService) DeleteSource(ctx context.Context, ownerID, sourceID string) error {
	src, err := s.store.GetSource(ctx, ownerID, sourceID)
	if err != nil {
		return err
	}
	release, ok := s.guard.acquire(src.ID)
	if !ok {
		return appErr.Wrapf(appErr.ErrConflict, "source %s is busy", src.ID)
	}
	defer release()
	task, err := s.store.DeleteSource(ctx, src, time.Now().Unix())
	if err != nil {
		return err
	}
	s.dispatch(context.WithoutCancel(ctx), task)
	logutil.GetLogger(ctx).Info("source deleted", zap.String("source_id", src.ID), zap.String("collection_id", src.CollectionID))
	return nil
}

func (s *IngestService) DeleteCollection(ctx context.Context, ownerID, collectionID string) error {
	tasks, err := s.store.DeleteCollection(ctx, ownerID, collectionID, time.Now().Unix())
	if err != nil {
		return err
	}
	s.dispatch(context.WithoutCancel(ctx), tasks...)
	logutil.GetLogger(ctx).Info("collection deleted", zap.String("collection_id", collectionID), zap.Int("blobs", len(tasks)))
	return nil
}

func (s *IngestService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}
