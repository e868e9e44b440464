package service

import (
	"context"
	"errors"
	"sync"

	"github.com/xxxsen/mkb/internal/model"
	appErr "github.com/xxxsen/mkb/internal/pkg/errors"
)

// memStore mirrors the transactional behaviour of repo.KnowledgeStore in
// memory.
type memStore struct {
	mu          sync.Mutex
	collections map[string]*model.Collection
	sources     map[string]*model.Source
	chunks      map[string][]*model.ChunkEmbedding
	outbox      map[string]*model.BlobCleanupTask
	commitErr   error

	searchCalls int
	searchIDs   []string
	searchLimit int
}

func newMemStore() *memStore {
	return &memStore{
		collections: map[string]*model.Collection{},
		sources:     map[string]*model.Source{},
		chunks:      map[string][]*model.ChunkEmbedding{},
		outbox:      map[string]*model.BlobCleanupTask{},
	}
}

func (m *memStore) addCollection(ownerID, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[id] = &model.Collection{ID: id, OwnerID: ownerID, Kind: model.CollectionKindKnowledgeBase, Name: id}
}

func (m *memStore) CreateCollection(ctx context.Context, c *model.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[c.ID]; ok {
		return appErr.ErrConflict
	}
	cp := *c
	m.collections[c.ID] = &cp
	return nil
}

func (m *memStore) GetCollection(ctx context.Context, ownerID, id string) (*model.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if !ok || c.OwnerID != ownerID {
		return nil, appErr.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListCollections(ctx context.Context, ownerID string) ([]*model.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Collection, 0)
	for _, c := range m.collections {
		if c.OwnerID == ownerID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) FilterOwnedCollections(ctx context.Context, ownerID string, ids []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.collections[id]; ok && c.OwnerID == ownerID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memStore) CreateSource(ctx context.Context, src *model.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *src
	m.sources[src.ID] = &cp
	return nil
}

func (m *memStore) GetSource(ctx context.Context, ownerID, id string) (*model.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok || src.OwnerID != ownerID {
		return nil, appErr.ErrNotFound
	}
	cp := *src
	return &cp, nil
}

func (m *memStore) ListSources(ctx context.Context, collectionID string) ([]*model.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Source, 0)
	for _, src := range m.sources {
		if src.CollectionID == collectionID {
			cp := *src
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) SetStoragePath(ctx context.Context, id, storagePath string, mtime int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok {
		return appErr.ErrNotFound
	}
	src.StoragePath = storagePath
	return nil
}

func (m *memStore) StartProcessing(ctx context.Context, id string, mtime int64, from ...model.SourceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok {
		return appErr.ErrConflict
	}
	for _, s := range from {
		if src.Status == s {
			src.Status = model.SourceStatusProcessing
			src.ErrorMessage = ""
			return nil
		}
	}
	return appErr.ErrConflict
}

func (m *memStore) StartNoteUpdate(ctx context.Context, id, contentText string, mtime int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok || src.Kind != model.SourceKindNote {
		return appErr.ErrConflict
	}
	if src.Status != model.SourceStatusCompleted && src.Status != model.SourceStatusFailed {
		return appErr.ErrConflict
	}
	src.ContentText = contentText
	src.Status = model.SourceStatusProcessing
	src.ErrorMessage = ""
	return nil
}

func (m *memStore) FailIngestion(ctx context.Context, id, message string, mtime int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok {
		return appErr.ErrNotFound
	}
	delete(m.chunks, id)
	src.Status = model.SourceStatusFailed
	src.ErrorMessage = message
	return nil
}

func (m *memStore) CommitIngestion(ctx context.Context, src *model.Source, contentText string, chunks []*model.ChunkEmbedding, mtime int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	stored, ok := m.sources[src.ID]
	if !ok || stored.Status != model.SourceStatusProcessing {
		return appErr.ErrConflict
	}
	m.chunks[src.ID] = append([]*model.ChunkEmbedding(nil), chunks...)
	stored.ContentText = contentText
	stored.Status = model.SourceStatusCompleted
	stored.ErrorMessage = ""
	return nil
}

func (m *memStore) DeleteSource(ctx context.Context, src *model.Source, now int64) (*model.BlobCleanupTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[src.ID]; !ok {
		return nil, appErr.ErrNotFound
	}
	delete(m.sources, src.ID)
	delete(m.chunks, src.ID)
	if src.StoragePath == "" {
		return nil, nil
	}
	task := &model.BlobCleanupTask{ID: "task-" + src.ID, StoragePath: src.StoragePath, Reason: "source deleted"}
	m.outbox[task.ID] = task
	return task, nil
}

func (m *memStore) DeleteCollection(ctx context.Context, ownerID, collectionID string, now int64) ([]*model.BlobCleanupTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collectionID]
	if !ok || c.OwnerID != ownerID {
		return nil, appErr.ErrNotFound
	}
	tasks := make([]*model.BlobCleanupTask, 0)
	for id, src := range m.sources {
		if src.CollectionID != collectionID {
			continue
		}
		if src.StoragePath != "" {
			task := &model.BlobCleanupTask{ID: "task-" + id, StoragePath: src.StoragePath}
			m.outbox[task.ID] = task
			tasks = append(tasks, task)
		}
		delete(m.sources, id)
		delete(m.chunks, id)
	}
	delete(m.collections, collectionID)
	return tasks, nil
}

func (m *memStore) QueueBlobCleanup(ctx context.Context, storagePath, reason string, now int64) (*model.BlobCleanupTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := &model.BlobCleanupTask{ID: "task-" + storagePath, StoragePath: storagePath, Reason: reason}
	m.outbox[task.ID] = task
	return task, nil
}

// Search returns chunks of the given collections in insertion order.
func (m *memStore) Search(ctx context.Context, query []float32, collectionIDs []string, limit int) ([]model.SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchCalls++
	m.searchIDs = append([]string(nil), collectionIDs...)
	m.searchLimit = limit
	allowed := map[string]bool{}
	for _, id := range collectionIDs {
		allowed[id] = true
	}
	hits := make([]model.SearchHit, 0)
	for _, src := range m.sources {
		for _, c := range m.chunks[src.ID] {
			if allowed[c.CollectionID] && len(hits) < limit {
				hits = append(hits, model.SearchHit{ChunkID: c.ID, CollectionID: c.CollectionID, SourceID: c.SourceID,
					SourceName: src.FileName, Position: c.Position, Content: c.Content, Score: 1})
			}
		}
	}
	return hits, nil
}

func (m *memStore) source(id string) *model.Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok {
		return nil
	}
	cp := *src
	return &cp
}

func (m *memStore) chunksOf(id string) []*model.ChunkEmbedding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.ChunkEmbedding(nil), m.chunks[id]...)
}

func (m *memStore) sourceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sources)
}

type fakeEmbedder struct {
	mu        sync.Mutex
	dimension int
	width     int
	err       error
	calls     int
	batches   [][]string
	tasks     []string
}

func newFakeEmbedder(dimension int) *fakeEmbedder {
	return &fakeEmbedder{dimension: dimension, width: dimension}
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.batches = append(f.batches, append([]string(nil), texts...))
	f.tasks = append(f.tasks, taskType)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, f.width)
		for j := range v {
			v[j] = float32((len(text)+j)%7) + 1
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) ModelName() string { return "fake" }
func (f *fakeEmbedder) Dimension() int    { return f.dimension }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []*model.BlobCleanupTask
	err   error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, task *model.BlobCleanupTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
	return d.err
}

func (d *recordingDispatcher) paths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.tasks))
	for _, t := range d.tasks {
		out = append(out, t.StoragePath)
	}
	return out
}

var errRemoteDown = errors.New("remote down")
