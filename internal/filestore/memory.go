package filestore

import (
	"context"
	"fmt"
	"sync"

	appErr "github.com/xxxsen/mkb/internal/pkg/errors"
)

type memoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func init() {
	Register("memory", func(args interface{}) (Store, error) {
		return NewMemoryStore(), nil
	})
}

// NewMemoryStore keeps objects in process memory. Contents are lost on exit.
func NewMemoryStore() Store {
	return &memoryStore{objects: map[string][]byte{}}
}

func (s *memoryStore) Type() string {
	return "memory"
}

func (s *memoryStore) Put(ctx context.Context, obj Object) (string, error) {
	_ = ctx
	key, err := ObjectPath(obj)
	if err != nil {
		return "", err
	}
	data := make([]byte, len(obj.Data))
	copy(data, obj.Data)
	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return key, nil
}

func (s *memoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	_ = ctx
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, appErr.Wrap(appErr.ErrNotFound, fmt.Errorf("object %s", key))
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return false, nil
	}
	delete(s.objects, key)
	return true, nil
}
