package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	appErr "github.com/xxxsen/mkb/internal/pkg/errors"
)

type localConfig struct {
	Dir string `json:"dir"`
}

type localStore struct {
	dir string
}

func init() {
	Register("local", createLocalStore)
}

func createLocalStore(args interface{}) (Store, error) {
	config := &localConfig{}
	if err := decodeConfig(args, config); err != nil {
		return nil, err
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("local store dir is required")
	}
	return NewLocalStore(config.Dir), nil
}

func NewLocalStore(dir string) Store {
	return &localStore{dir: dir}
}

func (s *localStore) Type() string {
	return "local"
}

func (s *localStore) Put(ctx context.Context, obj Object) (string, error) {
	_ = ctx
	key, err := ObjectPath(obj)
	if err != nil {
		return "", err
	}
	full := s.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	// write then rename so a reader never sees a partial file
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(obj.Data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return "", err
	}
	return key, nil
}

func (s *localStore) Get(ctx context.Context, key string) ([]byte, error) {
	_ = ctx
	if err := validPath(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.fullPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, appErr.Wrap(appErr.ErrNotFound, err)
	}
	return data, err
}

func (s *localStore) Delete(ctx context.Context, key string) (bool, error) {
	_ = ctx
	if err := validPath(key); err != nil {
		return false, err
	}
	err := os.Remove(s.fullPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *localStore) fullPath(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key))
}
