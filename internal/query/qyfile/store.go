package qyfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mohammed-shakir/spatial-query/internal/cache/keys"
	"github.com/mohammed-shakir/spatial-query/internal/cache/redisstore"
)

// ErrNotFound is returned by a Store for an unknown name.
var ErrNotFound = errors.New("query file not found")

// Store holds .qy files by name.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	// Delete returns ErrNotFound for an unknown name.
	Delete(ctx context.Context, name string) error
}

// DirStore keeps files on disk. With an empty Dir, names are used as
// paths; otherwise they must be plain file names inside Dir.
type DirStore struct {
	Dir string
}

func (s DirStore) path(name string) (string, error) {
	if s.Dir == "" {
		return name, nil
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q is not a plain file name", ErrNotQueryFile, name)
	}
	return filepath.Join(s.Dir, name), nil
}

func (s DirStore) Put(_ context.Context, name string, data []byte) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write query file: %w", err)
	}
	return nil
}

func (s DirStore) Get(_ context.Context, name string) ([]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read query file: %w", err)
	}
	return b, nil
}

func (s DirStore) Delete(_ context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("remove query file: %w", err)
	}
	return nil
}

// RedisStore keeps files in Redis under keys scoped by map name.
type RedisStore struct {
	client *redisstore.Client
	mapKey string
	ttl    time.Duration
}

func NewRedisStore(c *redisstore.Client, mapName string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: c, mapKey: mapName, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, name string, data []byte) error {
	return s.client.Set(ctx, keys.Key(s.mapKey, name), data, s.ttl)
}

func (s *RedisStore) Get(ctx context.Context, name string) ([]byte, error) {
	b, err := s.client.Get(ctx, keys.Key(s.mapKey, name))
	if errors.Is(err, redisstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return b, err
}

func (s *RedisStore) Delete(ctx context.Context, name string) error {
	n, err := s.client.Del(ctx, keys.Key(s.mapKey, name))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

var (
	_ Store = DirStore{}
	_ Store = (*RedisStore)(nil)
)
