package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// FileStore keeps entries in a single YAML document. A sibling lock file
// serializes access between concurrent chorus processes.
type FileStore struct {
	path string
	ttl  time.Duration
	lock *flock.Flock
	now  func() time.Time
}

type fileDocument struct {
	Entries map[string]Entry `yaml:"entries"`
}

// NewFileStore opens (or prepares to create) the cache file at path.
func NewFileStore(path string, ttl time.Duration) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("cache: file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cache: create directory: %w", err)
	}
	return &FileStore{
		path: path,
		ttl:  ttl,
		lock: flock.New(path + ".lock"),
		now:  time.Now,
	}, nil
}

// Get returns the live entry for key.
func (s *FileStore) Get(ctx context.Context, key string) (Entry, error) {
	if _, err := s.lock.TryRLockContext(ctx, 25*time.Millisecond); err != nil {
		return Entry{}, fmt.Errorf("cache: lock: %w", err)
	}
	defer s.lock.Unlock()

	doc, err := s.read()
	if err != nil {
		return Entry{}, err
	}
	entry, ok := doc.Entries[key]
	if !ok || entry.Expired(s.ttl, s.now()) {
		return Entry{}, ErrMiss
	}
	return entry, nil
}

// Put stores entry, dropping expired entries on the way.
func (s *FileStore) Put(ctx context.Context, entry Entry) error {
	if entry.Key == "" {
		return errors.New("cache: entry key is required")
	}
	if _, err := s.lock.TryLockContext(ctx, 25*time.Millisecond); err != nil {
		return fmt.Errorf("cache: lock: %w", err)
	}
	defer s.lock.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	now := s.now()
	for k, e := range doc.Entries {
		if e.Expired(s.ttl, now) {
			delete(doc.Entries, k)
		}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	doc.Entries[entry.Key] = entry
	return s.write(doc)
}

// Close releases the lock handle.
func (s *FileStore) Close() error {
	return s.lock.Close()
}

func (s *FileStore) read() (fileDocument, error) {
	doc := fileDocument{Entries: map[string]Entry{}}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("cache: read: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("cache: parse %s: %w", s.path, err)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]Entry{}
	}
	return doc, nil
}

// write replaces the file atomically.
func (s *FileStore) write(doc fileDocument) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("cache: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".chorus-cache-*")
	if err != nil {
		return fmt.Errorf("cache: write: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: write: %w", err)
	}
	return nil
}
