package syncstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/relayerr"
)

// FileStore keeps the table in memory and rewrites the whole JSON file on
// every mutation through write-temp, fsync, rename.
type FileStore struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	records map[string]Record
	dirty   bool

	retry     writeRetry
	writeFile func(path string, data []byte) error
}

// OpenFileStore loads path (a missing file is an empty table). clock paces
// write retries.
func OpenFileStore(path string, clock clockwork.Clock, logger *zap.Logger) (*FileStore, error) {
	logger = logger.Named("syncstore")
	s := &FileStore{
		path:      path,
		logger:    logger,
		records:   make(map[string]Record),
		retry:     newWriteRetry(clock, logger.With(zap.String("path", path))),
		writeFile: writeFileAtomic,
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read sync file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("parse sync file %s: %w", path, err)
	}
	for id, rec := range s.records {
		if rec.ProductID == "" {
			rec.ProductID = id
			s.records[id] = rec
		}
	}
	return s, nil
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, productID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[productID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Put implements Store.
func (s *FileStore) Put(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ProductID] = rec
	return s.flushLocked(ctx)
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[productID]; !ok {
		return nil
	}
	delete(s.records, productID)
	return s.flushLocked(ctx)
}

// All implements Store.
func (s *FileStore) All(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// flushLocked persists the full table. The in-memory mutation is kept even
// when every attempt fails, and the next mutation rewrites it.
func (s *FileStore) flushLocked(ctx context.Context) error {
	s.dirty = true
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", relayerr.ErrPersistence, err)
	}

	if err := s.retry.do(ctx, "write file", func() error { return s.writeFile(s.path, data) }); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// Dirty reports whether the last mutation has not reached disk.
func (s *FileStore) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	// persist the rename itself
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

var _ Store = (*FileStore)(nil)
