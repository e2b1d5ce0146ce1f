package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const indexFilename = "files.json"

// DiskStore is a local object store: file bytes under a base directory plus a
// JSON index mapping vendor file ids to records. It stands in for the hosted
// object storage the upload side channel writes to.
type DiskStore struct {
	baseDir string

	mu    sync.RWMutex
	index map[string]FileRecord
}

func NewDiskStore(baseDir string) (*DiskStore, error) {
	s := &DiskStore{
		baseDir: baseDir,
		index:   make(map[string]FileRecord),
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DiskStore) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.baseDir, indexFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read file index: %w", err)
	}

	var records []FileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("unmarshal file index: %w", err)
	}
	for _, rec := range records {
		s.index[rec.VendorID] = rec
	}
	return nil
}

func (s *DiskStore) LookupByVendorID(_ context.Context, vendorID string) (FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.index[vendorID]
	if !ok {
		return FileRecord{}, ErrFileNotFound
	}
	return rec, nil
}

func (s *DiskStore) Download(_ context.Context, storagePath string) ([]byte, error) {
	full := filepath.Join(s.baseDir, filepath.Clean("/"+storagePath))
	if !strings.HasPrefix(full, filepath.Clean(s.baseDir)+string(os.PathSeparator)) {
		return nil, fmt.Errorf("storage path %q escapes base directory", storagePath)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("read stored file: %w", err)
	}
	return data, nil
}

// Put registers file bytes under a vendor id. Used by the upload side channel
// and by tests.
func (s *DiskStore) Put(vendorID, storagePath, ownerUserID, mimeType string, data []byte) error {
	full := filepath.Join(s.baseDir, filepath.Clean("/"+storagePath))
	if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0600); err != nil {
		return fmt.Errorf("write stored file: %w", err)
	}

	s.mu.Lock()
	s.index[vendorID] = FileRecord{
		VendorID:    vendorID,
		StoragePath: storagePath,
		OwnerUserID: ownerUserID,
		MIMEType:    mimeType,
	}
	s.mu.Unlock()

	return s.saveIndex()
}

func (s *DiskStore) saveIndex() error {
	s.mu.RLock()
	records := make([]FileRecord, 0, len(s.index))
	for _, rec := range s.index {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal file index: %w", err)
	}
	if err := os.MkdirAll(s.baseDir, 0750); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}
	return os.WriteFile(filepath.Join(s.baseDir, indexFilename), data, 0600)
}
