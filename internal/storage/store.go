// Package storage is the boundary to the object store that holds uploaded
// files. The Claude adapter uses it to resolve a vendor file id back to raw
// bytes; nothing in the core writes through it.
package storage

import (
	"context"
	"errors"
)

var ErrFileNotFound = errors.New("storage: file not found")

// FileRecord describes one stored file as indexed by its vendor file id.
type FileRecord struct {
	VendorID    string `json:"vendor_id"`
	StoragePath string `json:"storage_path"`
	OwnerUserID string `json:"owner_user_id"`
	MIMEType    string `json:"mime_type,omitempty"`
}

// Store resolves vendor file ids and downloads file bytes. Implementations
// must be safe for concurrent reads.
type Store interface {
	LookupByVendorID(ctx context.Context, vendorID string) (FileRecord, error)
	Download(ctx context.Context, storagePath string) ([]byte, error)
}
