// Package blob stores attachment content behind a small S3-like interface.
//
// Three drivers are available: the local filesystem, any S3 compatible
// service and process memory. Keys are slash separated relative paths.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a blob storage backend
type Driver string

const (
	// DriverFilesystem stores blobs under a local directory
	DriverFilesystem Driver = "fs"
	// DriverS3 stores blobs in an S3 / MinIO bucket
	DriverS3 Driver = "s3"
	// DriverMemory keeps blobs in process memory
	DriverMemory Driver = "memory"
)

var (
	// ErrNotFound is returned when no blob exists under a key
	ErrNotFound = errors.New("blob not found")

	// ErrExists is returned by Put when the key is already taken
	ErrExists = errors.New("blob already exists")

	// ErrInvalidKey is returned for empty keys and keys escaping the root
	ErrInvalidKey = errors.New("invalid blob key")
)

// PutOptions specifies optional parameters for Put
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes a stored blob
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is implemented by every driver. Put never overwrites.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	Driver() Driver
}

// IsNotFound reports whether err means the blob does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
