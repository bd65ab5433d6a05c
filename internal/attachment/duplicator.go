// Package attachment copies the files referenced by record attributes so a
// clone never shares stored content with its source.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-lang/cloner/internal/blob"
	"github.com/conduit-lang/cloner/internal/orm/record"
	"github.com/conduit-lang/cloner/internal/orm/schema"
)

// ErrDuplicate is returned when an attachment could not be copied
var ErrDuplicate = errors.New("attachment duplication failed")

// SourceMetadataKey is the metadata entry recording the key a copy was made from
const SourceMetadataKey = "cloned-from"

// BlobDuplicator copies attachments stored in a blob.Store. Copies are
// written under <prefix>/<resource>/<uuid>/<basename of the source key>.
type BlobDuplicator struct {
	store  blob.Store
	prefix string
	newID  func() string
	logger *zap.Logger
}

// Option configures a BlobDuplicator
type Option func(*BlobDuplicator)

// WithPrefix sets the key prefix of copies
func WithPrefix(prefix string) Option {
	return func(d *BlobDuplicator) {
		d.prefix = strings.Trim(prefix, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(d *BlobDuplicator) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewBlobDuplicator creates a duplicator over store
func NewBlobDuplicator(store blob.Store, opts ...Option) *BlobDuplicator {
	d := &BlobDuplicator{
		store:  store,
		newID:  uuid.NewString,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Duplicate streams the blob behind reference to a fresh key and returns
// that key. Content type and metadata are carried over.
func (d *BlobDuplicator) Duplicate(ctx context.Context, reference string, newOwner *record.Record) (string, error) {
	info, body, err := d.store.Get(ctx, reference)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", ErrDuplicate, reference, err)
	}
	defer body.Close()

	key := d.keyFor(newOwner, reference)

	metadata := make(map[string]string, len(info.Metadata)+1)
	for k, v := range info.Metadata {
		metadata[k] = v
	}
	metadata[SourceMetadataKey] = reference

	copied, err := d.store.Put(ctx, key, body, blob.PutOptions{
		ContentType: info.ContentType,
		Metadata:    metadata,
	})
	if err != nil {
		return "", fmt.Errorf("%w: write %s: %w", ErrDuplicate, key, err)
	}

	d.logger.Debug("attachment duplicated",
		zap.String("resource", newOwner.TypeName()),
		zap.String("source", reference),
		zap.String("copy", copied.Key),
		zap.Int64("size", copied.Size),
	)

	return copied.Key, nil
}

func (d *BlobDuplicator) keyFor(owner *record.Record, reference string) string {
	parts := []string{schema.ToSnakeCase(owner.TypeName()), d.newID(), path.Base(reference)}
	if d.prefix != "" {
		parts = append([]string{d.prefix}, parts...)
	}
	return path.Join(parts...)
}
