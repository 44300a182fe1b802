package storage

import (
	"context"
	"io/fs"
	"time"

	"github.com/jmgilman/objgit/errors"
)

// DefaultPageSize is the listing page size used when ListOptions.Limit is
// zero. It matches the S3 maximum and the batch delete limit.
const DefaultPageSize = 1000

// ErrPreconditionFailed is wrapped by Put when a conditional write loses.
var ErrPreconditionFailed = errors.New(errors.CodeConflict, "precondition failed")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// PutOptions makes a Put conditional.
type PutOptions struct {
	// IfNoneMatch only writes when no object exists at the key.
	IfNoneMatch bool

	// IfMatch only writes when the current object has this ETag.
	IfMatch string
}

// ListOptions controls one page of a prefix listing.
type ListOptions struct {
	// Cursor resumes listing after this key. Empty starts at the prefix.
	Cursor string

	// Limit caps the number of keys and common prefixes in the page.
	Limit int

	// Delimited groups keys below the next "/" after the prefix into
	// CommonPrefixes, like a directory listing.
	Delimited bool
}

// ListPage is one page of a listing. Keys are in lexical order.
type ListPage struct {
	Objects        []ObjectInfo
	CommonPrefixes []string

	// NextCursor is empty when the listing is complete.
	NextCursor string
}

// Store is the object store client.
type Store interface {
	// Get returns the full content of key.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetRange returns length bytes of key starting at offset. Reads past the
	// end are truncated.
	GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error)

	// Head returns metadata for key.
	Head(ctx context.Context, key string) (ObjectInfo, error)

	// Put writes data at key, replacing any existing object unless opts
	// says otherwise.
	Put(ctx context.Context, key string, data []byte, opts PutOptions) (ObjectInfo, error)

	// Copy duplicates src at dst.
	Copy(ctx context.Context, src, dst string) error

	// Delete removes key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error

	// DeleteKeys removes up to DefaultPageSize keys in one batch.
	DeleteKeys(ctx context.Context, keys []string) error

	// List returns one page of keys beginning with prefix.
	List(ctx context.Context, prefix string, opts ListOptions) (ListPage, error)
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// IsPreconditionFailed reports whether err is a lost conditional write.
func IsPreconditionFailed(err error) bool {
	return errors.Is(err, ErrPreconditionFailed)
}

// NotFound builds the error returned for a missing key.
func NotFound(key string) error {
	return errors.WithContext(
		errors.Wrap(fs.ErrNotExist, errors.CodeNotFound, "object not found"),
		"key", key,
	)
}

// PreconditionFailed builds the error returned when a conditional Put loses.
func PreconditionFailed(key string) error {
	return errors.WithContext(
		errors.Wrap(ErrPreconditionFailed, errors.CodeConflict, "conditional write rejected"),
		"key", key,
	)
}
