package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jmgilman/objgit/errors"
	"github.com/jmgilman/objgit/storage"
)

// Store is a storage.Store backed by a MinIO/S3 bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// New creates a Store. It does not contact the server.
func New(cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "invalid minio config")
	}

	client := cfg.Client
	if client == nil {
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
			Region: cfg.Region,
		})
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to create minio client")
		}
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: normalizePrefix(cfg.Prefix),
	}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return translate("bucket exists", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		// Another instance may have won the race.
		if resp := minio.ToErrorResponse(err); resp.Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return translate("make bucket", s.bucket, err)
	}
	return nil
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, joinKey(s.prefix, key), minio.GetObjectOptions{})
	if err != nil {
		return nil, translate("get", key, err)
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translate("get", key, err)
	}
	return data, nil
}

// GetRange implements storage.Store.
func (s *Store) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, errors.Newf(errors.CodeInvalidInput, "invalid range %d+%d", offset, length)
	}
	if length == 0 {
		return []byte{}, nil
	}

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+length-1); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "invalid range")
	}

	obj, err := s.client.GetObject(ctx, s.bucket, joinKey(s.prefix, key), opts)
	if err != nil {
		return nil, translate("get range", key, err)
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "InvalidRange" {
			return []byte{}, nil
		}
		return nil, translate("get range", key, err)
	}
	return data, nil
}

// Head implements storage.Store.
func (s *Store) Head(ctx context.Context, key string) (storage.ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, joinKey(s.prefix, key), minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, translate("head", key, err)
	}
	return storage.ObjectInfo{
		Key:          key,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}, nil
}

// Put implements storage.Store.
func (s *Store) Put(ctx context.Context, key string, data []byte, opts storage.PutOptions) (storage.ObjectInfo, error) {
	putOpts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	if opts.IfNoneMatch {
		putOpts.SetMatchETagExcept("*")
	}
	if opts.IfMatch != "" {
		putOpts.SetMatchETag(opts.IfMatch)
	}

	info, err := s.client.PutObject(ctx, s.bucket, joinKey(s.prefix, key),
		bytes.NewReader(data), int64(len(data)), putOpts)
	if err != nil {
		return storage.ObjectInfo{}, translate("put", key, err)
	}
	return storage.ObjectInfo{
		Key:          key,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}, nil
}

// Copy implements storage.Store with a server-side copy.
func (s *Store) Copy(ctx context.Context, src, dst string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: joinKey(s.prefix, dst)},
		minio.CopySrcOptions{Bucket: s.bucket, Object: joinKey(s.prefix, src)},
	)
	return translate("copy", src, err)
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, joinKey(s.prefix, key), minio.RemoveObjectOptions{})
	if err != nil && storage.IsNotFound(translate("delete", key, err)) {
		return nil
	}
	return translate("delete", key, err)
}

// DeleteKeys implements storage.Store with the multi-object delete API.
func (s *Store) DeleteKeys(ctx context.Context, keys []string) error {
	if len(keys) > storage.DefaultPageSize {
		return errors.Newf(errors.CodeInvalidInput, "batch of %d keys exceeds %d", len(keys), storage.DefaultPageSize)
	}

	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: joinKey(s.prefix, key)}
	}
	close(objectsCh)

	var first error
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rerr.Err == nil || first != nil {
			continue
		}
		if storage.IsNotFound(translate("delete", rerr.ObjectName, rerr.Err)) {
			continue
		}
		first = translate("delete", rerr.ObjectName, rerr.Err)
	}
	return first
}

// List implements storage.Store.
//
// minio-go pages internally and streams results over a channel; the listing
// is stopped by cancelling its context once one more entry than the limit
// has been seen.
func (s *Store) List(ctx context.Context, prefix string, opts storage.ListOptions) (storage.ListPage, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultPageSize
	}

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	full := joinKey(s.prefix, prefix)
	if s.prefix != "" && prefix == "" {
		full = s.prefix + "/"
	}
	startAfter := ""
	if opts.Cursor != "" {
		startAfter = joinKey(s.prefix, opts.Cursor)
	}

	var page storage.ListPage
	count := 0
	for object := range s.client.ListObjects(listCtx, s.bucket, minio.ListObjectsOptions{
		Prefix:     full,
		Recursive:  !opts.Delimited,
		StartAfter: startAfter,
		MaxKeys:    limit,
	}) {
		if object.Err != nil {
			return storage.ListPage{}, translate("list", prefix, object.Err)
		}

		key := s.stripPrefix(object.Key)
		isPrefix := opts.Delimited && strings.HasSuffix(object.Key, "/")
		// StartAfter lands inside a common prefix when resuming a delimited
		// listing; skip prefixes the previous page already returned.
		if isPrefix && opts.Cursor != "" && key <= opts.Cursor {
			continue
		}

		if count == limit {
			page.NextCursor = cursorAfter(page)
			return page, nil
		}
		count++

		if isPrefix {
			page.CommonPrefixes = append(page.CommonPrefixes, key)
			continue
		}
		page.Objects = append(page.Objects, storage.ObjectInfo{
			Key:          key,
			Size:         object.Size,
			ETag:         object.ETag,
			LastModified: object.LastModified,
		})
	}

	return page, nil
}

func (s *Store) stripPrefix(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.prefix+"/")
}

// cursorAfter returns a StartAfter value past every entry in page. A common
// prefix is skipped entirely by appending U+FFFF, which sorts after any key
// below it.
func cursorAfter(page storage.ListPage) string {
	last := ""
	if n := len(page.Objects); n > 0 {
		last = page.Objects[n-1].Key
	}
	if n := len(page.CommonPrefixes); n > 0 {
		if p := page.CommonPrefixes[n-1] + "\uffff"; p > last {
			last = p
		}
	}
	return last
}

// String describes the store for logs.
func (s *Store) String() string {
	return fmt.Sprintf("minio://%s/%s", s.bucket, s.prefix)
}

var _ storage.Store = (*Store)(nil)
