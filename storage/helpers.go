package storage

import (
	"context"

	"github.com/jmgilman/objgit/errors"
)

// ListAll follows cursors until the listing under prefix is exhausted.
func ListAll(ctx context.Context, s Store, prefix string) ([]ObjectInfo, error) {
	var all []ObjectInfo
	opts := ListOptions{Limit: DefaultPageSize}
	for {
		page, err := s.List(ctx, prefix, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Objects...)
		if page.NextCursor == "" {
			return all, nil
		}
		opts.Cursor = page.NextCursor
	}
}

// Exists reports whether key exists. Only errors other than NotFound are
// returned.
func Exists(ctx context.Context, s Store, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// DeletePrefix removes every key under prefix, one listing page at a time,
// and returns how many keys were deleted. Running it twice is harmless.
func DeletePrefix(ctx context.Context, s Store, prefix string) (int, error) {
	if prefix == "" {
		return 0, errors.New(errors.CodeInvalidInput, "refusing to delete an empty prefix")
	}

	deleted := 0
	opts := ListOptions{Limit: DefaultPageSize}
	for {
		page, err := s.List(ctx, prefix, opts)
		if err != nil {
			return deleted, err
		}

		keys := make([]string, 0, len(page.Objects))
		for _, obj := range page.Objects {
			keys = append(keys, obj.Key)
		}
		if len(keys) > 0 {
			if err := s.DeleteKeys(ctx, keys); err != nil {
				return deleted, err
			}
			deleted += len(keys)
		}

		if page.NextCursor == "" {
			return deleted, nil
		}
		opts.Cursor = page.NextCursor
	}
}
