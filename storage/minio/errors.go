package minio

import (
	"fmt"
	"io/fs"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/jmgilman/objgit/errors"
	"github.com/jmgilman/objgit/storage"
)

// translate maps a minio-go error onto the storage error taxonomy.
func translate(op, key string, err error) error {
	if err == nil {
		return nil
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return storage.NotFound(key)
	case "PreconditionFailed":
		return storage.PreconditionFailed(key)
	case "AccessDenied":
		return errors.WrapWithContext(fs.ErrPermission, errors.CodeForbidden,
			fmt.Sprintf("%s denied", op), map[string]any{"key": key, "cause": err.Error()})
	}

	return errors.WrapWithContext(err, errors.CodeStorage, op+" failed", map[string]any{"key": key})
}

// joinKey prefixes key with the store namespace.
func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// normalizePrefix trims slashes so joinKey never doubles them.
func normalizePrefix(prefix string) string {
	prefix = strings.ReplaceAll(prefix, "\\", "/")
	prefix = strings.Trim(prefix, "/")
	if prefix == "." {
		return ""
	}
	return prefix
}
