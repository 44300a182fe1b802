// Package storage defines the object store boundary used by objgit.
//
// A Store is a flat key/value blob store with prefix listing. It knows
// nothing about git: repository layout lives in the keys chosen by callers.
// Two implementations exist: Memory, for tests and single-process
// development, and the MinIO/S3 store in storage/minio.
//
// Every implementation reports a missing key with an error satisfying
// errors.Is(err, fs.ErrNotExist) and classifies any other backend failure
// as a retryable STORAGE_ERROR.
package storage
