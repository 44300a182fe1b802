// Package minio implements storage.Store on MinIO and other S3-compatible
// object stores.
package minio

import (
	"fmt"

	"github.com/minio/minio-go/v7"
)

// Config holds MinIO store configuration.
type Config struct {
	// Endpoint is the server address (e.g., "localhost:9000").
	Endpoint string

	// Bucket holds every repository.
	Bucket string

	// AccessKey is the access key ID.
	AccessKey string

	// SecretKey is the secret access key.
	SecretKey string

	// Region is optional; most S3-compatible servers ignore it.
	Region string

	// UseSSL enables HTTPS.
	UseSSL bool

	// Prefix namespaces every key inside the bucket.
	Prefix string

	// Client is an optional pre-configured client. When set, Endpoint and
	// the credentials are ignored.
	Client *minio.Client
}

// validate checks that either Client or a full set of connection fields is
// present.
func (c *Config) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}

	if c.Client != nil {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when client is not provided")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("access key is required when client is not provided")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret key is required when client is not provided")
	}

	return nil
}
