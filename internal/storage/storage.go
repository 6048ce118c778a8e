// Package storage is the release store that published bundles are written to.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned when a key does not exist in a bucket
var ErrObjectNotFound = errors.New("object not found")

// Object represents a stored bundle artifact
type Object struct {
	Key             string            `json:"key"`
	Bucket          string            `json:"bucket"`
	Size            int64             `json:"size"`
	ContentType     string            `json:"content_type"`
	ContentEncoding string            `json:"content_encoding,omitempty"`
	CacheControl    string            `json:"cache_control,omitempty"`
	LastModified    time.Time         `json:"last_modified"`
	ETag            string            `json:"etag,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// UploadOptions contains options for uploading artifacts
type UploadOptions struct {
	ContentType     string
	Metadata        map[string]string
	CacheControl    string
	ContentEncoding string
}

// ListOptions contains options for listing objects
type ListOptions struct {
	Prefix  string
	MaxKeys int
}

// ListResult contains the result of a list operation
type ListResult struct {
	Objects     []Object
	IsTruncated bool
}

// Storage defines the operations the publisher needs from a release store
type Storage interface {
	// Name returns the provider name
	Name() string

	// Health checks if the store is reachable
	Health(ctx context.Context) error

	// EnsureBucket creates the bucket when it does not exist yet
	EnsureBucket(ctx context.Context, bucket string) error

	// Upload writes an object
	Upload(ctx context.Context, bucket, key string, data io.Reader, size int64, opts *UploadOptions) (*Object, error)

	// Exists checks if an object exists
	Exists(ctx context.Context, bucket, key string) (bool, error)

	// GetObject returns object metadata without reading the body
	GetObject(ctx context.Context, bucket, key string) (*Object, error)

	// Delete removes an object
	Delete(ctx context.Context, bucket, key string) error

	// List lists objects in a bucket
	List(ctx context.Context, bucket string, opts *ListOptions) (*ListResult, error)
}

const defaultMaxKeys = 1000

func normalizeListOptions(opts *ListOptions) *ListOptions {
	if opts == nil {
		return &ListOptions{MaxKeys: defaultMaxKeys}
	}
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = defaultMaxKeys
	}
	return opts
}
