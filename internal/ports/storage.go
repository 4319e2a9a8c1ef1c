// Package ports declares the artifact storage contract shared by the render
// worker and the HTTP output route.
package ports

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by GetObject for an unknown key.
var ErrObjectNotFound = errors.New("storage: object not found")

type PutObjectInput struct {
	// ObjectKey is the public name, e.g. "unwrapped-octocat-dark.mp4" or
	// "og/octocat.jpg". Putting an existing key replaces the object.
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	ObjectKey string
	Size      int64
}

// StorageProvider is implemented by localfs and gdrive.
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	DeleteObject(ctx context.Context, objectKey string) error

	// Ping checks that the backend is reachable and writable.
	Ping(ctx context.Context) error
}
