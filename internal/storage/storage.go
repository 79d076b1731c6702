// Package storage provides object storage for published shuffle segments.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrPutFailed      = errors.New("put failed")
	ErrGetFailed      = errors.New("get failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts the store that holds finished shuffle segments.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Put copies a local file into object storage. A successful Put means
	// the object is fully visible; readers never observe a partial object.
	Put(ctx context.Context, localPath, objectPath string) error

	// Get copies an object from storage to a local file.
	Get(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether an object is present.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// List returns all object paths under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
