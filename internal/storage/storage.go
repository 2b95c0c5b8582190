// Package storage provides the object store shared by every panelcheck
// process.
//
// Two backends implement Storage:
// - LocalStorage: a directory on disk, for development and tests
// - R2Storage: Cloudflare R2 (S3-compatible), for production
//
// Project images, generated archives and archival lock markers all live in
// the same bucket under the key layout defined at the bottom of this file.
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage is a flat key/value object store.
//
// Implementations:
// - LocalStorage
// - R2Storage
type Storage interface {
	// Put writes data at key. Without Overwrite an existing key yields
	// ErrKeyExists. With IfAbsent the existence check and the write are a
	// single atomic operation on the backend.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get opens the object at key. The caller must close the reader.
	// Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Delete removes the object at key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// URL returns a URL the object can be fetched from. A zero expires asks
	// for a permanent public URL when the backend has one.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)

	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)
}

// =============================================================================
// Data Types
// =============================================================================

// PutOptions configures how an object is stored.
type PutOptions struct {
	// ContentType of the object. Detected from the key when empty.
	ContentType string

	// MaxSize rejects objects larger than this many bytes with ErrTooLarge.
	// Zero means no limit.
	MaxSize int64

	// Overwrite replaces an existing object at the same key.
	Overwrite bool

	// IfAbsent makes the write a conditional create: it fails with
	// ErrKeyExists when the key is present, and two concurrent writers can
	// never both succeed. Takes precedence over Overwrite.
	IfAbsent bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string // empty for LocalStorage
}

// =============================================================================
// Configuration Types
// =============================================================================

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory, e.g. "./data/storage".
	BasePath string

	// BaseURL is the URL prefix files are served from, e.g.
	// "http://localhost:8080/files".
	BaseURL string
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// PublicURL is the bucket's public domain. Presigned URLs are used when
	// empty.
	PublicURL string

	// Endpoint overrides the account endpoint. Any S3-compatible server
	// that honours If-None-Match works.
	Endpoint string

	// Region defaults to "auto".
	Region string
}

// =============================================================================
// Provider Constants
// =============================================================================

const (
	ProviderLocal = "local"
	ProviderR2    = "r2"
)

// =============================================================================
// Key Layout
// =============================================================================

// ImageKey generates a storage key for an uploaded project image.
// Format: projects/{projectID}/images/{uuid}{ext}
func ImageKey(projectID int64, filename string) string {
	return fmt.Sprintf("projects/%d/images/%s%s", projectID, uuid.New(), filepath.Ext(filename))
}

// ArchiveResource names the archival work for a project. It is the lock key
// serializing archive regeneration and the prefix of the archive object.
func ArchiveResource(projectID int64) string {
	return fmt.Sprintf("archives/project-%d", projectID)
}

// ArchiveKey is the object holding a project's image archive.
// Format: archives/project-{projectID}/images.zip
func ArchiveKey(projectID int64) string {
	return ArchiveResource(projectID) + "/images.zip"
}

// LockMarkerKey is the marker object for a lock on resource.
// Format: {resource}.lock
func LockMarkerKey(resource string) string {
	return resource + ".lock"
}
