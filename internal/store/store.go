package store

import (
	"context"
	"io"
	"os"

	"github.com/zynqcloud/go-upload/internal/file"
)

// File is a handle to a stored (or cached) file.
type File interface {
	// Path is the backend location: a filesystem path or an object key.
	Path() string

	// Filename is the basename of Path.
	Filename() string

	// ContentType is the media type recorded by the backend or sniffed.
	ContentType() string

	// Size returns the byte size of the file.
	Size() (int64, error)

	// Open returns a reader over the content. Caller must close it.
	Open() (io.ReadCloser, error)

	// URL returns the public URL, empty when the backend has none.
	URL() string

	// Delete removes the file. Silently succeeds if it is already gone.
	Delete(ctx context.Context) error
}

// PutOptions controls how Store places a staged file.
type PutOptions struct {
	// Move relocates a local staged file instead of copying it.
	Move bool

	Permissions          os.FileMode
	DirectoryPermissions os.FileMode
}

// Storage is the durable backend an uploader persists to.
// Swap Local for S3, FTP or GridFS without touching the uploader.
type Storage interface {
	// Setup prepares the backend (directories, sessions, connections).
	// It is called before every first use and must be idempotent.
	Setup(ctx context.Context) error

	// Store persists src at path and returns a handle to the stored copy.
	Store(ctx context.Context, path string, src *file.Staged, opts PutOptions) (File, error)

	// Retrieve returns a handle for path. Implementations should not do I/O
	// until the handle is used.
	Retrieve(ctx context.Context, path string) (File, error)
}

// Lister is implemented by backends that can enumerate a directory. The
// uploader uses it to deduplicate filenames before storing.
type Lister interface {
	// List returns the basenames of the files directly inside dir.
	List(ctx context.Context, dir string) ([]string, error)
}
