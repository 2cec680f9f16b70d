package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/zynqcloud/go-upload/internal/file"
)

// Local stores files on an afero filesystem under a configurable root directory.
//
// Cross-platform notes:
//   - Uses filepath (not path) for filesystem locations so the OS separator is
//     always correct; store paths handed in by the uploader use forward slashes.
//   - Permission bits are silently ignored on Windows; ACLs govern access there.
type Local struct {
	fs      afero.Fs
	root    string
	baseURL string

	mu    sync.Mutex
	ready bool
}

// NewLocal creates a Local backend rooted at root. URLs are baseURL joined
// with the store path; an empty baseURL yields root-relative URLs ("/uploads/a.jpg").
// The root directory is created lazily by Setup.
func NewLocal(fs afero.Fs, root, baseURL string) (*Local, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	return &Local{fs: fs, root: absRoot, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Root returns the absolute storage root.
func (l *Local) Root() string { return l.root }

// Setup creates the root directory. Safe to call repeatedly; a failed attempt
// is retried on the next call.
func (l *Local) Setup(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready {
		return nil
	}
	if err := l.fs.MkdirAll(l.root, 0o750); err != nil {
		return fmt.Errorf("create storage root %q: %w", l.root, err)
	}
	l.ready = true
	return nil
}

// abs resolves a caller-supplied store path to a concrete filesystem path and
// rejects anything that would land outside root.
func (l *Local) abs(p string) (string, error) {
	joined := filepath.Join(l.root, filepath.Clean(filepath.FromSlash(p)))
	rel, err := filepath.Rel(l.root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes storage root", p)
	}
	return joined, nil
}

// Store copies (or moves, when opts.Move is set) src to path under root.
func (l *Local) Store(_ context.Context, p string, src *file.Staged, opts PutOptions) (File, error) {
	dest, err := l.abs(p)
	if err != nil {
		return nil, err
	}
	var stored *file.Staged
	if opts.Move {
		stored, err = src.MoveTo(l.fs, dest, opts.Permissions, opts.DirectoryPermissions)
	} else {
		stored, err = src.CopyTo(l.fs, dest, opts.Permissions, opts.DirectoryPermissions)
	}
	if err != nil {
		return nil, fmt.Errorf("store %q: %w", p, err)
	}
	return NewLocalFile(file.FromCache(l.fs, stored.Path()), l.url(p)), nil
}

// Retrieve returns a handle for path without touching the filesystem.
func (l *Local) Retrieve(_ context.Context, p string) (File, error) {
	dest, err := l.abs(p)
	if err != nil {
		return nil, err
	}
	return NewLocalFile(file.FromCache(l.fs, dest), l.url(p)), nil
}

// List returns the sorted basenames of regular files directly inside dir.
// A missing directory lists as empty.
func (l *Local) List(_ context.Context, dir string) ([]string, error) {
	abs, err := l.abs(dir)
	if err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(l.fs, abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// DiskStats returns available and total bytes of the filesystem holding root.
// (0, 0) means the numbers are unavailable.
func (l *Local) DiskStats() (avail, total uint64) {
	if _, ok := l.fs.(*afero.OsFs); !ok {
		return 0, 0
	}
	return diskStats(l.root)
}

func (l *Local) url(p string) string {
	return l.baseURL + "/" + strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(p)), "/")
}

// LocalFile is a File on an afero filesystem.
type LocalFile struct {
	*file.Staged
	url string
}

// NewLocalFile wraps a staged file with a public URL.
func NewLocalFile(s *file.Staged, url string) *LocalFile {
	return &LocalFile{Staged: s, url: url}
}

// Filename is the basename of the file on disk.
func (f *LocalFile) Filename() string { return filepath.Base(f.Path()) }

// URL returns the public URL of the file.
func (f *LocalFile) URL() string { return f.url }

// Delete removes the file from disk.
func (f *LocalFile) Delete(_ context.Context) error { return f.Staged.Delete() }
