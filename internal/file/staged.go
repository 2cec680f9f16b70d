// Package file normalizes "a file" regardless of where it came from: a path on
// an afero filesystem, an in-memory buffer or a spooled request body.
//
// A Staged never trusts the name or content type a client supplied: names are
// sanitized on read and the content type is sniffed from the bytes.
package file

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/spf13/afero"
)

type origin int

const (
	originPath   origin = iota // a raw path handed in by the caller
	originUpload               // a spooled upload or downloaded body
	originMemory               // bytes held in memory
	originStaged               // produced by MoveTo/CopyTo or a cache lookup
)

const (
	defaultPerm    os.FileMode = 0o644
	defaultDirPerm os.FileMode = 0o755
)

// Error describes a failed path operation.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("file: %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("file: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Staged is a sanitized view of a single file.
type Staged struct {
	fs       afero.Fs
	path     string
	content  []byte
	name     string
	declared string
	kind     origin
	sanitize *regexp.Regexp
}

// FromPath wraps an existing path. Caching a path-backed file is refused when
// the uploader only accepts multipart form uploads.
func FromPath(fs afero.Fs, path string) *Staged {
	return &Staged{fs: fs, path: path, kind: originPath}
}

// FromCache points at a file inside a cache directory without touching the
// filesystem.
func FromCache(fs afero.Fs, path string) *Staged {
	return &Staged{fs: fs, path: path, kind: originStaged}
}

// FromBytes wraps an in-memory payload.
func FromBytes(name string, data []byte, contentType string) *Staged {
	if data == nil {
		data = []byte{}
	}
	return &Staged{content: data, name: name, declared: contentType, kind: originMemory}
}

// FromReader buffers r in memory. Use Spool for large bodies.
func FromReader(name string, r io.Reader, contentType string) (*Staged, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &Error{Op: "read", Err: err}
	}
	return FromBytes(name, data, contentType), nil
}

// Spool streams r into path on fs and returns a Staged for it that keeps the
// client supplied name and content type.
func Spool(fs afero.Fs, path, name string, r io.Reader, contentType string) (*Staged, error) {
	if err := fs.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return nil, &Error{Op: "spool", Path: path, Err: err}
	}
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, defaultPerm)
	if err != nil {
		return nil, &Error{Op: "spool", Path: path, Err: err}
	}
	_, werr := io.Copy(f, r)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		fs.Remove(path) //nolint:errcheck
		return nil, &Error{Op: "spool", Path: path, Err: errors.Join(werr, cerr)}
	}
	return &Staged{fs: fs, path: path, name: name, declared: contentType, kind: originUpload}, nil
}

// IsPath reports whether the file was handed in as a bare path.
func (s *Staged) IsPath() bool { return s.kind == originPath }

// Fs returns the filesystem backing the file, nil for in-memory payloads.
func (s *Staged) Fs() afero.Fs { return s.fs }

// Path returns the current location, empty for in-memory payloads.
func (s *Staged) Path() string { return s.path }

// SetSanitizeRegexp overrides the character class replaced by Filename.
func (s *Staged) SetSanitizeRegexp(re *regexp.Regexp) { s.sanitize = re }

// WithFilename returns a view of the same bytes reporting name as its
// original filename.
func (s *Staged) WithFilename(name string) *Staged {
	c := *s
	c.name = name
	if c.kind == originPath {
		c.kind = originStaged
	}
	return &c
}

// OriginalFilename is the unsanitized name: the supplied one, else the
// basename of the path.
func (s *Staged) OriginalFilename() string {
	if s.name != "" {
		return s.name
	}
	if s.path != "" {
		return filepath.Base(s.path)
	}
	return ""
}

// Filename is the sanitized original filename, empty when unknown.
func (s *Staged) Filename() string {
	orig := s.OriginalFilename()
	if orig == "" {
		return ""
	}
	return SanitizeWith(orig, s.sanitize)
}

// Basename is Filename without its extension.
func (s *Staged) Basename() string {
	base, _ := SplitExtension(s.Filename())
	return base
}

// Extension is the extension of Filename, empty when there is none.
func (s *Staged) Extension() string {
	_, ext := SplitExtension(s.Filename())
	return ext
}

// DeclaredContentType is the content type supplied with the file, if any.
func (s *Staged) DeclaredContentType() string { return s.declared }

// Exists reports whether the underlying bytes are reachable.
func (s *Staged) Exists() bool {
	if s.content != nil {
		return true
	}
	if s.path == "" || s.fs == nil {
		return false
	}
	_, err := s.fs.Stat(s.path)
	return err == nil
}

// Size returns the size in bytes; a missing file has size zero.
func (s *Staged) Size() (int64, error) {
	if s.content != nil {
		return int64(len(s.content)), nil
	}
	if s.path == "" || s.fs == nil {
		return 0, nil
	}
	info, err := s.fs.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, &Error{Op: "stat", Path: s.path, Err: err}
	}
	return info.Size(), nil
}

// IsEmpty reports whether there is nothing to cache.
func (s *Staged) IsEmpty() bool {
	if s == nil {
		return true
	}
	if s.content != nil {
		return len(s.content) == 0
	}
	return !s.Exists()
}

// Open returns a reader over the content.
func (s *Staged) Open() (io.ReadCloser, error) {
	if s.content != nil {
		return io.NopCloser(bytes.NewReader(s.content)), nil
	}
	if s.path == "" || s.fs == nil {
		return nil, &Error{Op: "open", Err: os.ErrNotExist}
	}
	f, err := s.fs.Open(s.path)
	if err != nil {
		return nil, &Error{Op: "open", Path: s.path, Err: err}
	}
	return f, nil
}

// Read returns the whole content.
func (s *Staged) Read() ([]byte, error) {
	if s.content != nil {
		return s.content, nil
	}
	rc, err := s.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &Error{Op: "read", Path: s.path, Err: err}
	}
	return data, nil
}

// MoveTo relocates the bytes to dst on fs and repoints s at them. Moving onto
// the current location only applies permissions. A zero perm or dirPerm uses
// the defaults (0644 / 0755).
func (s *Staged) MoveTo(fs afero.Fs, dst string, perm, dirPerm os.FileMode) (*Staged, error) {
	if s.samePlace(fs, dst) {
		return s, chmod(fs, dst, perm)
	}
	if err := mkdirParent(fs, dst, dirPerm); err != nil {
		return nil, err
	}
	switch {
	case s.content != nil:
		if err := writeAll(fs, dst, bytes.NewReader(s.content), perm); err != nil {
			return nil, err
		}
	case s.fs == fs:
		if err := fs.Rename(s.path, dst); err != nil {
			if err := s.copyInto(fs, dst, perm); err != nil {
				return nil, err
			}
			s.fs.Remove(s.path) //nolint:errcheck
		}
	default:
		if err := s.copyInto(fs, dst, perm); err != nil {
			return nil, err
		}
		if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, &Error{Op: "move", Path: s.path, Err: err}
		}
	}
	if err := chmod(fs, dst, perm); err != nil {
		return nil, err
	}
	s.name = ""
	s.fs, s.path, s.content, s.kind = fs, dst, nil, originStaged
	return s, nil
}

// CopyTo copies the bytes to dst on fs and returns a new Staged for the copy;
// s is left untouched. Copying onto the current location returns a fresh
// handle to the same file.
func (s *Staged) CopyTo(fs afero.Fs, dst string, perm, dirPerm os.FileMode) (*Staged, error) {
	out := &Staged{fs: fs, path: dst, declared: s.declared, kind: originStaged, sanitize: s.sanitize}
	if s.samePlace(fs, dst) {
		return out, chmod(fs, dst, perm)
	}
	if err := mkdirParent(fs, dst, dirPerm); err != nil {
		return nil, err
	}
	if err := s.copyInto(fs, dst, perm); err != nil {
		return nil, err
	}
	return out, chmod(fs, dst, perm)
}

// Rewrite replaces the content with whatever fn writes. Path-backed files are
// written to a sibling temp file and renamed over the original.
func (s *Staged) Rewrite(fn func(w io.Writer) error) error {
	if s.content != nil {
		var buf bytes.Buffer
		if err := fn(&buf); err != nil {
			return err
		}
		s.content = buf.Bytes()
		return nil
	}
	if s.path == "" || s.fs == nil {
		return &Error{Op: "rewrite", Err: os.ErrNotExist}
	}
	tmp := s.path + ".tmp"
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, defaultPerm)
	if err != nil {
		return &Error{Op: "rewrite", Path: tmp, Err: err}
	}
	werr := fn(f)
	cerr := f.Close()
	if werr != nil {
		s.fs.Remove(tmp) //nolint:errcheck
		return werr
	}
	if cerr != nil {
		s.fs.Remove(tmp) //nolint:errcheck
		return &Error{Op: "rewrite", Path: tmp, Err: cerr}
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		s.fs.Remove(tmp) //nolint:errcheck
		return &Error{Op: "rewrite", Path: s.path, Err: err}
	}
	return nil
}

// Delete removes the underlying file. A missing file is not an error.
func (s *Staged) Delete() error {
	if s.path == "" || s.fs == nil {
		return nil
	}
	if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &Error{Op: "delete", Path: s.path, Err: err}
	}
	return nil
}

func (s *Staged) samePlace(fs afero.Fs, dst string) bool {
	return s.content == nil && s.fs == fs && s.path != "" &&
		filepath.Clean(s.path) == filepath.Clean(dst)
}

func (s *Staged) copyInto(fs afero.Fs, dst string, perm os.FileMode) error {
	rc, err := s.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return writeAll(fs, dst, rc, perm)
}

func writeAll(fs afero.Fs, dst string, r io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = defaultPerm
	}
	f, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return &Error{Op: "write", Path: dst, Err: err}
	}
	_, werr := io.Copy(f, r)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		fs.Remove(dst) //nolint:errcheck
		return &Error{Op: "write", Path: dst, Err: errors.Join(werr, cerr)}
	}
	return nil
}

func mkdirParent(fs afero.Fs, dst string, dirPerm os.FileMode) error {
	if dirPerm == 0 {
		dirPerm = defaultDirPerm
	}
	dir := filepath.Dir(dst)
	if err := fs.MkdirAll(dir, dirPerm); err != nil {
		return &Error{Op: "mkdir", Path: dir, Err: err}
	}
	return nil
}

func chmod(fs afero.Fs, path string, perm os.FileMode) error {
	if perm == 0 {
		return nil
	}
	if err := fs.Chmod(path, perm); err != nil {
		return &Error{Op: "chmod", Path: path, Err: err}
	}
	return nil
}
