package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// ErrUnknownStorage is matched by every *UnknownStorageError.
var ErrUnknownStorage = errors.New("unknown storage")

// UnknownStorageError is returned when configuration names a backend that
// was never registered.
type UnknownStorageError struct {
	Name  string
	Known []string
}

func (e *UnknownStorageError) Error() string {
	return fmt.Sprintf("unknown storage %q (registered: %v)", e.Name, e.Known)
}

func (e *UnknownStorageError) Is(target error) bool { return target == ErrUnknownStorage }

// Options carries the settings of every built-in backend; each factory reads
// its own section.
type Options struct {
	FS     afero.Fs
	Local  LocalOptions
	S3     S3Options
	FTP    FTPOptions
	GridFS GridFSOptions
}

// LocalOptions configures the "file" backend.
type LocalOptions struct {
	Root    string
	BaseURL string
}

// Factory builds a Storage from Options.
type Factory func(opts Options) (Storage, error)

// Registry maps backend names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in backends: "file", "s3"
// (alias "fog"), "ftp" and "gridfs".
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("file", func(o Options) (Storage, error) {
		return NewLocal(o.FS, o.Local.Root, o.Local.BaseURL)
	})
	s3 := func(o Options) (Storage, error) { return NewS3(o.S3) }
	r.Register("s3", s3)
	r.Register("fog", s3)
	r.Register("ftp", func(o Options) (Storage, error) { return NewFTP(o.FTP), nil })
	r.Register("gridfs", func(o Options) (Storage, error) { return NewGridFS(o.GridFS), nil })
	return r
}

// Register adds or replaces a backend factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open builds the backend registered under name.
func (r *Registry) Open(name string, opts Options) (Storage, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownStorageError{Name: name, Known: r.Names()}
	}
	return f(opts)
}

const defaultDialTimeout = 30 * time.Second
