package store

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"

	"github.com/zynqcloud/go-upload/internal/file"
)

// GridFSOptions configures the "gridfs" backend.
type GridFSOptions struct {
	Addrs    []string
	Database string
	Username string
	Password string
	Prefix   string // collection prefix, "fs" when empty
	BaseURL  string
	Timeout  time.Duration
}

// GridFS stores files in MongoDB GridFS, keyed by their store path.
type GridFS struct {
	opts GridFSOptions

	mu      sync.Mutex
	session *mgo.Session
}

func NewGridFS(opts GridFSOptions) *GridFS {
	if opts.Prefix == "" {
		opts.Prefix = "fs"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultDialTimeout
	}
	return &GridFS{opts: opts}
}

// Setup dials MongoDB once; later calls reuse the session.
func (g *GridFS) Setup(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session != nil {
		return nil
	}
	info := mgo.DialInfo{
		Addrs:    g.opts.Addrs,
		Database: g.opts.Database,
		Timeout:  g.opts.Timeout,
		Username: g.opts.Username,
		Password: g.opts.Password,
	}
	ses, err := mgo.DialWithInfo(&info)
	if err != nil {
		return fmt.Errorf("gridfs: dial %v: %w", g.opts.Addrs, err)
	}
	ses.SetMode(mgo.Monotonic, true)
	g.session = ses
	return nil
}

// Close ends the MongoDB session.
func (g *GridFS) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session != nil {
		g.session.Close()
		g.session = nil
	}
}

// fs returns a GridFS handle on a copied session; call the returned func
// when done.
func (g *GridFS) fs() (*mgo.GridFS, func()) {
	ses := g.session.Copy()
	return ses.DB(g.opts.Database).GridFS(g.opts.Prefix), ses.Close
}

func (g *GridFS) Store(ctx context.Context, p string, src *file.Staged, opts PutOptions) (File, error) {
	if err := g.Setup(ctx); err != nil {
		return nil, err
	}
	gfs, done := g.fs()
	defer done()

	name := objectKey(p)
	// GridFS allows duplicate names; the newest replaces the rest.
	if err := removeAll(gfs, name); err != nil {
		return nil, err
	}
	body, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer body.Close()

	out, err := gfs.Create(name)
	if err != nil {
		return nil, fmt.Errorf("gridfs: create %s: %w", name, err)
	}
	ctype := src.ContentType()
	out.SetContentType(ctype)
	if _, err := io.Copy(out, body); err != nil {
		out.Abort()
		out.Close() //nolint:errcheck
		return nil, fmt.Errorf("gridfs: write %s: %w", name, err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("gridfs: write %s: %w", name, err)
	}
	if opts.Move && src.Path() != "" {
		if err := src.Delete(); err != nil {
			return nil, err
		}
	}
	return &gridFile{g: g, name: name, ctype: ctype}, nil
}

func (g *GridFS) Retrieve(ctx context.Context, p string) (File, error) {
	if err := g.Setup(ctx); err != nil {
		return nil, err
	}
	return &gridFile{g: g, name: objectKey(p)}, nil
}

// List returns the basenames of files stored directly under dir.
func (g *GridFS) List(ctx context.Context, dir string) ([]string, error) {
	if err := g.Setup(ctx); err != nil {
		return nil, err
	}
	gfs, done := g.fs()
	defer done()

	prefix := objectKey(dir)
	if prefix != "" {
		prefix += "/"
	}
	var docs []struct {
		Filename string `bson:"filename"`
	}
	q := bson.M{"filename": bson.RegEx{Pattern: "^" + regexp.QuoteMeta(prefix) + "[^/]+$"}}
	if err := gfs.Find(q).Select(bson.M{"filename": 1}).All(&docs); err != nil {
		return nil, fmt.Errorf("gridfs: list %s: %w", prefix, err)
	}
	seen := make(map[string]bool, len(docs))
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		n := strings.TrimPrefix(d.Filename, prefix)
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	return names, nil
}

func removeAll(gfs *mgo.GridFS, name string) error {
	err := gfs.Remove(name)
	if err != nil && err != mgo.ErrNotFound {
		return fmt.Errorf("gridfs: remove %s: %w", name, err)
	}
	return nil
}

type gridFile struct {
	g     *GridFS
	name  string
	ctype string
}

func (f *gridFile) Path() string     { return f.name }
func (f *gridFile) Filename() string { return path.Base(f.name) }

func (f *gridFile) URL() string {
	return strings.TrimSuffix(f.g.opts.BaseURL, "/") + "/" + f.name
}

func (f *gridFile) ContentType() string {
	if f.ctype != "" {
		return f.ctype
	}
	gfs, done := f.g.fs()
	defer done()
	gf, err := gfs.Open(f.name)
	if err != nil {
		return ""
	}
	defer gf.Close()
	f.ctype = gf.ContentType()
	return f.ctype
}

func (f *gridFile) Size() (int64, error) {
	gfs, done := f.g.fs()
	defer done()
	gf, err := gfs.Open(f.name)
	if err == mgo.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("gridfs: open %s: %w", f.name, err)
	}
	defer gf.Close()
	return gf.Size(), nil
}

func (f *gridFile) Open() (io.ReadCloser, error) {
	gfs, done := f.g.fs()
	gf, err := gfs.Open(f.name)
	if err != nil {
		done()
		return nil, fmt.Errorf("gridfs: open %s: %w", f.name, err)
	}
	return &gridReader{GridFile: gf, done: done}, nil
}

func (f *gridFile) Delete(ctx context.Context) error {
	if err := f.g.Setup(ctx); err != nil {
		return err
	}
	gfs, done := f.g.fs()
	defer done()
	return removeAll(gfs, f.name)
}

// gridReader releases the copied session together with the file.
type gridReader struct {
	*mgo.GridFile
	done func()
}

func (r *gridReader) Close() error {
	err := r.GridFile.Close()
	r.done()
	return err
}
