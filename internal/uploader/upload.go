package uploader

import (
	"log/slog"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zynqcloud/go-upload/internal/file"
	"github.com/zynqcloud/go-upload/internal/store"
)

// Upload is one file moving through the lifecycle, plus its versions.
//
// At most one of the cached file and the stored handle is set. cacheID is
// set only while a cached file is pending storage; identifier only while
// the upload reflects a stored or retrieved file.
type Upload struct {
	uploader  *Uploader
	parent    *Upload
	model     any
	mountedAs string

	file             *file.Staged
	stored           store.File
	previous         store.File // handle replaced by the pending cache
	cacheID          string
	originalFilename string
	identifier       string
	dedupIndex       int
	processing       *bool

	versions []*Upload
}

// Uploader returns the definition this upload runs under.
func (u *Upload) Uploader() *Uploader { return u.uploader }

// Parent is the upload this version belongs to, nil for the root.
func (u *Upload) Parent() *Upload { return u.parent }

func (u *Upload) Model() any           { return u.model }
func (u *Upload) MountedAs() string    { return u.mountedAs }
func (u *Upload) CacheID() string      { return u.cacheID }
func (u *Upload) Cached() bool         { return u.cacheID != "" }
func (u *Upload) Staged() *file.Staged { return u.file }

// OriginalFilename is the sanitized name recorded at cache time.
func (u *Upload) OriginalFilename() string { return u.originalFilename }

// Blank reports whether there is no file at all.
func (u *Upload) Blank() bool {
	if u.stored != nil {
		return false
	}
	return u.file.IsEmpty()
}

// Identifier locates the stored file. Versions share the identifier of
// their root.
func (u *Upload) Identifier() string {
	if u.parent != nil {
		return u.parent.Identifier()
	}
	return u.identifier
}

// VersionName joins the names of this version and its ancestors with "_";
// empty for the root.
func (u *Upload) VersionName() string {
	var names []string
	for up := u.uploader; up != nil && up.parent != nil; up = up.parent {
		names = append([]string{up.name}, names...)
	}
	return strings.Join(names, "_")
}

func (u *Upload) fullFilename(name string) string {
	if v := u.VersionName(); v != "" && name != "" {
		return v + "_" + name
	}
	return name
}

// Filename is the name the file is stored under: the configured Filename
// callback, else the sanitized original filename. Empty when nothing is
// cached.
func (u *Upload) Filename() string {
	if u.originalFilename == "" {
		return ""
	}
	if fn := u.uploader.cfg.Filename; fn != nil {
		if name := fn(u); name != "" {
			return name
		}
	}
	return u.originalFilename
}

func (u *Upload) root() *Upload {
	r := u
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// deduplicatedFilename applies the root's deduplication index as a "(n)"
// suffix to the part of the filename before its first dot.
func (u *Upload) deduplicatedFilename() string {
	name := u.Filename()
	idx := u.root().dedupIndex
	if name == "" || idx <= 1 {
		return name
	}
	base, rest, hasExt := strings.Cut(name, ".")
	if !hasExt {
		return base + "(" + strconv.Itoa(idx) + ")"
	}
	return base + "(" + strconv.Itoa(idx) + ")." + rest
}

// storeFilename is the filename component of the store path. Versions follow
// the root identifier once the root is stored.
func (u *Upload) storeFilename() string {
	if u.parent != nil {
		if id := u.Identifier(); id != "" {
			return id
		}
	}
	if name := u.deduplicatedFilename(); name != "" {
		return name
	}
	return u.Identifier()
}

// StoreDir is the directory, relative to the storage root, files are stored in.
func (u *Upload) StoreDir() string {
	if fn := u.uploader.cfg.StoreDirFunc; fn != nil {
		return fn(u)
	}
	return u.uploader.cfg.StoreDir
}

// StorePath is where the current file would be stored.
func (u *Upload) StorePath() string { return u.StorePathFor(u.storeFilename()) }

// StorePathFor is the store path of filename for this version.
func (u *Upload) StorePathFor(filename string) string {
	return path.Join(u.StoreDir(), u.fullFilename(filename))
}

// CacheName is "<cacheID>/<full original filename>", empty unless cached.
func (u *Upload) CacheName() string {
	if u.cacheID == "" {
		return ""
	}
	return u.cacheID + "/" + u.fullFilename(u.originalFilename)
}

func (u *Upload) cacheDir(id string) string {
	return filepath.Join(u.uploader.CacheRoot(), id)
}

func (u *Upload) cachePath(id, original string) string {
	return filepath.Join(u.cacheDir(id), u.fullFilename(original))
}

// CurrentPath is the location of the current file, empty when blank.
func (u *Upload) CurrentPath() string {
	switch {
	case u.file != nil:
		return u.file.Path()
	case u.stored != nil:
		return u.stored.Path()
	}
	return ""
}

// URL is the public URL of the current file. Cached files are served
// relative to Root; a blank upload yields DefaultURL.
func (u *Upload) URL() string {
	cfg := u.uploader.cfg
	switch {
	case u.stored != nil:
		return u.stored.URL()
	case u.file != nil && u.file.Path() != "":
		rel, err := filepath.Rel(cfg.Root, u.file.Path())
		if err != nil || strings.HasPrefix(rel, "..") {
			return ""
		}
		return strings.TrimSuffix(cfg.AssetHost, "/") + "/" + filepath.ToSlash(rel)
	}
	return cfg.DefaultURL
}

// File returns a handle to the current file, nil when blank.
func (u *Upload) File() store.File {
	switch {
	case u.stored != nil:
		return u.stored
	case u.file != nil:
		return store.NewLocalFile(u.file, u.URL())
	}
	return nil
}

func (u *Upload) currentFile() FileInfo {
	switch {
	case u.file != nil:
		return u.file
	case u.stored != nil:
		return u.stored
	}
	return nil
}

func (u *Upload) log() *slog.Logger {
	l := u.uploader.cfg.Logger
	if v := u.VersionName(); v != "" {
		return l.With("version", v)
	}
	return l
}

// Dimensions reports the width and height of the cached file.
func (u *Upload) Dimensions() (width, height int, err error) {
	d := u.uploader.cfg.Dimensioner
	if d == nil {
		return 0, 0, configErrorf("no Dimensioner configured")
	}
	if u.file == nil {
		return 0, 0, nil
	}
	return d.Dimensions(u.file)
}
