package uploader

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/afero"

	"github.com/zynqcloud/go-upload/internal/file"
)

// Cache validates f, stages it under a cache id and runs processing, then
// caches the versions derived from it. An empty f is a no-op. A validation
// failure anywhere in the tree leaves the upload and its versions exactly as
// they were.
func (u *Upload) Cache(ctx context.Context, f *file.Staged) error {
	saved := map[*Upload]state{u: u.snapshot()}
	u.saveTree(saved)
	err := u.cache(ctx, f, false, nil)
	if errors.Is(err, ErrIntegrity) {
		u.rollback(saved)
	}
	return err
}

// rollback puts the tree back to saved, deleting what the failed attempt
// cached. A candidate moved into the cache is left for the sweep.
func (u *Upload) rollback(saved map[*Upload]state) {
	moved := u.uploader.cfg.MoveToCache
	for v, s := range saved {
		if v.file != nil && v.file != s.file && !(v == u && moved) &&
			(s.file == nil || v.file.Path() != s.file.Path()) {
			v.discardCached(false)
		}
		v.restore(s)
	}
}

// cache is Cache for any level of the tree. chained marks a source that
// belongs to another version and must never be moved; sel restricts which
// chained siblings follow.
func (u *Upload) cache(ctx context.Context, f *file.Staged, chained bool, sel selection) error {
	cfg := u.uploader.cfg
	if f != nil && f.IsPath() && cfg.EnsureMultipartForm {
		return ErrFormNotMultipart
	}
	if f.IsEmpty() {
		return nil
	}
	f.SetSanitizeRegexp(cfg.SanitizeRegexp)
	if err := u.validate(ctx, f); err != nil {
		return err
	}

	id := u.cacheID
	if id == "" {
		id = cfg.IDs.Next()
	}
	original := file.SanitizeWith(f.OriginalFilename(), cfg.SanitizeRegexp)

	staged := f
	moved := false
	if cfg.CacheToCacheDir {
		dst := u.cachePath(id, original)
		var err error
		if cfg.MoveToCache && !chained {
			staged, err = f.MoveTo(cfg.FS, dst, cfg.Permissions, cfg.DirectoryPermissions)
			moved = true
		} else {
			staged, err = f.CopyTo(cfg.FS, dst, cfg.Permissions, cfg.DirectoryPermissions)
		}
		if err != nil {
			return err
		}
		staged.SetSanitizeRegexp(cfg.SanitizeRegexp)
	}

	if u.stored != nil {
		u.previous = u.stored
	}
	u.file = staged
	u.stored = nil
	u.identifier = ""
	u.cacheID = id
	u.originalFilename = original
	u.log().Debug("cached", "cache_name", u.CacheName(), "path", staged.Path())

	// A moved candidate is now this upload's own file; derive versions from
	// it before processing rewrites it.
	if moved {
		if err := u.cacheVersions(ctx, staged.WithFilename(original), nil); err != nil {
			return err
		}
		if err := u.Process(ctx); err != nil {
			return err
		}
	} else {
		if err := u.Process(ctx); err != nil {
			return err
		}
		if err := u.cacheVersions(ctx, f, nil); err != nil {
			return err
		}
	}
	if u.parent != nil {
		return u.parent.cacheDependents(ctx, u, sel)
	}
	return nil
}

// RetrieveFromCache points the upload and its active versions at a file
// cached earlier under cacheName ("<cacheID>/<filename>"). The file is not
// read; a name that fails validation leaves the upload untouched.
func (u *Upload) RetrieveFromCache(cacheName string) error {
	id, name, ok := strings.Cut(cacheName, "/")
	if !ok || !ValidCacheID(id) {
		return &InvalidParameterError{Param: "cache name", Value: cacheName, Reason: "malformed cache id"}
	}
	if name == "" || name != file.SanitizeWith(name, u.uploader.cfg.SanitizeRegexp) {
		return &InvalidParameterError{Param: "cache name", Value: cacheName, Reason: "malformed original filename"}
	}
	u.retrieveFromCache(id, name)
	return nil
}

func (u *Upload) retrieveFromCache(id, name string) {
	cfg := u.uploader.cfg
	u.cacheID = id
	u.originalFilename = name
	u.file = file.FromCache(cfg.FS, u.cachePath(id, name))
	u.file.SetSanitizeRegexp(cfg.SanitizeRegexp)
	if u.stored != nil {
		u.previous = u.stored
	}
	u.stored = nil
	u.identifier = ""
	for _, v := range u.ActiveVersions() {
		v.retrieveFromCache(id, name)
	}
}

// discardCached deletes the cached file, unless it was moved away, and the
// cache directory once it is empty.
func (u *Upload) discardCached(moved bool) {
	cfg := u.uploader.cfg
	if u.file == nil || u.cacheID == "" || !cfg.CacheToCacheDir {
		return
	}
	if !moved {
		if err := u.file.Delete(); err != nil {
			u.log().Warn("delete cached file", "path", u.file.Path(), "err", err)
		}
	}
	dir := u.cacheDir(u.cacheID)
	if empty, err := afero.IsEmpty(cfg.FS, dir); err == nil && empty {
		if err := cfg.FS.Remove(dir); err != nil {
			u.log().Warn("remove cache dir", "dir", dir, "err", err)
		}
	}
}
