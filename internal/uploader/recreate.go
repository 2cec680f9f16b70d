package uploader

import (
	"context"

	"github.com/zynqcloud/go-upload/internal/file"
	"github.com/zynqcloud/go-upload/internal/store"
)

type state struct {
	file             *file.Staged
	stored           store.File
	previous         store.File
	cacheID          string
	originalFilename string
	identifier       string
}

func (u *Upload) snapshot() state {
	return state{u.file, u.stored, u.previous, u.cacheID, u.originalFilename, u.identifier}
}

func (u *Upload) restore(s state) {
	u.file, u.stored, u.previous = s.file, s.stored, s.previous
	u.cacheID, u.originalFilename, u.identifier = s.cacheID, s.originalFilename, s.identifier
}

func (u *Upload) saveTree(into map[*Upload]state) {
	for _, v := range u.Versions() {
		into[v] = v.snapshot()
		v.saveTree(into)
	}
}

// RecreateVersions re-caches and stores versions from the current file
// under a fresh cache id. With names, only those versions are stored; the
// versions they are chained from are re-cached as intermediates and then
// put back the way they were. The upload's own cache id is restored on
// return.
func (u *Upload) RecreateVersions(ctx context.Context, names ...string) error {
	if u.Blank() {
		return nil
	}
	sel, err := u.recreateSelection(names)
	if err != nil {
		return err
	}
	src, err := u.sourceFile()
	if err != nil {
		return err
	}

	saved := make(map[*Upload]state)
	u.saveTree(saved)
	prevID := u.cacheID
	u.cacheID = u.uploader.cfg.IDs.Next()
	id := u.cacheID
	defer func() {
		u.cacheID = prevID
		for v, s := range saved {
			if v.cacheID != id {
				continue
			}
			v.discardCached(false)
			v.restore(s)
		}
	}()
	u.log().Debug("recreate versions", "names", names, "cache_id", id)

	if err := u.cacheVersions(ctx, src, sel); err != nil {
		return err
	}
	named := make(map[string]bool, len(names))
	for _, n := range names {
		named[n] = true
	}
	for _, v := range u.ActiveVersions() {
		if len(names) > 0 && !named[v.uploader.name] {
			continue
		}
		if err := v.Store(ctx); err != nil {
			return err
		}
	}
	return nil
}

// recreateSelection is the set of names plus every version they are
// transitively chained from; nil when names is empty.
func (u *Upload) recreateSelection(names []string) (selection, error) {
	if len(names) == 0 {
		return nil, nil
	}
	sel := make(selection)
	for _, n := range names {
		v := u.Version(n)
		if v == nil {
			return nil, &InvalidParameterError{Param: "version", Value: n, Reason: "not declared"}
		}
		for ; v != nil && !sel[v.uploader.name]; v = u.Version(v.uploader.fromVersion) {
			sel[v.uploader.name] = true
		}
	}
	return sel, nil
}

// sourceFile is the current file as a candidate named after the original.
func (u *Upload) sourceFile() (*file.Staged, error) {
	if u.file != nil {
		return u.file.WithFilename(u.originalFilename), nil
	}
	name := u.Identifier()
	if lf, ok := u.stored.(*store.LocalFile); ok {
		return lf.Staged.WithFilename(name), nil
	}
	rc, err := u.stored.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return file.FromReader(name, rc, u.stored.ContentType())
}
