package uploader

import (
	"context"

	"github.com/zynqcloud/go-upload/internal/file"
)

// selection restricts a fan-out to some version names; nil selects all.
type selection map[string]bool

func (s selection) has(name string) bool { return s == nil || s[name] }

// Versions returns the version uploads in declaration order, building them
// on first use.
func (u *Upload) Versions() []*Upload {
	if u.versions == nil && len(u.uploader.children) > 0 {
		u.versions = make([]*Upload, len(u.uploader.children))
		for i, c := range u.uploader.children {
			u.versions[i] = &Upload{uploader: c, parent: u, model: u.model, mountedAs: u.mountedAs}
		}
	}
	return u.versions
}

// Version returns the version upload called name, nil if none is declared.
func (u *Upload) Version(name string) *Upload {
	for _, v := range u.Versions() {
		if v.uploader.name == name {
			return v
		}
	}
	return nil
}

// VersionExists evaluates the version's If/Unless conditions against the
// current file. The answer is never cached.
func (u *Upload) VersionExists(name string) bool {
	v := u.Version(name)
	if v == nil {
		return false
	}
	c := v.uploader
	f := u.currentFile()
	if c.ifCond != nil && !c.ifCond(u, f) {
		return false
	}
	if c.unlessCond != nil && c.unlessCond(u, f) {
		return false
	}
	return true
}

// ActiveVersions returns the versions that currently exist.
func (u *Upload) ActiveVersions() []*Upload {
	var out []*Upload
	for _, v := range u.Versions() {
		if u.VersionExists(v.uploader.name) {
			out = append(out, v)
		}
	}
	return out
}

// dependents returns the versions chained from the version called name.
func (u *Upload) dependents(name string) []*Upload {
	var out []*Upload
	for _, v := range u.Versions() {
		if v.uploader.fromVersion == name {
			out = append(out, v)
		}
	}
	return out
}

// wanted reports whether version v must be cached: it is active, or an
// active version within sel is chained from it.
func (u *Upload) wanted(v *Upload, sel selection) bool {
	if !sel.has(v.uploader.name) {
		return false
	}
	if u.VersionExists(v.uploader.name) {
		return true
	}
	for _, d := range u.dependents(v.uploader.name) {
		if u.wanted(d, sel) {
			return true
		}
	}
	return false
}

// cacheVersions caches every wanted version derived directly from the
// upload's original file. Chained versions are cached by their source.
func (u *Upload) cacheVersions(ctx context.Context, src *file.Staged, sel selection) error {
	for _, v := range u.Versions() {
		if v.uploader.fromVersion != "" || !u.wanted(v, sel) {
			continue
		}
		v.cacheID = u.cacheID
		if err := v.cache(ctx, src, false, sel); err != nil {
			return err
		}
	}
	return nil
}

// cacheDependents caches the siblings chained from v using v's processed
// file, keeping the original filename.
func (u *Upload) cacheDependents(ctx context.Context, v *Upload, sel selection) error {
	for _, d := range u.dependents(v.uploader.name) {
		if !u.wanted(d, sel) || v.file == nil {
			continue
		}
		d.cacheID = v.cacheID
		if err := d.cache(ctx, v.file.WithFilename(v.originalFilename), true, sel); err != nil {
			return err
		}
	}
	return nil
}
