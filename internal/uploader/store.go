package uploader

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/zynqcloud/go-upload/internal/file"
	"github.com/zynqcloud/go-upload/internal/store"
)

// StoreFile caches f unless something is already cached, then stores.
func (u *Upload) StoreFile(ctx context.Context, f *file.Staged) error {
	if u.cacheID == "" {
		if err := u.Cache(ctx, f); err != nil {
			return err
		}
	}
	return u.Store(ctx)
}

// Store hands the cached file to the storage backend and then stores every
// active version. Without a pending cached file, or in cache-only mode, it
// does nothing.
func (u *Upload) Store(ctx context.Context) error {
	cfg := u.uploader.cfg
	if u.file == nil || u.cacheID == "" || cfg.CacheOnly {
		return nil
	}
	if err := cfg.Storage.Setup(ctx); err != nil {
		return err
	}
	id := u.cacheID
	if u.parent == nil && cfg.Deduplicate {
		if err := u.deduplicateAgainstStorage(ctx); err != nil {
			return err
		}
	}

	name := u.storeFilename()
	dest := u.StorePathFor(name)
	stored, err := cfg.Storage.Store(ctx, dest, u.file, store.PutOptions{
		Move:                 cfg.MoveToStore,
		Permissions:          cfg.Permissions,
		DirectoryPermissions: cfg.DirectoryPermissions,
	})
	if err != nil {
		return fmt.Errorf("store %s: %w", dest, err)
	}
	if cfg.DeleteTmpFileAfterStorage || cfg.MoveToStore {
		u.discardCached(cfg.MoveToStore)
	}
	u.log().Debug("stored", "path", dest)

	previous := u.previous
	u.file = nil
	u.stored = stored
	u.previous = nil
	u.cacheID = ""
	u.originalFilename = ""
	if u.parent == nil {
		u.identifier = name
		u.dedupIndex = 0
	}

	if previous != nil && cfg.RemovePreviouslyStoredFilesAfterUpdate && previous.Path() != stored.Path() {
		if err := previous.Delete(ctx); err != nil {
			u.log().Warn("remove previously stored file", "path", previous.Path(), "err", err)
		}
	}

	for _, v := range u.ActiveVersions() {
		if err := v.Store(ctx); err != nil {
			return err
		}
	}
	if u.parent == nil {
		u.dropIntermediates(id)
	}
	return nil
}

// dropIntermediates releases inactive versions still cached under id. They
// were cached only as the source of a chained sibling and are never stored.
func (u *Upload) dropIntermediates(id string) {
	for _, v := range u.Versions() {
		if v.cacheID == id && !u.VersionExists(v.uploader.name) {
			v.discardCached(false)
			v.file, v.cacheID, v.originalFilename = nil, "", ""
		}
		v.dropIntermediates(id)
	}
}

func (u *Upload) deduplicateAgainstStorage(ctx context.Context) error {
	lister, ok := u.uploader.cfg.Storage.(store.Lister)
	if !ok {
		return nil
	}
	existing, err := lister.List(ctx, u.StoreDir())
	if err != nil {
		return fmt.Errorf("list %s: %w", u.StoreDir(), err)
	}
	if u.previous != nil {
		replaced := path.Base(u.previous.Path())
		existing = removeString(existing, replaced)
	}
	u.Deduplicate(existing)
	return nil
}

func removeString(list []string, s string) []string {
	out := list[:0:0]
	for _, e := range list {
		if e != s {
			out = append(out, e)
		}
	}
	return out
}

// Deduplicate picks the smallest "(n)" suffix that keeps the store filename
// out of existing. With no collision the name is left unchanged. At most
// len(existing)+1 candidates are tried.
func (u *Upload) Deduplicate(existing []string) {
	r := u.root()
	r.dedupIndex = 0
	taken := make(map[string]bool, len(existing))
	for _, e := range existing {
		taken[e] = true
	}
	if !taken[r.deduplicatedFilename()] {
		return
	}
	for i := 2; i <= len(existing)+1; i++ {
		r.dedupIndex = i
		if !taken[r.deduplicatedFilename()] {
			return
		}
	}
}

// RetrieveFromStore points the upload and its active versions at the stored
// file named identifier, discarding any cached state.
func (u *Upload) RetrieveFromStore(ctx context.Context, identifier string) error {
	if identifier == "" || strings.ContainsAny(identifier, `/\`) || strings.Trim(identifier, ".") == "" {
		return &InvalidParameterError{Param: "identifier", Value: identifier, Reason: "not a plain filename"}
	}
	return u.retrieveFromStore(ctx, identifier)
}

func (u *Upload) retrieveFromStore(ctx context.Context, identifier string) error {
	cfg := u.uploader.cfg
	if err := cfg.Storage.Setup(ctx); err != nil {
		return err
	}
	f, err := cfg.Storage.Retrieve(ctx, u.StorePathFor(identifier))
	if err != nil {
		return err
	}
	u.stored = f
	u.file = nil
	u.previous = nil
	u.cacheID = ""
	u.originalFilename = ""
	if u.parent == nil {
		u.identifier = identifier
	}
	for _, v := range u.ActiveVersions() {
		if err := v.retrieveFromStore(ctx, identifier); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes the current file and the files of every version, active
// or not, and resets the upload to blank. State is reset even when a delete
// fails; the failures are returned joined.
func (u *Upload) Remove(ctx context.Context) error {
	var errs []error
	for _, v := range u.Versions() {
		errs = append(errs, v.Remove(ctx))
	}
	errs = append(errs, u.deleteCurrent(ctx))

	u.file = nil
	u.stored = nil
	u.previous = nil
	u.cacheID = ""
	u.originalFilename = ""
	u.identifier = ""
	u.dedupIndex = 0
	return errors.Join(errs...)
}

func (u *Upload) deleteCurrent(ctx context.Context) error {
	switch {
	case u.stored != nil:
		return u.stored.Delete(ctx)
	case u.file != nil:
		return u.file.Delete()
	}
	// A version that was never loaded may still have a stored file next
	// to the root's.
	id := u.Identifier()
	if u.parent == nil || id == "" {
		return nil
	}
	cfg := u.uploader.cfg
	if err := cfg.Storage.Setup(ctx); err != nil {
		return err
	}
	f, err := cfg.Storage.Retrieve(ctx, u.StorePathFor(id))
	if err != nil {
		return err
	}
	return f.Delete(ctx)
}
