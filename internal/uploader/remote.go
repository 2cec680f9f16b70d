package uploader

import "context"

// CacheRemote downloads rawURL with the configured Downloader and caches
// the result. The downloaded spool file is removed unless caching took
// ownership of it.
func (u *Upload) CacheRemote(ctx context.Context, rawURL string) error {
	d := u.uploader.cfg.Downloader
	if d == nil {
		return configErrorf("no Downloader configured")
	}
	f, err := d.Download(ctx, rawURL)
	if err != nil {
		return err
	}
	err = u.Cache(ctx, f)
	if u.file != f {
		if derr := f.Delete(); derr != nil {
			u.log().Warn("delete download spool", "path", f.Path(), "err", derr)
		}
	}
	return err
}
