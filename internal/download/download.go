// Package download fetches remote files into spool files that can be cached
// like any other upload.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/zynqcloud/go-upload/internal/file"
)

// ErrDownload is matched by every *DownloadError.
var ErrDownload = errors.New("download failed")

// DownloadError reports a remote file that could not be fetched.
type DownloadError struct {
	URL    string
	Status int // HTTP status, 0 when no response was received
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

func (e *DownloadError) Is(target error) bool { return target == ErrDownload }

// errTooLarge is wrapped when a body exceeds MaxSize.
var errTooLarge = errors.New("remote file exceeds size limit")

const fallbackName = "download"

// Downloader spools remote files into Dir on FS.
type Downloader struct {
	FS      afero.Fs
	Dir     string
	Client  *http.Client
	MaxSize int64 // bytes, 0 = unbounded
	Logger  *slog.Logger
}

// New returns a Downloader spooling into dir with a 60s client timeout.
func New(fs afero.Fs, dir string, maxSize int64, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		FS:      fs,
		Dir:     dir,
		Client:  &http.Client{Timeout: 60 * time.Second},
		MaxSize: maxSize,
		Logger:  logger,
	}
}

// counter tracks bytes received for progress logging.
type counter struct {
	total uint64
}

func (c *counter) Write(p []byte) (int, error) {
	c.total += uint64(len(p))
	return len(p), nil
}

// Download fetches rawURL and returns the spooled body. The filename comes
// from Content-Disposition, else the last URL path segment. The caller owns
// the spool file.
func (d *Downloader) Download(ctx context.Context, rawURL string) (*file.Staged, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, &DownloadError{URL: rawURL, Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &DownloadError{URL: rawURL, Err: fmt.Errorf("unsupported url %q", rawURL)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &DownloadError{URL: rawURL, Err: err}
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &DownloadError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DownloadError{URL: rawURL, Status: resp.StatusCode}
	}
	if d.MaxSize > 0 && resp.ContentLength > d.MaxSize {
		return nil, &DownloadError{URL: rawURL, Err: errTooLarge}
	}

	body := io.Reader(resp.Body)
	if d.MaxSize > 0 {
		body = io.LimitReader(resp.Body, d.MaxSize+1)
	}
	c := &counter{}
	spool := filepath.Join(d.Dir, uuid.NewString())
	name := filename(resp.Header.Get("Content-Disposition"), u)
	staged, err := file.Spool(d.FS, spool, name, io.TeeReader(body, c), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &DownloadError{URL: rawURL, Err: err}
	}
	if d.MaxSize > 0 && int64(c.total) > d.MaxSize {
		staged.Delete() //nolint:errcheck
		return nil, &DownloadError{URL: rawURL, Err: errTooLarge}
	}
	d.Logger.Info("downloaded remote file", "url", u.Redacted(), "filename", name, "size", humanize.Bytes(c.total))
	return staged, nil
}

func filename(disposition string, u *url.URL) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := params["filename"]; name != "" {
				return name
			}
		}
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." || base == "" {
		return fallbackName
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		return unescaped
	}
	return base
}
