package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/textproto"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/zynqcloud/go-upload/internal/file"
)

// FTPOptions configures the "ftp" backend.
type FTPOptions struct {
	Addr        string // host:port
	User        string
	Password    string
	Dir         string // remote base directory
	BaseURL     string // public URL prefix
	DialTimeout time.Duration
}

// FTP stores files on an FTP server. Each operation opens its own control
// connection; FTP sessions are stateful and do not tolerate concurrent use.
type FTP struct {
	opts FTPOptions
}

func NewFTP(opts FTPOptions) *FTP {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	return &FTP{opts: opts}
}

func (f *FTP) dial(ctx context.Context) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(f.opts.Addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(f.opts.DialTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("ftp: dial %s: %w", f.opts.Addr, err)
	}
	if err := conn.Login(f.opts.User, f.opts.Password); err != nil {
		conn.Quit() //nolint:errcheck
		return nil, fmt.Errorf("ftp: login: %w", err)
	}
	return conn, nil
}

// Setup verifies that the server accepts the configured credentials.
func (f *FTP) Setup(ctx context.Context) error {
	conn, err := f.dial(ctx)
	if err != nil {
		return err
	}
	return conn.Quit()
}

func (f *FTP) remote(p string) string {
	return path.Join("/", f.opts.Dir, path.Clean("/"+p))
}

func (f *FTP) Store(ctx context.Context, p string, src *file.Staged, opts PutOptions) (File, error) {
	conn, err := f.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit() //nolint:errcheck

	dest := f.remote(p)
	if err := mkdirs(conn, path.Dir(dest)); err != nil {
		return nil, err
	}
	body, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer body.Close()
	if err := conn.Stor(dest, body); err != nil {
		return nil, fmt.Errorf("ftp: stor %s: %w", dest, err)
	}
	if opts.Move && src.Path() != "" {
		if err := src.Delete(); err != nil {
			return nil, err
		}
	}
	return &ftpFile{f: f, path: dest, url: f.url(p)}, nil
}

func (f *FTP) Retrieve(_ context.Context, p string) (File, error) {
	return &ftpFile{f: f, path: f.remote(p), url: f.url(p)}, nil
}

func (f *FTP) List(ctx context.Context, dir string) ([]string, error) {
	conn, err := f.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit() //nolint:errcheck

	names, err := conn.NameList(f.remote(dir))
	if isUnavailable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ftp: nlst %s: %w", dir, err)
	}
	for i, n := range names {
		names[i] = path.Base(n)
	}
	return names, nil
}

func (f *FTP) url(p string) string {
	return strings.TrimSuffix(f.opts.BaseURL, "/") + path.Clean("/"+p)
}

// mkdirs creates every missing directory on the way to dir. MKD on an
// existing directory fails on most servers, so errors are only reported when
// the final directory is still unreachable.
func mkdirs(conn *ftp.ServerConn, dir string) error {
	cur := ""
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		cur += "/" + part
		conn.MakeDir(cur) //nolint:errcheck
	}
	if cur == "" {
		return nil
	}
	if err := conn.ChangeDir(cur); err != nil {
		return fmt.Errorf("ftp: mkdir %s: %w", cur, err)
	}
	return nil
}

// isUnavailable reports a 550 reply: the file or directory does not exist.
func isUnavailable(err error) bool {
	var perr *textproto.Error
	return errors.As(err, &perr) && perr.Code == ftp.StatusFileUnavailable
}

type ftpFile struct {
	f    *FTP
	path string
	url  string
}

func (r *ftpFile) Path() string     { return r.path }
func (r *ftpFile) Filename() string { return path.Base(r.path) }
func (r *ftpFile) URL() string      { return r.url }

func (r *ftpFile) ContentType() string {
	_, ext := file.SplitExtension(r.Filename())
	if ext == "" {
		return ""
	}
	t, _, _ := strings.Cut(mime.TypeByExtension("."+strings.ToLower(ext)), ";")
	return t
}

func (r *ftpFile) Size() (int64, error) {
	conn, err := r.f.dial(context.Background())
	if err != nil {
		return 0, err
	}
	defer conn.Quit() //nolint:errcheck
	n, err := conn.FileSize(r.path)
	if isUnavailable(err) {
		return 0, nil
	}
	return n, err
}

// Open downloads the whole file; the control connection cannot outlive the
// call.
func (r *ftpFile) Open() (io.ReadCloser, error) {
	conn, err := r.f.dial(context.Background())
	if err != nil {
		return nil, err
	}
	defer conn.Quit() //nolint:errcheck
	resp, err := conn.Retr(r.path)
	if err != nil {
		return nil, fmt.Errorf("ftp: retr %s: %w", r.path, err)
	}
	data, rerr := io.ReadAll(resp)
	cerr := resp.Close()
	if err := errors.Join(rerr, cerr); err != nil {
		return nil, fmt.Errorf("ftp: retr %s: %w", r.path, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (r *ftpFile) Delete(ctx context.Context) error {
	conn, err := r.f.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit() //nolint:errcheck
	if err := conn.Delete(r.path); err != nil && !isUnavailable(err) {
		return fmt.Errorf("ftp: delete %s: %w", r.path, err)
	}
	return nil
}
