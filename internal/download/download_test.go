package download_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zynqcloud/go-upload/internal/download"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/photo one.png":
			w.Header().Set("Content-Type", "image/png")
			io.WriteString(w, "png bytes")
		case "/attachment":
			w.Header().Set("Content-Disposition", `attachment; filename="report.pdf"`)
			io.WriteString(w, "%PDF-1.4")
		case "/big":
			io.WriteString(w, strings.Repeat("x", 2048))
		case "/":
			io.WriteString(w, "index")
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestDownload(t *testing.T) {
	srv := newServer(t)
	fs := afero.NewMemMapFs()
	d := download.New(fs, "/spool", 0, nil)

	f, err := d.Download(context.Background(), srv.URL+"/files/photo%20one.png")
	require.NoError(t, err)
	assert.Equal(t, "photo one.png", f.OriginalFilename())
	assert.Equal(t, "photo_one.png", f.Filename())
	assert.Equal(t, "image/png", f.DeclaredContentType())
	assert.True(t, strings.HasPrefix(f.Path(), "/spool/"))
	assert.False(t, f.IsPath())

	data, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, "png bytes", string(data))
}

func TestDownloadFilename(t *testing.T) {
	srv := newServer(t)
	d := download.New(afero.NewMemMapFs(), "/spool", 0, nil)

	f, err := d.Download(context.Background(), srv.URL+"/attachment")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", f.OriginalFilename())

	f, err = d.Download(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "download", f.OriginalFilename())
}

func TestDownloadErrors(t *testing.T) {
	srv := newServer(t)
	d := download.New(afero.NewMemMapFs(), "/spool", 1024, nil)

	cases := map[string]string{
		"not found":   srv.URL + "/missing.png",
		"bad scheme":  "ftp://example.com/a.png",
		"no host":     "http:///a.png",
		"garbage":     "://nope",
		"too large":   srv.URL + "/big",
		"unreachable": "http://127.0.0.1:1/a.png",
	}
	for name, u := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := d.Download(context.Background(), u)
			require.Error(t, err)
			assert.ErrorIs(t, err, download.ErrDownload)
		})
	}

	_, err := d.Download(context.Background(), srv.URL+"/missing.png")
	var de *download.DownloadError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusNotFound, de.Status)
}

func TestDownloadTooLargeLeavesNoSpool(t *testing.T) {
	srv := newServer(t)
	fs := afero.NewMemMapFs()
	d := download.New(fs, "/spool", 1024, nil)

	_, err := d.Download(context.Background(), srv.URL+"/big")
	require.ErrorIs(t, err, download.ErrDownload)

	entries, _ := afero.ReadDir(fs, "/spool")
	assert.Empty(t, entries)
}

func TestDownloadCancelled(t *testing.T) {
	srv := newServer(t)
	d := download.New(afero.NewMemMapFs(), "/spool", 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Download(ctx, srv.URL+"/attachment")
	assert.ErrorIs(t, err, download.ErrDownload)
	assert.ErrorIs(t, err, context.Canceled)
}
