package store_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zynqcloud/go-upload/internal/file"
	"github.com/zynqcloud/go-upload/internal/store"
)

func newTestLocal(t *testing.T) (*store.Local, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	l, err := store.NewLocal(fs, "/srv/public", "")
	require.NoError(t, err)
	require.NoError(t, l.Setup(context.Background()))
	return l, fs
}

func TestStoreCopiesAndReturnsHandle(t *testing.T) {
	l, fs := newTestLocal(t)
	ctx := context.Background()
	require.NoError(t, afero.WriteFile(fs, "/tmp/cache/test.jpg", []byte("this is stuff"), 0o644))

	src := file.FromCache(fs, "/tmp/cache/test.jpg")
	got, err := l.Store(ctx, "uploads/test.jpg", src, store.PutOptions{})
	require.NoError(t, err)

	assert.Equal(t, "/srv/public/uploads/test.jpg", got.Path())
	assert.Equal(t, "test.jpg", got.Filename())
	assert.Equal(t, "/uploads/test.jpg", got.URL())
	n, err := got.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 13, n)

	ok, _ := afero.Exists(fs, "/tmp/cache/test.jpg")
	assert.True(t, ok, "a copy leaves the source in place")
}

func TestStoreMove(t *testing.T) {
	l, fs := newTestLocal(t)
	require.NoError(t, afero.WriteFile(fs, "/tmp/cache/a.txt", []byte("data"), 0o644))

	_, err := l.Store(context.Background(), "uploads/a.txt", file.FromCache(fs, "/tmp/cache/a.txt"),
		store.PutOptions{Move: true, Permissions: 0o600})
	require.NoError(t, err)

	ok, _ := afero.Exists(fs, "/tmp/cache/a.txt")
	assert.False(t, ok)
	info, err := fs.Stat("/srv/public/uploads/a.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 0o600, info.Mode().Perm())
}

func TestStoreOverwrites(t *testing.T) {
	l, _ := newTestLocal(t)
	ctx := context.Background()

	_, err := l.Store(ctx, "f.txt", file.FromBytes("f.txt", []byte("first"), ""), store.PutOptions{})
	require.NoError(t, err)
	got, err := l.Store(ctx, "f.txt", file.FromBytes("f.txt", []byte("second"), ""), store.PutOptions{})
	require.NoError(t, err)

	rc, err := got.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "second", string(data))
}

func TestRetrieveAndDelete(t *testing.T) {
	l, fs := newTestLocal(t)
	ctx := context.Background()

	lazy, err := l.Retrieve(ctx, "uploads/missing.txt")
	require.NoError(t, err, "retrieve does not touch the filesystem")
	assert.Equal(t, "/srv/public/uploads/missing.txt", lazy.Path())
	require.NoError(t, lazy.Delete(ctx), "deleting an absent file succeeds")

	require.NoError(t, afero.WriteFile(fs, "/srv/public/uploads/x.txt", []byte("x"), 0o644))
	h, err := l.Retrieve(ctx, "uploads/x.txt")
	require.NoError(t, err)
	require.NoError(t, h.Delete(ctx))
	ok, _ := afero.Exists(fs, "/srv/public/uploads/x.txt")
	assert.False(t, ok)
}

func TestPathTraversalRejected(t *testing.T) {
	l, _ := newTestLocal(t)
	ctx := context.Background()

	for _, p := range []string{"../../etc/passwd", "a/../../b", ".."} {
		_, err := l.Retrieve(ctx, p)
		assert.Error(t, err, p)
	}

	h, err := l.Retrieve(ctx, "/etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "/srv/public/etc/passwd", h.Path(), "absolute paths are rooted")
}

func TestList(t *testing.T) {
	l, fs := newTestLocal(t)
	ctx := context.Background()

	names, err := l.List(ctx, "uploads")
	require.NoError(t, err)
	assert.Empty(t, names, "a missing directory lists as empty")

	for _, n := range []string{"b.jpg", "a.jpg", "sub/c.jpg"} {
		require.NoError(t, afero.WriteFile(fs, "/srv/public/uploads/"+n, []byte("x"), 0o644))
	}
	names, err = l.List(ctx, "uploads")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, names)
}

func TestBaseURL(t *testing.T) {
	l, err := store.NewLocal(afero.NewMemMapFs(), "/srv", "https://cdn.example.com/")
	require.NoError(t, err)
	h, err := l.Retrieve(context.Background(), "uploads/a b.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/uploads/a b.jpg", h.URL())
}

func TestDiskStatsUnavailableOnMemFs(t *testing.T) {
	l, _ := newTestLocal(t)
	avail, total := l.DiskStats()
	assert.Zero(t, avail)
	assert.Zero(t, total)
}

func TestRegistry(t *testing.T) {
	r := store.NewRegistry()
	assert.Equal(t, []string{"file", "fog", "ftp", "gridfs", "s3"}, r.Names())

	s, err := r.Open("file", store.Options{FS: afero.NewMemMapFs(), Local: store.LocalOptions{Root: "/srv"}})
	require.NoError(t, err)
	assert.IsType(t, &store.Local{}, s)

	_, err = r.Open("dropbox", store.Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrUnknownStorage))
	var ue *store.UnknownStorageError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "dropbox", ue.Name)

	_, err = r.Open("s3", store.Options{})
	assert.Error(t, err, "s3 requires a bucket")

	s, err = r.Open("fog", store.Options{S3: store.S3Options{Bucket: "b"}})
	require.NoError(t, err)
	assert.IsType(t, &store.S3{}, s)
}

func TestS3URL(t *testing.T) {
	cases := []struct {
		opts store.S3Options
		want string
	}{
		{store.S3Options{Bucket: "media", Region: "eu-west-1"}, "https://media.s3.eu-west-1.amazonaws.com/uploads/a.jpg"},
		{store.S3Options{Bucket: "media", Endpoint: "http://minio:9000", PathStyle: true}, "http://minio:9000/media/uploads/a.jpg"},
		{store.S3Options{Bucket: "media", Endpoint: "https://objects.example.com"}, "https://media.objects.example.com/uploads/a.jpg"},
		{store.S3Options{Bucket: "media", AssetHost: "https://cdn.example.com/"}, "https://cdn.example.com/uploads/a.jpg"},
	}
	for _, c := range cases {
		s, err := store.NewS3(c.opts)
		require.NoError(t, err)
		assert.Equal(t, c.want, s.URL("uploads/a.jpg"))
	}
}

func TestRemoteHandlesAreLazy(t *testing.T) {
	ctx := context.Background()

	f := store.NewFTP(store.FTPOptions{Addr: "127.0.0.1:1", Dir: "/pub", BaseURL: "ftp://files.example.com"})
	h, err := f.Retrieve(ctx, "uploads/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "/pub/uploads/a.pdf", h.Path())
	assert.Equal(t, "a.pdf", h.Filename())
	assert.Equal(t, "ftp://files.example.com/uploads/a.pdf", h.URL())
	assert.Equal(t, "application/pdf", h.ContentType())
}
