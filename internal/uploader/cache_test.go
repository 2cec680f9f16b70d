package uploader_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zynqcloud/go-upload/internal/file"
	"github.com/zynqcloud/go-upload/internal/uploader"
)

const scenarioID = "1369894322-345-1234-2255"

func TestCacheStagesUnderCacheID(t *testing.T) {
	up, fs := newUploader(t, uploader.WithIDGenerator(&fixedIDs{ids: []string{scenarioID}}))
	u := up.Upload(nil, "avatar")

	require.NoError(t, u.Cache(context.Background(), file.FromBytes("test.jpg", []byte("this is stuff"), "")))

	assert.Equal(t, scenarioID+"/test.jpg", u.CacheName())
	assert.Equal(t, scenarioID, u.CacheID())
	assert.True(t, u.Cached())
	assert.Equal(t, "/app/public/uploads/tmp/"+scenarioID+"/test.jpg", u.CurrentPath())
	assert.Equal(t, "/uploads/tmp/"+scenarioID+"/test.jpg", u.URL())
	assert.Equal(t, "this is stuff", readFile(t, fs, u.CurrentPath()))
	assert.Equal(t, "test.jpg", u.Filename())
	assert.Equal(t, "avatar", u.MountedAs())

	f := u.File()
	require.NotNil(t, f)
	size, err := f.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 13, size)
}

func TestCacheAssetHost(t *testing.T) {
	up, _ := newUploader(t,
		uploader.WithIDGenerator(&fixedIDs{ids: []string{scenarioID}}),
		uploader.WithAssetHost("https://cdn.example.com/"),
	)
	u := up.Upload(nil, "")
	require.NoError(t, u.Cache(context.Background(), file.FromBytes("test.jpg", []byte("x"), "")))
	assert.Equal(t, "https://cdn.example.com/uploads/tmp/"+scenarioID+"/test.jpg", u.URL())
}

func TestCacheSanitizesFilename(t *testing.T) {
	up, _ := newUploader(t)
	u := up.Upload(nil, "")
	require.NoError(t, u.Cache(context.Background(), file.FromBytes(`..\evil dir/my file?.jpg`, []byte("x"), "")))
	assert.Equal(t, "my_file_.jpg", u.OriginalFilename())
	assert.True(t, strings.HasSuffix(u.CacheName(), "/my_file_.jpg"))
}

func TestCacheEmptyIsNoop(t *testing.T) {
	up, _ := newUploader(t)
	u := up.Upload(nil, "")
	require.NoError(t, u.Cache(context.Background(), nil))
	require.NoError(t, u.Cache(context.Background(), file.FromBytes("a.jpg", nil, "")))
	assert.True(t, u.Blank())
	assert.Empty(t, u.CacheID())
}

func TestCacheRejectsBarePathWhenMultipartRequired(t *testing.T) {
	up, fs := newUploader(t, uploader.WithEnsureMultipartForm(true))
	require.NoError(t, writeFixture(fs, "/tmp/a.jpg"))

	err := up.Upload(nil, "").Cache(context.Background(), file.FromPath(fs, "/tmp/a.jpg"))
	assert.ErrorIs(t, err, uploader.ErrFormNotMultipart)
}

func TestCacheKeepsStateOnIntegrityError(t *testing.T) {
	up, _ := newUploader(t, uploader.ExtensionAllowlist("jpg"))
	u := up.Upload(nil, "")
	require.NoError(t, u.Cache(context.Background(), file.FromBytes("good.jpg", []byte("ok"), "")))
	id, name, path := u.CacheID(), u.CacheName(), u.CurrentPath()

	err := u.Cache(context.Background(), file.FromBytes("bad.exe", []byte("MZ"), ""))
	require.ErrorIs(t, err, uploader.ErrIntegrity)

	assert.Equal(t, id, u.CacheID())
	assert.Equal(t, name, u.CacheName())
	assert.Equal(t, path, u.CurrentPath())
	assert.Equal(t, "good.jpg", u.Filename())
}

func TestCacheMoveToCache(t *testing.T) {
	up, fs := newUploader(t,
		uploader.WithMoveToCache(true),
		uploader.Version("thumb", uploader.Process("mark", rewriteTo("thumb"))),
		uploader.Process("mark", rewriteTo("root")),
	)
	src, err := file.Spool(fs, "/spool/upload-2", "test.jpg", strings.NewReader("original"), "")
	require.NoError(t, err)

	u := up.Upload(nil, "")
	require.NoError(t, u.Cache(context.Background(), src))

	assert.False(t, exists(t, fs, "/spool/upload-2"), "source is moved")
	assert.Equal(t, "root", readFile(t, fs, u.CurrentPath()))
	thumb := u.Version("thumb")
	assert.Equal(t, "thumb", readFile(t, fs, thumb.CurrentPath()))
	assert.Equal(t, u.CacheID(), thumb.CacheID())
}

func TestRetrieveFromCacheRoundTrip(t *testing.T) {
	up, _ := newUploader(t, uploader.Version("thumb"))
	for i := 0; i < 20; i++ {
		id := uploader.DefaultIDGenerator.Next()
		u := up.Upload(nil, "")
		require.NoError(t, u.RetrieveFromCache(id+"/test.jpg"))
		assert.Equal(t, id+"/test.jpg", u.CacheName())
		assert.Equal(t, id+"/thumb_test.jpg", u.Version("thumb").CacheName())
	}
}

func TestRetrieveFromCacheRejectsMalformedNames(t *testing.T) {
	up, _ := newUploader(t)
	for _, name := range []string{
		"12345/test.jpeg",
		"",
		scenarioID,
		scenarioID + "/",
		scenarioID + "/../etc/passwd",
		scenarioID + "/a b.jpg",
		"../" + scenarioID + "/test.jpg",
	} {
		u := up.Upload(nil, "")
		err := u.RetrieveFromCache(name)
		assert.ErrorIs(t, err, uploader.ErrInvalidParameter, name)
		assert.True(t, u.Blank(), name)
		assert.Empty(t, u.CacheName(), name)
	}
}

func TestRetrieveFromCacheKeepsLegacyIDs(t *testing.T) {
	up, fs := newUploader(t)
	require.NoError(t, writeFixture(fs, "/app/public/uploads/tmp/20071201-1234-2255/test.jpg"))

	u := up.Upload(nil, "")
	require.NoError(t, u.RetrieveFromCache("20071201-1234-2255/test.jpg"))
	assert.False(t, u.Blank())
	assert.Equal(t, "/app/public/uploads/tmp/20071201-1234-2255/test.jpg", u.CurrentPath())
}

func TestCacheRemote(t *testing.T) {
	fs := afero.NewMemMapFs()
	dl := downloaderFunc(func(ctx context.Context, rawURL string) (*file.Staged, error) {
		return file.Spool(fs, "/spool/dl", "remote.png", strings.NewReader("remote bytes"), "image/png")
	})
	up, err := uploader.New(uploader.WithFS(fs), uploader.WithRoot(root), uploader.WithDownloader(dl))
	require.NoError(t, err)

	u := up.Upload(nil, "")
	require.NoError(t, u.CacheRemote(context.Background(), "https://example.com/remote.png"))
	assert.Equal(t, "remote bytes", readFile(t, fs, u.CurrentPath()))
	assert.False(t, exists(t, fs, "/spool/dl"), "spool is removed")
}

func TestCacheRemoteWithoutDownloader(t *testing.T) {
	up, _ := newUploader(t)
	err := up.Upload(nil, "").CacheRemote(context.Background(), "https://example.com/a.png")
	assert.ErrorIs(t, err, uploader.ErrConfiguration)
}

func TestCleanCachedFiles(t *testing.T) {
	up, fs := newUploader(t)
	require.NoError(t, writeFixture(fs, "/app/public/uploads/tmp/1000000000-1-0001-0001/old.jpg"))
	u := up.Upload(nil, "")
	require.NoError(t, u.Cache(context.Background(), file.FromBytes("new.jpg", []byte("x"), "")))

	n, err := up.CleanCachedFiles(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, exists(t, fs, u.CurrentPath()))
}
