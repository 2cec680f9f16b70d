package uploader_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zynqcloud/go-upload/internal/file"
	"github.com/zynqcloud/go-upload/internal/uploader"
)

func TestDefaultConfig(t *testing.T) {
	up, err := uploader.New(uploader.WithFS(afero.NewMemMapFs()))
	require.NoError(t, err)
	cfg := up.Config()
	assert.Equal(t, "public", cfg.Root)
	assert.Equal(t, "uploads/tmp", cfg.CacheDir)
	assert.Equal(t, "uploads", cfg.StoreDir)
	assert.True(t, cfg.CacheToCacheDir)
	assert.True(t, cfg.EnableProcessing)
	assert.False(t, cfg.MoveToCache)
	assert.NotNil(t, cfg.Storage)
	assert.NotNil(t, cfg.Logger)
	assert.Equal(t, "public/uploads/tmp", up.CacheRoot())
}

func TestAbsoluteCacheDir(t *testing.T) {
	up, _ := newUploader(t, uploader.WithCacheDir("/var/cache/uploads/"))
	assert.Equal(t, "/var/cache/uploads", up.CacheRoot())
}

func TestVersionDefinitionIsMemoized(t *testing.T) {
	up, _ := newUploader(t, uploader.Version("thumb", uploader.Version("mini")))
	d := up.Definition("thumb")
	require.NotNil(t, d)
	assert.Equal(t, "thumb", d.Name())

	again, err := d.Build(up)
	require.NoError(t, err)
	assert.Same(t, up.Version("thumb"), again)
	assert.Equal(t, []string{"thumb"}, up.VersionNames())
	assert.Equal(t, []string{"mini"}, up.Version("thumb").VersionNames())
	assert.Nil(t, up.Version("nope"))
	assert.Nil(t, up.Definition("nope"))
}

func TestVersionsInheritParentConfig(t *testing.T) {
	up, _ := newUploader(t,
		uploader.WithMoveToCache(true),
		uploader.WithStoreDir("files"),
		uploader.Version("thumb", uploader.WithStoreDir("thumbs")),
		uploader.Version("plain"),
	)
	assert.True(t, up.Config().MoveToCache)
	assert.False(t, up.Version("thumb").Config().MoveToCache, "versions never move their source")
	assert.Equal(t, "thumbs", up.Version("thumb").Config().StoreDir)
	assert.Equal(t, "files", up.Version("plain").Config().StoreDir)
	assert.Equal(t, "thumb", up.Version("thumb").Name())
}

func TestExtend(t *testing.T) {
	base, _ := newUploader(t,
		uploader.Process("a", rewriteTo("a")),
		uploader.Version("thumb", uploader.Process("t1", rewriteTo("t1"))),
	)
	ext, err := base.Extend(
		uploader.Process("b", rewriteTo("b")),
		uploader.Version("thumb", uploader.Process("t2", rewriteTo("t2"))),
		uploader.Version("large"),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, ext.StepNames())
	assert.Equal(t, []string{"a"}, base.StepNames())
	assert.Equal(t, []string{"t1", "t2"}, ext.Version("thumb").StepNames())
	assert.Equal(t, []string{"t1"}, base.Version("thumb").StepNames())
	assert.Equal(t, []string{"thumb", "large"}, ext.VersionNames())
	assert.Equal(t, []string{"thumb"}, base.VersionNames())
	assert.NotSame(t, base.Version("thumb"), ext.Version("thumb"))

	_, err = base.Version("thumb").Extend()
	assert.ErrorIs(t, err, uploader.ErrConfiguration)
}

func TestExtendSharesUnchangedDefinitions(t *testing.T) {
	base, _ := newUploader(t, uploader.Version("thumb"))
	ext, err := base.Extend(uploader.WithStoreDir("elsewhere"))
	require.NoError(t, err)

	assert.Same(t, base.Definition("thumb"), ext.Definition("thumb"))
	assert.NotSame(t, base.Version("thumb"), ext.Version("thumb"))
	assert.Equal(t, "elsewhere", ext.Version("thumb").Config().StoreDir)
	assert.Equal(t, "uploads", base.Version("thumb").Config().StoreDir)
}

func TestConfigurationErrors(t *testing.T) {
	fs := uploader.WithFS(afero.NewMemMapFs())
	cases := map[string][]uploader.Option{
		"empty version name":      {uploader.Version("")},
		"duplicate version":       {uploader.Version("a"), uploader.Version("a")},
		"condition on root":       {uploader.If(uploader.IfContentType("image/"))},
		"from_version on root":    {uploader.FromVersion("a")},
		"unknown from_version":    {uploader.Version("a", uploader.FromVersion("b"))},
		"from_version cycle":      {uploader.Version("a", uploader.FromVersion("b")), uploader.Version("b", uploader.FromVersion("a"))},
		"self from_version":       {uploader.Version("a", uploader.FromVersion("a"))},
		"dimensions without impl": {uploader.WidthRange(10, 100)},
		"nested bad version":      {uploader.Version("a", uploader.Version(""))},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := uploader.New(append([]uploader.Option{fs}, opts...)...)
			assert.ErrorIs(t, err, uploader.ErrConfiguration)
		})
	}
}

func TestLegacyOptionsWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	up, err := uploader.New(
		uploader.WithFS(afero.NewMemMapFs()),
		uploader.WithRoot(root),
		uploader.WithLogger(logger),
		uploader.ExtensionWhitelist("jpg"),
		uploader.ContentTypeBlacklist("text/"),
	)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "deprecated uploader option")
	assert.Contains(t, buf.String(), "use=ExtensionAllowlist")
	assert.Contains(t, buf.String(), "use=ContentTypeDenylist")

	err = up.Upload(nil, "").Cache(context.Background(), file.FromBytes("a.png", []byte("x"), ""))
	assert.ErrorIs(t, err, uploader.ErrIntegrity, "legacy allow list is enforced")
}

func TestCacheIDGenerator(t *testing.T) {
	when := time.Unix(1369894322, 0)
	g := &uploader.IDGenerator{
		Now:  func() time.Time { return when },
		PID:  345,
		Rand: func(int) int { return 2255 },
	}
	first, second := g.Next(), g.Next()
	assert.Equal(t, "1369894322-345-0001-2255", first)
	assert.Equal(t, "1369894322-345-0002-2255", second)
	assert.True(t, uploader.ValidCacheID(first))

	ts, ok := uploader.CacheIDTime(first)
	require.True(t, ok)
	assert.True(t, ts.Equal(when))

	for _, id := range []string{"-1369894322-345-1234-2255", "20071201-1234-2255"} {
		assert.True(t, uploader.ValidCacheID(id), id)
	}
	for _, id := range []string{"12345", "abc-1-0001-0001", "1-2-3-4", "1-2-0001-12345", ""} {
		assert.False(t, uploader.ValidCacheID(id), id)
	}
	_, ok = uploader.CacheIDTime("bogus")
	assert.False(t, ok)
}

func TestDefaultIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id := uploader.DefaultIDGenerator.Next()
		require.True(t, uploader.ValidCacheID(id), id)
		require.False(t, seen[id], id)
		seen[id] = true
	}
}
