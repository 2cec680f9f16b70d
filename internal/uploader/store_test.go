package uploader_test

import (
	"context"
	"path"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zynqcloud/go-upload/internal/file"
	"github.com/zynqcloud/go-upload/internal/uploader"
)

func TestStorePersistsRootAndVersions(t *testing.T) {
	up, fs := newUploader(t,
		uploader.WithIDGenerator(&fixedIDs{ids: []string{scenarioID}}),
		uploader.Version("thumb", uploader.Process("mark", rewriteTo("thumb"))),
	)
	u := up.Upload(nil, "")
	require.NoError(t, u.StoreFile(context.Background(), file.FromBytes("test.jpg", []byte("original"), "")))

	assert.Equal(t, "test.jpg", u.Identifier())
	assert.Equal(t, "test.jpg", u.Version("thumb").Identifier())
	assert.False(t, u.Cached())
	assert.Equal(t, "/uploads/test.jpg", u.URL())
	assert.Equal(t, "/uploads/thumb_test.jpg", u.Version("thumb").URL())
	assert.Equal(t, "uploads/thumb_test.jpg", u.Version("thumb").StorePath())
	assert.Equal(t, "original", readFile(t, fs, "/app/public/uploads/test.jpg"))
	assert.Equal(t, "thumb", readFile(t, fs, "/app/public/uploads/thumb_test.jpg"))

	assert.False(t, exists(t, fs, "/app/public/uploads/tmp/"+scenarioID), "cache dir is cleaned up")
}

func TestStoreWithoutCacheIsNoop(t *testing.T) {
	up, fs := newUploader(t)
	u := up.Upload(nil, "")
	require.NoError(t, u.Store(context.Background()))
	assert.True(t, u.Blank())
	assert.False(t, exists(t, fs, "/app/public/uploads"))
}

func TestStoreKeepsCacheWhenConfigured(t *testing.T) {
	up, fs := newUploader(t, uploader.WithDeleteTmpFileAfterStorage(false))
	u := up.Upload(nil, "")
	require.NoError(t, u.Cache(context.Background(), file.FromBytes("test.jpg", []byte("x"), "")))
	cached := u.CurrentPath()

	require.NoError(t, u.Store(context.Background()))
	assert.True(t, exists(t, fs, cached))
	assert.True(t, exists(t, fs, "/app/public/uploads/test.jpg"))
}

func TestStoreMoveToStore(t *testing.T) {
	up, fs := newUploader(t, uploader.WithMoveToStore(true), uploader.WithDeleteTmpFileAfterStorage(false))
	u := up.Upload(nil, "")
	require.NoError(t, u.Cache(context.Background(), file.FromBytes("test.jpg", []byte("moved"), "")))
	cached := u.CurrentPath()

	require.NoError(t, u.Store(context.Background()))
	assert.False(t, exists(t, fs, cached))
	assert.Equal(t, "moved", readFile(t, fs, "/app/public/uploads/test.jpg"))
}

func TestCacheOnly(t *testing.T) {
	up, fs := newUploader(t, uploader.WithCacheOnly(true))
	u := up.Upload(nil, "")
	require.NoError(t, u.StoreFile(context.Background(), file.FromBytes("test.jpg", []byte("x"), "")))
	assert.True(t, u.Cached())
	assert.Empty(t, u.Identifier())
	assert.False(t, exists(t, fs, "/app/public/uploads/test.jpg"))
}

func TestStoreRemovesPreviouslyStoredFile(t *testing.T) {
	ctx := context.Background()
	for _, keep := range []bool{false, true} {
		t.Run("keep="+strconv.FormatBool(keep), func(t *testing.T) {
			up, fs := newUploader(t,
				uploader.WithRemovePreviouslyStoredFilesAfterUpdate(!keep),
				uploader.Version("thumb"),
			)
			u := up.Upload(nil, "")
			require.NoError(t, u.StoreFile(ctx, file.FromBytes("a.jpg", []byte("a"), "")))
			require.NoError(t, u.StoreFile(ctx, file.FromBytes("b.jpg", []byte("b"), "")))

			assert.Equal(t, "b.jpg", u.Identifier())
			assert.True(t, exists(t, fs, "/app/public/uploads/b.jpg"))
			assert.True(t, exists(t, fs, "/app/public/uploads/thumb_b.jpg"))
			assert.Equal(t, keep, exists(t, fs, "/app/public/uploads/a.jpg"))
			assert.Equal(t, keep, exists(t, fs, "/app/public/uploads/thumb_a.jpg"))
		})
	}
}

func TestStoreSameNameReplacesInPlace(t *testing.T) {
	ctx := context.Background()
	up, fs := newUploader(t, uploader.WithDeduplication(true))
	u := up.Upload(nil, "")
	require.NoError(t, u.StoreFile(ctx, file.FromBytes("old.jpeg", []byte("v1"), "")))
	require.NoError(t, u.StoreFile(ctx, file.FromBytes("old.jpeg", []byte("v2"), "")))

	assert.Equal(t, "old.jpeg", u.Identifier())
	assert.Equal(t, "v2", readFile(t, fs, "/app/public/uploads/old.jpeg"))
}

func TestStoreDeduplicatesAgainstStorage(t *testing.T) {
	ctx := context.Background()
	up, fs := newUploader(t, uploader.WithDeduplication(true), uploader.Version("thumb"))

	first := up.Upload(nil, "")
	require.NoError(t, first.StoreFile(ctx, file.FromBytes("old.jpeg", []byte("first"), "")))

	second := up.Upload(nil, "")
	require.NoError(t, second.StoreFile(ctx, file.FromBytes("old.jpeg", []byte("second"), "")))

	assert.Equal(t, "uploads/old(2).jpeg", second.StorePath())
	assert.Equal(t, "old(2).jpeg", second.Identifier())
	assert.Equal(t, "uploads/thumb_old(2).jpeg", second.Version("thumb").StorePath())
	assert.Equal(t, "first", readFile(t, fs, "/app/public/uploads/old.jpeg"))
	assert.Equal(t, "second", readFile(t, fs, "/app/public/uploads/old(2).jpeg"))
	assert.Equal(t, "second", readFile(t, fs, "/app/public/uploads/thumb_old(2).jpeg"))
}

func TestDeduplicate(t *testing.T) {
	cases := []struct {
		name     string
		existing []string
		want     string
	}{
		{"a.jpg", nil, "a.jpg"},
		{"a.jpg", []string{"b.jpg"}, "a.jpg"},
		{"a.jpg", []string{"a.jpg"}, "a(2).jpg"},
		{"a.jpg", []string{"a.jpg", "a(2).jpg", "a(3).jpg"}, "a(4).jpg"},
		{"a.jpg", []string{"a.jpg", "a(3).jpg"}, "a(2).jpg"},
		{"a.tar.gz", []string{"a.tar.gz"}, "a(2).tar.gz"},
		{"README", []string{"README"}, "README(2)"},
	}
	up, _ := newUploader(t)
	for _, c := range cases {
		u := up.Upload(nil, "")
		require.NoError(t, u.Cache(context.Background(), file.FromBytes(c.name, []byte("x"), "")))
		u.Deduplicate(c.existing)
		assert.Equal(t, "uploads/"+c.want, u.StorePath(), "%s against %v", c.name, c.existing)
	}
}

func TestDeduplicateTerminates(t *testing.T) {
	up, _ := newUploader(t)
	for n := 1; n <= 30; n++ {
		existing := []string{"a.jpg"}
		for i := 2; i <= n; i++ {
			existing = append(existing, "a("+strconv.Itoa(i)+").jpg")
		}
		u := up.Upload(nil, "")
		require.NoError(t, u.Cache(context.Background(), file.FromBytes("a.jpg", []byte("x"), "")))
		u.Deduplicate(existing)
		assert.NotContains(t, existing, path.Base(u.StorePath()))
	}
}

func TestRetrieveFromStore(t *testing.T) {
	ctx := context.Background()
	up, fs := newUploader(t, uploader.Version("thumb"))
	require.NoError(t, up.Upload(nil, "").StoreFile(ctx, file.FromBytes("test.jpg", []byte("x"), "")))

	u := up.Upload(nil, "")
	require.NoError(t, u.RetrieveFromStore(ctx, "test.jpg"))
	assert.False(t, u.Blank())
	assert.Equal(t, "test.jpg", u.Identifier())
	assert.Equal(t, "/app/public/uploads/test.jpg", u.CurrentPath())
	assert.Equal(t, "/app/public/uploads/thumb_test.jpg", u.Version("thumb").CurrentPath())
	assert.Equal(t, "x", readFile(t, fs, u.CurrentPath()))
}

func TestRetrieveFromStoreRejectsPaths(t *testing.T) {
	up, _ := newUploader(t)
	for _, id := range []string{"", "/", `\`, ".", "..", "../secret", "a/b.jpg", `a\b.jpg`} {
		u := up.Upload(nil, "")
		err := u.RetrieveFromStore(context.Background(), id)
		assert.ErrorIs(t, err, uploader.ErrInvalidParameter, id)
		assert.True(t, u.Blank(), id)
	}
}

func TestRemoveCachedUpload(t *testing.T) {
	up, fs := newUploader(t, uploader.Version("thumb"))
	u := up.Upload(nil, "")
	require.NoError(t, u.Cache(context.Background(), file.FromBytes("test.jpg", []byte("x"), "")))
	paths := []string{u.CurrentPath(), u.Version("thumb").CurrentPath()}

	require.NoError(t, u.Remove(context.Background()))
	for _, p := range paths {
		assert.False(t, exists(t, fs, p), p)
	}
	assert.True(t, u.Blank())
	assert.Empty(t, u.CacheName())
	assert.True(t, u.Version("thumb").Blank())
}

func TestBlankUploadURL(t *testing.T) {
	up, _ := newUploader(t, uploader.WithDefaultURL("/images/fallback.png"))
	assert.Equal(t, "/images/fallback.png", up.Upload(nil, "").URL())
}

func TestFilenameAndStoreDirCallbacks(t *testing.T) {
	type user struct{ ID int }
	up, fs := newUploader(t,
		uploader.WithFilename(func(*uploader.Upload) string { return "avatar.png" }),
		uploader.WithStoreDirFunc(func(u *uploader.Upload) string {
			return path.Join("users", strconv.Itoa(u.Model().(*user).ID), u.MountedAs())
		}),
		uploader.Version("thumb"),
	)
	u := up.Upload(&user{ID: 7}, "avatar")
	require.NoError(t, u.StoreFile(context.Background(), file.FromBytes("me.png", []byte("x"), "")))

	assert.Equal(t, "avatar.png", u.Identifier())
	assert.True(t, exists(t, fs, "/app/public/users/7/avatar/avatar.png"))
	assert.True(t, exists(t, fs, "/app/public/users/7/avatar/thumb_avatar.png"))
}
