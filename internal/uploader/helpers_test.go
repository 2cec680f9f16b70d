package uploader_test

import (
	"context"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/zynqcloud/go-upload/internal/file"
	"github.com/zynqcloud/go-upload/internal/uploader"
)

const root = "/app/public"

// fixedIDs hands out the given cache ids in order, cycling.
type fixedIDs struct {
	ids  []string
	next int
}

func (f *fixedIDs) Next() string {
	id := f.ids[f.next%len(f.ids)]
	f.next++
	return id
}

func newUploader(t *testing.T, opts ...uploader.Option) (*uploader.Uploader, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	up, err := uploader.New(append([]uploader.Option{
		uploader.WithFS(fs),
		uploader.WithRoot(root),
	}, opts...)...)
	require.NoError(t, err)
	return up, fs
}

func exists(t *testing.T, fs afero.Fs, path string) bool {
	t.Helper()
	ok, err := afero.Exists(fs, path)
	require.NoError(t, err)
	return ok
}

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(data)
}

// rewriteTo is a processing step replacing the content with s.
func rewriteTo(s string) uploader.ProcessFunc {
	return func(_ context.Context, u *uploader.Upload) error {
		return u.Staged().Rewrite(func(w io.Writer) error {
			_, err := io.WriteString(w, s)
			return err
		})
	}
}

func staticCond(v *bool) uploader.Condition {
	return func(*uploader.Upload, uploader.FileInfo) bool { return *v }
}

func writeFixture(fs afero.Fs, path string) error {
	return afero.WriteFile(fs, path, []byte("fixture"), 0o644)
}

type downloaderFunc func(ctx context.Context, rawURL string) (*file.Staged, error)

func (f downloaderFunc) Download(ctx context.Context, rawURL string) (*file.Staged, error) {
	return f(ctx, rawURL)
}
