package uploader

import (
	"context"
	"log/slog"
	"os"
	"regexp"

	"github.com/spf13/afero"

	"github.com/zynqcloud/go-upload/internal/file"
	"github.com/zynqcloud/go-upload/internal/store"
)

// Dimensioner reads pixel dimensions. Dimension validation needs one.
type Dimensioner interface {
	Dimensions(f *file.Staged) (width, height int, err error)
}

// Downloader fetches a remote file into a candidate for caching.
type Downloader interface {
	Download(ctx context.Context, rawURL string) (*file.Staged, error)
}

// FileInfo is the view of a file handed to conditions.
type FileInfo interface {
	Path() string
	Filename() string
	ContentType() string
}

// Condition gates a version or a processing step. u is the upload that owns
// the version (or runs the step); f is its current file and may be nil.
type Condition func(u *Upload, f FileInfo) bool

// ListFunc returns an allow or deny list. A nil result means no restriction.
type ListFunc func(u *Upload) []string

// Validator checks a candidate before it is cached.
type Validator func(ctx context.Context, u *Upload, f *file.Staged) error

// Config is the resolved configuration of one uploader. Versions start from
// a copy of their parent's Config.
type Config struct {
	FS       afero.Fs
	Root     string
	CacheDir string // relative to Root unless absolute
	StoreDir string

	// StoreDirFunc, when set, overrides StoreDir per upload.
	StoreDirFunc func(u *Upload) string

	// Filename, when set, overrides the stored filename. An empty result
	// falls back to the sanitized original filename.
	Filename func(u *Upload) string

	Permissions          os.FileMode
	DirectoryPermissions os.FileMode

	MoveToCache                            bool
	MoveToStore                            bool
	CacheToCacheDir                        bool
	EnsureMultipartForm                    bool
	CacheOnly                              bool
	DeleteTmpFileAfterStorage              bool
	RemovePreviouslyStoredFilesAfterUpdate bool
	EnableProcessing                       bool
	Deduplicate                            bool

	AssetHost  string
	DefaultURL string

	ExtensionAllowlist   ListFunc
	ExtensionDenylist    ListFunc
	ContentTypeAllowlist ListFunc
	ContentTypeDenylist  ListFunc

	MinSize, MaxSize     int64 // bytes, 0 = unbounded
	MinWidth, MaxWidth   int   // pixels, 0 = unbounded
	MinHeight, MaxHeight int

	SanitizeRegexp *regexp.Regexp

	Storage     store.Storage
	IDs         CacheIDGenerator
	Dimensioner Dimensioner
	Downloader  Downloader
	Logger      *slog.Logger
}

// DefaultConfig returns the configuration every root uploader starts from.
func DefaultConfig() Config {
	return Config{
		Root:                                   "public",
		CacheDir:                               "uploads/tmp",
		StoreDir:                               "uploads",
		Permissions:                            0o644,
		DirectoryPermissions:                   0o755,
		CacheToCacheDir:                        true,
		DeleteTmpFileAfterStorage:              true,
		RemovePreviouslyStoredFilesAfterUpdate: true,
		EnableProcessing:                       true,
	}
}

func (c Config) hasDimensionRules() bool {
	return c.MinWidth > 0 || c.MaxWidth > 0 || c.MinHeight > 0 || c.MaxHeight > 0
}

// Option configures an uploader or a version.
type Option func(b *builder)

func WithFS(fs afero.Fs) Option        { return func(b *builder) { b.cfg.FS = fs } }
func WithRoot(root string) Option      { return func(b *builder) { b.cfg.Root = root } }
func WithCacheDir(dir string) Option   { return func(b *builder) { b.cfg.CacheDir = dir } }
func WithStoreDir(dir string) Option   { return func(b *builder) { b.cfg.StoreDir = dir } }
func WithAssetHost(h string) Option    { return func(b *builder) { b.cfg.AssetHost = h } }
func WithDefaultURL(u string) Option   { return func(b *builder) { b.cfg.DefaultURL = u } }
func WithLogger(l *slog.Logger) Option { return func(b *builder) { b.cfg.Logger = l } }

func WithStoreDirFunc(fn func(u *Upload) string) Option {
	return func(b *builder) { b.cfg.StoreDirFunc = fn }
}

func WithFilename(fn func(u *Upload) string) Option {
	return func(b *builder) { b.cfg.Filename = fn }
}

// WithPermissions sets file and directory modes; a zero value keeps the
// current one.
func WithPermissions(perm, dirPerm os.FileMode) Option {
	return func(b *builder) {
		if perm != 0 {
			b.cfg.Permissions = perm
		}
		if dirPerm != 0 {
			b.cfg.DirectoryPermissions = dirPerm
		}
	}
}

func WithMoveToCache(v bool) Option     { return func(b *builder) { b.cfg.MoveToCache = v } }
func WithMoveToStore(v bool) Option     { return func(b *builder) { b.cfg.MoveToStore = v } }
func WithCacheToCacheDir(v bool) Option { return func(b *builder) { b.cfg.CacheToCacheDir = v } }
func WithCacheOnly(v bool) Option       { return func(b *builder) { b.cfg.CacheOnly = v } }
func WithProcessing(v bool) Option      { return func(b *builder) { b.cfg.EnableProcessing = v } }
func WithDeduplication(v bool) Option   { return func(b *builder) { b.cfg.Deduplicate = v } }

func WithEnsureMultipartForm(v bool) Option {
	return func(b *builder) { b.cfg.EnsureMultipartForm = v }
}

func WithDeleteTmpFileAfterStorage(v bool) Option {
	return func(b *builder) { b.cfg.DeleteTmpFileAfterStorage = v }
}

func WithRemovePreviouslyStoredFilesAfterUpdate(v bool) Option {
	return func(b *builder) { b.cfg.RemovePreviouslyStoredFilesAfterUpdate = v }
}

func WithSanitizeRegexp(re *regexp.Regexp) Option {
	return func(b *builder) { b.cfg.SanitizeRegexp = re }
}

func WithStorage(s store.Storage) Option        { return func(b *builder) { b.cfg.Storage = s } }
func WithIDGenerator(g CacheIDGenerator) Option { return func(b *builder) { b.cfg.IDs = g } }
func WithDimensioner(d Dimensioner) Option      { return func(b *builder) { b.cfg.Dimensioner = d } }
func WithDownloader(d Downloader) Option        { return func(b *builder) { b.cfg.Downloader = d } }

func staticList(entries []string) ListFunc {
	if entries == nil {
		entries = []string{}
	}
	return func(*Upload) []string { return entries }
}

// ExtensionAllowlist accepts only the given extensions. Entries are regular
// expressions matched case-insensitively against the whole extension.
func ExtensionAllowlist(entries ...string) Option {
	return func(b *builder) { b.cfg.ExtensionAllowlist = staticList(entries) }
}

// ExtensionDenylist rejects the given extensions.
func ExtensionDenylist(entries ...string) Option {
	return func(b *builder) { b.cfg.ExtensionDenylist = staticList(entries) }
}

// ContentTypeAllowlist accepts content types starting with one of entries.
// Entries are literal: "image/" admits every image and "image/svg+xml"
// matches only itself.
func ContentTypeAllowlist(entries ...string) Option {
	return func(b *builder) { b.cfg.ContentTypeAllowlist = staticList(entries) }
}

// ContentTypeDenylist rejects content types starting with one of entries.
func ContentTypeDenylist(entries ...string) Option {
	return func(b *builder) { b.cfg.ContentTypeDenylist = staticList(entries) }
}

// ExtensionAllowlistFunc computes the allow list per upload.
func ExtensionAllowlistFunc(fn ListFunc) Option {
	return func(b *builder) { b.cfg.ExtensionAllowlist = fn }
}

// ContentTypeAllowlistFunc computes the content type allow list per upload.
func ContentTypeAllowlistFunc(fn ListFunc) Option {
	return func(b *builder) { b.cfg.ContentTypeAllowlist = fn }
}

// Deprecated: use ExtensionAllowlist.
func ExtensionWhitelist(entries ...string) Option {
	return legacy("ExtensionWhitelist", "ExtensionAllowlist", ExtensionAllowlist(entries...))
}

// Deprecated: use ExtensionDenylist.
func ExtensionBlacklist(entries ...string) Option {
	return legacy("ExtensionBlacklist", "ExtensionDenylist", ExtensionDenylist(entries...))
}

// Deprecated: use ContentTypeAllowlist.
func ContentTypeWhitelist(entries ...string) Option {
	return legacy("ContentTypeWhitelist", "ContentTypeAllowlist", ContentTypeAllowlist(entries...))
}

// Deprecated: use ContentTypeDenylist.
func ContentTypeBlacklist(entries ...string) Option {
	return legacy("ContentTypeBlacklist", "ContentTypeDenylist", ContentTypeDenylist(entries...))
}

func legacy(name, replacement string, opt Option) Option {
	return func(b *builder) {
		b.legacy = append(b.legacy, [2]string{name, replacement})
		opt(b)
	}
}

// SizeRange bounds the file size in bytes, inclusive. Zero leaves a side
// unbounded.
func SizeRange(min, max int64) Option {
	return func(b *builder) { b.cfg.MinSize, b.cfg.MaxSize = min, max }
}

// WidthRange bounds the image width in pixels. Requires a Dimensioner.
func WidthRange(min, max int) Option {
	return func(b *builder) { b.cfg.MinWidth, b.cfg.MaxWidth = min, max }
}

// HeightRange bounds the image height in pixels. Requires a Dimensioner.
func HeightRange(min, max int) Option {
	return func(b *builder) { b.cfg.MinHeight, b.cfg.MaxHeight = min, max }
}

// Validate appends a custom validator run after the built-in rules.
func Validate(v Validator) Option {
	return func(b *builder) { b.validators = append(b.validators, v) }
}

// Process appends an unconditional processing step.
func Process(name string, fn ProcessFunc) Option {
	return func(b *builder) { b.steps = append(b.steps, Step{Name: name, Fn: fn}) }
}

// ProcessIf appends a step that runs only when cond holds.
func ProcessIf(name string, cond Condition, fn ProcessFunc) Option {
	return func(b *builder) { b.steps = append(b.steps, Step{Name: name, Fn: fn, If: cond}) }
}

// ProcessUnless appends a step that is skipped when cond holds.
func ProcessUnless(name string, cond Condition, fn ProcessFunc) Option {
	return func(b *builder) { b.steps = append(b.steps, Step{Name: name, Fn: fn, Unless: cond}) }
}

// Version declares a named version configured by opts. Redeclaring a
// version inherited through Extend adds opts to the inherited ones.
func Version(name string, opts ...Option) Option {
	return func(b *builder) { b.declareVersion(name, opts) }
}

// If makes the version exist only while cond holds.
func If(cond Condition) Option {
	return func(b *builder) { b.ifCond = cond }
}

// Unless makes the version absent while cond holds.
func Unless(cond Condition) Option {
	return func(b *builder) { b.unlessCond = cond }
}

// FromVersion derives the version from a sibling's processed file instead
// of the original upload.
func FromVersion(name string) Option {
	return func(b *builder) { b.fromVersion = name }
}

// IfContentType is a Condition matching content type prefixes.
func IfContentType(prefixes ...string) Condition {
	return func(_ *Upload, f FileInfo) bool {
		if f == nil {
			return false
		}
		return matchContentType(f.ContentType(), prefixes)
	}
}
