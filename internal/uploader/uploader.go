// Package uploader implements the upload lifecycle: validate, cache,
// process, store, retrieve and remove a file together with a tree of named
// versions derived from it.
//
// An Uploader is an immutable definition built once at startup with New.
// Each upload attempt gets its own *Upload from Uploader.Upload; an Upload
// is not safe for concurrent use, but distinct Uploads are independent.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/zynqcloud/go-upload/internal/cleanup"
	"github.com/zynqcloud/go-upload/internal/store"
)

// builder accumulates options for one uploader level.
type builder struct {
	cfg        Config
	steps      []Step
	validators []Validator
	versions   []*VersionDefinition

	ifCond      Condition
	unlessCond  Condition
	fromVersion string

	legacy   [][2]string
	declared map[string]bool
	errs     []error
}

func (b *builder) clone() *builder {
	return &builder{
		cfg:        b.cfg,
		steps:      slices.Clone(b.steps),
		validators: slices.Clone(b.validators),
		versions:   slices.Clone(b.versions),
	}
}

func (b *builder) declareVersion(name string, opts []Option) {
	if name == "" {
		b.errs = append(b.errs, configErrorf("version name must not be empty"))
		return
	}
	if b.declared[name] {
		b.errs = append(b.errs, configErrorf("version %q declared twice", name))
		return
	}
	b.declared[name] = true
	for i, d := range b.versions {
		if d.name == name {
			b.versions[i] = newVersionDefinition(name, append(slices.Clone(d.opts), opts...))
			return
		}
	}
	b.versions = append(b.versions, newVersionDefinition(name, opts))
}

// Uploader is a resolved uploader definition: configuration, validation
// and processing pipelines, and the version tree below it.
type Uploader struct {
	name   string
	parent *Uploader
	spec   *builder // unresolved, kept for Extend
	cfg    Config

	steps      []Step
	validators []Validator
	defs       []*VersionDefinition
	children   []*Uploader

	ifCond      Condition
	unlessCond  Condition
	fromVersion string
}

// New builds a root uploader from DefaultConfig and opts.
func New(opts ...Option) (*Uploader, error) {
	b := &builder{cfg: DefaultConfig()}
	return b.build(nil, "", opts)
}

// Extend derives a new root uploader: configuration, validators, steps and
// versions are inherited and opts are applied on top. Steps append to the
// inherited pipeline. up itself is left untouched.
func (up *Uploader) Extend(opts ...Option) (*Uploader, error) {
	if up.parent != nil {
		return nil, configErrorf("cannot extend version %q", up.name)
	}
	return up.spec.clone().build(nil, "", opts)
}

func (b *builder) build(parent *Uploader, name string, opts []Option) (*Uploader, error) {
	b.declared = make(map[string]bool)
	for _, o := range opts {
		o(b)
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	if parent == nil && (b.ifCond != nil || b.unlessCond != nil || b.fromVersion != "") {
		return nil, configErrorf("If, Unless and FromVersion apply to versions only")
	}

	up := &Uploader{
		name:        name,
		parent:      parent,
		spec:        b,
		cfg:         b.cfg,
		steps:       b.steps,
		validators:  b.validators,
		defs:        b.versions,
		ifCond:      b.ifCond,
		unlessCond:  b.unlessCond,
		fromVersion: b.fromVersion,
	}
	if err := up.resolve(); err != nil {
		return nil, err
	}
	for _, l := range b.legacy {
		up.cfg.Logger.Warn("deprecated uploader option", "option", l[0], "use", l[1])
	}
	for _, d := range up.defs {
		child, err := d.Build(up)
		if err != nil {
			return nil, fmt.Errorf("version %q: %w", d.name, err)
		}
		up.children = append(up.children, child)
	}
	if err := up.checkFromVersions(); err != nil {
		return nil, err
	}
	return up, nil
}

func (up *Uploader) resolve() error {
	c := &up.cfg
	if c.FS == nil {
		c.FS = afero.NewOsFs()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.IDs == nil {
		c.IDs = DefaultIDGenerator
	}
	if c.Storage == nil {
		local, err := store.NewLocal(c.FS, c.Root, c.AssetHost)
		if err != nil {
			return configErrorf("default storage: %v", err)
		}
		c.Storage = local
	}
	if up.parent == nil && c.hasDimensionRules() && c.Dimensioner == nil {
		return configErrorf("width/height rules need a Dimensioner")
	}
	return nil
}

func (up *Uploader) checkFromVersions() error {
	for _, c := range up.children {
		if c.fromVersion == "" {
			continue
		}
		seen := map[string]bool{c.name: true}
		for cur := c; cur.fromVersion != ""; {
			src := up.Version(cur.fromVersion)
			if src == nil {
				return configErrorf("version %q: from_version %q is not a sibling", cur.name, cur.fromVersion)
			}
			if seen[src.name] {
				return configErrorf("version %q: from_version cycle", c.name)
			}
			seen[src.name] = true
			cur = src
		}
	}
	return nil
}

// Name is the version name, empty for a root uploader.
func (up *Uploader) Name() string { return up.name }

// Config returns a copy of the resolved configuration.
func (up *Uploader) Config() Config { return up.cfg }

// Version returns the child uploader declared as name, nil if none.
func (up *Uploader) Version(name string) *Uploader {
	for _, c := range up.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// VersionNames lists the direct versions in declaration order.
func (up *Uploader) VersionNames() []string {
	names := make([]string, len(up.children))
	for i, c := range up.children {
		names[i] = c.name
	}
	return names
}

// Definition returns the definition behind version name.
func (up *Uploader) Definition(name string) *VersionDefinition {
	for _, d := range up.defs {
		if d.name == name {
			return d
		}
	}
	return nil
}

// StepNames lists the processing steps in execution order.
func (up *Uploader) StepNames() []string {
	names := make([]string, len(up.steps))
	for i, s := range up.steps {
		names[i] = s.Name
	}
	return names
}

// FromVersion names the sibling this version is derived from.
func (up *Uploader) FromVersion() string { return up.fromVersion }

// Upload starts a blank upload. model and mountedAs are opaque references
// to the owning record, available to Filename and StoreDirFunc callbacks.
func (up *Uploader) Upload(model any, mountedAs string) *Upload {
	return &Upload{uploader: up, model: model, mountedAs: mountedAs}
}

// CacheRoot is the directory holding one subdirectory per cache id.
func (up *Uploader) CacheRoot() string {
	if filepath.IsAbs(up.cfg.CacheDir) {
		return filepath.Clean(up.cfg.CacheDir)
	}
	return filepath.Join(up.cfg.Root, up.cfg.CacheDir)
}

// CleanCachedFiles removes cache directories older than maxAge and returns
// how many were removed.
func (up *Uploader) CleanCachedFiles(ctx context.Context, maxAge time.Duration) (int, error) {
	return cleanup.Sweep(ctx, up.cfg.FS, up.CacheRoot(), maxAge, CacheIDTime, up.cfg.Logger)
}

// VersionDefinition is a named, deferred version template. Building it for
// a parent uploader happens once; later builds return the same *Uploader.
type VersionDefinition struct {
	name string
	opts []Option

	mu    sync.Mutex
	built map[*Uploader]*Uploader
}

func newVersionDefinition(name string, opts []Option) *VersionDefinition {
	return &VersionDefinition{name: name, opts: opts, built: make(map[*Uploader]*Uploader)}
}

func (d *VersionDefinition) Name() string { return d.name }

// Build realizes the version below parent. The child starts from a copy of
// the parent's resolved configuration and validators, with an empty
// pipeline and MoveToCache off.
func (d *VersionDefinition) Build(parent *Uploader) (*Uploader, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if up, ok := d.built[parent]; ok {
		return up, nil
	}
	cfg := parent.cfg
	cfg.MoveToCache = false
	b := &builder{cfg: cfg, validators: slices.Clone(parent.validators)}
	up, err := b.build(parent, d.name, d.opts)
	if err != nil {
		return nil, err
	}
	d.built[parent] = up
	return up, nil
}
