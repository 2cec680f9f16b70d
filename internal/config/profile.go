package config

import (
	"fmt"

	"github.com/zynqcloud/go-upload/internal/imageproc"
	"github.com/zynqcloud/go-upload/internal/uploader"
)

// Profile is the declarative uploader definition read from the config file.
type Profile struct {
	StoreDir   string
	CacheDir   string
	DefaultURL string

	Deduplicate               bool
	MoveToCache               bool
	MoveToStore               bool
	CacheOnly                 bool
	DeleteTmpFileAfterStorage bool
	RemovePreviouslyStored    bool
	EnsureMultipartForm       bool

	ExtensionAllowlist   []string
	ExtensionDenylist    []string
	ContentTypeAllowlist []string
	ContentTypeDenylist  []string

	MinSize, MaxSize     int64
	MinWidth, MaxWidth   int
	MinHeight, MaxHeight int

	Process  []StepSpec
	Versions []VersionSpec
}

// StepSpec declares one image step, e.g. {resize: fill, width: 100, height: 100}.
type StepSpec struct {
	Resize        string   `mapstructure:"resize"` // fit, fill, limit or exact
	Width         int      `mapstructure:"width"`
	Height        int      `mapstructure:"height"`
	IfContentType []string `mapstructure:"if_content_type"`
}

// VersionSpec declares a version and, recursively, its own versions.
type VersionSpec struct {
	Name          string        `mapstructure:"name"`
	FromVersion   string        `mapstructure:"from_version"`
	IfContentType []string      `mapstructure:"if_content_type"`
	StoreDir      string        `mapstructure:"store_dir"`
	Process       []StepSpec    `mapstructure:"process"`
	Versions      []VersionSpec `mapstructure:"versions"`
}

// Options compiles the profile into uploader options. Dimension rules and
// image steps get an imageproc.Processor.
func (p Profile) Options() ([]uploader.Option, error) {
	opts := []uploader.Option{
		uploader.WithStoreDir(p.StoreDir),
		uploader.WithCacheDir(p.CacheDir),
		uploader.WithDefaultURL(p.DefaultURL),
		uploader.WithDeduplication(p.Deduplicate),
		uploader.WithMoveToCache(p.MoveToCache),
		uploader.WithMoveToStore(p.MoveToStore),
		uploader.WithCacheOnly(p.CacheOnly),
		uploader.WithDeleteTmpFileAfterStorage(p.DeleteTmpFileAfterStorage),
		uploader.WithRemovePreviouslyStoredFilesAfterUpdate(p.RemovePreviouslyStored),
		uploader.WithEnsureMultipartForm(p.EnsureMultipartForm),
		uploader.WithDimensioner(imageproc.Processor{}),
		uploader.SizeRange(p.MinSize, p.MaxSize),
		uploader.WidthRange(p.MinWidth, p.MaxWidth),
		uploader.HeightRange(p.MinHeight, p.MaxHeight),
	}
	if len(p.ExtensionAllowlist) > 0 {
		opts = append(opts, uploader.ExtensionAllowlist(p.ExtensionAllowlist...))
	}
	if len(p.ExtensionDenylist) > 0 {
		opts = append(opts, uploader.ExtensionDenylist(p.ExtensionDenylist...))
	}
	if len(p.ContentTypeAllowlist) > 0 {
		opts = append(opts, uploader.ContentTypeAllowlist(p.ContentTypeAllowlist...))
	}
	if len(p.ContentTypeDenylist) > 0 {
		opts = append(opts, uploader.ContentTypeDenylist(p.ContentTypeDenylist...))
	}
	steps, err := stepOptions(p.Process)
	if err != nil {
		return nil, err
	}
	opts = append(opts, steps...)
	for _, v := range p.Versions {
		o, err := v.option()
		if err != nil {
			return nil, err
		}
		opts = append(opts, o)
	}
	return opts, nil
}

func (v VersionSpec) option() (uploader.Option, error) {
	var opts []uploader.Option
	if v.FromVersion != "" {
		opts = append(opts, uploader.FromVersion(v.FromVersion))
	}
	if len(v.IfContentType) > 0 {
		opts = append(opts, uploader.If(uploader.IfContentType(v.IfContentType...)))
	}
	if v.StoreDir != "" {
		opts = append(opts, uploader.WithStoreDir(v.StoreDir))
	}
	steps, err := stepOptions(v.Process)
	if err != nil {
		return nil, fmt.Errorf("version %q: %w", v.Name, err)
	}
	opts = append(opts, steps...)
	for _, child := range v.Versions {
		o, err := child.option()
		if err != nil {
			return nil, fmt.Errorf("version %q: %w", v.Name, err)
		}
		opts = append(opts, o)
	}
	return uploader.Version(v.Name, opts...), nil
}

func stepOptions(specs []StepSpec) ([]uploader.Option, error) {
	opts := make([]uploader.Option, 0, len(specs))
	for i, s := range specs {
		fn, err := s.step()
		if err != nil {
			return nil, fmt.Errorf("process[%d]: %w", i, err)
		}
		name := fmt.Sprintf("resize_to_%s_%dx%d", s.Resize, s.Width, s.Height)
		if len(s.IfContentType) > 0 {
			opts = append(opts, uploader.ProcessIf(name, uploader.IfContentType(s.IfContentType...), fn))
		} else {
			opts = append(opts, uploader.Process(name, fn))
		}
	}
	return opts, nil
}

func (s StepSpec) step() (uploader.ProcessFunc, error) {
	if s.Width <= 0 || s.Height <= 0 {
		return nil, fmt.Errorf("resize %q needs positive width and height", s.Resize)
	}
	switch s.Resize {
	case "fit":
		return imageproc.ResizeToFit(s.Width, s.Height), nil
	case "fill":
		return imageproc.ResizeToFill(s.Width, s.Height), nil
	case "limit":
		return imageproc.ResizeToLimit(s.Width, s.Height), nil
	case "exact":
		return imageproc.Resize(s.Width, s.Height), nil
	}
	return nil, fmt.Errorf("unknown resize mode %q", s.Resize)
}
