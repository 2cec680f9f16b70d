package uploader

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zynqcloud/go-upload/internal/file"
)

// patterns caches compiled list entries; dynamic lists recompile the same
// handful of entries on every upload otherwise.
var patterns, _ = lru.New[string, *regexp.Regexp](512)

func compile(key, expr string) (*regexp.Regexp, error) {
	if re, ok := patterns.Get(key); ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	patterns.Add(key, re)
	return re, nil
}

// matchExtension reports whether ext matches one of entries as a whole,
// ignoring case. Entries are regular expressions.
func matchExtension(ext string, entries []string) (bool, error) {
	for _, e := range entries {
		re, err := compile("ext\x00"+e, `(?i)\A(?:`+e+`)\z`)
		if err != nil {
			return false, configErrorf("extension pattern %q: %v", e, err)
		}
		if re.MatchString(ext) {
			return true, nil
		}
	}
	return false, nil
}

// matchContentType reports whether ctype starts with one of the literal
// entries, ignoring case.
func matchContentType(ctype string, entries []string) bool {
	for _, e := range entries {
		re, err := compile("ct\x00"+e, `(?i)\A`+regexp.QuoteMeta(e))
		if err == nil && re.MatchString(ctype) {
			return true
		}
	}
	return false
}

func integrity(rule, format string, args ...any) error {
	return &IntegrityError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// validate runs the built-in rules followed by custom validators. Dimension
// rules apply to the root only; versions are resized derivatives.
func (u *Upload) validate(ctx context.Context, f *file.Staged) error {
	cfg := u.uploader.cfg
	checks := []func() error{
		func() error { return u.checkExtension(f) },
		func() error { return u.checkContentType(f) },
		func() error { return checkSize(cfg, f) },
	}
	if u.parent == nil {
		checks = append(checks, func() error { return checkDimensions(cfg, f) })
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	for _, v := range u.uploader.validators {
		if err := v(ctx, u, f); err != nil {
			return err
		}
	}
	return nil
}

func (u *Upload) checkExtension(f *file.Staged) error {
	cfg := u.uploader.cfg
	ext := f.Extension()
	if cfg.ExtensionAllowlist != nil {
		if allow := cfg.ExtensionAllowlist(u); allow != nil {
			ok, err := matchExtension(ext, allow)
			if err != nil {
				return err
			}
			if !ok {
				return integrity("extension_allowlist",
					"You are not allowed to upload %q files, allowed types: %s", ext, strings.Join(allow, ", "))
			}
		}
	}
	if cfg.ExtensionDenylist != nil {
		if deny := cfg.ExtensionDenylist(u); len(deny) > 0 {
			ok, err := matchExtension(ext, deny)
			if err != nil {
				return err
			}
			if ok {
				return integrity("extension_denylist",
					"You are not allowed to upload %q files, prohibited types: %s", ext, strings.Join(deny, ", "))
			}
		}
	}
	return nil
}

func (u *Upload) checkContentType(f *file.Staged) error {
	cfg := u.uploader.cfg
	if cfg.ContentTypeAllowlist == nil && cfg.ContentTypeDenylist == nil {
		return nil
	}
	ctype := f.ContentType()
	if cfg.ContentTypeAllowlist != nil {
		if allow := cfg.ContentTypeAllowlist(u); allow != nil && !matchContentType(ctype, allow) {
			return integrity("content_type_allowlist",
				"You are not allowed to upload %s files, allowed types: %s", ctype, strings.Join(allow, ", "))
		}
	}
	if cfg.ContentTypeDenylist != nil {
		if deny := cfg.ContentTypeDenylist(u); len(deny) > 0 && matchContentType(ctype, deny) {
			return integrity("content_type_denylist",
				"You are not allowed to upload %s files, prohibited types: %s", ctype, strings.Join(deny, ", "))
		}
	}
	return nil
}

func checkSize(cfg Config, f *file.Staged) error {
	if cfg.MinSize <= 0 && cfg.MaxSize <= 0 {
		return nil
	}
	size, err := f.Size()
	if err != nil {
		return err
	}
	if cfg.MinSize > 0 && size < cfg.MinSize {
		return integrity("size_range", "File size should be greater than %s", humanize.IBytes(uint64(cfg.MinSize)))
	}
	if cfg.MaxSize > 0 && size > cfg.MaxSize {
		return integrity("size_range", "File size should be less than %s", humanize.IBytes(uint64(cfg.MaxSize)))
	}
	return nil
}

func checkDimensions(cfg Config, f *file.Staged) error {
	if !cfg.hasDimensionRules() {
		return nil
	}
	if cfg.Dimensioner == nil {
		return configErrorf("width/height rules need a Dimensioner")
	}
	w, h, err := cfg.Dimensioner.Dimensions(f)
	if err != nil {
		return &ProcessingError{Step: "dimensions", Err: err}
	}
	switch {
	case cfg.MinWidth > 0 && w < cfg.MinWidth:
		return integrity("width_range", "Image width should be greater than %dpx", cfg.MinWidth)
	case cfg.MaxWidth > 0 && w > cfg.MaxWidth:
		return integrity("width_range", "Image width should be less than %dpx", cfg.MaxWidth)
	case cfg.MinHeight > 0 && h < cfg.MinHeight:
		return integrity("height_range", "Image height should be greater than %dpx", cfg.MinHeight)
	case cfg.MaxHeight > 0 && h > cfg.MaxHeight:
		return integrity("height_range", "Image height should be less than %dpx", cfg.MaxHeight)
	}
	return nil
}
