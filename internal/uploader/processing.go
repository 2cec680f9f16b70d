package uploader

import (
	"context"
	"errors"
)

// ProcessFunc transforms the upload's staged file in place.
type ProcessFunc func(ctx context.Context, u *Upload) error

// Step is one entry of a processing pipeline. If and Unless are optional
// gates evaluated right before the step runs.
type Step struct {
	Name   string
	Fn     ProcessFunc
	If     Condition
	Unless Condition
}

func (s Step) enabled(u *Upload) bool {
	f := u.currentFile()
	if s.If != nil && !s.If(u, f) {
		return false
	}
	if s.Unless != nil && s.Unless(u, f) {
		return false
	}
	return true
}

// SetProcessing overrides processing for this upload and, unless they set
// their own, for its versions.
func (u *Upload) SetProcessing(enabled bool) { u.processing = &enabled }

// ProcessingEnabled reports whether Process would run steps.
func (u *Upload) ProcessingEnabled() bool {
	for cur := u; cur != nil; cur = cur.parent {
		if cur.processing != nil {
			return *cur.processing
		}
	}
	return u.uploader.cfg.EnableProcessing
}

// Process runs the pipeline in declaration order against the cached file.
// The first failing step stops the pipeline; its error is returned as a
// *ProcessingError.
func (u *Upload) Process(ctx context.Context) error {
	if !u.ProcessingEnabled() || u.file == nil {
		return nil
	}
	for _, s := range u.uploader.steps {
		if !s.enabled(u) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		u.log().Debug("process step", "step", s.Name)
		if err := s.Fn(ctx, u); err != nil {
			var pe *ProcessingError
			if errors.As(err, &pe) {
				return err
			}
			return &ProcessingError{Version: u.VersionName(), Step: s.Name, Err: err}
		}
	}
	return nil
}
