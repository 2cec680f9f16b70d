// Package imageproc provides image processing steps and the width/height
// capability used by dimension validation.
package imageproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"

	"github.com/disintegration/imaging"

	"github.com/zynqcloud/go-upload/internal/file"
	"github.com/zynqcloud/go-upload/internal/uploader"
)

// ErrNotImage is returned for input that does not decode as an image.
var ErrNotImage = errors.New("not a decodable image")

// Processor reads image dimensions without decoding pixel data.
type Processor struct{}

var _ uploader.Dimensioner = Processor{}

// Dimensions returns the width and height of f.
func (Processor) Dimensions(f *file.Staged) (int, int, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, 0, err
	}
	defer rc.Close()
	cfg, _, err := image.DecodeConfig(rc)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	return cfg.Width, cfg.Height, nil
}

// Options tune how manipulated images are written back.
type Options struct {
	JPEGQuality int
}

var defaultOptions = Options{JPEGQuality: 90}

// Manipulate decodes the upload's staged file, applies fn and writes the
// result back in the original format. EXIF orientation is applied first.
func Manipulate(fn func(img image.Image) (image.Image, error)) uploader.ProcessFunc {
	return ManipulateWith(defaultOptions, fn)
}

// ManipulateWith is Manipulate with explicit encoding options.
func ManipulateWith(opts Options, fn func(img image.Image) (image.Image, error)) uploader.ProcessFunc {
	return func(ctx context.Context, u *uploader.Upload) error {
		f := u.Staged()
		if f == nil {
			return nil
		}
		data, err := f.Read()
		if err != nil {
			return err
		}
		_, name, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotImage, err)
		}
		format, err := imaging.FormatFromExtension(name)
		if err != nil {
			return err
		}
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotImage, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := fn(img)
		if err != nil {
			return err
		}
		return f.Rewrite(func(w io.Writer) error {
			return imaging.Encode(w, out, format, imaging.JPEGQuality(opts.JPEGQuality))
		})
	}
}

// ResizeToLimit shrinks the image to fit within width x height keeping the
// aspect ratio. Smaller images are left alone.
func ResizeToLimit(width, height int) uploader.ProcessFunc {
	return Manipulate(func(img image.Image) (image.Image, error) {
		return imaging.Fit(img, width, height, imaging.Lanczos), nil
	})
}

// ResizeToFit scales the image, up or down, until it fits within
// width x height keeping the aspect ratio.
func ResizeToFit(width, height int) uploader.ProcessFunc {
	return Manipulate(func(img image.Image) (image.Image, error) {
		w, h := fitSize(img.Bounds().Dx(), img.Bounds().Dy(), width, height)
		return imaging.Resize(img, w, h, imaging.Lanczos), nil
	})
}

// ResizeToFill scales and center-crops the image to exactly width x height.
func ResizeToFill(width, height int) uploader.ProcessFunc {
	return Manipulate(func(img image.Image) (image.Image, error) {
		return imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos), nil
	})
}

// Resize scales the image to exactly width x height, ignoring aspect ratio.
func Resize(width, height int) uploader.ProcessFunc {
	return Manipulate(func(img image.Image) (image.Image, error) {
		return imaging.Resize(img, width, height, imaging.Lanczos), nil
	})
}

func fitSize(srcW, srcH, maxW, maxH int) (int, int) {
	if srcW == 0 || srcH == 0 {
		return maxW, maxH
	}
	scale := math.Min(float64(maxW)/float64(srcW), float64(maxH)/float64(srcH))
	w := int(math.Max(1, math.Round(float64(srcW)*scale)))
	h := int(math.Max(1, math.Round(float64(srcH)*scale)))
	return w, h
}
