package photo

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
	_ "golang.org/x/image/webp"
)

// ImageInfo describes an encoded image without decoding its pixels.
type ImageInfo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

// Probe reads the dimensions and format of an encoded image from its header.
func Probe(data []byte) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if !isRIFFWebP(data) {
			return ImageInfo{}, &DecodeError{Err: err}
		}
		// Some WebP variants are only understood by libwebp.
		wcfg, werr := webp.DecodeConfig(bytes.NewReader(data))
		if werr != nil {
			return ImageInfo{}, &DecodeError{Err: err}
		}
		cfg, format = wcfg, "webp"
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return ImageInfo{}, &InvalidDimensionsError{What: "source", Width: cfg.Width, Height: cfg.Height}
	}
	return ImageInfo{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

func isRIFFWebP(data []byte) bool {
	return len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

// SourceImage is a decoded upload. Its pixels are never modified after
// construction.
type SourceImage struct {
	pix    *image.NRGBA
	format string
}

// NewSourceImage copies img into a SourceImage anchored at the origin.
func NewSourceImage(img image.Image, format string) (*SourceImage, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &InvalidDimensionsError{What: "source", Width: b.Dx(), Height: b.Dy()}
	}
	return &SourceImage{pix: imaging.Clone(img), format: format}, nil
}

func (s *SourceImage) Width() int  { return s.pix.Rect.Dx() }
func (s *SourceImage) Height() int { return s.pix.Rect.Dy() }

// Format is the name of the codec the image was decoded with.
func (s *SourceImage) Format() string { return s.format }

// Image returns the pixels. Callers must treat them as read-only.
func (s *SourceImage) Image() *image.NRGBA { return s.pix }

// Info returns the decoded dimensions, after any EXIF orientation fix.
func (s *SourceImage) Info() ImageInfo {
	return ImageInfo{Width: s.Width(), Height: s.Height(), Format: s.format}
}

// DecodeOptions controls how uploads are decoded.
type DecodeOptions struct {
	// MaxPixels rejects images with more pixels than this. Zero means no limit.
	MaxPixels int
	// AutoOrientation applies the EXIF orientation tag of JPEG uploads.
	AutoOrientation bool
}

// DefaultDecodeOptions returns the options used when none are configured.
func DefaultDecodeOptions() DecodeOptions {
	return DecodeOptions{MaxPixels: 64 << 20, AutoOrientation: true}
}

// Decode turns uploaded bytes into a SourceImage. Decoder panics on hostile
// input are reported as a DecodeError.
func Decode(data []byte, opts DecodeOptions) (src *SourceImage, err error) {
	info, err := Probe(data)
	if err != nil {
		return nil, err
	}
	if opts.MaxPixels > 0 && info.Width*info.Height > opts.MaxPixels {
		return nil, &DecodeError{
			Format: info.Format,
			Err:    fmt.Errorf("%w: %dx%d > %d", ErrImageTooLarge, info.Width, info.Height, opts.MaxPixels),
		}
	}

	var pc panics.Catcher
	pc.Try(func() {
		var img image.Image
		img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(opts.AutoOrientation))
		if err != nil && info.Format == "webp" {
			img, err = webp.Decode(bytes.NewReader(data))
		}
		if err != nil {
			err = &DecodeError{Format: info.Format, Err: err}
			return
		}
		src, err = NewSourceImage(img, info.Format)
	})
	if r := pc.Recovered(); r != nil {
		return nil, &DecodeError{Format: info.Format, Err: r.AsError()}
	}
	return src, err
}

// Decoding is a decode running in the background. Done is closed once the
// result is available.
type Decoding struct {
	done chan struct{}
	src  *SourceImage
	err  error
}

// DecodeAsync starts decoding data on its own goroutine. The caller must not
// modify data until the decode is done.
func DecodeAsync(ctx context.Context, data []byte, opts DecodeOptions) *Decoding {
	return StartDecoding(func() (*SourceImage, error) {
		src, err := Decode(data, opts)
		if err != nil {
			log.Ctx(ctx).Debug().Err(err).Int("bytes", len(data)).Msg("decode failed")
			return nil, err
		}
		log.Ctx(ctx).Debug().
			Int("width", src.Width()).
			Int("height", src.Height()).
			Str("format", src.Format()).
			Msg("decoded upload")
		return src, nil
	})
}

// StartDecoding runs fn on its own goroutine and returns its pending result.
func StartDecoding(fn func() (*SourceImage, error)) *Decoding {
	d := &Decoding{done: make(chan struct{})}
	go func() {
		defer close(d.done)
		d.src, d.err = fn()
	}()
	return d
}

// Done is closed when the decode has finished.
func (d *Decoding) Done() <-chan struct{} { return d.done }

// Result returns the decode outcome. It must only be called after Done is
// closed.
func (d *Decoding) Result() (*SourceImage, error) { return d.src, d.err }

// Wait blocks until the decode finishes or ctx is done.
func (d *Decoding) Wait(ctx context.Context) (*SourceImage, error) {
	select {
	case <-d.done:
		return d.src, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
