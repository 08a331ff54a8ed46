package photo

import (
	"context"
	"image"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// Renderer runs the crop pipeline: size a safe canvas, draw the rotated
// source on it, then read the crop window back out.
type Renderer struct {
	Interpolator draw.Interpolator
	// MaxCanvasSide caps every buffer the renderer allocates. Zero means no
	// limit.
	MaxCanvasSide int
	Encoder       Encoder
}

// NewRenderer returns a Renderer with bilinear resampling, a 16384 pixel
// canvas limit and the default encoder.
func NewRenderer() *Renderer {
	return &Renderer{
		Interpolator:  draw.BiLinear,
		MaxCanvasSide: 16384,
		Encoder:       DefaultEncoder(),
	}
}

// Result is a rendered crop.
type Result struct {
	Image  *image.NRGBA
	Layout Layout
	// Window is the crop rectangle in canvas coordinates.
	Window image.Rectangle
	// Blank counts output pixels that fell outside the canvas.
	Blank int
}

// Render crops region out of src rotated by angle degrees. region is in
// unrotated source coordinates; the output is always region-sized.
func (r *Renderer) Render(ctx context.Context, src *SourceImage, region Region, angle float64) (Result, error) {
	if err := region.Validate(); err != nil {
		return Result{}, err
	}
	layout, err := NewLayout(src.Width(), src.Height(), angle)
	if err != nil {
		return Result{}, err
	}
	logger := log.Ctx(ctx).With().
		Interface("region", region).
		Float64("angle", layout.Angle).
		Int("canvas", layout.Side).
		Logger()

	canvas, err := Composite(src, layout, r.Interpolator, r.MaxCanvasSide)
	if err != nil {
		return Result{}, err
	}
	window := layout.Window(region)
	out, blank, err := ExtractWindow(canvas, window, r.MaxCanvasSide)
	if err != nil {
		return Result{}, err
	}
	if blank > 0 {
		logger.Warn().
			Int("blank", blank).
			Stringer("window", window).
			Msg("crop window reads outside the canvas")
	}
	logger.Debug().Msg("rendered crop")
	return Result{Image: out, Layout: layout, Window: window, Blank: blank}, nil
}

// RenderEncoded renders and encodes with r.Encoder.
func (r *Renderer) RenderEncoded(ctx context.Context, src *SourceImage, region Region, angle float64) (Encoded, error) {
	res, err := r.Render(ctx, src, region, angle)
	if err != nil {
		return Encoded{}, err
	}
	return r.Encoder.Encode(res.Image)
}
