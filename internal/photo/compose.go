package photo

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/sourcegraph/conc/panics"
	"golang.org/x/image/draw"
)

var interpolators = map[string]draw.Interpolator{
	"nearest":         draw.NearestNeighbor,
	"approx-bilinear": draw.ApproxBiLinear,
	"bilinear":        draw.BiLinear,
	"catmull-rom":     draw.CatmullRom,
}

// InterpolatorNames lists the names accepted by InterpolatorByName.
func InterpolatorNames() []string {
	names := make([]string, 0, len(interpolators))
	for name := range interpolators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InterpolatorByName resolves a resampling kernel by name.
func InterpolatorByName(name string) (draw.Interpolator, error) {
	if q, ok := interpolators[name]; ok {
		return q, nil
	}
	return nil, fmt.Errorf("unknown interpolator %q (want one of %v)", name, InterpolatorNames())
}

// newCanvas allocates a fully transparent w x h surface. limit caps either
// side; zero means no limit.
func newCanvas(w, h, limit int) (canvas *image.NRGBA, err error) {
	side := max(w, h)
	if w <= 0 || h <= 0 {
		return nil, &InvalidDimensionsError{What: "canvas", Width: w, Height: h}
	}
	if limit > 0 && side > limit {
		return nil, &RenderContextError{Side: side, Err: fmt.Errorf("%w: %d > %d", ErrCanvasTooLarge, side, limit)}
	}
	var pc panics.Catcher
	pc.Try(func() {
		canvas = image.NewNRGBA(image.Rect(0, 0, w, h))
	})
	if r := pc.Recovered(); r != nil {
		return nil, &RenderContextError{Side: side, Err: r.AsError()}
	}
	return canvas, nil
}

// Composite draws src onto a fresh transparent canvas of l.Side pixels,
// rotated about its own centre by l.Angle. src is not modified.
func Composite(src *SourceImage, l Layout, q draw.Interpolator, maxSide int) (*image.NRGBA, error) {
	if src.Width() != l.Width || src.Height() != l.Height {
		return nil, errors.New("layout does not match source image")
	}
	canvas, err := newCanvas(l.Side, l.Side, maxSide)
	if err != nil {
		return nil, err
	}
	m := l.Composite()
	if lm, ok := latticeOf(m); ok {
		lm.copy(canvas, src.Image())
		return canvas, nil
	}
	if q == nil {
		q = draw.BiLinear
	}
	q.Transform(canvas, m.Aff3(), src.Image(), src.Image().Bounds(), draw.Over, nil)
	return canvas, nil
}

// lattice is an affine map that sends every pixel centre onto a pixel centre:
// a signed axis permutation followed by an integer shift.
type lattice struct {
	a, b, c int
	d, e, f int
}

const latticeEps = 1e-9

func snapUnit(v float64) (int, bool) {
	r := math.Round(v)
	if math.Abs(v-r) > latticeEps || r < -1 || r > 1 {
		return 0, false
	}
	return int(r), true
}

// latticeOf reports whether m is a lattice map, which holds for quarter turns
// whenever the rotation centre sits on the pixel grid or on a pixel centre.
func latticeOf(m Affine) (lattice, bool) {
	var l lattice
	var ok [4]bool
	l.a, ok[0] = snapUnit(m[0])
	l.b, ok[1] = snapUnit(m[1])
	l.d, ok[2] = snapUnit(m[3])
	l.e, ok[3] = snapUnit(m[4])
	if !ok[0] || !ok[1] || !ok[2] || !ok[3] {
		return lattice{}, false
	}
	if det := l.a*l.e - l.b*l.d; det != 1 && det != -1 {
		return lattice{}, false
	}
	// Pixel (0,0) has its centre at (0.5,0.5); its image must also be a centre.
	cx, cy := m.Apply(0.5, 0.5)
	cx, cy = cx-0.5, cy-0.5
	rx, ry := math.Round(cx), math.Round(cy)
	if math.Abs(cx-rx) > 1e-6 || math.Abs(cy-ry) > 1e-6 {
		return lattice{}, false
	}
	l.c, l.f = int(rx), int(ry)
	return l, true
}

// copy moves every pixel of src to its lattice position in dst. dst is fully
// transparent, so a plain copy equals drawing src over it.
func (l lattice) copy(dst, src *image.NRGBA) {
	b := src.Rect
	for y := 0; y < b.Dy(); y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+4*b.Dx()]
		for x := 0; x < b.Dx(); x++ {
			dx := l.a*x + l.b*y + l.c
			dy := l.d*x + l.e*y + l.f
			if !(image.Point{dx, dy}).In(dst.Rect) {
				continue
			}
			i := dst.PixOffset(dx, dy)
			copy(dst.Pix[i:i+4], row[4*x:4*x+4])
		}
	}
}
