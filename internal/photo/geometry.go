package photo

import (
	"image"
	"math"

	"golang.org/x/image/math/f64"
)

// Affine is a 2D affine transform in row-major order:
//
//	x' = m[0]*x + m[1]*y + m[2]
//	y' = m[3]*x + m[4]*y + m[5]
//
// Coordinates are y-down, so a positive rotation turns clockwise on screen,
// the same way a 2D canvas does.
type Affine f64.Aff3

// Identity returns the identity transform.
func Identity() Affine {
	return Affine{1, 0, 0, 0, 1, 0}
}

// Translate returns a translation by (x, y).
func Translate(x, y float64) Affine {
	return Affine{1, 0, x, 0, 1, y}
}

// Rotate returns a rotation by angle radians about the origin.
func Rotate(angle float64) Affine {
	cos, sin := math.Cos(angle), math.Sin(angle)
	return Affine{cos, -sin, 0, sin, cos, 0}
}

// RotateDegrees is Rotate for an angle in degrees. Quarter turns are exact.
func RotateDegrees(deg float64) Affine {
	switch deg {
	case 0:
		return Identity()
	case 90:
		return Affine{0, -1, 0, 1, 0, 0}
	case 180:
		return Affine{-1, 0, 0, 0, -1, 0}
	case 270:
		return Affine{0, 1, 0, -1, 0, 0}
	}
	return Rotate(deg * math.Pi / 180)
}

// Mul returns m*n, the transform that applies n first and then m.
func (m Affine) Mul(n Affine) Affine {
	return Affine{
		m[0]*n[0] + m[1]*n[3],
		m[0]*n[1] + m[1]*n[4],
		m[0]*n[2] + m[1]*n[5] + m[2],
		m[3]*n[0] + m[4]*n[3],
		m[3]*n[1] + m[4]*n[4],
		m[3]*n[2] + m[4]*n[5] + m[5],
	}
}

// Invert returns the inverse transform. ok is false for singular transforms.
func (m Affine) Invert() (inv Affine, ok bool) {
	det := m[0]*m[4] - m[1]*m[3]
	if math.Abs(det) < 1e-12 {
		return Identity(), false
	}
	d := 1 / det
	return Affine{
		m[4] * d,
		-m[1] * d,
		(m[1]*m[5] - m[2]*m[4]) * d,
		-m[3] * d,
		m[0] * d,
		(m[2]*m[3] - m[0]*m[5]) * d,
	}, true
}

// Apply transforms the point (x, y).
func (m Affine) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

// Aff3 returns m in the form golang.org/x/image/draw expects.
func (m Affine) Aff3() f64.Aff3 {
	return f64.Aff3(m)
}

// Region is a crop rectangle in unrotated source-pixel coordinates.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Validate rejects empty regions.
func (r Region) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return &InvalidDimensionsError{What: "crop", Width: r.Width, Height: r.Height}
	}
	return nil
}

// Rect returns r as an image.Rectangle in source space.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// CenteredSquare returns the largest square region centred in a w x h image.
func CenteredSquare(w, h int) Region {
	side := min(w, h)
	return Region{X: (w - side) / 2, Y: (h - side) / 2, Width: side, Height: side}
}

// NormalizeAngle folds deg into [0, 360).
func NormalizeAngle(deg float64) (float64, error) {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0, ErrInvalidAngle
	}
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	// math.Mod of a tiny negative value can round up to exactly 360.
	if deg >= 360 {
		deg = 0
	}
	return deg, nil
}

// SafeArea returns the side of a square canvas on which a w x h image can be
// rotated about its centre by any angle without losing a pixel. The bounding
// box of a rotated rectangle grows by at most sqrt(2), at 45 degrees.
// Size canvases from Layout.Side, which adds a pixel for odd dimensions.
func SafeArea(w, h int) (int, error) {
	if w <= 0 || h <= 0 {
		return 0, &InvalidDimensionsError{What: "source", Width: w, Height: h}
	}
	half := float64(max(w, h)) / 2
	return 2 * int(math.Ceil(half*math.Sqrt2)), nil
}

// Layout places a source image on its safe canvas for one rotation angle.
type Layout struct {
	Width    int
	Height   int
	Angle    float64
	SafeArea int
	// Side is the canvas side. It is SafeArea, plus one pixel when either
	// source dimension is odd so that the rotation centre stays at least half
	// a pixel inside the canvas while Offset stays on the pixel grid.
	Side int
	// Offset is where the unrotated source's top-left corner sits on the
	// canvas. Unrotated pixels map 1:1 onto canvas pixels.
	Offset image.Point
}

// NewLayout computes the layout for a w x h source rotated by deg degrees.
func NewLayout(w, h int, deg float64) (Layout, error) {
	safe, err := SafeArea(w, h)
	if err != nil {
		return Layout{}, err
	}
	angle, err := NormalizeAngle(deg)
	if err != nil {
		return Layout{}, err
	}
	side := safe
	if w%2 != 0 || h%2 != 0 {
		side++
	}
	return Layout{
		Width:    w,
		Height:   h,
		Angle:    angle,
		SafeArea: safe,
		Side:     side,
		Offset:   image.Pt((side-w)/2, (side-h)/2),
	}, nil
}

// Composite maps source coordinates to canvas coordinates: move the source
// centre to the origin, rotate, then move it to its place on the canvas.
func (l Layout) Composite() Affine {
	cx := float64(l.Width) / 2
	cy := float64(l.Height) / 2
	return Translate(float64(l.Offset.X)+cx, float64(l.Offset.Y)+cy).
		Mul(RotateDegrees(l.Angle)).
		Mul(Translate(-cx, -cy))
}

// Window returns the canvas rectangle that holds region r.
func (l Layout) Window(r Region) image.Rectangle {
	return r.Rect().Add(l.Offset)
}

// Extract maps canvas coordinates to output coordinates for region r.
func (l Layout) Extract(r Region) Affine {
	origin := l.Window(r).Min
	return Translate(float64(-origin.X), float64(-origin.Y))
}

// SourceToOutput maps source coordinates straight to output coordinates.
func (l Layout) SourceToOutput(r Region) Affine {
	return l.Extract(r).Mul(l.Composite())
}

// Bounds returns the canvas-space bounding box of the rotated source.
func (l Layout) Bounds() (minX, minY, maxX, maxY float64) {
	m := l.Composite()
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, c := range [4][2]float64{
		{0, 0},
		{float64(l.Width), 0},
		{0, float64(l.Height)},
		{float64(l.Width), float64(l.Height)},
	} {
		x, y := m.Apply(c[0], c[1])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return minX, minY, maxX, maxY
}
