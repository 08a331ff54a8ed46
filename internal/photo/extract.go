package photo

import (
	"image"
)

// ExtractWindow copies window out of canvas into a new buffer of exactly
// window's size, with window.Min landing on (0,0). Parts of the window that
// fall outside canvas stay transparent; their pixel count is returned as
// blank. limit caps the output side as in Composite.
func ExtractWindow(canvas *image.NRGBA, window image.Rectangle, limit int) (out *image.NRGBA, blank int, err error) {
	out, err = newCanvas(window.Dx(), window.Dy(), limit)
	if err != nil {
		return nil, 0, err
	}
	inside := window.Intersect(canvas.Rect)
	blank = window.Dx()*window.Dy() - inside.Dx()*inside.Dy()
	if inside.Empty() {
		return out, blank, nil
	}
	n := 4 * inside.Dx()
	for y := inside.Min.Y; y < inside.Max.Y; y++ {
		si := canvas.PixOffset(inside.Min.X, y)
		di := out.PixOffset(inside.Min.X-window.Min.X, y-window.Min.Y)
		copy(out.Pix[di:di+n], canvas.Pix[si:si+n])
	}
	return out, blank, nil
}
