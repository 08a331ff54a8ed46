package photo

import (
	"errors"
	"fmt"
)

// DecodeError reports corrupt or unsupported source bytes.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("failed to decode %s image: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("failed to decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// InvalidDimensionsError is returned for zero or negative image, crop or
// canvas sizes. It is always raised before any pixel buffer is allocated.
type InvalidDimensionsError struct {
	What   string
	Width  int
	Height int
}

func (e *InvalidDimensionsError) Error() string {
	return fmt.Sprintf("invalid %s dimensions: width=%d, height=%d", e.What, e.Width, e.Height)
}

// RenderContextError means a drawing surface could not be created.
type RenderContextError struct {
	Side int
	Err  error
}

func (e *RenderContextError) Error() string {
	return fmt.Sprintf("cannot create %dx%d canvas: %v", e.Side, e.Side, e.Err)
}

func (e *RenderContextError) Unwrap() error { return e.Err }

var (
	ErrCanvasTooLarge = errors.New("canvas exceeds size limit")
	ErrImageTooLarge  = errors.New("image exceeds pixel limit")
	ErrInvalidAngle   = errors.New("rotation angle is not a finite number")
)
