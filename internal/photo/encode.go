package photo

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// Format is an output codec.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

// ParseFormat accepts a codec name or a common file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	}
	return "", fmt.Errorf("unsupported output format %q", s)
}

// MIME returns the media type of f.
func (f Format) MIME() string {
	return "image/" + string(f)
}

// Encoder serializes output images.
type Encoder struct {
	Format Format
	// Quality is 1-100 for JPEG and lossy WebP.
	Quality  int
	Lossless bool
	// Background fills transparent pixels for formats without alpha.
	Background color.NRGBA
}

// DefaultEncoder encodes JPEG at quality 92 on black, like a 2D canvas
// exporting image/jpeg.
func DefaultEncoder() Encoder {
	return Encoder{
		Format:     FormatJPEG,
		Quality:    92,
		Background: color.NRGBA{A: 0xff},
	}
}

// Encoded is an encoded image.
type Encoded struct {
	MIME string
	Data []byte
}

// DataURI returns e as a base64 data URI.
func (e Encoded) DataURI() string {
	return "data:" + e.MIME + ";base64," + base64.StdEncoding.EncodeToString(e.Data)
}

// Encode serializes img. Identical pixels and settings give identical bytes.
func (e Encoder) Encode(img image.Image) (Encoded, error) {
	var buf bytes.Buffer
	switch e.Format {
	case FormatJPEG, "":
		b := img.Bounds()
		flat := imaging.New(b.Dx(), b.Dy(), e.Background)
		flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1)
		if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(e.quality())); err != nil {
			return Encoded{}, fmt.Errorf("failed to encode jpeg: %w", err)
		}
		return Encoded{MIME: FormatJPEG.MIME(), Data: buf.Bytes()}, nil
	case FormatPNG:
		if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
			return Encoded{}, fmt.Errorf("failed to encode png: %w", err)
		}
	case FormatWebP:
		opts := &webp.Options{Lossless: e.Lossless, Quality: float32(e.quality())}
		if err := webp.Encode(&buf, img, opts); err != nil {
			return Encoded{}, fmt.Errorf("failed to encode webp: %w", err)
		}
	default:
		return Encoded{}, fmt.Errorf("unsupported output format %q", e.Format)
	}
	return Encoded{MIME: e.Format.MIME(), Data: buf.Bytes()}, nil
}

func (e Encoder) quality() int {
	if e.Quality < 1 || e.Quality > 100 {
		return 92
	}
	return e.Quality
}

var errNotDataURI = errors.New("not a base64 data URI")

// ParseDataURI reverses Encoded.DataURI.
func ParseDataURI(uri string) (Encoded, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return Encoded{}, errNotDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Encoded{}, errNotDataURI
	}
	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return Encoded{}, errNotDataURI
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Encoded{}, fmt.Errorf("failed to decode data URI payload: %w", err)
	}
	return Encoded{MIME: mime, Data: data}, nil
}

// ParseHexColor parses #rgb, #rrggbb or #rrggbbaa.
func ParseHexColor(s string) (color.NRGBA, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) == 6 {
		h += "ff"
	}
	if len(h) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
