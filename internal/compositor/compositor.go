// Package compositor draws freshly captured viewport strips onto a page-sized
// accumulation surface.
package compositor

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/hazyhaar/pageshot/coverage"
)

// Scalers maps config names to x/image interpolators.
var Scalers = map[string]xdraw.Scaler{
	"nearest":         xdraw.NearestNeighbor,
	"approx-bilinear": xdraw.ApproxBiLinear,
	"bilinear":        xdraw.BiLinear,
	"catmull-rom":     xdraw.CatmullRom,
}

// DefaultScaler is used when no scaler name is configured.
const DefaultScaler = "approx-bilinear"

// Surface is the accumulation image in logical page pixels. It is sized once
// and never resized; pixels are only overwritten by newer strips.
type Surface struct {
	img    *image.RGBA
	scaler xdraw.Scaler
}

// NewSurface allocates a width x height surface. scaler is a key of Scalers;
// empty selects DefaultScaler.
func NewSurface(width, height int, scaler string) (*Surface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("compositor: invalid surface size %dx%d", width, height)
	}
	if scaler == "" {
		scaler = DefaultScaler
	}
	sc, ok := Scalers[scaler]
	if !ok {
		return nil, fmt.Errorf("compositor: unknown scaler %q", scaler)
	}
	return &Surface{
		img:    image.NewRGBA(image.Rect(0, 0, width, height)),
		scaler: sc,
	}, nil
}

// Bounds returns the surface rectangle.
func (s *Surface) Bounds() image.Rectangle { return s.img.Bounds() }

// Plan computes the source crop and destination rectangle for one delta.
//
// visibleStart is the page offset of the viewport top when src was captured
// and density the physical pixels per logical pixel of src. The crop starts
// (delta.Start-visibleStart)*density rows into src and is delta.Len()*density
// rows high; it lands at rows delta.Start..delta.End of a surface that is
// surfaceWidth wide. Both heights derive from delta.Len(), so the strip is
// never stretched vertically.
func Plan(delta coverage.Span, visibleStart int, density float64, srcBounds image.Rectangle, surfaceWidth int) (src, dst image.Rectangle, err error) {
	if density <= 0 {
		return image.Rectangle{}, image.Rectangle{}, fmt.Errorf("compositor: invalid pixel density %v", density)
	}
	if delta.Start < visibleStart {
		return image.Rectangle{}, image.Rectangle{}, fmt.Errorf("%w: delta %s starts above viewport %d",
			coverage.ErrContract, delta, visibleStart)
	}

	sy := srcBounds.Min.Y + scale(delta.Start-visibleStart, density)
	sh := scale(delta.Len(), density)
	src = image.Rect(srcBounds.Min.X, sy, srcBounds.Max.X, sy+sh)
	dst = image.Rect(0, delta.Start, surfaceWidth, delta.End)
	return src, dst, nil
}

func scale(v int, density float64) int {
	return int(math.Round(float64(v) * density))
}

// Draw crops img to delta and scales it onto the surface at (0, delta.Start).
// It returns the destination rectangle actually written. Rows that fall
// outside img or the surface are clipped.
func (s *Surface) Draw(img image.Image, delta coverage.Span, visibleStart int, density float64) (image.Rectangle, error) {
	src, dst, err := Plan(delta, visibleStart, density, img.Bounds(), s.img.Bounds().Dx())
	if err != nil {
		return image.Rectangle{}, err
	}

	// Clip the source to what was captured and shrink the destination by
	// the same logical amount.
	clipped := src.Intersect(img.Bounds())
	if clipped.Empty() {
		return image.Rectangle{}, fmt.Errorf("compositor: delta %s outside captured image %v", delta, img.Bounds())
	}
	if clipped != src {
		top := int(math.Round(float64(clipped.Min.Y-src.Min.Y) / density))
		bottom := int(math.Round(float64(src.Max.Y-clipped.Max.Y) / density))
		dst.Min.Y += top
		dst.Max.Y -= bottom
		src = clipped
	}

	// The surface was sized at session start; growth below it is dropped.
	visible := dst.Intersect(s.img.Bounds())
	if visible.Empty() {
		return image.Rectangle{}, nil
	}
	if visible != dst {
		ratio := float64(src.Dy()) / float64(dst.Dy())
		src.Min.Y += int(math.Round(float64(visible.Min.Y-dst.Min.Y) * ratio))
		src.Max.Y -= int(math.Round(float64(dst.Max.Y-visible.Max.Y) * ratio))
		dst = visible
	}
	if src.Empty() || dst.Empty() {
		return image.Rectangle{}, nil
	}

	if src.Dx() == dst.Dx() && src.Dy() == dst.Dy() {
		draw.Draw(s.img, dst, img, src.Min, draw.Src)
	} else {
		s.scaler.Scale(s.img, dst, img, src, xdraw.Src, nil)
	}
	return dst, nil
}

// Snapshot returns a copy of the whole surface.
func (s *Surface) Snapshot() *image.RGBA {
	out := image.NewRGBA(s.img.Bounds())
	copy(out.Pix, s.img.Pix)
	return out
}
