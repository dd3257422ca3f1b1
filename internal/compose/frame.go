package compose

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"runtime"

	"github.com/nfnt/resize"
	"golang.org/x/sync/errgroup"
)

// FitInside computes the letterboxed content size for a source frame of
// (w, h) scaled to fit inside (W, H) without cropping or distorting:
// scale = min(W/w, H/h), rounded, then forced down to the nearest even
// integer. Dimensions that would collapse below 2 are clamped to 2 so a
// degenerate frame is never produced.
func FitInside(w, h int, target Geometry) (int, int) {
	scale := math.Min(
		float64(target.Width)/float64(w),
		float64(target.Height)/float64(h),
	)
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))

	nw -= nw % 2
	nh -= nh % 2
	if nw < 2 {
		nw = 2
	}
	if nh < 2 {
		nh = 2
	}
	return nw, nh
}

// Letterbox scales src to fit inside the target canvas, preserving aspect
// ratio, and pastes it centered on a black canvas of exactly the target
// size. Resampling uses Lanczos3. The result is deterministic and src is
// never mutated.
func Letterbox(src image.Image, target Geometry) *image.RGBA {
	bounds := src.Bounds()
	nw, nh := FitInside(bounds.Dx(), bounds.Dy(), target)

	scaled := image.Image(src)
	if nw != bounds.Dx() || nh != bounds.Dy() {
		scaled = resize.Resize(uint(nw), uint(nh), src, resize.Lanczos3)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, target.Width, target.Height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	ox := (target.Width - nw) / 2
	oy := (target.Height - nh) / 2
	draw.Draw(canvas, image.Rect(ox, oy, ox+nw, oy+nh), scaled, scaled.Bounds().Min, draw.Src)

	return canvas
}

// LetterboxAll letterboxes an ordered sequence of frames to the same
// target geometry. Frames are resized in parallel; the output order
// always matches the input order since each frame's result is independent
// of its neighbours.
func LetterboxAll(ctx context.Context, frames []image.Image, target Geometry) ([]*image.RGBA, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	out := make([]*image.RGBA, len(frames))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, frame := range frames {
		if frame == nil {
			return nil, fmt.Errorf("%w: frame %d is nil", ErrInvalidRange, i)
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = Letterbox(frame, target)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
