package thumb

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// renderImage decodes the source, applies the requested fit policy and
// returns the result. Output dimensions are clamped so the source is never
// upscaled past its native resolution.
func renderImage(sourcePath string, opts Options) (image.Image, error) {
	src, err := imaging.Open(sourcePath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrTranscode, sourcePath, err)
	}
	return renderFit(src, opts), nil
}

func renderFit(src image.Image, opts Options) image.Image {
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	w, h := clampBox(opts.Width, opts.Height, srcW, srcH)

	switch opts.Fit {
	case FitFill:
		return imaging.Resize(src, w, h, imaging.Lanczos)
	case FitContain:
		fitted := imaging.Fit(src, w, h, imaging.Lanczos)
		canvas := imaging.New(w, h, color.NRGBA{0, 0, 0, 0})
		return imaging.PasteCenter(canvas, fitted)
	case FitInside:
		return imaging.Fit(src, w, h, imaging.Lanczos)
	case FitOutside:
		// Scale until both dimensions still cover the box, no cropping.
		scaleW := float64(w) / float64(srcW)
		scaleH := float64(h) / float64(srcH)
		scale := scaleW
		if scaleH > scale {
			scale = scaleH
		}
		return imaging.Resize(src, int(float64(srcW)*scale+0.5), 0, imaging.Lanczos)
	default: // FitCover
		return imaging.Fill(src, w, h, cropAnchor(src, w, h), imaging.Lanczos)
	}
}

// clampBox shrinks the requested box proportionally until rendering it no
// longer requires scaling the source up.
func clampBox(reqW, reqH, srcW, srcH int) (int, int) {
	if reqW <= srcW && reqH <= srcH {
		return reqW, reqH
	}
	scaleW := float64(reqW) / float64(srcW)
	scaleH := float64(reqH) / float64(srcH)
	scale := scaleW
	if scaleH > scale {
		scale = scaleH
	}
	w := int(float64(reqW)/scale + 0.5)
	h := int(float64(reqH)/scale + 0.5)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// cropAnchor picks which side of the source survives a cover crop. The
// discarded axis is split into thirds and the third with the most luminance
// variance wins; detail-poor sky or margins get cropped away first.
func cropAnchor(src image.Image, targetW, targetH int) imaging.Anchor {
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(targetW) / float64(targetH)

	const sample = 64
	gray := imaging.Grayscale(imaging.Resize(src, sample, sample, imaging.Box))

	if srcAspect > dstAspect {
		// Cropping horizontally: compare left / center / right thirds.
		left := regionVariance(gray, 0, 0, sample/3, sample)
		center := regionVariance(gray, sample/3, 0, 2*sample/3, sample)
		right := regionVariance(gray, 2*sample/3, 0, sample, sample)
		if left > center && left > right {
			return imaging.Left
		}
		if right > center && right > left {
			return imaging.Right
		}
		return imaging.Center
	}
	if srcAspect < dstAspect {
		top := regionVariance(gray, 0, 0, sample, sample/3)
		center := regionVariance(gray, 0, sample/3, sample, 2*sample/3)
		bottom := regionVariance(gray, 0, 2*sample/3, sample, sample)
		if top > center && top > bottom {
			return imaging.Top
		}
		if bottom > center && bottom > top {
			return imaging.Bottom
		}
		return imaging.Center
	}
	return imaging.Center
}

func regionVariance(img image.Image, x0, y0, x1, y1 int) float64 {
	var sum, sumSq float64
	n := 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			r, _, _, _ := img.At(x, y).RGBA()
			v := float64(r >> 8)
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

// encode writes img to w in the requested output format. There is no webp
// encoder in the dependency set, so webp requests are answered with jpeg
// bytes; the requested format stays part of the cache key either way.
func encode(w io.Writer, img image.Image, opts Options) error {
	switch opts.Format {
	case "png":
		return imaging.Encode(w, img, imaging.PNG)
	default: // jpeg, webp
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(opts.Quality))
	}
}
