package thumb

import "errors"

var (
	// ErrSourceNotFound indicates the thumbnail source file does not exist
	// or cannot be read.
	ErrSourceNotFound = errors.New("thumbnail source not found")

	// ErrTranscode indicates an image decode/encode failure. Video
	// extraction failures never surface as this; they degrade to a
	// placeholder instead.
	ErrTranscode = errors.New("transcode failed")
)

// Fit describes how a source image's aspect ratio is reconciled with the
// requested output box.
type Fit string

const (
	FitCover   Fit = "cover"   // crop to fill the box
	FitContain Fit = "contain" // letterbox onto the exact box
	FitFill    Fit = "fill"    // stretch, ignoring aspect ratio
	FitInside  Fit = "inside"  // shrink to fit within the box
	FitOutside Fit = "outside" // shrink until both dims still cover the box
)

const (
	DefaultWidth   = 400
	DefaultHeight  = 400
	DefaultFormat  = "jpeg"
	DefaultQuality = 80
	DefaultFit     = FitCover
)

// Options are the requested output parameters for one rendering.
type Options struct {
	Width   int
	Height  int
	Format  string
	Quality int
	Fit     Fit
}

// Normalize fills zero values with documented defaults and canonicalizes
// the format token.
func (o Options) Normalize() Options {
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	switch o.Format {
	case "jpg", "jpeg", "":
		o.Format = "jpeg"
	case "png", "webp":
	default:
		o.Format = DefaultFormat
	}
	switch o.Fit {
	case FitCover, FitContain, FitFill, FitInside, FitOutside:
	default:
		o.Fit = DefaultFit
	}
	return o
}
