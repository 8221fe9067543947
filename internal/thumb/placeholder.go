package thumb

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

var placeholderFont *truetype.Font

func init() {
	// goregular ships with x/image; parsing it cannot fail.
	placeholderFont, _ = truetype.Parse(goregular.TTF)
}

// renderPlaceholder synthesizes a flat-background stand-in thumbnail with a
// centered label. Used when video frame extraction fails.
func renderPlaceholder(width, height int, label string) image.Image {
	if width < 1 {
		width = DefaultWidth
	}
	if height < 1 {
		height = DefaultHeight
	}

	bg := color.NRGBA{R: 0x2b, G: 0x2f, B: 0x36, A: 0xff}
	fg := image.NewUniform(color.NRGBA{R: 0xc8, G: 0xce, B: 0xd6, A: 0xff})

	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	size := float64(height) / 6
	if fw := float64(width) / float64(len(label)+2); fw < size {
		size = fw
	}
	if size < 8 {
		size = 8
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(72)
	ctx.SetFont(placeholderFont)
	ctx.SetFontSize(size)
	ctx.SetClip(canvas.Bounds())
	ctx.SetDst(canvas)
	ctx.SetSrc(fg)
	ctx.SetHinting(font.HintingNone)

	// Approximate centering; goregular glyphs average ~0.5em advance.
	textW := int(size * 0.5 * float64(len(label)))
	x := (width - textW) / 2
	if x < 0 {
		x = 0
	}
	y := height/2 + int(size/3)

	pt := freetype.Pt(x, y)
	if _, err := ctx.DrawString(label, pt); err != nil {
		// The flat tile alone still serves as a placeholder.
		return canvas
	}
	return canvas
}
