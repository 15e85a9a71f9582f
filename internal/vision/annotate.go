package vision

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	KnownColor   = color.RGBA{G: 255, A: 255}
	UnknownColor = color.RGBA{R: 255, A: 255}
)

const (
	boxThickness = 2
	labelHeight  = 18
)

// Annotate draws a box and a label strip for every match onto dst: green for
// known faces, red for unknown ones.
func Annotate(dst draw.Image, matches []Match) {
	face := basicfont.Face7x13
	for _, m := range matches {
		c := UnknownColor
		if m.Known {
			c = KnownColor
		}

		r := image.Rect(int(m.BBox[0]), int(m.BBox[1]), int(m.BBox[2]), int(m.BBox[3])).Intersect(dst.Bounds())
		if r.Empty() {
			continue
		}
		outline(dst, r, c)

		strip := image.Rect(r.Min.X, max(r.Min.Y, r.Max.Y-labelHeight), r.Max.X, r.Max.Y)
		draw.Draw(dst, strip, image.NewUniform(c), image.Point{}, draw.Src)

		d := font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(color.White),
			Face: face,
			Dot:  fixed.P(r.Min.X+6, r.Max.Y-6),
		}
		d.DrawString(m.Label)
	}
}

func outline(dst draw.Image, r image.Rectangle, c color.Color) {
	u := image.NewUniform(c)
	t := boxThickness
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), u, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), u, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), u, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), u, image.Point{}, draw.Src)
}
