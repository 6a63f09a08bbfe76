// Package overlay draws annotations onto captured images before they are
// encoded.
package overlay

import (
	"image"
	"image/color"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const margin = 4

// Timestamp stamps the current time, and an optional label, into the top-left
// corner of each image on a dark box.
type Timestamp struct {
	// Text drawn before the time, e.g. the camera name.
	Label string

	// Layout passed to time.Format. Defaults to "2006-01-02 15:04:05".
	Layout string

	// Clock. Defaults to time.Now.
	Now func() time.Time
}

var (
	textColor = image.NewUniform(color.RGBA{0xff, 0xff, 0x00, 0xff})
	boxColor  = image.NewUniform(color.RGBA{0x00, 0x00, 0x00, 0xa0})
)

func (ts *Timestamp) Text() string {
	now := time.Now
	if ts.Now != nil {
		now = ts.Now
	}
	layout := ts.Layout
	if layout == "" {
		layout = "2006-01-02 15:04:05"
	}

	text := now().Format(layout)
	if ts.Label != "" {
		text = ts.Label + " " + text
	}
	return text
}

// Transform returns a copy of img with the stamp drawn on it. The input image
// is not modified.
func (ts *Timestamp) Transform(img image.Image) (image.Image, error) {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)

	face := basicfont.Face7x13
	text := ts.Text()

	d := &font.Drawer{Dst: out, Src: textColor, Face: face}
	width := d.MeasureString(text).Ceil()
	height := face.Metrics().Height.Ceil()

	box := image.Rect(0, 0, width+2*margin, height+2*margin).Add(b.Min).Intersect(b)
	draw.Draw(out, box, boxColor, image.Point{}, draw.Over)

	d.Dot = fixed.P(b.Min.X+margin, b.Min.Y+margin+face.Metrics().Ascent.Ceil())
	d.DrawString(text)
	return out, nil
}
