// Synthetic camera producing a moving test pattern, for running without
// camera hardware. Example source spec: "testsrc"

package capture

import (
	"context"
	"image"
	"image/color"
	"time"
)

type testSource struct {
	width, height int
	interval      time.Duration
}

func (s *testSource) OpenCamera(ctx context.Context) (Camera, error) {
	return &testCamera{
		ctx:    ctx,
		width:  s.width,
		height: s.height,
		ticker: time.NewTicker(s.interval),
	}, nil
}

type testCamera struct {
	ctx           context.Context
	width, height int
	ticker        *time.Ticker
	n             int
}

var testBars = []color.RGBA{
	{0xc0, 0xc0, 0xc0, 0xff},
	{0xc0, 0xc0, 0x00, 0xff},
	{0x00, 0xc0, 0xc0, 0xff},
	{0x00, 0xc0, 0x00, 0xff},
	{0xc0, 0x00, 0xc0, 0xff},
	{0xc0, 0x00, 0x00, 0xff},
	{0x00, 0x00, 0xc0, 0xff},
}

// Grab paces itself to the configured frame rate. Each image shows colour
// bars with a white column sweeping across.
func (c *testCamera) Grab() (image.Image, error) {
	if err := c.ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-c.ticker.C:
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}

	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	sweep := c.n % c.width
	for x := 0; x < c.width; x++ {
		col := testBars[x*len(testBars)/c.width]
		if x >= sweep && x < sweep+4 {
			col = color.RGBA{0xff, 0xff, 0xff, 0xff}
		}
		for y := 0; y < c.height; y++ {
			img.SetRGBA(x, y, col)
		}
	}
	c.n += 4
	return img, nil
}

func (c *testCamera) Close() error {
	c.ticker.Stop()
	return nil
}

func openTestSource(path string, opts Options) (Source, error) {
	s := &testSource{
		width:    opts.Width,
		height:   opts.Height,
		interval: time.Second / 30,
	}
	if s.width <= 0 {
		s.width = 640
	}
	if s.height <= 0 {
		s.height = 480
	}
	if opts.FrameRate > 0 {
		s.interval = time.Second / time.Duration(opts.FrameRate)
	}
	return FromGrab("testsrc", s, opts.Transform, opts.Quality), nil
}

func init() {
	RegisterSourceType("testsrc", openTestSource)
}
