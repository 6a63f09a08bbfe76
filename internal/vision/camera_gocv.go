//go:build gocv
// +build gocv

package vision

import (
	"context"
	"image"
	"strconv"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"golang.org/x/xerrors"

	"github.com/lanikai/camrelay/internal/capture"
	"github.com/lanikai/camrelay/internal/media"
)

// Open a camera through OpenCV. The path is a device index ("0"), a video
// file, or a stream URL.
func openSource(path string, opts capture.Options) (capture.Source, error) {
	if path == "" {
		path = "0"
	}
	src := &cameraSource{path: path, opts: opts}
	return capture.FromGrab("gocv:"+path, src, opts.Transform, opts.Quality), nil
}

func init() {
	capture.RegisterSourceType("gocv", openSource)
}

type cameraSource struct {
	path string
	opts capture.Options
}

func (s *cameraSource) OpenCamera(ctx context.Context) (capture.Camera, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if id, perr := strconv.Atoi(s.path); perr == nil {
		vc, err = gocv.OpenVideoCapture(id)
	} else {
		vc, err = gocv.VideoCaptureFile(s.path)
	}
	if err != nil {
		return nil, xerrors.Errorf("%w: %v", media.ErrSourceStart, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, xerrors.Errorf("%w: cannot open %s", media.ErrSourceStart, s.path)
	}

	// Keep only the newest frame queued.
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	if s.opts.Width > 0 && s.opts.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(s.opts.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(s.opts.Height))
	}
	if s.opts.FrameRate > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(s.opts.FrameRate))
	}
	log.Info("Opened %s", s.path)

	return &camera{vc: vc, mat: gocv.NewMat()}, nil
}

type camera struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

func (c *camera) Grab() (image.Image, error) {
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, errors.New("no frame from camera")
	}
	return c.mat.ToImage()
}

func (c *camera) Close() error {
	c.mat.Close()
	return c.vc.Close()
}
