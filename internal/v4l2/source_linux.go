package v4l2

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"

	"github.com/pkg/errors"
	"golang.org/x/xerrors"

	"github.com/lanikai/camrelay/internal/capture"
	"github.com/lanikai/camrelay/internal/media"
)

// Open a V4L2 video device (usually /dev/video0). Without a transform, MJPEG
// frames from the device are published as they are; YUYV frames are encoded.
// With a transform, every frame is decoded, transformed and re-encoded.
func openSource(path string, opts capture.Options) (capture.Source, error) {
	devpath, cfg, err := parsePath(path, Config{
		Width:     opts.Width,
		Height:    opts.Height,
		FrameRate: opts.FrameRate,
	})
	if err != nil {
		return nil, err
	}

	src := &source{path: devpath, cfg: cfg, quality: opts.Quality}
	if opts.Transform != nil {
		return capture.FromGrab(src.String(), src, opts.Transform, opts.Quality), nil
	}
	return src, nil
}

func init() {
	capture.RegisterSourceType("v4l2", openSource)
}

type source struct {
	path    string
	cfg     Config
	quality int
}

func (s *source) String() string {
	return "v4l2:" + s.path
}

// Open implements capture.Source.
func (s *source) Open(ctx context.Context) (capture.Session, error) {
	cam, err := s.open()
	if err != nil {
		return nil, err
	}
	return cam, nil
}

// OpenCamera implements capture.GrabSource.
func (s *source) OpenCamera(ctx context.Context) (capture.Camera, error) {
	cam, err := s.open()
	if err != nil {
		return nil, err
	}
	return cam, nil
}

func (s *source) open() (*camera, error) {
	dev, err := openDevice(s.path)
	if err != nil {
		return nil, xerrors.Errorf("%w: %v", media.ErrSourceStart, err)
	}

	cam, err := s.configure(dev)
	if err != nil {
		dev.Close()
		return nil, xerrors.Errorf("%w: %v", media.ErrSourceStart, err)
	}
	return cam, nil
}

func (s *source) configure(dev *device) (*camera, error) {
	pix, err := dev.setPixelFormat(s.cfg.Width, s.cfg.Height, s.cfg.Format)
	if err != nil {
		return nil, err
	}
	format := PixelFormat(pix.pixelformat)
	if format != PixelFormatMJPEG && format != PixelFormatYUYV {
		return nil, errors.Errorf("%s: unsupported pixel format %v", s.path, format)
	}
	if format != s.cfg.Format {
		log.Warn("%s: driver chose %v instead of %v", s.path, format, s.cfg.Format)
	}
	log.Info("%s: capturing %dx%d %v", s.path, pix.width, pix.height, format)

	if s.cfg.FrameRate > 0 {
		if err := dev.setFrameRate(s.cfg.FrameRate); err != nil {
			log.Warn("%s: cannot set frame rate: %v", s.path, err)
		}
	}
	if s.cfg.HFlip {
		if err := dev.setControl(V4L2_CID_HFLIP, 1); err != nil {
			log.Warn("%s: cannot flip horizontally: %v", s.path, err)
		}
	}
	if s.cfg.VFlip {
		if err := dev.setControl(V4L2_CID_VFLIP, 1); err != nil {
			log.Warn("%s: cannot flip vertically: %v", s.path, err)
		}
	}

	if err := dev.start(s.cfg.Buffers); err != nil {
		return nil, err
	}
	return &camera{
		dev:     dev,
		format:  format,
		width:   int(pix.width),
		height:  int(pix.height),
		stride:  int(pix.bytesperline),
		quality: s.quality,
	}, nil
}

// A streaming device. It serves as a capture.Session, yielding JPEG frames,
// and as a capture.Camera, yielding decoded images.
type camera struct {
	dev     *device
	format  PixelFormat
	width   int
	height  int
	stride  int
	quality int
}

func (c *camera) read() ([]byte, error) {
	buf, err := c.dev.readFrame()
	if err != nil {
		return nil, xerrors.Errorf("%w: %v", media.ErrSourceRead, err)
	}
	return buf, nil
}

func (c *camera) ReadFrame() ([]byte, error) {
	buf, err := c.read()
	if err != nil || c.format == PixelFormatMJPEG {
		return buf, err
	}

	img, err := decodeYUYV(buf, c.width, c.height, c.stride)
	if err != nil {
		return nil, xerrors.Errorf("%w: %v", media.ErrSourceRead, err)
	}
	return media.EncodeJPEG(img, c.quality)
}

func (c *camera) Grab() (image.Image, error) {
	buf, err := c.read()
	if err != nil {
		return nil, err
	}

	if c.format == PixelFormatYUYV {
		return decodeYUYV(buf, c.width, c.height, c.stride)
	}
	img, err := jpeg.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, errors.Wrap(err, "decode MJPEG frame")
	}
	return img, nil
}

func (c *camera) Close() error {
	return c.dev.Close()
}
