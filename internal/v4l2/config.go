package v4l2

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type Config struct {
	Width     int // Video width in pixels
	Height    int // Video height in pixels
	FrameRate int // Frames per second, zero for the driver default

	// Preferred pixel format. The driver may substitute another one; MJPEG
	// and YUYV are understood.
	Format PixelFormat

	// Number of kernel buffers to cycle through.
	Buffers int

	HFlip bool // Flip video horizontally
	VFlip bool // Flip video vertically
}

// parsePath splits a source path of the form
//
//	/dev/video0[?format=yuyv&hflip&vflip&buffers=4]
//
// into the device path and the options it carries.
func parsePath(path string, cfg Config) (string, Config, error) {
	dev := path
	var query string
	if i := strings.IndexByte(path, '?'); i >= 0 {
		dev, query = path[:i], path[i+1:]
	}
	if dev == "" {
		dev = "/dev/video0"
	}

	for _, opt := range strings.Split(query, "&") {
		if opt == "" {
			continue
		}
		key, value := opt, ""
		if i := strings.IndexByte(opt, '='); i >= 0 {
			key, value = opt[:i], opt[i+1:]
		}
		switch key {
		case "format":
			switch strings.ToLower(value) {
			case "mjpeg", "mjpg":
				cfg.Format = PixelFormatMJPEG
			case "yuyv":
				cfg.Format = PixelFormatYUYV
			default:
				return "", cfg, errors.Errorf("unsupported pixel format %q", value)
			}
		case "buffers":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return "", cfg, errors.Errorf("invalid buffer count %q", value)
			}
			cfg.Buffers = n
		case "hflip":
			cfg.HFlip = true
		case "vflip":
			cfg.VFlip = true
		default:
			return "", cfg, errors.Errorf("unknown option %q", key)
		}
	}

	if cfg.Format == 0 {
		cfg.Format = PixelFormatMJPEG
	}
	if cfg.Buffers <= 0 {
		cfg.Buffers = 4
	}
	return dev, cfg, nil
}
