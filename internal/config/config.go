// Package config holds the daemon settings. Values come from built-in
// defaults, optionally overridden by a YAML file, then by command-line flags.
//
// Example file:
//
//	listen: ":8080"
//	camera:
//	  source: rpicam
//	  width: 640
//	  height: 640
//	  framerate: 30
//	  post_process_file: /usr/share/rpi-camera-assets/hailo_yolov8_inference.json
//	backoff:
//	  start_failure: 5s
//	  read_failure: 1s
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/lanikai/camrelay/internal/capture"
	"github.com/lanikai/camrelay/internal/logging"
)

type Config struct {
	// HTTP listen address.
	Listen string `yaml:"listen"`

	// Maximum number of concurrent HTTP connections. Zero means no limit.
	MaxClients int `yaml:"max_clients"`

	// Default log level, overridden per tag by LOGLEVEL. Empty keeps the
	// level from LOGLEVEL, or info.
	LogLevel string `yaml:"log_level,omitempty"`

	Camera  CameraConfig  `yaml:"camera"`
	Stream  StreamConfig  `yaml:"stream"`
	Backoff BackoffConfig `yaml:"backoff"`
	Vision  VisionConfig  `yaml:"vision"`
	Overlay OverlayConfig `yaml:"overlay"`
}

type CameraConfig struct {
	// Source spec, e.g. "rpicam", "v4l2:/dev/video0", "exec:ffmpeg ...".
	Source string `yaml:"source"`

	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	FrameRate int `yaml:"framerate"`

	// JPEG quality, 1-100.
	Quality int `yaml:"quality"`

	// Largest frame accepted from a byte stream, in bytes.
	MaxFrameSize int `yaml:"max_frame_size"`

	PostProcessFile string `yaml:"post_process_file"`
}

type StreamConfig struct {
	// Rate at which each viewer polls for the latest frame. Zero follows
	// the camera frame rate.
	FrameRate int `yaml:"framerate"`

	// Send a frame to a viewer only once instead of on every tick.
	SkipDuplicates bool `yaml:"skip_duplicates"`

	// Number of recent frames whose multipart chunks are kept for reuse
	// across viewers.
	PartCache int `yaml:"part_cache"`
}

type BackoffConfig struct {
	StartFailure time.Duration `yaml:"start_failure"`
	ReadFailure  time.Duration `yaml:"read_failure"`
}

type VisionConfig struct {
	// Path to an ONNX object detection model. Empty disables detection.
	Model string `yaml:"model"`

	// Detections below this confidence are ignored.
	Confidence float64 `yaml:"confidence"`

	// Class labels, indexed by class id. Optional.
	Labels []string `yaml:"labels,omitempty"`
}

type OverlayConfig struct {
	// Stamp the capture time onto frames from grab sources.
	Timestamp bool `yaml:"timestamp"`
}

// Default returns the built-in configuration: an rpicam-vid camera at
// 640x640, 30 fps, served on port 8080.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Camera: CameraConfig{
			Source:       "rpicam",
			Width:        640,
			Height:       640,
			FrameRate:    30,
			Quality:      80,
			MaxFrameSize: 8 << 20,
		},
		Stream: StreamConfig{
			PartCache: 4,
		},
		Backoff: BackoffConfig{
			StartFailure: capture.DefaultBackoff.StartFailure,
			ReadFailure:  capture.DefaultBackoff.ReadFailure,
		},
		Vision: VisionConfig{
			Confidence: 0.5,
		},
	}
}

// Load reads a YAML file on top of the defaults. Fields missing from the file
// keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Validate checks that every value is usable.
func (c *Config) Validate() error {
	switch {
	case c.Listen == "":
		return errors.New("listen address is empty")
	case c.MaxClients < 0:
		return errors.Errorf("max_clients must not be negative (got %d)", c.MaxClients)
	case c.Camera.Source == "":
		return errors.New("camera source is empty")
	case c.Camera.Width < 0 || c.Camera.Height < 0:
		return errors.Errorf("invalid resolution %dx%d", c.Camera.Width, c.Camera.Height)
	case c.Camera.FrameRate <= 0:
		return errors.Errorf("camera framerate must be positive (got %d)", c.Camera.FrameRate)
	case c.Camera.Quality < 1 || c.Camera.Quality > 100:
		return errors.Errorf("quality must be between 1 and 100 (got %d)", c.Camera.Quality)
	case c.Camera.MaxFrameSize <= 0:
		return errors.Errorf("max_frame_size must be positive (got %d)", c.Camera.MaxFrameSize)
	case c.Stream.FrameRate < 0:
		return errors.Errorf("stream framerate must not be negative (got %d)", c.Stream.FrameRate)
	case c.Backoff.StartFailure <= 0 || c.Backoff.ReadFailure <= 0:
		return errors.New("backoff delays must be positive")
	case c.Vision.Confidence < 0 || c.Vision.Confidence > 1:
		return errors.Errorf("confidence must be between 0 and 1 (got %g)", c.Vision.Confidence)
	}
	if c.LogLevel != "" {
		if _, err := logging.ParseLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Level returns the configured default log level. ok is false when none was
// set, in which case the level from the environment applies.
func (c *Config) Level() (level logging.Level, ok bool) {
	if c.LogLevel == "" {
		return 0, false
	}
	level, err := logging.ParseLevel(c.LogLevel)
	return level, err == nil
}

// StreamInterval is the pause between two reads of the latest frame by one
// viewer.
func (c *Config) StreamInterval() time.Duration {
	fps := c.Stream.FrameRate
	if fps == 0 {
		fps = c.Camera.FrameRate
	}
	return time.Second / time.Duration(fps)
}

// CaptureOptions returns the options used to open the camera source.
func (c *Config) CaptureOptions() capture.Options {
	return capture.Options{
		Width:           c.Camera.Width,
		Height:          c.Camera.Height,
		FrameRate:       c.Camera.FrameRate,
		Quality:         c.Camera.Quality,
		MaxFrameSize:    c.Camera.MaxFrameSize,
		PostProcessFile: c.Camera.PostProcessFile,
	}
}

// ProducerBackoff returns the restart delays for the capture loop.
func (c *Config) ProducerBackoff() capture.Backoff {
	return capture.Backoff{
		StartFailure: c.Backoff.StartFailure,
		ReadFailure:  c.Backoff.ReadFailure,
	}
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
