package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/lanikai/camrelay/internal/capture"
	"github.com/lanikai/camrelay/internal/config"
	"github.com/lanikai/camrelay/internal/logging"
	"github.com/lanikai/camrelay/internal/media"
	"github.com/lanikai/camrelay/internal/overlay"
	"github.com/lanikai/camrelay/internal/server"
	"github.com/lanikai/camrelay/internal/vision"

	// Additional source types.
	_ "github.com/lanikai/camrelay/internal/v4l2"
)

// Populated via -ldflags="-X ...".
var GitRevisionId string
var GitTag string

var log = logging.DefaultLogger.WithTag("camrelayd")

// Time allowed for open requests to finish after a shutdown signal.
const shutdownTimeout = 5 * time.Second

var (
	flagConfig          string
	flagListen          string
	flagSource          string
	flagWidth           int
	flagHeight          int
	flagFrameRate       int
	flagQuality         int
	flagPostProcessFile string
	flagModel           string
	flagConfidence      float64
	flagOverlay         bool
	flagMaxClients      int
	flagSkipDuplicates  bool
	flagLogLevel        string
	flagDumpConfig      bool
	flagHelp            bool
	flagVersion         bool
)

func init() {
	def := config.Default()

	flag.StringVarP(&flagConfig, "config", "c", "", "YAML configuration file")
	flag.StringVarP(&flagListen, "listen", "l", def.Listen, "HTTP listen address")
	flag.StringVarP(&flagSource, "source", "i", def.Camera.Source, "Camera source")
	flag.IntVarP(&flagWidth, "width", "x", def.Camera.Width, "Frame width")
	flag.IntVarP(&flagHeight, "height", "y", def.Camera.Height, "Frame height")
	flag.IntVarP(&flagFrameRate, "framerate", "f", def.Camera.FrameRate, "Capture frame rate")
	flag.IntVarP(&flagQuality, "quality", "q", def.Camera.Quality, "JPEG quality")
	flag.StringVarP(&flagPostProcessFile, "post-process-file", "", "", "rpicam-vid post-processing file")
	flag.StringVarP(&flagModel, "model", "m", "", "ONNX object detection model")
	flag.Float64VarP(&flagConfidence, "confidence", "", def.Vision.Confidence, "Detection confidence threshold")
	flag.BoolVarP(&flagOverlay, "overlay", "t", false, "Stamp the time onto frames")
	flag.IntVarP(&flagMaxClients, "max-clients", "", 0, "Maximum concurrent connections")
	flag.BoolVarP(&flagSkipDuplicates, "skip-duplicates", "", false, "Send each frame once per viewer")
	flag.StringVarP(&flagLogLevel, "log-level", "", def.LogLevel, "Default log level")
	flag.BoolVarP(&flagDumpConfig, "dump-config", "", false, "Print the effective configuration and exit")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")

	flag.Usage = help
}

// version displays information and exits successfully (GNU convention)
func version() {
	fmt.Println("camrelayd", GitTag, GitRevisionId)
	fmt.Println("Copyright 2019 Lanikai Labs LLC. All rights reserved.")
}

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "camrelayd:", err)
		os.Exit(2)
	}

	if flagDumpConfig {
		data, err := cfg.Marshal()
		if err != nil {
			log.Fatal(err)
		}
		os.Stdout.Write(data)
		return
	}

	applyLogLevel(cfg)

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

// A level given by flag or config file replaces the LOGLEVEL default. Without
// one, LOGLEVEL stays in effect.
func applyLogLevel(cfg *config.Config) {
	if level, ok := cfg.Level(); ok {
		logging.SetDefaultLevel(level)
	}
}

// Load the configuration file, if any, then apply flags given on the command
// line.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if flagConfig != "" {
		var err error
		if cfg, err = config.Load(flagConfig); err != nil {
			return nil, err
		}
	}

	set := func(name string, apply func()) {
		if flag.CommandLine.Changed(name) {
			apply()
		}
	}
	set("listen", func() { cfg.Listen = flagListen })
	set("source", func() { cfg.Camera.Source = flagSource })
	set("width", func() { cfg.Camera.Width = flagWidth })
	set("height", func() { cfg.Camera.Height = flagHeight })
	set("framerate", func() { cfg.Camera.FrameRate = flagFrameRate })
	set("quality", func() { cfg.Camera.Quality = flagQuality })
	set("post-process-file", func() { cfg.Camera.PostProcessFile = flagPostProcessFile })
	set("model", func() { cfg.Vision.Model = flagModel })
	set("confidence", func() { cfg.Vision.Confidence = flagConfidence })
	set("overlay", func() { cfg.Overlay.Timestamp = flagOverlay })
	set("max-clients", func() { cfg.MaxClients = flagMaxClients })
	set("skip-duplicates", func() { cfg.Stream.SkipDuplicates = flagSkipDuplicates })
	set("log-level", func() { cfg.LogLevel = flagLogLevel })

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Assemble the image transforms applied by grab sources. The returned
// function releases them.
func buildTransform(cfg *config.Config) (media.Transformer, func(), error) {
	var (
		chain   media.Chain
		closers []func() error
	)

	if cfg.Vision.Model != "" {
		dc := vision.DefaultDetectorConfig(cfg.Vision.Model)
		dc.Confidence = float32(cfg.Vision.Confidence)
		dc.Labels = cfg.Vision.Labels
		det, err := vision.NewDetector(dc)
		if err != nil {
			return nil, nil, errors.Wrap(err, "object detection")
		}
		chain = append(chain, det)
		closers = append(closers, det.Close)
	}
	if cfg.Overlay.Timestamp {
		chain = append(chain, &overlay.Timestamp{})
	}

	release := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(chain) == 0 {
		return nil, release, nil
	}
	return chain, release, nil
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transform, release, err := buildTransform(cfg)
	if err != nil {
		return err
	}
	defer release()

	opts := cfg.CaptureOptions()
	opts.Transform = transform
	src, err := capture.OpenSource(cfg.Camera.Source, opts)
	if err != nil {
		return err
	}

	slot := media.NewSlot()
	producer := capture.NewProducer(src, slot)
	producer.Backoff = cfg.ProducerBackoff()

	srv := server.New(cfg.Listen, slot, producer, server.Options{
		Interval:       cfg.StreamInterval(),
		SkipDuplicates: cfg.Stream.SkipDuplicates,
		PartCache:      cfg.Stream.PartCache,
		MaxClients:     cfg.MaxClients,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		producer.Run(ctx)
	}()

	served := make(chan error, 1)
	go func() {
		served <- srv.Listen()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err = <-served:
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Warn("Shutdown: %v", serr)
	}

	// Waits for the capture process to exit.
	wg.Wait()

	if err == http.ErrServerClosed {
		err = nil
	}
	return err
}
