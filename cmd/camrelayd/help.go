package main

import (
	"fmt"

	"github.com/fatih/color"
)

const helpString = `Live camera frames for any web browser

Usage: camrelayd [OPTION]...

Configuration:
  -c, --config=FILE          YAML configuration file
      --dump-config          Print the effective configuration and exit
      --log-level=LEVEL      Default log level (default: LOGLEVEL, or info)

Camera:
  -i, --source=SPEC          Camera source (default: rpicam). One of:
                               rpicam[:PATH]      rpicam-vid MJPEG output
                               v4l2:DEVICE[?...]  Video4Linux2 device
                               exec:COMMAND       any MJPEG byte stream
                               testsrc            generated test pattern
                               gocv:INDEX|URL     OpenCV capture (-tags gocv)
  -x, --width=NUM            Frame width (default: 640)
  -y, --height=NUM           Frame height (default: 640)
  -f, --framerate=NUM        Capture frame rate (default: 30)
  -q, --quality=NUM          JPEG quality for re-encoded frames (default: 80)
      --post-process-file=FILE
                             rpicam-vid post-processing pipeline

Annotation:
  -m, --model=FILE           YOLOv8 ONNX model for object detection (-tags gocv)
      --confidence=NUM       Detection confidence threshold (default: 0.5)
  -t, --overlay              Stamp the time onto each frame

Network:
  -l, --listen=ADDR          HTTP listen address (default: :8080)
      --max-clients=NUM      Limit concurrent connections (default: unlimited)
      --skip-duplicates      Send each frame at most once per viewer

Miscellaneous:
  -h, --help                 Prints this help message and exits
  -v, --version              Prints version information and exits

Set LOGLEVEL=tag=level,... to adjust logging per component.
Please report bugs to: aloha@lanikailabs.com`

// Help information is printed and program exits
func help() {
	r := color.New(color.FgRed)
	b := color.New(color.FgCyan)

	cam := []string{
		"                        ",
		"  ___   __ _  _ __ ___  ",
		" / __| / _` || '_ ` _ \\ ",
		"| (__ | (_| || | | | | |",
		" \\___| \\__,_||_| |_| |_|",
		"                        ",
	}
	relay := []string{
		"              _                ",
		" _ __   ___  | |  __ _  _   _ ",
		"| '__| / _ \\ | | / _` || | | |",
		"| |   |  __/ | || (_| || |_| |",
		"|_|    \\___| |_| \\__,_| \\__, |",
		"                          |___/ ",
	}
	for i := range cam {
		r.Print(cam[i])
		b.Println(relay[i])
	}

	fmt.Println()
	fmt.Println(helpString)
}
