// Package vision runs object detection on captured images and draws the
// results onto them.
//
// The detector itself needs OpenCV and is only built with the "gocv" build
// tag. Drawing is pure Go.
package vision

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/lanikai/camrelay/internal/logging"
)

var log = logging.DefaultLogger.WithTag("vision")

// A Detection is one object found in an image.
type Detection struct {
	// Bounding box in image coordinates.
	Box image.Rectangle

	ClassID    int
	Label      string
	Confidence float32
}

func (d Detection) String() string {
	return fmt.Sprintf("%s %.0f%%", d.Label, 100*d.Confidence)
}

// DetectorConfig configures a Detector.
type DetectorConfig struct {
	// Path to a YOLOv8 ONNX model.
	ModelPath string

	Confidence float32
	NMS        float32

	// Model input size.
	InputWidth  int
	InputHeight int

	// Class names, indexed by class id. Defaults to COCOClasses.
	Labels []string
}

// DefaultDetectorConfig returns defaults for a 640x640 YOLOv8 model.
func DefaultDetectorConfig(model string) DetectorConfig {
	return DetectorConfig{
		ModelPath:   model,
		Confidence:  0.5,
		NMS:         0.45,
		InputWidth:  640,
		InputHeight: 640,
	}
}

func (c DetectorConfig) label(id int) string {
	labels := c.Labels
	if len(labels) == 0 {
		labels = COCOClasses
	}
	if id >= 0 && id < len(labels) {
		return labels[id]
	}
	return fmt.Sprintf("class %d", id)
}

// COCOClasses contains the 80 COCO class names.
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

var palette = []color.RGBA{
	{0x00, 0xff, 0x00, 0xff},
	{0xff, 0x38, 0x38, 0xff},
	{0x38, 0x9c, 0xff, 0xff},
	{0xff, 0xb2, 0x1d, 0xff},
	{0xcf, 0x38, 0xff, 0xff},
	{0x00, 0xd4, 0xbb, 0xff},
}

const lineWidth = 2

// Annotate returns a copy of img with a box and a label drawn for every
// detection.
func Annotate(img image.Image, dets []Detection) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)

	face := basicfont.Face7x13
	for _, d := range dets {
		c := image.NewUniform(palette[d.ClassID%len(palette)])
		box := d.Box.Intersect(b)
		if box.Empty() {
			continue
		}

		// Outline.
		for _, edge := range []image.Rectangle{
			image.Rect(box.Min.X, box.Min.Y, box.Max.X, box.Min.Y+lineWidth),
			image.Rect(box.Min.X, box.Max.Y-lineWidth, box.Max.X, box.Max.Y),
			image.Rect(box.Min.X, box.Min.Y, box.Min.X+lineWidth, box.Max.Y),
			image.Rect(box.Max.X-lineWidth, box.Min.Y, box.Max.X, box.Max.Y),
		} {
			draw.Draw(out, edge.Intersect(box), c, image.Point{}, draw.Src)
		}

		// Label on a filled tab above the box, or inside it at the top edge.
		text := d.String()
		drawer := &font.Drawer{Dst: out, Src: image.Black, Face: face}
		w := drawer.MeasureString(text).Ceil() + 4
		h := face.Metrics().Height.Ceil() + 2
		top := box.Min.Y - h
		if top < b.Min.Y {
			top = box.Min.Y
		}
		tab := image.Rect(box.Min.X, top, box.Min.X+w, top+h).Intersect(b)
		draw.Draw(out, tab, c, image.Point{}, draw.Src)

		drawer.Dot = fixed.P(box.Min.X+2, top+1+face.Metrics().Ascent.Ceil())
		drawer.DrawString(text)
	}
	return out
}

// A candidate is one row of raw model output that passed the confidence
// threshold, before non-maximum suppression.
type candidate struct {
	box        image.Rectangle
	confidence float32
	classID    int
}

// parseOutput reads a YOLOv8 output tensor laid out as [4+classes][n]: box
// center x, center y, width, height, then one score per class, for each of
// n anchors. Boxes are scaled from model input size to imgW x imgH.
func (c DetectorConfig) parseOutput(data []float32, n, fields, imgW, imgH int) []candidate {
	if fields < 5 || len(data) < n*fields {
		return nil
	}
	sx := float32(imgW) / float32(c.InputWidth)
	sy := float32(imgH) / float32(c.InputHeight)

	var out []candidate
	for i := 0; i < n; i++ {
		best, bestID := float32(0), 0
		for f := 4; f < fields; f++ {
			if score := data[f*n+i]; score > best {
				best, bestID = score, f-4
			}
		}
		if best < c.Confidence {
			continue
		}

		cx, cy := data[i], data[n+i]
		w, h := data[2*n+i], data[3*n+i]
		out = append(out, candidate{
			box: image.Rect(
				int((cx-w/2)*sx), int((cy-h/2)*sy),
				int((cx+w/2)*sx), int((cy+h/2)*sy),
			),
			confidence: best,
			classID:    bestID,
		})
	}
	return out
}
