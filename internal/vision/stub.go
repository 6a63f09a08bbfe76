//go:build !gocv
// +build !gocv

package vision

import (
	"image"

	"github.com/pkg/errors"
)

var errNoOpenCV = errors.New("object detection requires OpenCV; rebuild with -tags gocv")

// Detector is unavailable without OpenCV.
type Detector struct{}

func NewDetector(cfg DetectorConfig) (*Detector, error) {
	return nil, errNoOpenCV
}

func (d *Detector) Detect(img image.Image) ([]Detection, error) {
	return nil, errNoOpenCV
}

func (d *Detector) Transform(img image.Image) (image.Image, error) {
	return nil, errNoOpenCV
}

func (d *Detector) Close() error {
	return nil
}
