//go:build gocv
// +build gocv

package vision

import (
	"image"
	"os"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Detector runs a YOLOv8 ONNX model through OpenCV's DNN module. It
// implements media.Transformer by drawing what it finds onto each image.
type Detector struct {
	cfg       DetectorConfig
	net       gocv.Net
	inputSize image.Point

	mu sync.Mutex
}

func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, errors.Wrap(err, "model")
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, errors.Errorf("failed to load model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	log.Info("Loaded %s (%dx%d input)", cfg.ModelPath, cfg.InputWidth, cfg.InputHeight)
	return &Detector{
		cfg:       cfg,
		net:       net,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Detect finds objects in img.
func (d *Detector) Detect(img image.Image) ([]Detection, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, errors.Wrap(err, "convert image")
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, errors.New("empty image")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(mat, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// Output shape is [1, 4+classes, anchors].
	sizes := output.Size()
	if len(sizes) != 3 {
		return nil, errors.Errorf("unexpected output shape %v", sizes)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "read output")
	}

	b := img.Bounds()
	cands := d.cfg.parseOutput(data, sizes[2], sizes[1], b.Dx(), b.Dy())
	if len(cands) == 0 {
		return nil, nil
	}

	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = c.box
		scores[i] = c.confidence
	}

	var dets []Detection
	for _, idx := range gocv.NMSBoxes(boxes, scores, d.cfg.Confidence, d.cfg.NMS) {
		c := cands[idx]
		dets = append(dets, Detection{
			Box:        c.box.Add(b.Min),
			ClassID:    c.classID,
			Label:      d.cfg.label(c.classID),
			Confidence: c.confidence,
		})
	}
	log.Trace(2, "%d object(s)", len(dets))
	return dets, nil
}

// Transform implements media.Transformer.
func (d *Detector) Transform(img image.Image) (image.Image, error) {
	dets, err := d.Detect(img)
	if err != nil {
		return nil, err
	}
	return Annotate(img, dets), nil
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
