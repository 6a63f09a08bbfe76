package media

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/pkg/errors"
)

// A Transformer modifies a decoded image before it is re-encoded and
// published, e.g. to draw object detection boxes. Transform may return the
// input image itself. An error aborts the current capture session.
type Transformer interface {
	Transform(img image.Image) (image.Image, error)
}

// TransformFunc adapts an ordinary function to the Transformer interface.
type TransformFunc func(img image.Image) (image.Image, error)

func (f TransformFunc) Transform(img image.Image) (image.Image, error) {
	return f(img)
}

// Identity returns every image unchanged.
var Identity Transformer = TransformFunc(func(img image.Image) (image.Image, error) {
	return img, nil
})

// Chain applies transformers in order. An empty chain is the identity.
type Chain []Transformer

func (c Chain) Transform(img image.Image) (image.Image, error) {
	for i, t := range c {
		out, err := t.Transform(img)
		if err != nil {
			return nil, errors.Wrapf(err, "transform %d of %d", i+1, len(c))
		}
		if out == nil {
			return nil, errors.Errorf("transform %d of %d returned no image", i+1, len(c))
		}
		img = out
	}
	return img, nil
}

// EncodeJPEG encodes img at the given quality (1-100, 0 for the encoder
// default).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var opts *jpeg.Options
	if quality > 0 {
		opts = &jpeg.Options{Quality: quality}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, opts); err != nil {
		return nil, errors.Wrap(err, "jpeg encode")
	}
	return buf.Bytes(), nil
}
