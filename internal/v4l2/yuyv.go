package v4l2

import (
	"image"

	"github.com/pkg/errors"
)

// decodeYUYV converts a packed YUYV 4:2:2 frame (Y0 U Y1 V per pixel pair)
// into a planar image. stride is the length of one row in bytes, at least
// 2*width.
func decodeYUYV(data []byte, width, height, stride int) (*image.YCbCr, error) {
	if width <= 0 || height <= 0 || width%2 != 0 {
		return nil, errors.Errorf("invalid YUYV frame size %dx%d", width, height)
	}
	if stride < 2*width {
		stride = 2 * width
	}
	if need := stride*(height-1) + 2*width; len(data) < need {
		return nil, errors.Errorf("short YUYV frame: %d bytes, need %d", len(data), need)
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for y := 0; y < height; y++ {
		row := data[y*stride : y*stride+2*width]
		yy := img.Y[y*img.YStride:]
		cb := img.Cb[y*img.CStride:]
		cr := img.Cr[y*img.CStride:]
		for i := 0; i < width/2; i++ {
			p := row[4*i : 4*i+4]
			yy[2*i] = p[0]
			cb[i] = p[1]
			yy[2*i+1] = p[2]
			cr[i] = p[3]
		}
	}
	return img, nil
}
