package v4l2

import "fmt"

// A PixelFormat is a V4L2 fourcc code.
type PixelFormat uint32

func fourcc(a, b, c, d byte) PixelFormat {
	return PixelFormat(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	PixelFormatMJPEG = fourcc('M', 'J', 'P', 'G')
	PixelFormatYUYV  = fourcc('Y', 'U', 'Y', 'V')
)

func (f PixelFormat) String() string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for _, c := range b {
		if c < ' ' || c > '~' {
			return fmt.Sprintf("0x%08x", uint32(f))
		}
	}
	return string(b)
}
