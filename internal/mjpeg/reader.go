package mjpeg

import (
	"io"
)

const readChunkSize = 32 * 1024

// A FrameReader reads JPEG frames from an MJPEG byte stream, such as the
// stdout of a camera process. Bytes belonging to a frame that is still
// incomplete when the stream ends are discarded.
type FrameReader struct {
	r   io.Reader
	ext *Extractor

	chunk  []byte
	frames [][]byte
	err    error
}

func NewFrameReader(r io.Reader) *FrameReader {
	fr := &FrameReader{
		r:     r,
		chunk: make([]byte, readChunkSize),
	}
	fr.ext = NewExtractor(func(frame []byte) {
		fr.frames = append(fr.frames, frame)
	})
	return fr
}

// SetMaxFrameSize overrides DefaultMaxFrameSize.
func (fr *FrameReader) SetMaxFrameSize(n int) {
	if n > 0 {
		fr.ext.MaxFrameSize = n
	}
}

// ReadFrame returns the next complete frame. Once the underlying reader fails
// (including io.EOF), every remaining complete frame is returned before the
// error is.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	for len(fr.frames) == 0 {
		if fr.err != nil {
			return nil, fr.err
		}
		n, err := fr.r.Read(fr.chunk)
		if n > 0 {
			fr.ext.Write(fr.chunk[:n])
		}
		if err != nil {
			fr.err = err
		}
	}

	frame := fr.frames[0]
	fr.frames[0] = nil
	fr.frames = fr.frames[1:]
	return frame, nil
}

// Corrupt returns the number of oversized frames dropped so far.
func (fr *FrameReader) Corrupt() int {
	return fr.ext.Corrupt()
}
