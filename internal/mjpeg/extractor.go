//////////////////////////////////////////////////////////////////////////////
//
// Split a motion-JPEG byte stream into individual JPEG images.
//
// Frames are delimited purely by the start-of-image (FF D8) and end-of-image
// (FF D9) markers. The payload is never parsed, so an FF D9 sequence inside
// entropy-coded data would end a frame early. Cameras emitting MJPEG over a
// pipe in practice do not produce such sequences.
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package mjpeg

import (
	"bytes"

	"github.com/lanikai/camrelay/internal/logging"
	"github.com/lanikai/camrelay/internal/media"
)

var log = logging.DefaultLogger.WithTag("mjpeg")

// DefaultMaxFrameSize bounds the memory held for a single unterminated frame.
const DefaultMaxFrameSize = 8 << 20

var (
	startMarker = []byte{0xff, 0xd8}
	endMarker   = []byte{0xff, 0xd9}
)

// An Extractor accumulates written bytes and calls emit for every complete
// frame, in stream order. Frames passed to emit are freshly allocated and
// owned by the callee.
//
// Frame boundaries depend only on the byte stream, not on how it is split
// into writes.
type Extractor struct {
	// Frames longer than this (markers included) are dropped as corrupt.
	MaxFrameSize int

	emit func(frame []byte)

	buf []byte

	// Offset of the start marker in buf, or -1 if none has been found.
	start int

	// Offset from which to resume searching for the end marker. There is no
	// end marker starting before this offset.
	scan int

	corrupt int
}

// NewExtractor returns an extractor that passes complete frames to emit.
func NewExtractor(emit func(frame []byte)) *Extractor {
	return &Extractor{
		MaxFrameSize: DefaultMaxFrameSize,
		emit:         emit,
		start:        -1,
	}
}

// Write appends p to the stream. It never fails.
func (e *Extractor) Write(p []byte) (int, error) {
	e.buf = append(e.buf, p...)
	e.process()
	return len(p), nil
}

// Buffered returns the number of bytes held while waiting for a frame to
// complete.
func (e *Extractor) Buffered() int {
	return len(e.buf)
}

// Corrupt returns the number of frames dropped for exceeding MaxFrameSize.
func (e *Extractor) Corrupt() int {
	return e.corrupt
}

// Reset discards all buffered bytes, e.g. when the underlying stream is
// replaced.
func (e *Extractor) Reset() {
	e.buf = e.buf[:0]
	e.start = -1
	e.scan = 0
}

func (e *Extractor) process() {
	for {
		if e.start < 0 {
			i := bytes.Index(e.buf, startMarker)
			if i < 0 {
				e.truncate()
				return
			}
			e.start = i
			if e.scan < i+2 {
				e.scan = i + 2
			}
		}

		j := bytes.Index(e.buf[e.scan:], endMarker)
		if j < 0 {
			// Resume one byte back next time, in case the end marker
			// straddles two writes.
			if n := len(e.buf) - 1; n > e.scan {
				e.scan = n
			}
			if len(e.buf)-e.start > e.MaxFrameSize {
				e.dropStart()
				continue
			}
			return
		}

		end := e.scan + j + len(endMarker)
		if end-e.start > e.MaxFrameSize {
			e.dropStart()
			continue
		}

		frame := make([]byte, end-e.start)
		copy(frame, e.buf[e.start:end])
		e.consume(end)
		e.start = -1
		e.scan = 0

		e.emit(frame)
	}
}

// With no start marker buffered, only a trailing 0xFF can still begin one.
func (e *Extractor) truncate() {
	n := len(e.buf)
	if n > 0 && e.buf[n-1] == 0xff {
		e.buf[0] = 0xff
		e.buf = e.buf[:1]
	} else {
		e.buf = e.buf[:0]
	}
	e.scan = 0
}

// Give up on the current start marker and rescan right after it.
func (e *Extractor) dropStart() {
	e.corrupt++
	log.Warn("%v: no end marker within %d bytes, dropping", media.ErrFrameCorrupt, e.MaxFrameSize)

	d := e.start + len(startMarker)
	e.consume(d)
	e.start = -1
	if e.scan -= d; e.scan < 0 {
		e.scan = 0
	}
}

// Discard the first n buffered bytes, reusing the underlying array.
func (e *Extractor) consume(n int) {
	m := copy(e.buf, e.buf[n:])
	e.buf = e.buf[:m]
}
