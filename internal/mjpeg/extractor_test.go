package mjpeg

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Random payload bytes that never form a marker: 0xFF is never followed by
// 0xD8 or 0xD9.
func payload(rng *rand.Rand, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		b := byte(rng.Intn(256))
		if i > 0 && p[i-1] == 0xff && (b == 0xd8 || b == 0xd9) {
			b = 0x00
		}
		p[i] = b
	}
	// Avoid a trailing 0xFF that could pair with a following marker byte.
	if n > 0 && p[n-1] == 0xff {
		p[n-1] = 0x00
	}
	return p
}

// Builds a stream of k frames separated by junk, returning the stream and
// the expected frames.
func buildStream(rng *rand.Rand, k int) ([]byte, [][]byte) {
	var stream []byte
	var frames [][]byte
	for i := 0; i < k; i++ {
		stream = append(stream, payload(rng, rng.Intn(40))...)
		frame := append([]byte{0xff, 0xd8}, payload(rng, 1+rng.Intn(300))...)
		frame = append(frame, 0xff, 0xd9)
		frames = append(frames, frame)
		stream = append(stream, frame...)
	}
	stream = append(stream, payload(rng, rng.Intn(40))...)
	return stream, frames
}

func collect() (*Extractor, *[][]byte) {
	var out [][]byte
	e := NewExtractor(func(frame []byte) {
		out = append(out, frame)
	})
	return e, &out
}

func TestExtractSingleFrame(t *testing.T) {
	e, out := collect()
	e.Write([]byte{0x00, 0xff, 0xd8, 0x01, 0x02, 0xff, 0xd9, 0x03, 0xff})

	require.Len(t, *out, 1)
	assert.Equal(t, []byte{0xff, 0xd8, 0x01, 0x02, 0xff, 0xd9}, (*out)[0])
	// A trailing 0xFF may begin the next start marker, so it stays buffered.
	assert.Equal(t, 1, e.Buffered())

	e.Write([]byte{0xd8, 0x04, 0xff, 0xd9})
	require.Len(t, *out, 2)
	assert.Equal(t, []byte{0xff, 0xd8, 0x04, 0xff, 0xd9}, (*out)[1])
}

func TestExtractDropsTrailingGarbage(t *testing.T) {
	e, out := collect()
	e.Write([]byte{0xff, 0xd8, 0x01, 0xff, 0xd9, 0x03})

	require.Len(t, *out, 1)
	assert.Zero(t, e.Buffered())
}

func TestExtractFramesInOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		k := rng.Intn(10)
		stream, want := buildStream(rng, k)

		e, out := collect()
		e.Write(stream)

		require.Len(t, *out, k)
		for i := range want {
			assert.Equal(t, want[i], (*out)[i], "frame %d", i)
		}
	}
}

func TestChunkingDoesNotChangeBoundaries(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	stream, want := buildStream(rng, 20)

	// Byte at a time.
	bytewise, byteOut := collect()
	for i := range stream {
		bytewise.Write(stream[i : i+1])
	}
	assert.Equal(t, want, *byteOut)

	// Random chunk sizes.
	for trial := 0; trial < 20; trial++ {
		chunked, chunkOut := collect()
		for rest := stream; len(rest) > 0; {
			n := 1 + rng.Intn(64)
			if n > len(rest) {
				n = len(rest)
			}
			chunked.Write(rest[:n])
			rest = rest[n:]
		}
		assert.Equal(t, *byteOut, *chunkOut)
	}
}

func TestMarkerSplitAcrossWrites(t *testing.T) {
	e, out := collect()
	e.Write([]byte{0x10, 0xff})
	e.Write([]byte{0xd8, 0x20, 0xff})
	e.Write([]byte{0xd9})

	require.Len(t, *out, 1)
	assert.Equal(t, []byte{0xff, 0xd8, 0x20, 0xff, 0xd9}, (*out)[0])
}

func TestFirstStartMarkerWins(t *testing.T) {
	e, out := collect()
	e.Write([]byte{0xff, 0xd8, 0x01, 0xff, 0xd8, 0x02, 0xff, 0xd9})

	require.Len(t, *out, 1)
	assert.Equal(t, []byte{0xff, 0xd8, 0x01, 0xff, 0xd8, 0x02, 0xff, 0xd9}, (*out)[0])
}

func TestEndMarkerWithoutStartIsIgnored(t *testing.T) {
	e, out := collect()
	e.Write([]byte{0x01, 0xff, 0xd9, 0x02})
	assert.Empty(t, *out)
	assert.Zero(t, e.Buffered())
}

func TestJunkWithoutStartIsNotBuffered(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	e, out := collect()
	for i := 0; i < 1000; i++ {
		e.Write(payload(rng, 1024))
		assert.LessOrEqual(t, e.Buffered(), 1)
	}
	assert.Empty(t, *out)
}

func TestUnterminatedFrameIsBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	e, out := collect()
	e.MaxFrameSize = 4096

	e.Write([]byte{0xff, 0xd8})
	for i := 0; i < 1000; i++ {
		e.Write(payload(rng, 512))
		assert.LessOrEqual(t, e.Buffered(), e.MaxFrameSize+512)
	}

	assert.Empty(t, *out)
	assert.Equal(t, 1, e.Corrupt())
}

func TestOversizedFrameIsSkipped(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	e, out := collect()
	e.MaxFrameSize = 64

	big := append([]byte{0xff, 0xd8}, payload(rng, 200)...)
	big = append(big, 0xff, 0xd9)
	small := []byte{0xff, 0xd8, 0x01, 0xff, 0xd9}

	e.Write(append(big, small...))

	require.Len(t, *out, 1)
	assert.Equal(t, small, (*out)[0])
	assert.Equal(t, 1, e.Corrupt())
}

func TestReset(t *testing.T) {
	e, out := collect()
	e.Write([]byte{0xff, 0xd8, 0x01})
	e.Reset()
	e.Write([]byte{0xff, 0xd9})

	assert.Empty(t, *out)
	assert.Zero(t, e.Buffered())
}

type oneByteReader struct {
	data []byte
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}

func TestFrameReader(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	stream, want := buildStream(rng, 5)
	// A partial frame at the end of the stream is discarded.
	stream = append(stream, 0xff, 0xd8, 0x01, 0x02)

	for _, r := range []io.Reader{bytes.NewReader(stream), &oneByteReader{stream}} {
		fr := NewFrameReader(r)
		for i := range want {
			frame, err := fr.ReadFrame()
			require.NoError(t, err)
			assert.Equal(t, want[i], frame)
		}
		_, err := fr.ReadFrame()
		assert.Equal(t, io.EOF, err)
		_, err = fr.ReadFrame()
		assert.Equal(t, io.EOF, err)
	}
}

func TestFrameReaderMaxFrameSize(t *testing.T) {
	stream := []byte{0xff, 0xd8, 1, 2, 3, 4, 5, 6, 0xff, 0xd9, 0xff, 0xd8, 0xff, 0xd9}
	fr := NewFrameReader(bytes.NewReader(stream))
	fr.SetMaxFrameSize(5)

	frame, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xd9}, frame)
	assert.Equal(t, 1, fr.Corrupt())
}
