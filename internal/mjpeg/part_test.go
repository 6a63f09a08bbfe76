package mjpeg

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/camrelay/internal/media"
)

func TestPartLayout(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xaa, 0xff, 0xd9}
	want := append([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n"), jpeg...)
	want = append(want, '\r', '\n')
	assert.Equal(t, want, Part(jpeg))

	var buf bytes.Buffer
	n, err := WritePart(&buf, jpeg)
	require.NoError(t, err)
	assert.Equal(t, len(want), n)
	assert.Equal(t, want, buf.Bytes())
}

func TestPartsParseAsMultipart(t *testing.T) {
	mediaType, params, err := mime.ParseMediaType(ContentType)
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)

	frames := [][]byte{
		{0xff, 0xd8, 0x01, 0xff, 0xd9},
		{0xff, 0xd8, 0x02, 0x03, 0xff, 0xd9},
	}
	var body bytes.Buffer
	for _, f := range frames {
		WritePart(&body, f)
	}
	body.WriteString("--frame--\r\n")

	mr := multipart.NewReader(&body, params["boundary"])
	for _, f := range frames {
		p, err := mr.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", p.Header.Get("Content-Type"))
		data, err := io.ReadAll(p)
		require.NoError(t, err)
		assert.Equal(t, f, data)
	}
}

func TestPartCache(t *testing.T) {
	slot := media.NewSlot()
	cache := NewPartCache(2)

	a := slot.Publish([]byte{0xff, 0xd8, 0xa0, 0xff, 0xd9})
	pa := cache.Get(a)
	assert.Equal(t, Part(a.Bytes()), pa)

	// The same frame yields the very same slice.
	assert.Equal(t, &pa[0], &cache.Get(a)[0])

	b := slot.Publish([]byte{0xff, 0xd8, 0xb0, 0xff, 0xd9})
	c := slot.Publish([]byte{0xff, 0xd8, 0xc0, 0xff, 0xd9})
	cache.Get(b)
	cache.Get(c)
	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, Part(c.Bytes()), cache.Get(c))
}
