package stream

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/camrelay/internal/media"
	"github.com/lanikai/camrelay/internal/mjpeg"
)

// A session driven by hand. Sending on the returned channel is one tick.
func manualSession(slot *media.Slot) (*Session, chan time.Time) {
	ticks := make(chan time.Time)
	return newSession(slot, ticks, nil), ticks
}

// Deliver one tick and return what Next produced for it.
func tick(t *testing.T, s *Session, ticks chan time.Time) []byte {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		chunk []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		chunk, err := s.Next(ctx)
		done <- result{chunk, err}
	}()

	ticks <- time.Now()
	select {
	case r := <-done:
		require.NoError(t, r.err)
		return r.chunk
	case <-time.After(time.Second):
		t.Fatal("no chunk after tick")
		return nil
	}
}

func TestNeverPublishedSlotEmitsNothing(t *testing.T) {
	s, ticks := manualSession(media.NewSlot())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var chunks int
	go func() {
		for {
			_, err := s.Next(ctx)
			if err != nil {
				done <- err
				return
			}
			chunks++
		}
	}()

	for i := 0; i < 5; i++ {
		ticks <- time.Now()
	}
	cancel()

	select {
	case err := <-done:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(time.Second):
		t.Fatal("session did not stop on cancellation")
	}
	assert.Zero(t, chunks)
}

func TestLatestFrameWins(t *testing.T) {
	slot := media.NewSlot()
	s, ticks := manualSession(slot)

	a := []byte{0xff, 0xd8, 'A', 0xff, 0xd9}
	b := []byte{0xff, 0xd8, 'B', 0xff, 0xd9}

	slot.Publish(a)
	assert.Equal(t, mjpeg.Part(a), tick(t, s, ticks))

	slot.Publish(b)
	assert.Equal(t, mjpeg.Part(b), tick(t, s, ticks))

	// Nothing new: the same frame goes out again.
	assert.Equal(t, mjpeg.Part(b), tick(t, s, ticks))
	assert.Equal(t, uint64(2), s.LastSeq())
}

func TestFastProducerSkipsFrames(t *testing.T) {
	slot := media.NewSlot()
	s, ticks := manualSession(slot)

	slot.Publish([]byte("one"))
	slot.Publish([]byte("two"))
	slot.Publish([]byte("three"))
	assert.Equal(t, mjpeg.Part([]byte("three")), tick(t, s, ticks))
}

func TestSkipDuplicates(t *testing.T) {
	slot := media.NewSlot()
	s, ticks := manualSession(slot)
	s.SkipDuplicates = true

	slot.Publish([]byte("first"))
	assert.Equal(t, mjpeg.Part([]byte("first")), tick(t, s, ticks))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan []byte, 1)
	go func() {
		chunk, _ := s.Next(ctx)
		done <- chunk
	}()

	// Two ticks see the same frame and emit nothing. The second send only
	// completes once the first tick has been handled.
	ticks <- time.Now()
	ticks <- time.Now()
	select {
	case <-done:
		t.Fatal("duplicate frame was emitted")
	default:
	}

	slot.Publish([]byte("second"))
	var chunk []byte
	select {
	case ticks <- time.Now():
		chunk = <-done
	case chunk = <-done:
	}
	assert.Equal(t, mjpeg.Part([]byte("second")), chunk)
}

func TestSharedPartCache(t *testing.T) {
	slot := media.NewSlot()
	cache := mjpeg.NewPartCache(2)

	s1, t1 := manualSession(slot)
	s2, t2 := manualSession(slot)
	s1.Parts = cache
	s2.Parts = cache

	slot.Publish([]byte("shared"))
	c1 := tick(t, s1, t1)
	c2 := tick(t, s2, t2)
	assert.Equal(t, c1, c2)
	assert.Equal(t, 1, cache.Len())
}

func TestStreamFlushesEachChunk(t *testing.T) {
	slot := media.NewSlot()
	slot.Publish([]byte("jpeg"))

	s := New(slot, time.Millisecond)
	defer s.Close()

	rec := httptest.NewRecorder()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Stream(ctx, rec)
	assert.Equal(t, context.DeadlineExceeded, err)
	assert.True(t, rec.Flushed)
	require.NotZero(t, s.Frames())

	want := bytes.Repeat(mjpeg.Part([]byte("jpeg")), int(s.Frames()))
	assert.Equal(t, want, rec.Body.Bytes())
	assert.Equal(t, uint64(len(want)), s.Bytes())
}

type failingWriter struct{}

var errGone = errors.New("client gone")

func (failingWriter) Write(p []byte) (int, error) { return 0, errGone }

func TestStreamStopsOnWriteError(t *testing.T) {
	slot := media.NewSlot()
	slot.Publish([]byte("jpeg"))

	s := New(slot, time.Millisecond)
	defer s.Close()

	err := s.Stream(context.Background(), failingWriter{})
	assert.Equal(t, errGone, err)
	assert.Zero(t, s.Frames())
}

func TestSessionIDsAreUnique(t *testing.T) {
	slot := media.NewSlot()
	a, b := New(slot, 0), New(slot, 0)
	defer a.Close()
	defer b.Close()

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}
