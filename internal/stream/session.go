//////////////////////////////////////////////////////////////////////////////
//
// Session turns the latest-frame slot into a paced multipart byte stream for
// one viewer.
//
// At every tick the session reads the slot. If a frame is present it is
// emitted as one multipart chunk; if not, the tick emits nothing. A slow
// producer means the same frame is sent again, a fast one means frames are
// skipped. Viewers never wait on the producer, only on their own ticker and
// their own connection.
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package stream

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lanikai/camrelay/internal/logging"
	"github.com/lanikai/camrelay/internal/media"
	"github.com/lanikai/camrelay/internal/mjpeg"
)

var log = logging.DefaultLogger.WithTag("stream")

// DefaultInterval paces sessions at 30 frames per second.
const DefaultInterval = time.Second / 30

type Session struct {
	// Unique identifier, for logs and status.
	ID string

	// Only emit a chunk when the slot holds a frame newer than the last one
	// sent. By default the latest frame is re-sent on every tick.
	SkipDuplicates bool

	// Shared cache of multipart chunks. When nil, each chunk is built anew.
	Parts *mjpeg.PartCache

	slot  *media.Slot
	ticks <-chan time.Time
	stop  func()

	last   uint64
	frames uint64
	bytes  uint64
}

// New returns a session reading slot once per interval. A non-positive
// interval selects DefaultInterval. Close must be called when done.
func New(slot *media.Slot, interval time.Duration) *Session {
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := time.NewTicker(interval)
	return newSession(slot, t.C, t.Stop)
}

func newSession(slot *media.Slot, ticks <-chan time.Time, stop func()) *Session {
	return &Session{
		ID:    uuid.New().String(),
		slot:  slot,
		ticks: ticks,
		stop:  stop,
	}
}

// Next blocks until a tick finds a frame to send and returns its multipart
// chunk. The chunk may be shared with other sessions and must not be
// modified. Next returns ctx.Err() once ctx is done.
func (s *Session) Next(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ticks:
		}

		f := s.slot.Read()
		if f == nil {
			continue
		}
		if s.SkipDuplicates && f.Seq == s.last {
			continue
		}

		// Frames read from the slot never go backwards, so neither does last.
		s.last = f.Seq
		return s.part(f), nil
	}
}

func (s *Session) part(f *media.Frame) []byte {
	if s.Parts != nil {
		return s.Parts.Get(f)
	}
	return mjpeg.Part(f.Bytes())
}

// Stream writes chunks to w until ctx is done or a write fails. If w is an
// http.Flusher, each chunk is flushed as soon as it is written.
func (s *Session) Stream(ctx context.Context, w io.Writer) error {
	flusher, _ := w.(http.Flusher)
	for {
		chunk, err := s.Next(ctx)
		if err != nil {
			return err
		}

		n, err := w.Write(chunk)
		s.bytes += uint64(n)
		if err != nil {
			log.Debug("Session %s: write failed: %v", s.ID, err)
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		s.frames++
		log.Trace(7, "Session %s: sent frame %d", s.ID, s.last)
	}
}

// Frames returns the number of chunks written by Stream.
func (s *Session) Frames() uint64 {
	return s.frames
}

// Bytes returns the number of bytes written by Stream.
func (s *Session) Bytes() uint64 {
	return s.bytes
}

// LastSeq returns the sequence number of the last frame emitted, or 0.
func (s *Session) LastSeq() uint64 {
	return s.last
}

// Close releases the session's ticker.
func (s *Session) Close() {
	if s.stop != nil {
		s.stop()
	}
}
