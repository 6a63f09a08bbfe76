//////////////////////////////////////////////////////////////////////////////
//
// Slot holds the most recently published frame.
//
// There is exactly one writer (the capture producer) and any number of
// readers (viewer sessions). Publishing swaps a pointer; the frame bytes are
// never copied or modified while the lock is held, so every reader observes
// either no frame or one complete frame. Older frames are simply dropped and
// left to the garbage collector once no reader references them.
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import (
	"context"
	"sync"
	"time"
)

type Slot struct {
	mu    sync.RWMutex
	frame *Frame
	seq   uint64

	// Closed and replaced on every publish, to wake waiters.
	notify chan struct{}
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{
		notify: make(chan struct{}),
	}
}

// Publish replaces the held frame with data and returns the new Frame. The
// caller hands over ownership of data.
func (s *Slot) Publish(data []byte) *Frame {
	f := &Frame{Time: time.Now(), data: data}

	s.mu.Lock()
	s.seq++
	f.Seq = s.seq
	s.frame = f
	notify := s.notify
	s.notify = make(chan struct{})
	s.mu.Unlock()

	close(notify)
	return f
}

// Read returns the latest frame, or nil if nothing has been published yet.
func (s *Slot) Read() *Frame {
	s.mu.RLock()
	f := s.frame
	s.mu.RUnlock()
	return f
}

// Wait blocks until a frame with sequence number greater than after is
// available, and returns it. Wait(ctx, 0) returns as soon as any frame exists.
func (s *Slot) Wait(ctx context.Context, after uint64) (*Frame, error) {
	for {
		s.mu.RLock()
		f, notify := s.frame, s.notify
		s.mu.RUnlock()

		if f != nil && f.Seq > after {
			return f, nil
		}

		select {
		case <-notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
