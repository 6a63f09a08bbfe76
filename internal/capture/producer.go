//////////////////////////////////////////////////////////////////////////////
//
// Producer keeps one capture session alive and publishes its frames.
//
// The producer cycles through four states:
//
//   Starting    open a capture session; on failure back off (long delay)
//   Running     read frames and publish each one to the slot
//   Stopping    close the session after end of stream or any error
//   BackingOff  wait, then start again
//
// No capture error ever ends the loop. Run only returns when its context is
// cancelled, after closing the active session.
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/xerrors"

	"github.com/lanikai/camrelay/internal/media"
)

type State int32

const (
	Starting State = iota
	Running
	Stopping
	BackingOff
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case BackingOff:
		return "backing-off"
	default:
		return "unknown"
	}
}

// Backoff is the pause before restarting capture.
type Backoff struct {
	// After a session could not be opened at all.
	StartFailure time.Duration

	// After a running session ended or failed.
	ReadFailure time.Duration
}

var DefaultBackoff = Backoff{
	StartFailure: 5 * time.Second,
	ReadFailure:  1 * time.Second,
}

// Delay returns the pause that should follow a session ending with cause.
func (b Backoff) Delay(cause error) time.Duration {
	if xerrors.Is(cause, media.ErrSourceStart) {
		return b.StartFailure
	}
	return b.ReadFailure
}

// Stats is a snapshot of producer activity.
type Stats struct {
	State State `json:"-"`

	// Capture sessions opened and closed. Equal whenever no session is live.
	Opened uint64 `json:"sessionsOpened"`
	Closed uint64 `json:"sessionsClosed"`

	Frames uint64 `json:"frames"`

	StartFailures     uint64 `json:"startFailures"`
	ReadFailures      uint64 `json:"readFailures"`
	TransformFailures uint64 `json:"transformFailures"`

	LastError string    `json:"lastError,omitempty"`
	LastFrame time.Time `json:"lastFrame"`
}

type Producer struct {
	source Source
	slot   *media.Slot

	Backoff Backoff

	// Sleep waits for d or until ctx is done. Replaceable for tests.
	Sleep func(ctx context.Context, d time.Duration) error

	state int32

	mu    sync.Mutex
	stats Stats
}

// NewProducer returns a producer publishing frames from source into slot.
func NewProducer(source Source, slot *media.Slot) *Producer {
	return &Producer{
		source:  source,
		slot:    slot,
		Backoff: DefaultBackoff,
		Sleep:   sleepContext,
	}
}

// Run drives the capture loop until ctx is cancelled. Only one Run may be
// active per producer.
func (p *Producer) Run(ctx context.Context) error {
	log.Info("Capturing from %s", p.source)

	var (
		session Session
		cause   error
	)
	state := Starting
	for {
		p.setState(state)

		switch state {
		case Starting:
			if err := ctx.Err(); err != nil {
				return err
			}
			session, cause = p.start(ctx)
			if cause != nil {
				state = BackingOff
			} else {
				state = Running
			}

		case Running:
			cause = p.run(ctx, session)
			state = Stopping

		case Stopping:
			p.stop(session, cause)
			session = nil
			state = BackingOff

		case BackingOff:
			if err := ctx.Err(); err != nil {
				return err
			}
			delay := p.Backoff.Delay(cause)
			log.Info("Restarting capture in %v", delay)
			if err := p.Sleep(ctx, delay); err != nil {
				return err
			}
			state = Starting
		}
	}
}

func (p *Producer) start(ctx context.Context) (s Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Errorf("%w: panic: %v", media.ErrSourceStart, r)
		}
		if err != nil {
			if !xerrors.Is(err, media.ErrSourceStart) {
				err = xerrors.Errorf("%w: %v", media.ErrSourceStart, err)
			}
			log.Error("Failed to start %s: %v", p.source, err)
			p.update(func(st *Stats) {
				st.StartFailures++
				st.LastError = err.Error()
			})
		}
	}()

	s, err = p.source.Open(ctx)
	if err != nil {
		return nil, err
	}
	p.update(func(st *Stats) { st.Opened++ })
	return &onceSession{Session: s}, nil
}

// Publish frames until the session fails. Cancelling ctx closes the session
// to unblock a pending read.
func (p *Producer) run(ctx context.Context, s Session) error {
	stop := context.AfterFunc(ctx, func() { closeSession(s) })
	defer stop()

	for {
		frame, err := readFrame(s)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if len(frame) == 0 {
			continue
		}

		f := p.slot.Publish(frame)
		p.update(func(st *Stats) {
			st.Frames++
			st.LastFrame = f.Time
		})
		log.Trace(6, "Published frame %d (%d bytes)", f.Seq, f.Len())
	}
}

func readFrame(s Session) (frame []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Errorf("%w: panic: %v", media.ErrSourceRead, r)
		}
	}()
	return s.ReadFrame()
}

// Close s, turning a panic into an error.
func closeSession(s Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return s.Close()
}

func (p *Producer) stop(s Session, cause error) {
	if err := closeSession(s); err != nil {
		log.Warn("Error closing session: %v", err)
	}

	p.update(func(st *Stats) {
		st.Closed++
		switch {
		case cause == context.Canceled || cause == context.DeadlineExceeded:
			return
		case xerrors.Is(cause, media.ErrTransform):
			st.TransformFailures++
		default:
			st.ReadFailures++
		}
		st.LastError = cause.Error()
	})

	if cause != context.Canceled && cause != context.DeadlineExceeded {
		log.Warn("Capture from %s stopped: %v", p.source, cause)
	}
}

func (p *Producer) setState(s State) {
	atomic.StoreInt32(&p.state, int32(s))
	log.Debug("State: %v", s)
}

// State returns the current state of the capture loop.
func (p *Producer) State() State {
	return State(atomic.LoadInt32(&p.state))
}

// Stats returns a snapshot of producer activity.
func (p *Producer) Stats() Stats {
	p.mu.Lock()
	st := p.stats
	p.mu.Unlock()
	st.State = p.State()
	return st
}

func (p *Producer) update(fn func(*Stats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}

// onceSession guarantees Close reaches the underlying session only once,
// whether it comes from the capture loop or from context cancellation.
type onceSession struct {
	Session
	once sync.Once
	err  error
}

func (s *onceSession) Close() error {
	s.once.Do(func() {
		s.err = s.Session.Close()
	})
	return s.err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
