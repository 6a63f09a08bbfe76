package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/lanikai/camrelay/internal/media"
)

// An attempt scripts one call to fakeSource.Open.
type attempt struct {
	openErr error
	frames  [][]byte

	// Error returned once frames run out. Nil means block until closed.
	endErr error
}

type fakeSource struct {
	mu       sync.Mutex
	attempts []attempt

	opened int32
	closed int32
}

func (s *fakeSource) String() string { return "fake" }

func (s *fakeSource) Open(ctx context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.attempts) == 0 {
		return nil, errors.New("script exhausted")
	}
	a := s.attempts[0]
	s.attempts = s.attempts[1:]
	if a.openErr != nil {
		return nil, a.openErr
	}
	atomic.AddInt32(&s.opened, 1)
	return &fakeSession{src: s, a: a, done: make(chan struct{})}, nil
}

type fakeSession struct {
	src    *fakeSource
	a      attempt
	done   chan struct{}
	closed int32
}

func (s *fakeSession) ReadFrame() ([]byte, error) {
	if len(s.a.frames) > 0 {
		f := s.a.frames[0]
		s.a.frames = s.a.frames[1:]
		return f, nil
	}
	if s.a.endErr != nil {
		return nil, s.a.endErr
	}
	<-s.done
	return nil, io.EOF
}

func (s *fakeSession) Close() error {
	if atomic.AddInt32(&s.closed, 1) != 1 {
		panic("session closed twice")
	}
	atomic.AddInt32(&s.src.closed, 1)
	close(s.done)
	return nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func startProducer(t *testing.T, src Source) (*Producer, *media.Slot, *sleepRecorder, context.CancelFunc, chan error) {
	slot := media.NewSlot()
	p := NewProducer(src, slot)
	rec := &sleepRecorder{}
	p.Sleep = rec.sleep

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx)
	}()
	return p, slot, rec, cancel, done
}

func waitFrame(t *testing.T, slot *media.Slot, want []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var after uint64
	for {
		f, err := slot.Wait(ctx, after)
		require.NoError(t, err, "waiting for frame %q", want)
		if string(f.Bytes()) == string(want) {
			return
		}
		after = f.Seq
	}
}

func stopProducer(t *testing.T, cancel context.CancelFunc, done chan error) {
	cancel()
	select {
	case err := <-done:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop")
	}
}

func TestProducerRestartsAfterEndOfStream(t *testing.T) {
	src := &fakeSource{attempts: []attempt{
		{frames: [][]byte{[]byte("a1"), []byte("a2")}, endErr: xerrors.Errorf("%w: end of stream", media.ErrSourceRead)},
		{openErr: xerrors.Errorf("%w: device busy", media.ErrSourceStart)},
		{frames: [][]byte{[]byte("b1")}},
	}}
	p, slot, rec, cancel, done := startProducer(t, src)

	waitFrame(t, slot, []byte("b1"))
	assert.Equal(t, Running, p.State())

	stopProducer(t, cancel, done)

	assert.Equal(t, []time.Duration{DefaultBackoff.ReadFailure, DefaultBackoff.StartFailure}, rec.recorded())
	assert.Equal(t, int32(2), atomic.LoadInt32(&src.opened))
	assert.Equal(t, atomic.LoadInt32(&src.opened), atomic.LoadInt32(&src.closed))

	st := p.Stats()
	assert.Equal(t, uint64(2), st.Opened)
	assert.Equal(t, st.Opened, st.Closed)
	assert.Equal(t, uint64(3), st.Frames)
	assert.Equal(t, uint64(1), st.StartFailures)
	assert.Equal(t, uint64(1), st.ReadFailures)
}

func TestProducerWrapsUnclassifiedOpenErrors(t *testing.T) {
	src := &fakeSource{attempts: []attempt{
		{openErr: errors.New("no such file")},
		{frames: [][]byte{[]byte("ok")}},
	}}
	_, slot, rec, cancel, done := startProducer(t, src)

	waitFrame(t, slot, []byte("ok"))
	stopProducer(t, cancel, done)

	assert.Equal(t, []time.Duration{DefaultBackoff.StartFailure}, rec.recorded())
}

type panicSession struct {
	closed int32
}

func (s *panicSession) ReadFrame() ([]byte, error) { panic("driver bug") }
func (s *panicSession) Close() error {
	atomic.AddInt32(&s.closed, 1)
	return nil
}

type panicSource struct {
	fakeSource
	session *panicSession
	once    sync.Once
}

func (s *panicSource) Open(ctx context.Context) (Session, error) {
	var session Session
	s.once.Do(func() {
		s.session = &panicSession{}
		session = s.session
	})
	if session != nil {
		return session, nil
	}
	return s.fakeSource.Open(ctx)
}

func TestProducerRecoversFromPanics(t *testing.T) {
	src := &panicSource{fakeSource: fakeSource{attempts: []attempt{
		{frames: [][]byte{[]byte("after panic")}},
	}}}
	p, slot, _, cancel, done := startProducer(t, src)

	waitFrame(t, slot, []byte("after panic"))
	stopProducer(t, cancel, done)

	assert.Equal(t, int32(1), atomic.LoadInt32(&src.session.closed))
	assert.Equal(t, uint64(1), p.Stats().ReadFailures)
}

// A session whose Close panics. With block set, ReadFrame waits until Close
// is called; otherwise the stream has already ended.
type closePanicSession struct {
	block  bool
	done   chan struct{}
	closed int32
}

func (s *closePanicSession) ReadFrame() ([]byte, error) {
	if s.block {
		<-s.done
	}
	return nil, xerrors.Errorf("%w: end of stream", media.ErrSourceRead)
}

func (s *closePanicSession) Close() error {
	if atomic.AddInt32(&s.closed, 1) == 1 {
		close(s.done)
	}
	panic("close bug")
}

type closePanicSource struct {
	fakeSource
	session *closePanicSession
	once    sync.Once
}

func (s *closePanicSource) Open(ctx context.Context) (Session, error) {
	var session Session
	s.once.Do(func() {
		session = s.session
	})
	if session != nil {
		return session, nil
	}
	return s.fakeSource.Open(ctx)
}

func TestProducerSurvivesPanickingClose(t *testing.T) {
	src := &closePanicSource{
		fakeSource: fakeSource{attempts: []attempt{{frames: [][]byte{[]byte("next session")}}}},
		session:    &closePanicSession{done: make(chan struct{})},
	}
	p, slot, _, cancel, done := startProducer(t, src)

	waitFrame(t, slot, []byte("next session"))
	stopProducer(t, cancel, done)

	assert.Equal(t, int32(1), atomic.LoadInt32(&src.session.closed))
	st := p.Stats()
	assert.Equal(t, uint64(2), st.Opened)
	assert.Equal(t, st.Opened, st.Closed)
}

func TestProducerSurvivesPanickingCloseOnCancel(t *testing.T) {
	src := &closePanicSource{session: &closePanicSession{block: true, done: make(chan struct{})}}
	p, _, _, cancel, done := startProducer(t, src)

	require.Eventually(t, func() bool { return p.State() == Running }, time.Second, time.Millisecond)
	stopProducer(t, cancel, done)

	assert.Equal(t, int32(1), atomic.LoadInt32(&src.session.closed))
	assert.Zero(t, p.Stats().ReadFailures)
}

func TestProducerStopsWhileBlocked(t *testing.T) {
	src := &fakeSource{attempts: []attempt{{}}}
	p, _, _, cancel, done := startProducer(t, src)

	require.Eventually(t, func() bool { return p.State() == Running }, time.Second, time.Millisecond)
	stopProducer(t, cancel, done)

	assert.Equal(t, int32(1), atomic.LoadInt32(&src.closed))
	assert.Zero(t, p.Stats().ReadFailures, "cancellation is not a failure")
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{StartFailure: 5 * time.Second, ReadFailure: time.Second}
	assert.Equal(t, 5*time.Second, b.Delay(xerrors.Errorf("%w: x", media.ErrSourceStart)))
	assert.Equal(t, time.Second, b.Delay(xerrors.Errorf("%w: x", media.ErrSourceRead)))
	assert.Equal(t, time.Second, b.Delay(xerrors.Errorf("%w: x", media.ErrTransform)))
}

func TestStateString(t *testing.T) {
	for s, name := range map[State]string{
		Starting:   "starting",
		Running:    "running",
		Stopping:   "stopping",
		BackingOff: "backing-off",
	} {
		assert.Equal(t, name, s.String())
	}
}

// Grab variant.

type fakeCamera struct {
	n      int
	closed *int32
}

func (c *fakeCamera) Grab() (image.Image, error) {
	c.n++
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	img.SetGray(0, 0, color.Gray{Y: uint8(c.n)})
	return img, nil
}

func (c *fakeCamera) Close() error {
	atomic.AddInt32(c.closed, 1)
	return nil
}

type fakeGrabber struct {
	opened, closed int32
}

func (g *fakeGrabber) OpenCamera(ctx context.Context) (Camera, error) {
	atomic.AddInt32(&g.opened, 1)
	return &fakeCamera{closed: &g.closed}, nil
}

func TestProducerTransformFailure(t *testing.T) {
	var calls int32
	failEvery3 := media.TransformFunc(func(img image.Image) (image.Image, error) {
		if atomic.AddInt32(&calls, 1)%3 == 0 {
			return nil, fmt.Errorf("detector crashed")
		}
		return img, nil
	})

	g := &fakeGrabber{}
	p, _, rec, cancel, done := startProducer(t, FromGrab("fake", g, failEvery3, 80))

	require.Eventually(t, func() bool { return p.Stats().TransformFailures >= 2 }, 2*time.Second, time.Millisecond)
	stopProducer(t, cancel, done)

	for _, d := range rec.recorded() {
		assert.Equal(t, DefaultBackoff.ReadFailure, d)
	}
	assert.Equal(t, atomic.LoadInt32(&g.opened), atomic.LoadInt32(&g.closed))
	assert.GreaterOrEqual(t, p.Stats().Frames, uint64(4))
}
