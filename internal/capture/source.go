//////////////////////////////////////////////////////////////////////////////
//
// Capture sources
//
// A Source opens capture sessions: one spawned camera process, or one open
// camera device. Sessions yield encoded JPEG frames until they fail or end.
// Two kinds of sources exist underneath:
//
//   - stream sources produce a continuous MJPEG byte stream (e.g. the stdout
//     of rpicam-vid), which is split into frames on JPEG markers;
//   - grab sources return one decoded image per call, which is passed
//     through a media.Transformer and re-encoded.
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package capture

import (
	"context"
	"image"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/xerrors"

	"github.com/lanikai/camrelay/internal/logging"
	"github.com/lanikai/camrelay/internal/media"
	"github.com/lanikai/camrelay/internal/mjpeg"
)

var log = logging.DefaultLogger.WithTag("capture")

type Source interface {
	// Open starts a new capture session. The session must not outlive ctx.
	Open(ctx context.Context) (Session, error)

	// Human readable description, for logs.
	String() string
}

// A Session is one live capture attempt. ReadFrame is called from a single
// goroutine. Close is called exactly once, possibly concurrently with a
// blocked ReadFrame in order to unblock it.
type Session interface {
	// ReadFrame blocks until the next complete JPEG frame is available.
	ReadFrame() ([]byte, error)

	// Close releases the process or device.
	Close() error
}

// A StreamSource produces a raw MJPEG byte stream.
type StreamSource interface {
	OpenStream(ctx context.Context) (io.ReadCloser, error)
}

// A GrabSource produces one decoded image at a time.
type GrabSource interface {
	OpenCamera(ctx context.Context) (Camera, error)
}

// A Camera is an open capture device.
type Camera interface {
	// Grab blocks until the next image is captured.
	Grab() (image.Image, error)

	Close() error
}

// FromStream turns a stream source into a Source that splits the stream into
// frames. A maxFrameSize of zero selects mjpeg.DefaultMaxFrameSize.
func FromStream(name string, src StreamSource, maxFrameSize int) Source {
	return &streamSource{name: name, src: src, maxFrameSize: maxFrameSize}
}

type streamSource struct {
	name         string
	src          StreamSource
	maxFrameSize int
}

func (s *streamSource) String() string {
	return s.name
}

func (s *streamSource) Open(ctx context.Context) (Session, error) {
	rc, err := s.src.OpenStream(ctx)
	if err != nil {
		return nil, err
	}
	fr := mjpeg.NewFrameReader(rc)
	fr.SetMaxFrameSize(s.maxFrameSize)
	return &streamSession{rc: rc, fr: fr}, nil
}

type streamSession struct {
	rc io.ReadCloser
	fr *mjpeg.FrameReader
}

func (s *streamSession) ReadFrame() ([]byte, error) {
	frame, err := s.fr.ReadFrame()
	if err != nil {
		if n := s.fr.Corrupt(); n > 0 {
			log.Warn("Dropped %d corrupt frames during this session", n)
		}
		if err == io.EOF {
			return nil, xerrors.Errorf("%w: end of stream", media.ErrSourceRead)
		}
		return nil, xerrors.Errorf("%w: %v", media.ErrSourceRead, err)
	}
	return frame, nil
}

func (s *streamSession) Close() error {
	return s.rc.Close()
}

// FromGrab turns a grab source into a Source. Every grabbed image is passed
// through t (nil means media.Identity) and encoded at the given JPEG quality.
func FromGrab(name string, src GrabSource, t media.Transformer, quality int) Source {
	if t == nil {
		t = media.Identity
	}
	return &grabSource{name: name, src: src, transform: t, quality: quality}
}

type grabSource struct {
	name      string
	src       GrabSource
	transform media.Transformer
	quality   int
}

func (g *grabSource) String() string {
	return g.name
}

func (g *grabSource) Open(ctx context.Context) (Session, error) {
	cam, err := g.src.OpenCamera(ctx)
	if err != nil {
		return nil, err
	}
	return &grabSession{cam: cam, transform: g.transform, quality: g.quality}, nil
}

type grabSession struct {
	cam       Camera
	transform media.Transformer
	quality   int
}

func (s *grabSession) ReadFrame() ([]byte, error) {
	img, err := s.cam.Grab()
	if err != nil {
		return nil, xerrors.Errorf("%w: %v", media.ErrSourceRead, err)
	}

	img, err = s.transform.Transform(img)
	if err != nil {
		return nil, xerrors.Errorf("%w: %v", media.ErrTransform, err)
	}
	if img == nil {
		return nil, xerrors.Errorf("%w: no image", media.ErrTransform)
	}

	data, err := media.EncodeJPEG(img, s.quality)
	if err != nil {
		return nil, errors.Wrap(err, "grab session")
	}
	return data, nil
}

func (s *grabSession) Close() error {
	return s.cam.Close()
}
