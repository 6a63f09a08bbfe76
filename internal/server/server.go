//////////////////////////////////////////////////////////////////////////////
//
// HTTP front end. Serves the viewer page, the multipart MJPEG stream, single
// snapshots, a websocket frame feed and a JSON status document. All handlers
// only ever read the latest-frame slot; none of them can slow the capture
// loop down.
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/netutil"

	"github.com/lanikai/camrelay/internal/capture"
	"github.com/lanikai/camrelay/internal/logging"
	"github.com/lanikai/camrelay/internal/media"
	"github.com/lanikai/camrelay/internal/mjpeg"
	"github.com/lanikai/camrelay/internal/stream"
)

var log = logging.DefaultLogger.WithTag("server")

// A StatsReporter describes the capture loop feeding the slot.
type StatsReporter interface {
	Stats() capture.Stats
}

type Options struct {
	// Pause between two frames sent to one viewer.
	Interval time.Duration

	// Send each frame at most once per viewer.
	SkipDuplicates bool

	// Recent frames whose multipart chunks are shared between viewers.
	PartCache int

	// Maximum number of simultaneous connections. Zero means unlimited.
	MaxClients int

	// Page title.
	Title string
}

type Server struct {
	slot     *media.Slot
	producer StatsReporter
	opts     Options
	parts    *mjpeg.PartCache
	started  time.Time

	server *http.Server

	// Cancelled on shutdown, to end long-lived streams.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	viewers map[string]*viewer
}

// A connected client of /stream or /ws.
type viewer struct {
	ID     string    `json:"id"`
	Kind   string    `json:"kind"`
	Remote string    `json:"remote"`
	Since  time.Time `json:"since"`
}

// New returns a server for addr publishing frames from slot. The producer
// may be nil, in which case /status omits capture statistics.
func New(addr string, slot *media.Slot, producer StatsReporter, opts Options) *Server {
	if opts.Interval <= 0 {
		opts.Interval = stream.DefaultInterval
	}
	if opts.Title == "" {
		opts.Title = "RPi Cam Stream"
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		slot:     slot,
		producer: producer,
		opts:     opts,
		parts:    mjpeg.NewPartCache(opts.PartCache),
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
		viewers:  make(map[string]*viewer),
	}

	router := http.NewServeMux()
	router.HandleFunc("/", s.handleIndex)
	router.HandleFunc("/stream", s.handleStream)
	router.HandleFunc("/snapshot.jpg", s.handleSnapshot)
	router.HandleFunc("/ws", s.handleWebsocket)
	router.HandleFunc("/status", s.handleStatus)

	s.server = &http.Server{
		Addr:    addr,
		Handler: router,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Listen listens on the configured address and serves until Shutdown.
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}

	fmt.Printf("Open http://%s/ in a browser\n", browserAddress(l.Addr()))
	return s.Serve(l)
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	if s.opts.MaxClients > 0 {
		l = netutil.LimitListener(l, s.opts.MaxClients)
	}
	log.Info("Listening on %s", l.Addr())
	return s.server.Serve(l)
}

// Shutdown ends all streams and stops the server, waiting until ctx is done
// for requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.server.Shutdown(ctx)
}

// Viewers returns the number of connected stream and websocket clients.
func (s *Server) Viewers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

func (s *Server) addViewer(v *viewer) {
	s.mu.Lock()
	s.viewers[v.ID] = v
	n := len(s.viewers)
	s.mu.Unlock()
	log.Info("Client %s connected from %s (%s, %d viewing)", v.ID, v.Remote, v.Kind, n)
}

func (s *Server) removeViewer(v *viewer, frames uint64) {
	s.mu.Lock()
	delete(s.viewers, v.ID)
	n := len(s.viewers)
	s.mu.Unlock()
	log.Info("Client %s disconnected after %d frames (%d viewing)", v.ID, frames, n)
}

func (s *Server) viewerList() []viewer {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]viewer, 0, len(s.viewers))
	for _, v := range s.viewers {
		list = append(list, *v)
	}
	return list
}

// The URL host to print for a listener: this machine's hostname, plus the
// port unless it is 80.
func browserAddress(addr net.Addr) string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	} else if !strings.Contains(host, ".") {
		host += ".local"
	}

	if tcp, ok := addr.(*net.TCPAddr); ok && tcp.Port != 80 {
		host += fmt.Sprintf(":%d", tcp.Port)
	}
	return host
}
