package server

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lanikai/camrelay/internal/capture"
	"github.com/lanikai/camrelay/internal/mjpeg"
	"github.com/lanikai/camrelay/internal/stream"
)

// Time allowed to write one websocket message.
const writeTimeout = 5 * time.Second

var indexTemplate = template.Must(template.New("index").Parse(`<html>
<head>
    <title>{{.Title}}</title>
    <style>
        body { margin: 0; background: #333; }
        img { width: 100vw; height: 100vh; object-fit: contain; }
    </style>
</head>
<body>
    <img id="stream" src="/stream">
</body>
</html>
`))

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	log.Debug("Request for %s from %s", r.URL.Path, r.RemoteAddr)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, s.opts); err != nil {
		log.Warn("Failed to render index: %v", err)
	}
}

func setNoCache(h http.Header) {
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
}

// Multipart MJPEG stream. Runs until the client goes away or the server shuts
// down.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess := stream.New(s.slot, s.opts.Interval)
	defer sess.Close()
	sess.SkipDuplicates = s.opts.SkipDuplicates
	sess.Parts = s.parts

	v := &viewer{ID: sess.ID, Kind: "mjpeg", Remote: r.RemoteAddr, Since: time.Now()}
	s.addViewer(v)
	defer func() {
		s.removeViewer(v, sess.Frames())
	}()

	h := w.Header()
	h.Set("Content-Type", mjpeg.ContentType)
	setNoCache(h)
	w.WriteHeader(http.StatusOK)

	// Send headers right away, even if no frame exists yet.
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	err := sess.Stream(r.Context(), w)
	log.Debug("Client %s: stream ended: %v", sess.ID, err)
}

// The latest frame as a single JPEG image.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	f := s.slot.Read()
	if f == nil {
		http.Error(w, "No frame captured yet", http.StatusServiceUnavailable)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "image/jpeg")
	h.Set("Content-Length", strconv.Itoa(f.Len()))
	h.Set("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	setNoCache(h)
	w.Write(f.Bytes())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// Websocket feed. Every new frame is sent as one binary message, no faster
// than the stream interval. Messages from the client are ignored.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade: %v", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	v := &viewer{ID: uuid.New().String(), Kind: "websocket", Remote: r.RemoteAddr, Since: time.Now()}
	s.addViewer(v)
	var frames uint64
	defer func() {
		s.removeViewer(v, frames)
	}()

	// A failed read means the client has gone away.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	var last uint64
	for {
		f, err := s.slot.Wait(ctx, last)
		if err != nil {
			return
		}

		ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := ws.WriteMessage(websocket.BinaryMessage, f.Bytes()); err != nil {
			log.Debug("Client %s: write failed: %v", v.ID, err)
			return
		}
		last = f.Seq
		frames++

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

type status struct {
	State     string         `json:"state,omitempty"`
	Capture   *capture.Stats `json:"capture,omitempty"`
	LatestSeq uint64         `json:"latestSeq"`
	LatestAt  *time.Time     `json:"latestAt,omitempty"`
	Viewers   []viewer       `json:"viewers"`
	Uptime    string         `json:"uptime"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := status{
		Viewers: s.viewerList(),
		Uptime:  time.Since(s.started).Truncate(time.Second).String(),
	}
	if s.producer != nil {
		stats := s.producer.Stats()
		st.State = stats.State.String()
		st.Capture = &stats
	}
	if f := s.slot.Read(); f != nil {
		st.LatestSeq = f.Seq
		st.LatestAt = &f.Time
	}

	w.Header().Set("Content-Type", "application/json")
	setNoCache(w.Header())
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		log.Warn("Failed to write status: %v", err)
	}
}
