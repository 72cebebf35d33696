// Package api exposes the playback controller over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/narrator/internal/audio"
	"github.com/satindergrewal/narrator/internal/ingest"
	"github.com/satindergrewal/narrator/internal/player"
)

// Player is the controller surface the API drives.
type Player interface {
	ingest.Sink
	Load(payloads []string) error
	LoadStream() error
	Play() error
	Pause() error
	Stop() error
	Unload() error
	Seek(seconds float64) error
	Snapshot() player.Snapshot
	WAV() ([]byte, error)
	MP3(ctx context.Context) ([]byte, error)
}

// Server routes control requests to a Player.
type Server struct {
	player Player
	log    zerolog.Logger
	mux    *http.ServeMux
}

// New creates a server with the control routes registered.
func New(p Player, log zerolog.Logger) *Server {
	s := &Server{player: p, log: log, mux: http.NewServeMux()}

	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/load", s.handleLoad)
	s.mux.HandleFunc("/api/stream", s.transport(p.LoadStream))
	s.mux.HandleFunc("/api/stream/end", s.transport(p.EndStream))
	s.mux.HandleFunc("/api/chunk", s.handleChunk)
	s.mux.HandleFunc("/api/play", s.transport(p.Play))
	s.mux.HandleFunc("/api/pause", s.transport(p.Pause))
	s.mux.HandleFunc("/api/stop", s.transport(p.Stop))
	s.mux.HandleFunc("/api/unload", s.transport(p.Unload))
	s.mux.HandleFunc("/api/seek", s.handleSeek)
	s.mux.HandleFunc("/api/download.wav", s.handleWAV)
	s.mux.HandleFunc("/api/download.mp3", s.handleMP3)
	return s
}

// Handle mounts an additional handler, such as the live stream or metrics.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// StatusCode maps an engine error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, audio.ErrInvalidState), errors.Is(err, ingest.ErrSessionMismatch):
		return http.StatusConflict
	case errors.Is(err, audio.ErrSeekOutOfRange):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, audio.ErrExport):
		return http.StatusNotFound
	case errors.Is(err, audio.ErrDecode), errors.Is(err, audio.ErrAudioDecode), errors.Is(err, audio.ErrDuplicateChunk):
		return http.StatusBadRequest
	case errors.Is(err, audio.ErrEncode):
		return http.StatusBadGateway
	case errors.Is(err, audio.ErrPlaybackBlocked):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	s.log.Warn().Err(err).Str("path", r.URL.Path).Int("code", code).Msg("request failed")
	writeJSON(w, code, map[string]any{
		"ok":    false,
		"error": err.Error(),
		"state": s.player.Snapshot(),
	})
}

func (s *Server) ok(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"state": s.player.Snapshot(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func postOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// transport wraps a body-less operation.
func (s *Server) transport(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !postOnly(w, r) {
			return
		}
		if err := op(); err != nil {
			s.fail(w, r, err)
			return
		}
		s.ok(w)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.player.Snapshot())
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if !postOnly(w, r) {
		return
	}
	var req struct {
		Data   *string   `json:"data"`
		Chunks []*string `json:"chunks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	var payloads []string
	switch {
	case req.Chunks != nil:
		payloads = make([]string, len(req.Chunks))
		for i, c := range req.Chunks {
			if c != nil {
				payloads[i] = *c
			}
		}
	case req.Data != nil:
		payloads = []string{*req.Data}
	default:
		http.Error(w, "data or chunks required", http.StatusBadRequest)
		return
	}

	if err := s.player.Load(payloads); err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w)
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	if !postOnly(w, r) {
		return
	}
	var m ingest.ChunkMessage
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if m.Index < 0 {
		http.Error(w, "index must be non-negative", http.StatusBadRequest)
		return
	}
	if err := ingest.Dispatch(s.player, m); err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w)
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	if !postOnly(w, r) {
		return
	}
	var req struct {
		Seconds *float64 `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Seconds == nil {
		http.Error(w, "seconds required", http.StatusBadRequest)
		return
	}
	if err := s.player.Seek(*req.Seconds); err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w)
}

func (s *Server) handleWAV(w http.ResponseWriter, r *http.Request) {
	data, err := s.player.WAV()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	attach(w, "audio/wav", audio.Filename(r.URL.Query().Get("name"), "wav"), data)
}

func (s *Server) handleMP3(w http.ResponseWriter, r *http.Request) {
	data, err := s.player.MP3(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	attach(w, "audio/mpeg", audio.Filename(r.URL.Query().Get("name"), "mp3"), data)
}

func attach(w http.ResponseWriter, contentType, name string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}
