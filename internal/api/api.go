// Package api serves the HTTP and WebSocket surface the browser UI drives.
//
// All debate state lives in the [debate.Scheduler]; handlers translate
// requests into scheduler calls and map its sentinel errors to status codes.
// The event stream pushes a fresh [debate.Snapshot] on every change and
// forwards the audio clips handed to the [Broadcaster].
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/MrWong99/duologue/internal/debate"
	"github.com/MrWong99/duologue/internal/observe"
	"github.com/MrWong99/duologue/internal/persona"
	"github.com/MrWong99/duologue/internal/speech"
	"github.com/MrWong99/duologue/pkg/provider/tts"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// Debate is the scheduler surface used by the handlers.
type Debate interface {
	Start(ctx context.Context, sess debate.Session) (*debate.Run, error)
	SubmitInterjection(ctx context.Context, ij debate.Interjection) (*debate.Run, error)
	Reset()
	Snapshot() debate.Snapshot
	Changed() <-chan struct{}
}

// VoiceLister lists the voices of the configured TTS backend.
type VoiceLister interface {
	Voices(ctx context.Context) ([]tts.VoiceProfile, error)
}

// Option configures a [Server].
type Option func(*Server)

// WithAllowedOrigins adds host patterns accepted on the event WebSocket
// besides the request's own host.
func WithAllowedOrigins(patterns ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, patterns...) }
}

// WithMetrics overrides the metrics used by the HTTP middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server holds the handlers.
type Server struct {
	debate  Debate
	catalog *persona.Catalog
	voices  VoiceLister
	audio   *Broadcaster
	origins []string
	metrics *observe.Metrics
}

// New creates a server. voices and audio may be nil.
func New(d Debate, catalog *persona.Catalog, voices VoiceLister, audio *Broadcaster, opts ...Option) *Server {
	s := &Server{
		debate:  d,
		catalog: catalog,
		voices:  voices,
		audio:   audio,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mw := observe.Middleware(s.metrics)
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, mw(h))
	}
	route("GET /api/personas", s.handlePersonas)
	route("GET /api/voices", s.handleVoices)
	route("GET /api/debate", s.handleSnapshot)
	route("POST /api/debate", s.handleStart)
	route("DELETE /api/debate", s.handleReset)
	route("POST /api/debate/interjections", s.handleInterjection)
	route("GET /api/debate/events", s.handleEvents)
}

// Handler returns a mux serving only the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// ─── handlers ───────────────────────────────────────────────────────────────

type personaView struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases,omitempty"`
	Expertise []string `json:"expertise"`
	VoiceID   string   `json:"voice_id"`
}

func (s *Server) handlePersonas(w http.ResponseWriter, _ *http.Request) {
	list := s.catalog.List()
	out := make([]personaView, 0, len(list))
	for _, p := range list {
		out = append(out, personaView{
			ID:        p.ID,
			Name:      p.Name,
			Aliases:   p.Aliases,
			Expertise: p.Expertise,
			VoiceID:   p.VoiceID,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type voiceView struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Provider string            `json:"provider,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.voices == nil {
		writeError(w, http.StatusServiceUnavailable, speech.ErrNoBackend)
		return
	}
	voices, err := s.voices.Voices(r.Context())
	switch {
	case errors.Is(err, speech.ErrNoBackend):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		observe.Logger(r.Context()).Warn("list voices failed", "err", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	out := make([]voiceView, 0, len(voices))
	for _, v := range voices {
		out = append(out, voiceView{ID: v.ID, Name: v.Name, Provider: v.Provider, Metadata: v.Metadata})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.debate.Snapshot())
}

type startRequest struct {
	SpeakerA string `json:"speaker_a"`
	SpeakerB string `json:"speaker_b"`
	Topic    string `json:"topic"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	_, err := s.debate.Start(r.Context(), debate.Session{
		SpeakerA: req.SpeakerA,
		SpeakerB: req.SpeakerB,
		Topic:    req.Topic,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.debate.Snapshot())
}

type interjectionRequest struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

func (s *Server) handleInterjection(w http.ResponseWriter, r *http.Request) {
	var req interjectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	_, err := s.debate.SubmitInterjection(r.Context(), debate.Interjection{
		Author:  req.Author,
		Content: req.Content,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.debate.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.debate.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// ─── helpers ────────────────────────────────────────────────────────────────

// statusFor maps scheduler errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, debate.ErrInvalidSessionConfig):
		return http.StatusBadRequest
	case errors.Is(err, debate.ErrUnknownSpeaker):
		return http.StatusNotFound
	case errors.Is(err, debate.ErrSessionRunning), errors.Is(err, debate.ErrNoActiveSession):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("api: empty request body")
		}
		return err
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: failed to encode response", "err", err)
	}
}
