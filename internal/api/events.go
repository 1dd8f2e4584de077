package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/duologue/internal/debate"
	"github.com/MrWong99/duologue/internal/observe"
)

// writeTimeout bounds a single WebSocket write.
const writeTimeout = 10 * time.Second

// Event types sent as JSON text messages on the event stream.
const (
	EventSnapshot    = "snapshot"
	EventAudio       = "audio"
	EventInterrupted = "interrupted"
)

// Event is a text message on the event stream. An [EventAudio] message is
// followed by one binary message carrying the clip bytes.
type Event struct {
	Type     string           `json:"type"`
	Snapshot *debate.Snapshot `json:"snapshot,omitempty"`

	Speaker    string `json:"speaker,omitempty"`
	Format     string `json:"format,omitempty"`
	Bytes      int    `json:"bytes,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// handleEvents upgrades to a WebSocket and streams snapshots and audio until
// the client goes away. Client messages are ignored.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		log.Warn("event stream upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ec := &eventConn{conn: conn}
	ctx := conn.CloseRead(r.Context())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.streamSnapshots(ctx, ec) })
	if s.audio != nil {
		frames, cancel := s.audio.Subscribe()
		defer cancel()
		g.Go(func() error { return streamAudio(ctx, ec, frames) })
	}
	log.Debug("event stream connected")

	err = g.Wait()
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure, status == websocket.StatusGoingAway,
		errors.Is(err, context.Canceled):
		log.Debug("event stream closed")
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		log.Warn("event stream failed", "err", err)
		conn.Close(websocket.StatusInternalError, "stream failed")
	}
}

func (s *Server) streamSnapshots(ctx context.Context, conn *eventConn) error {
	for {
		// Fetch the channel first so no change between the two calls is missed.
		changed := s.debate.Changed()
		snap := s.debate.Snapshot()
		if err := conn.writeEvent(ctx, Event{Type: EventSnapshot, Snapshot: &snap}); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func streamAudio(ctx context.Context, conn *eventConn, frames <-chan Frame) error {
	for {
		var (
			f  Frame
			ok bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok = <-frames:
		}
		if !ok {
			return nil
		}

		var err error
		if f.Clip == nil {
			err = conn.writeEvent(ctx, Event{Type: EventInterrupted, Speaker: f.Interrupted})
		} else {
			err = conn.writeAudio(ctx, Event{
				Type:       EventAudio,
				Speaker:    f.Clip.Speaker,
				Format:     f.Clip.Format,
				Bytes:      len(f.Clip.Data),
				DurationMs: f.Clip.Duration.Milliseconds(),
			}, f.Clip.Data)
		}
		if err != nil {
			return err
		}
	}
}

// eventConn serialises writes so an audio header and its binary message
// are never split by another event.
type eventConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *eventConn) writeEvent(ctx context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeEventLocked(ctx, ev)
}

func (c *eventConn) writeAudio(ctx context.Context, head Event, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeEventLocked(ctx, head); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageBinary, data)
}

func (c *eventConn) writeEventLocked(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}
