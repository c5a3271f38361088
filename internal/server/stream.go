package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/jpalmerr/stationwatch/snapshot"
)

func connectedEvent() snapshot.Event {
	return snapshot.Event{
		Type:      snapshot.EventConnected,
		Message:   "Connected to station updates",
		Timestamp: time.Now(),
	}
}

// handleSSE streams hub events as Server-Sent Events.
//
// Every write runs under a deadline so a slow or vanished client fails the
// write instead of blocking; the handler then returns and unsubscribes.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if err := rc.Flush(); errors.Is(err, http.ErrNotSupported) {
		w.Header().Del("Content-Type")
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	deadlinesSupported := true
	write := func(frame string) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
				s.logger.Warn().Err(err).Msg("sse write deadlines not supported")
				deadlinesSupported = false
			}
		}
		if _, err := fmt.Fprint(w, frame); err != nil {
			return err
		}
		return rc.Flush()
	}
	writeEvent := func(ev snapshot.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error().Err(err).Str("event", string(ev.Type)).Msg("failed to encode event")
			return nil
		}
		return write(fmt.Sprintf("data: %s\n\n", data))
	}

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	if err := writeEvent(connectedEvent()); err != nil {
		return
	}

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				// dropped by the hub or hub closed
				return
			}
			if err := writeEvent(ev); err != nil {
				s.logger.Debug().Err(err).Str("subscriber", sub.ID).Msg("sse write failed")
				return
			}

		case <-ticker.C:
			if err := write(": keepalive\n\n"); err != nil {
				return
			}

		case <-r.Context().Done():
			// request contexts derive from the server context, so this covers
			// both client disconnect and shutdown
			return
		}
	}
}

// handleWebSocket streams hub events as JSON text messages.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server error")

	// clients only listen; CloseRead handles control frames and cancels ctx
	// once the peer goes away
	ctx := conn.CloseRead(r.Context())

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	if err := writeWebSocket(ctx, conn, connectedEvent()); err != nil {
		return
	}

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case ev, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusTryAgainLater, "subscription dropped")
				return
			}
			if err := writeWebSocket(ctx, conn, ev); err != nil {
				s.logger.Debug().Err(err).Str("subscriber", sub.ID).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				s.logger.Debug().Err(err).Str("subscriber", sub.ID).Msg("websocket ping failed")
				return
			}
		}
	}
}

func writeWebSocket(ctx context.Context, conn *websocket.Conn, ev snapshot.Event) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
