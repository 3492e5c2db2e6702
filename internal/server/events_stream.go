package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/rebalancer/internal/events"
)

const (
	streamBuffer      = 100
	heartbeatInterval = 30 * time.Second
	wsWriteTimeout    = 5 * time.Second
)

// EventsStreamHandler streams bus events to clients over Server-Sent Events
// or a websocket.
type EventsStreamHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// NewEventsStreamHandler creates a new events stream handler.
func NewEventsStreamHandler(eventBus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream requests (SSE).
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	eventChan, unsubscribe := h.subscribe(parseTypes(r.URL.Query().Get("types")))
	defer unsubscribe()

	h.log.Info().Msg("Client connected to event stream")

	fmt.Fprintf(w, "data: %s\n\n", h.encode(connectedMessage()))
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Info().Msg("Client disconnected from event stream")
			return

		case event := <-eventChan:
			fmt.Fprintf(w, "data: %s\n\n", h.encode(eventMessage(event)))
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprintf(w, "data: %s\n\n", h.encode(heartbeatMessage()))
			flusher.Flush()
		}
	}
}

// ServeWS handles GET /api/events/ws requests. The stream is one-way; any
// message from the client is read and discarded so close frames are seen.
func (h *EventsStreamHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to accept websocket")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	eventChan, unsubscribe := h.subscribe(parseTypes(r.URL.Query().Get("types")))
	defer unsubscribe()

	// CloseRead cancels ctx once the peer closes the connection.
	ctx := conn.CloseRead(r.Context())

	h.log.Info().Msg("Client connected to event websocket")

	if err := h.writeWS(ctx, conn, connectedMessage()); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		var msg map[string]interface{}
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Client disconnected from event websocket")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-eventChan:
			msg = eventMessage(event)
		case <-heartbeat.C:
			msg = heartbeatMessage()
		}

		if err := h.writeWS(ctx, conn, msg); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				h.log.Warn().Err(err).Msg("Failed to write to event websocket")
			}
			return
		}
	}
}

func (h *EventsStreamHandler) writeWS(ctx context.Context, conn *websocket.Conn, msg map[string]interface{}) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, []byte(h.encode(msg)))
}

// subscribe registers a buffered forwarder for the given types, or for all
// types when allowed is nil. Events are dropped when the buffer is full.
func (h *EventsStreamHandler) subscribe(allowed []events.EventType) (<-chan *events.Event, func()) {
	if allowed == nil {
		allowed = events.AllTypes
	}

	ch := make(chan *events.Event, streamBuffer)
	forward := func(event *events.Event) {
		select {
		case ch <- event:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event channel full, dropping event")
		}
	}

	unsubs := make([]func(), 0, len(allowed))
	for _, t := range allowed {
		unsubs = append(unsubs, h.eventBus.Subscribe(t, forward))
	}
	return ch, func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// encode marshals a stream message, falling back to an error payload.
func (h *EventsStreamHandler) encode(msg map[string]interface{}) string {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		return `{"error":"failed to encode event"}`
	}
	return string(data)
}

func parseTypes(filter string) []events.EventType {
	if filter == "" {
		return nil
	}
	var out []events.EventType
	for _, t := range strings.Split(filter, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, events.EventType(t))
		}
	}
	return out
}

func eventMessage(event *events.Event) map[string]interface{} {
	return map[string]interface{}{
		"type":      string(event.Type),
		"module":    event.Module,
		"timestamp": event.Timestamp.Format(time.RFC3339),
		"data":      event.Data,
	}
}

func connectedMessage() map[string]interface{} {
	return map[string]interface{}{
		"type":    "connected",
		"message": "Connected to event stream",
	}
}

func heartbeatMessage() map[string]interface{} {
	return map[string]interface{}{
		"type":      "heartbeat",
		"timestamp": time.Now().Format(time.RFC3339),
	}
}
