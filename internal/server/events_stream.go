package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/tradeapproval/internal/events"
	"github.com/aristath/tradeapproval/internal/modules/identity"
	"github.com/aristath/tradeapproval/internal/modules/trades"
	"github.com/aristath/tradeapproval/internal/utils"
)

const (
	streamBufferSize  = 100
	heartbeatInterval = 30 * time.Second
	writeTimeout      = 5 * time.Second
)

// StreamMessage is one JSON text frame sent to stream clients
type StreamMessage struct {
	Type      string                 `json:"type"`
	Module    string                 `json:"module,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventsStreamHandler pushes bus events to WebSocket clients. It expects
// identity.Middleware to have resolved the caller.
type EventsStreamHandler struct {
	eventBus       *events.Bus
	originPatterns []string
	log            zerolog.Logger
	heartbeat      time.Duration
}

// NewEventsStreamHandler creates a new events stream handler. Cross-origin
// clients are accepted only when their host matches originPatterns.
func NewEventsStreamHandler(eventBus *events.Bus, originPatterns []string, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus:       eventBus,
		originPatterns: originPatterns,
		log:            log.With().Str("component", "events_stream").Logger(),
		heartbeat:      heartbeatInterval,
	}
}

// ServeHTTP handles GET /api/events/ws. The optional types query parameter
// is a comma separated list of event types; lifecycle events are sent by
// default. Approvers see every event, other principals only events of
// trades they requested.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "principal required", http.StatusUnauthorized)
		return
	}

	eventTypes := parseTypesFilter(r.URL.Query().Get("types"))

	// The server write timeout would otherwise cut the stream
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away
	ctx := conn.CloseRead(r.Context())

	eventChan := make(chan *events.Event, streamBufferSize)
	handler := func(event *events.Event) {
		if !visibleTo(principal, event) {
			return
		}
		select {
		case eventChan <- event:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event channel full, dropping event")
		}
	}

	for _, eventType := range eventTypes {
		unsubscribe := h.eventBus.Subscribe(eventType, handler)
		defer unsubscribe()
	}

	h.log.Info().
		Str("principal", principal.ID).
		Int("types", len(eventTypes)).
		Msg("Client connected to event stream")

	if err := h.send(ctx, conn, StreamMessage{
		Type:      "connected",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Message:   "Connected to trade event stream",
	}); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Client disconnected from event stream")
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case event := <-eventChan:
			if err := h.send(ctx, conn, StreamMessage{
				Type:      string(event.Type),
				Module:    event.Module,
				Timestamp: event.Timestamp.Format(time.RFC3339),
				Data:      event.Data,
			}); err != nil {
				return
			}

		case <-heartbeat.C:
			if err := h.send(ctx, conn, StreamMessage{
				Type:      "heartbeat",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}
	}
}

func (h *EventsStreamHandler) send(ctx context.Context, conn *websocket.Conn, msg StreamMessage) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := wsjson.Write(writeCtx, conn, msg); err != nil {
		h.log.Debug().Err(err).Str("type", msg.Type).Msg("Failed to write to event stream")
		return err
	}
	return nil
}

// visibleTo applies the status/history read rule to a streamed event.
// Events without a requester are for approvers only.
func visibleTo(principal trades.Principal, event *events.Event) bool {
	if principal.IsApprover() {
		return true
	}
	requester, _ := event.Data["requester_id"].(string)
	return requester != "" && requester == principal.ID
}

// parseTypesFilter returns the requested event types, ignoring unknown names
func parseTypesFilter(raw string) []events.EventType {
	if strings.TrimSpace(raw) == "" {
		return events.LifecycleEventTypes
	}

	known := make(map[events.EventType]bool, len(events.AllEventTypes))
	for _, t := range events.AllEventTypes {
		known[t] = true
	}

	seen := make(map[events.EventType]bool)
	var selected []events.EventType
	for _, part := range utils.ParseCSV(raw) {
		t := events.EventType(strings.ToUpper(part))
		if known[t] && !seen[t] {
			seen[t] = true
			selected = append(selected, t)
		}
	}
	return selected
}
