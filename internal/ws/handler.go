package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"presence-service/internal/identity"
	"presence-service/internal/models"
	"presence-service/internal/observability"
	"presence-service/internal/presence"
	"presence-service/internal/repositories"
)

// Handler owns the websocket handshake and the per-connection lifecycle:
// authenticate, register presence, join the personal room, tear down on
// disconnect.
type Handler struct {
	hub        *Hub
	registry   *presence.Registry
	verifier   identity.Verifier
	directory  repositories.UserDirectory
	dispatcher Dispatcher
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, registry *presence.Registry, verifier identity.Verifier, directory repositories.UserDirectory, dispatcher Dispatcher) *Handler {
	return &Handler{hub: hub, registry: registry, verifier: verifier, directory: directory, dispatcher: dispatcher}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and brings it to the active state.
//
// Authentication degrades instead of aborting: an invalid credential yields an
// anonymous connection (no presence entry, no personal room) and a verified
// identity without a directory row is tracked online by stable identity only.
// Presence channels stay usable even when the identity sync has not completed.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("presence-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)

	stableID := ""
	if token != "" {
		id, err := h.verifier.Verify(token)
		if err != nil {
			log.Warn().Str("ip", observability.IPFromRequest(c.Request)).Msg("ws: credential rejected, connection continues unauthenticated")
		} else {
			stableID = id
		}
	}

	userID := 0
	if stableID != "" {
		user, err := h.directory.ResolveStableID(ctx, stableID)
		if err != nil {
			log.Warn().Err(err).Str("stable_id", stableID).Msg("ws: identity not resolvable, degraded connection")
		} else {
			userID = user.ID
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	connID := newConnID()
	connectedAt := time.Now()
	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	ip := observability.IPFromRequest(c.Request)

	client := newClient(h.hub, conn, h.dispatcher, connID, stableID, userID)
	client.onClose = func(reason string) {
		h.teardown(client, connectedAt, reason, requestID, traceID, ip)
	}
	if stableID != "" {
		// Heartbeats refresh the session's last-seen bookkeeping.
		client.onActivity = func() { h.registry.Touch(stableID, time.Now()) }
	}

	h.hub.Add(client)
	if userID != 0 {
		h.hub.Join(client, models.PersonalRoom(userID))
	}

	if stableID != "" {
		becameOnline := h.registry.Register(presence.Session{
			ConnID:      connID,
			StableID:    stableID,
			UserID:      userID,
			ConnectedAt: connectedAt,
			LastSeen:    connectedAt,
		})
		if becameOnline {
			if event, err := models.NewEvent(models.EventPresenceOnline, "", models.PresencePayload{StableID: stableID, UserID: userID, Online: true}); err == nil {
				h.hub.BroadcastAll(event, client)
			}
		}
	}

	// Snapshot goes only to the new connection so it can render presence
	// without a second round trip.
	if event, err := models.NewEvent(models.EventOnlineSnapshot, "", models.SnapshotPayload{StableIDs: h.registry.Snapshot()}); err == nil {
		client.SendEvent(event)
	}

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	_ = observability.PublishEvent(ctx, observability.RoutingKeyConnections, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload: observability.ConnEventPayload{
			Event:    "ws_connect",
			ConnID:   connID,
			StableID: stableID,
			UserID:   userID,
			IP:       ip,
		},
	}, observability.BuildHeaders(requestID, traceID))

	// The request context dies with this handler; the pumps outlive it.
	go client.writePump()
	go client.readPump(context.Background())
}

// teardown runs exactly once per connection, synchronously with the pump that
// detected the close, so no later broadcast can target the dead connection.
func (h *Handler) teardown(client *Client, connectedAt time.Time, reason, requestID, traceID, ip string) {
	h.hub.Remove(client)

	if client.stableID != "" {
		wentOffline := h.registry.Unregister(client.stableID)
		if wentOffline {
			if event, err := models.NewEvent(models.EventPresenceOffline, "", models.PresencePayload{StableID: client.stableID, UserID: client.userID, Online: false}); err == nil {
				h.hub.BroadcastAll(event, client)
			}
		}
	}

	if client.userID != 0 {
		// Best effort: a miss is logged, never retried.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.directory.UpdateLastSeen(ctx, client.userID, time.Now()); err != nil {
			log.Warn().Err(err).Int("user_id", client.userID).Msg("ws: last-seen update failed")
		}
	}

	observability.DecWSActive()
	observability.IncWSEvent("ws_disconnect")
	_ = observability.PublishEvent(context.Background(), observability.RoutingKeyConnections, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_disconnect",
		Payload: observability.ConnEventPayload{
			Event:      "ws_disconnect",
			ConnID:     client.connID,
			StableID:   client.stableID,
			UserID:     client.userID,
			DurationMS: time.Since(connectedAt).Milliseconds(),
			Reason:     reason,
			IP:         ip,
		},
	}, observability.BuildHeaders(requestID, traceID))
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}
