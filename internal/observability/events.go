package observability

// Routing keys for events published to the topic exchange.
const (
	RoutingKeyConnections = "ws_events.connections"
	RoutingKeyMessages    = "ws_events.messages"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// ConnEventPayload describes one websocket lifecycle event.
type ConnEventPayload struct {
	Event      string `json:"event"`
	ConnID     string `json:"conn_id"`
	StableID   string `json:"stable_id"`
	UserID     int    `json:"user_id"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason"`
	IP         string `json:"ip"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
