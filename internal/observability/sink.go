package observability

import "context"

// EventSink receives lifecycle events. The concrete transport lives in
// internal/rabbitmq; this package only tracks publish failures.
type EventSink interface {
	PublishWithHeaders(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

var eventSink EventSink

// SetEventSink installs the process-wide sink for lifecycle events.
func SetEventSink(sink EventSink) {
	eventSink = sink
}

// PublishEvent forwards an event to the configured sink. With no sink
// installed it is a no-op, so tests and local runs need no broker.
func PublishEvent(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	if eventSink == nil {
		return nil
	}

	err := eventSink.PublishWithHeaders(ctx, routingKey, event, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
