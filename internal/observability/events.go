package observability

import "time"

// EventEnvelope is the wire shape of every event this service publishes
// to the broker, lifecycle and audit alike.
type EventEnvelope struct {
	EventType  string `json:"event_type"`
	EventName  string `json:"event_name"`
	Service    string `json:"service"`
	OccurredAt string `json:"occurred_at"`
	Payload    any    `json:"payload"`
}

func NewEventEnvelope(eventType, eventName string, payload any) EventEnvelope {
	return EventEnvelope{
		EventType:  eventType,
		EventName:  eventName,
		Service:    publisherAppID,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:    payload,
	}
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
