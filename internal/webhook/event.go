package webhook

// EventType is the lifecycle stage reported by an Event.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventMessageReceived EventType = "message_received"
	EventDisconnected    EventType = "disconnected"
)

// Transport labels carried in Event.Transport.
const (
	TransportSession  = "webtransport"
	TransportBidi     = "webtransport/bi"
	TransportUni      = "webtransport/uni"
	TransportDatagram = "webtransport/dgram"
)

// Event is the JSON document posted to the webhook. Payload is set for
// message_received (the decoded text) and disconnected (the close reason).
type Event struct {
	Type         EventType `json:"type"`
	ConnectionID string    `json:"connection_id"`
	Transport    string    `json:"transport"`
	Payload      *string   `json:"payload,omitempty"`
}

// Connected builds the event emitted once a session is accepted.
func Connected(connID string) Event {
	return Event{Type: EventConnected, ConnectionID: connID, Transport: TransportSession}
}

// MessageReceived builds the event emitted for every decoded payload.
func MessageReceived(connID, transport, payload string) Event {
	return Event{Type: EventMessageReceived, ConnectionID: connID, Transport: transport, Payload: &payload}
}

// Disconnected builds the event emitted once a session has ended.
func Disconnected(connID, reason string) Event {
	return Event{Type: EventDisconnected, ConnectionID: connID, Transport: TransportSession, Payload: &reason}
}
