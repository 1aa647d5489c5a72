package protocol

// Message types exchanged over the ingest and observer websockets.
const (
	TypeHeartbeat = "heartbeat"
	TypeState     = "state"
)

// Heartbeat is pushed by a worker to the ingest endpoint once per interval.
// URL may be empty when the engine could not be introspected, and State may
// be omitted (the receiver treats an arriving heartbeat as running).
type Heartbeat struct {
	Type      string  `json:"type"`
	ProfileID string  `json:"profile_id"`
	State     string  `json:"state"`
	URL       string  `json:"url"`
	Engine    string  `json:"engine"`
	Timestamp float64 `json:"ts"`
}

// Valid reports whether the payload is a well-formed heartbeat. Anything else
// arriving on the ingest socket is dropped.
func (h Heartbeat) Valid() bool {
	return h.Type == TypeHeartbeat && h.ProfileID != ""
}

// StateUpdate returns the broadcast copy of the heartbeat: same payload with
// the type tag rewritten for observers.
func (h Heartbeat) StateUpdate() Heartbeat {
	h.Type = TypeState
	return h
}
