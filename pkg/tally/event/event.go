// Package event defines the tracked event value, the per-batch context
// record and the validation rules applied to names and properties.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the wire format for event timestamps: ISO-8601, UTC,
// millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Event is a single tracked occurrence.
// Events are values: they are created once by the client and never modified.
// ClientEventID is the identity used to remove delivered events from a store,
// so two events with identical content remain distinct.
type Event struct {
	Name          string
	ClientEventID string
	Timestamp     time.Time
	UserID        string
	SessionID     string
	Properties    map[string]any
}

// New creates an event with a fresh client event id.
// Properties are sanitised; the name is not validated here, see ValidateName.
func New(name string, props map[string]any, userID, sessionID string, now time.Time) Event {
	return Event{
		Name:          name,
		ClientEventID: uuid.NewString(),
		Timestamp:     now.UTC().Truncate(time.Millisecond),
		UserID:        userID,
		SessionID:     sessionID,
		Properties:    SanitizeProperties(props),
	}
}

// wireEvent is the JSON shape shared by the collector API and the snapshots.
type wireEvent struct {
	Name          string         `json:"name"`
	ClientEventID string         `json:"client_event_id"`
	Timestamp     string         `json:"timestamp"`
	UserID        string         `json:"user_id,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		Name:          e.Name,
		ClientEventID: e.ClientEventID,
		Timestamp:     e.Timestamp.UTC().Format(TimestampLayout),
		UserID:        e.UserID,
		SessionID:     e.SessionID,
		Properties:    e.Properties,
	})
}

// UnmarshalJSON implements json.Unmarshaler. Numeric properties decode as
// json.Number so integers survive a reload exactly.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return err
	}
	if w.ClientEventID == "" {
		return fmt.Errorf("event %q: missing client_event_id", w.Name)
	}
	ts, err := time.Parse(TimestampLayout, w.Timestamp)
	if err != nil {
		ts, err = time.Parse(time.RFC3339Nano, w.Timestamp)
		if err != nil {
			return fmt.Errorf("event %q: parse timestamp: %w", w.Name, err)
		}
	}
	*e = Event{
		Name:          w.Name,
		ClientEventID: w.ClientEventID,
		Timestamp:     ts.UTC(),
		UserID:        w.UserID,
		SessionID:     w.SessionID,
		Properties:    w.Properties,
	}
	return nil
}

// IDs returns the client event ids of events, in order.
func IDs(events []Event) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ClientEventID
	}
	return ids
}
