package webhook

import (
	"encoding/json"
	"fmt"
)

// EventKind is the normalized call event type.
type EventKind string

const (
	EventConnect   EventKind = "connect"
	EventTerminate EventKind = "terminate"
	EventMedia     EventKind = "media"
)

// CallEvent is one normalized call event extracted from a webhook delivery.
type CallEvent struct {
	Kind       EventKind
	CallID     string
	EndpointID string
	From       string

	// connect
	SDPOffer string

	// terminate
	Reason   string
	Duration int

	// media
	AudioB64   string
	Codec      string
	SampleRate int
}

// Envelope is the channel's webhook payload: entries, each with changes,
// each change optionally carrying call sub-events.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups changes for one account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one field update. Only field "calls" concerns this service.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue carries the endpoint metadata and the call sub-events.
type ChangeValue struct {
	MessagingProduct string        `json:"messaging_product"`
	Metadata         ValueMetadata `json:"metadata"`
	Calls            []CallPayload `json:"calls"`
}

// ValueMetadata identifies the channel endpoint the events belong to.
type ValueMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// CallPayload is one raw call sub-event.
type CallPayload struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`

	Session *CallSessionPayload `json:"session,omitempty"`

	Status   string `json:"status,omitempty"`
	Duration int    `json:"duration,omitempty"`

	Media *CallMediaPayload `json:"media,omitempty"`
}

// CallSessionPayload carries the SDP exchanged on connect.
type CallSessionPayload struct {
	SDPType string `json:"sdp_type"`
	SDP     string `json:"sdp"`
}

// CallMediaPayload carries one encoded audio frame delivered out-of-band.
type CallMediaPayload struct {
	Audio      string `json:"audio"`
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
}

// ParseEnvelope extracts normalized call events from a raw webhook body.
// Changes for non-call fields are skipped; unknown event names inside a
// calls change are skipped with the rest of the change still processed.
// Event order within the delivery is preserved.
func ParseEnvelope(body []byte) ([]CallEvent, error) {
	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("malformed webhook body: %w", err)
	}

	var events []CallEvent
	for _, entry := range envelope.Entry {
		for _, change := range entry.Changes {
			if change.Field != "calls" {
				continue
			}
			endpointID := change.Value.Metadata.PhoneNumberID
			for _, call := range change.Value.Calls {
				event, ok := normalizeCall(call, endpointID)
				if !ok {
					continue
				}
				events = append(events, event)
			}
		}
	}
	return events, nil
}

func normalizeCall(call CallPayload, endpointID string) (CallEvent, bool) {
	if call.ID == "" {
		return CallEvent{}, false
	}

	event := CallEvent{
		CallID:     call.ID,
		EndpointID: endpointID,
		From:       call.From,
	}

	switch call.Event {
	case "connect":
		event.Kind = EventConnect
		if call.Session != nil {
			event.SDPOffer = call.Session.SDP
		}
	case "terminate":
		event.Kind = EventTerminate
		event.Reason = call.Status
		if event.Reason == "" {
			event.Reason = "user_hangup"
		}
		event.Duration = call.Duration
	case "media":
		if call.Media == nil {
			return CallEvent{}, false
		}
		event.Kind = EventMedia
		event.AudioB64 = call.Media.Audio
		event.Codec = call.Media.Codec
		event.SampleRate = call.Media.SampleRate
	default:
		return CallEvent{}, false
	}
	return event, true
}
