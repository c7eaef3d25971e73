// Package audit records portal submissions in PostgreSQL and queues each one
// on the transactional outbox for downstream consumers.
package audit

import (
	"encoding/json"
	"time"
)

// Kind identifies a submission form
type Kind string

const (
	KindRefill   Kind = "refill"
	KindTransfer Kind = "transfer"
	KindContact  Kind = "contact"
	KindWaitlist Kind = "waitlist"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	switch k {
	case KindRefill, KindTransfer, KindContact, KindWaitlist:
		return true
	}
	return false
}

// EventType is the outbox event name for a kind
type EventType string

const (
	EventRefillSubmitted   EventType = "RefillSubmitted"
	EventTransferSubmitted EventType = "TransferSubmitted"
	EventContactSubmitted  EventType = "ContactSubmitted"
	EventWaitlistJoined    EventType = "WaitlistJoined"
)

var eventTypes = map[Kind]EventType{
	KindRefill:   EventRefillSubmitted,
	KindTransfer: EventTransferSubmitted,
	KindContact:  EventContactSubmitted,
	KindWaitlist: EventWaitlistJoined,
}

// EventTypeFor returns the event name published for a kind
func EventTypeFor(k Kind) EventType {
	return eventTypes[k]
}

// Event is the message body relayed to the broker
type Event struct {
	ID               string          `json:"id"`
	Kind             Kind            `json:"kind"`
	EventType        EventType       `json:"event_type"`
	CorrelationID    string          `json:"correlation_id,omitempty"`
	Form             json.RawMessage `json:"form"`
	UpstreamResponse json.RawMessage `json:"upstream_response,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
}
