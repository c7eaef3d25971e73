// Package submission runs portal form submissions against the pharmacy
// service and the audit store, collapsing every outcome into a Result.
package submission

import "encoding/json"

// User-facing messages produced by the orchestrator itself
const (
	MsgNotConfigured     = "Pharmacy service is not properly configured. Please contact support."
	MsgUnreachable       = "Unable to connect to pharmacy service. Please try again later."
	MsgStoreFailed       = "We could not save your submission. Please try again later."
	MsgRefillSubmitted   = "Your refill request has been submitted successfully."
	MsgTransferSubmitted = "Your transfer request has been submitted successfully."
	MsgContactReceived   = "Thank you for contacting us. We will get back to you soon."
	MsgWaitlistJoined    = "Thank you for joining our waitlist. We will be in touch."
)

// FailureKind says why a submission failed
type FailureKind int

const (
	FailureNone FailureKind = iota
	// FailureConfiguration means required credentials are missing
	FailureConfiguration
	// FailureRejected means the pharmacy answered with a failure
	FailureRejected
	// FailureTransport means no usable answer was received
	FailureTransport
	// FailureStore means a contact or waitlist record could not be saved
	FailureStore
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureConfiguration:
		return "configuration"
	case FailureRejected:
		return "rejected"
	case FailureTransport:
		return "transport"
	case FailureStore:
		return "store"
	default:
		return "unknown"
	}
}

// Result is the terminal value of a submission. Message is always safe to
// show to the user.
type Result struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Failure FailureKind     `json:"-"`
}

func succeeded(message string, data json.RawMessage) Result {
	return Result{Success: true, Message: message, Data: data}
}

func failed(kind FailureKind, message string) Result {
	return Result{Message: message, Failure: kind}
}
