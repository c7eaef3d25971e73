package bestrx

import (
	"bytes"
	"encoding/json"
)

// StatusOK marks a refill item the pharmacy accepted
const StatusOK = "OK"

// ReplyKind classifies an upstream response body
type ReplyKind int

const (
	// ReplyUnrecognized is any body that does not have a known shape
	ReplyUnrecognized ReplyKind = iota
	// ReplyAccepted is a known success shape
	ReplyAccepted
	// ReplyRejected is a known shape reporting failure
	ReplyRejected
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyAccepted:
		return "accepted"
	case ReplyRejected:
		return "rejected"
	default:
		return "unrecognized"
	}
}

// RefillItemResult is the per-prescription outcome of a refill request
type RefillItemResult struct {
	RxNumber     string
	Status       string
	ErrorCode    string
	ErrorMessage string
}

// RefillReply is a decoded SendRefillRequest response
type RefillReply struct {
	Kind  ReplyKind
	Items []RefillItemResult
}

// TransferReply is a decoded submitrxtransferrequest response
type TransferReply struct {
	Kind         ReplyKind
	Valid        bool
	Transferred  bool
	ErrorCode    string
	ErrorMessage string
}

type refillEnvelope struct {
	Items json.RawMessage `json:"RxInRefillResponse"`
}

type refillItemWire struct {
	RxNumber     json.RawMessage `json:"RxNumber"`
	Status       json.RawMessage `json:"Status"`
	ErrorCode    json.RawMessage `json:"ErrorCode"`
	ErrorMessage json.RawMessage `json:"ErrorMessage"`
}

type transferEnvelope struct {
	Valid        json.RawMessage `json:"valid"`
	Transferred  json.RawMessage `json:"transferred"`
	ErrorCode    json.RawMessage `json:"errorCode"`
	ErrorMessage json.RawMessage `json:"errorMessage"`
}

// DecodeRefillReply classifies a refill response body. A per-item array with
// at least one "OK" entry is accepted, even if other entries failed; an array
// without one, including an empty array, is rejected.
func DecodeRefillReply(body []byte) RefillReply {
	if !isObject(body) {
		return RefillReply{Kind: ReplyUnrecognized}
	}
	var env refillEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return RefillReply{Kind: ReplyUnrecognized}
	}
	var raw []json.RawMessage
	if !isArray(env.Items) || json.Unmarshal(env.Items, &raw) != nil {
		return RefillReply{Kind: ReplyUnrecognized}
	}

	reply := RefillReply{Kind: ReplyRejected, Items: make([]RefillItemResult, 0, len(raw))}
	for _, elem := range raw {
		var w refillItemWire
		if isObject(elem) {
			_ = json.Unmarshal(elem, &w)
		}
		item := RefillItemResult{
			RxNumber:     asString(w.RxNumber),
			Status:       asString(w.Status),
			ErrorCode:    asString(w.ErrorCode),
			ErrorMessage: asString(w.ErrorMessage),
		}
		if item.Status == StatusOK {
			reply.Kind = ReplyAccepted
		}
		reply.Items = append(reply.Items, item)
	}
	return reply
}

// DecodeTransferReply classifies a transfer response body. Only a body whose
// valid and transferred flags are both the JSON literal true is accepted.
func DecodeTransferReply(body []byte) TransferReply {
	if !isObject(body) {
		return TransferReply{Kind: ReplyUnrecognized}
	}
	var env transferEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return TransferReply{Kind: ReplyUnrecognized}
	}

	reply := TransferReply{
		Kind:         ReplyRejected,
		Valid:        isTrue(env.Valid),
		Transferred:  isTrue(env.Transferred),
		ErrorCode:    asString(env.ErrorCode),
		ErrorMessage: asString(env.ErrorMessage),
	}
	if reply.Valid && reply.Transferred {
		reply.Kind = ReplyAccepted
	}
	return reply
}

// ValidateRefillResponse reports whether a refill response body is a success
func ValidateRefillResponse(body []byte) bool {
	return DecodeRefillReply(body).Kind == ReplyAccepted
}

// ValidateTransferResponse reports whether a transfer response body is a success
func ValidateTransferResponse(body []byte) bool {
	return DecodeTransferReply(body).Kind == ReplyAccepted
}

// ExtractRefillErrorMessage returns a user-facing message for the first
// refill item that was not accepted
func ExtractRefillErrorMessage(body []byte) (string, bool) {
	for _, item := range DecodeRefillReply(body).Items {
		if item.Status != StatusOK {
			return errorMessage(item.ErrorCode, item.ErrorMessage)
		}
	}
	return "", false
}

// ExtractTransferErrorMessage returns a user-facing message from the
// top-level error fields of a transfer response
func ExtractTransferErrorMessage(body []byte) (string, bool) {
	reply := DecodeTransferReply(body)
	if reply.Kind == ReplyUnrecognized {
		return "", false
	}
	return errorMessage(reply.ErrorCode, reply.ErrorMessage)
}

// errorMessage prefers a known code, then the upstream text, then the
// generic text for an unknown code
func errorMessage(code, text string) (string, bool) {
	if msg, ok := lookupCode(code); ok {
		return msg, true
	}
	if text != "" {
		return text, true
	}
	if code != "" {
		return MapErrorCode(code, 0), true
	}
	return "", false
}

func isObject(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '{'
}

func isArray(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '['
}

func isTrue(b []byte) bool {
	return bytes.Equal(bytes.TrimSpace(b), []byte("true"))
}

// asString returns a JSON string value, or "" for any other JSON type
func asString(b []byte) string {
	var s string
	if len(b) == 0 || json.Unmarshal(b, &s) != nil {
		return ""
	}
	return s
}
