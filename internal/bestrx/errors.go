package bestrx

import "net/http"

// User-facing messages. Upstream error text is only shown when no entry here applies.
const (
	MsgInvalidRequest     = "Invalid request. Please check your information and try again."
	MsgAuthFailed         = "Authentication failed. Please contact support."
	MsgServiceUnavailable = "Service temporarily unavailable. Please try again later."
	MsgGeneric            = "An error occurred while processing your request. Please try again."
)

// refillErrors are returned per item by the refill service
var refillErrors = map[string]string{
	"ERROR_INVALID_PHARMACY": "Invalid pharmacy number. Please verify your pharmacy details.",
	"ERROR_INVALID_PATIENT":  "Patient information not found. Please verify your name and date of birth.",
	"ERROR_RX_NOT_FOUND":     "One or more prescription numbers were not found. Please verify the numbers.",
	"ERROR_RX_INACTIVE":      "One or more prescriptions are no longer active. Please contact us for assistance.",
	"ERROR_RX_REFILLED":      "One or more prescriptions have already been refilled recently.",
	"ERROR_GENERIC":          MsgGeneric,
}

// transferErrors are returned at the top level by the transfer service
var transferErrors = map[string]string{
	"ERROR0027": "Prescription not found. Please verify the prescription number.",
	"ERROR0069": "Prescription cannot be transferred. Please contact the pharmacy.",
	"ERROR0070": "Invalid destination pharmacy information.",
	"ERROR0080": "Patient not found in system.",
	"ERROR0003": "Patient date of birth does not match.",
	"ERROR0082": "Transfer limit exceeded. Please try again later.",
}

// lookupCode reports the message for a known refill or transfer error code
func lookupCode(code string) (string, bool) {
	if msg, ok := refillErrors[code]; ok {
		return msg, true
	}
	msg, ok := transferErrors[code]
	return msg, ok
}

// MapErrorCode turns an error code and HTTP status into a user-facing message.
// An unknown code falls back to the status, and an unknown status to the
// generic message, so the result is never empty. Pass status 0 when there is
// no HTTP status to consider.
func MapErrorCode(code string, status int) string {
	if msg, ok := lookupCode(code); ok {
		return msg
	}
	switch status {
	case http.StatusBadRequest:
		return MsgInvalidRequest
	case http.StatusForbidden:
		return MsgAuthFailed
	case http.StatusInternalServerError:
		return MsgServiceUnavailable
	default:
		return MsgGeneric
	}
}
