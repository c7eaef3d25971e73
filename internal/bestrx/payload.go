// Package bestrx talks to the BestRX pharmacy web services.
//
// The request and response shapes are owned by BestRX; field names and
// nesting here must match their endpoints exactly.
package bestrx

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/drfirst/go-rxportal/internal/forms"
)

// DefaultDeliveryOption is sent when the patient did not pick a service
const DefaultDeliveryOption = "Pickup"

// RefillPayload is the SendRefillRequest body
type RefillPayload struct {
	UserName          string       `json:"userName"`
	APIKey            string       `json:"APIKey"`
	PharmacyNumber    string       `json:"PharmacyNumber"`
	LastName          string       `json:"LastName"`
	DOB               string       `json:"DOB"`
	Phone             string       `json:"Phone"`
	DeliveryOption    string       `json:"DeliveryOption"`
	RxInRefillRequest []RefillItem `json:"RxInRefillRequest"`
}

// RefillItem is one prescription in a refill request
type RefillItem struct {
	RxNumber       string `json:"RxNumber"`
	MedicationName string `json:"MedicationName"`
}

// TransferPayload is the submitrxtransferrequest body
type TransferPayload struct {
	PharmacyNumber     string             `json:"PharmacyNumber"`
	RxNo               string             `json:"RxNo"`
	RxFillDate         string             `json:"RxFillDate"`
	TransferToPharmacy TransferToPharmacy `json:"TransferToPharmacy"`
	TransferDate       string             `json:"TransferDate"`
	Comments           string             `json:"Comments"`
}

// TransferToPharmacy is the destination block of a transfer
type TransferToPharmacy struct {
	Name     string `json:"Name"`
	Address  string `json:"Address"`
	Address2 string `json:"Address2"`
	City     string `json:"City"`
	State    string `json:"State"`
	Zip      string `json:"Zip"`
	Phone    string `json:"Phone"`
	NCPDP    string `json:"NCPDP"`
}

// BuildRefillPayload maps a refill form onto the BestRX refill request.
//
// Prescription numbers and medication names are paired by position. When
// fewer medication names than prescription numbers are given, the remaining
// items carry an empty MedicationName.
func BuildRefillPayload(form forms.RefillRequest, pharmacyNumber, apiKey, username string) RefillPayload {
	rxNumbers := splitList(form.PrescriptionNumbers)
	medications := splitList(form.MedicationNames)

	items := make([]RefillItem, len(rxNumbers))
	for i, rx := range rxNumbers {
		items[i] = RefillItem{RxNumber: rx}
		if i < len(medications) {
			items[i].MedicationName = medications[i]
		}
	}

	return RefillPayload{
		UserName:          username,
		APIKey:            apiKey,
		PharmacyNumber:    pharmacyNumber,
		LastName:          lastName(form.PatientName),
		DOB:               form.DOB,
		Phone:             FormatPhone(form.Phone),
		DeliveryOption:    deliveryOption(form.PreferredService),
		RxInRefillRequest: items,
	}
}

// BuildTransferPayload maps a transfer form onto the BestRX transfer request.
// TransferDate is the UTC calendar date of now, not a form field.
func BuildTransferPayload(form forms.TransferRequest, pharmacyNumber string, now time.Time) TransferPayload {
	dest := form.Destination
	return TransferPayload{
		PharmacyNumber: pharmacyNumber,
		RxNo:           form.RxNumber,
		RxFillDate:     form.RxFillDate,
		TransferToPharmacy: TransferToPharmacy{
			Name:     dest.Name,
			Address:  dest.Address1,
			Address2: dest.Address2,
			City:     dest.City,
			State:    dest.State,
			Zip:      dest.Zip,
			Phone:    FormatPhone(dest.Phone),
			NCPDP:    dest.NCPDP,
		},
		TransferDate: now.UTC().Format(time.DateOnly),
		Comments:     form.Remark,
	}
}

// BuildAuthHeader returns the HTTP Basic Authorization value for the transfer service
func BuildAuthHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// FormatPhone keeps only the ASCII digits of a phone number
func FormatPhone(phone string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
}

// splitList splits free text on commas, trimming and dropping empty tokens
func splitList(s string) []string {
	var out []string
	for _, tok := range strings.Split(s, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func lastName(fullName string) string {
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return strings.TrimSpace(fullName)
	}
	return parts[len(parts)-1]
}

// deliveryOption maps the form's lowercase service to the capitalized option
// names BestRX takes, the same form as the Pickup default
func deliveryOption(service string) string {
	service = strings.TrimSpace(service)
	if service == "" {
		return DefaultDeliveryOption
	}
	return strings.ToUpper(service[:1]) + strings.ToLower(service[1:])
}
