// Package forms defines the website form submissions accepted by the portal.
package forms

// Preferred service options for a refill
const (
	ServicePickup   = "pickup"
	ServiceDelivery = "delivery"
)

// RefillRequest asks the pharmacy to redispense existing prescriptions
type RefillRequest struct {
	PatientName string `json:"patientName" validate:"required,max=120"`
	DOB         string `json:"dob" validate:"required,datetime=2006-01-02"`
	Phone       string `json:"phone" validate:"required,usphone"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	// PrescriptionNumbers is free text, comma separated
	PrescriptionNumbers string `json:"prescriptionNumbers" validate:"required,max=500"`
	// MedicationNames pairs with PrescriptionNumbers by position
	MedicationNames  string `json:"medicationNames,omitempty" validate:"max=1000"`
	PreferredService string `json:"preferredService,omitempty" validate:"omitempty,oneof=pickup delivery"`
	Notes            string `json:"notes,omitempty" validate:"max=1000"`
	Consent          bool   `json:"consent" validate:"required"`
}

// PharmacyAddress identifies the pharmacy receiving a transfer
type PharmacyAddress struct {
	Name     string `json:"name" validate:"required,max=120"`
	Address1 string `json:"address1" validate:"required,max=120"`
	Address2 string `json:"address2,omitempty" validate:"max=120"`
	City     string `json:"city" validate:"required,max=80"`
	State    string `json:"state" validate:"required,len=2,alpha"`
	Zip      string `json:"zip" validate:"required,zipcode"`
	Phone    string `json:"phone" validate:"required,usphone"`
	NCPDP    string `json:"ncpdp,omitempty" validate:"omitempty,numeric,len=7"`
}

// TransferRequest asks the pharmacy to send a prescription elsewhere
type TransferRequest struct {
	RxNumber    string          `json:"rxNumber" validate:"required,max=40"`
	RxFillDate  string          `json:"rxFillDate" validate:"required,datetime=2006-01-02"`
	Destination PharmacyAddress `json:"destination"`
	Remark      string          `json:"remark,omitempty" validate:"max=500"`
	Consent     bool            `json:"consent" validate:"required"`
}

// ContactRequest is a general enquiry from the contact form
type ContactRequest struct {
	Name    string `json:"name" validate:"required,max=120"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone,omitempty" validate:"omitempty,usphone"`
	Subject string `json:"subject" validate:"required,max=200"`
	Message string `json:"message" validate:"required,max=2000"`
	Consent bool   `json:"consent" validate:"required"`
}

// WaitlistRequest registers interest in a service that is not open yet
type WaitlistRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone,omitempty" validate:"omitempty,usphone"`
	Interest string `json:"interest,omitempty" validate:"max=200"`
	Consent  bool   `json:"consent" validate:"required"`
}
