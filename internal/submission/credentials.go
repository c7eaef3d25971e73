package submission

import "fmt"

// Credentials for the pharmacy service. They are injected at construction
// and never logged.
type Credentials struct {
	PharmacyNumber string
	APIKey         string
	Username       string
	Password       string
}

// RefillReady reports whether every credential a refill needs is set
func (c Credentials) RefillReady() bool {
	return c.PharmacyNumber != "" && c.APIKey != "" && c.Username != ""
}

// TransferReady reports whether every credential a transfer needs is set
func (c Credentials) TransferReady() bool {
	return c.PharmacyNumber != "" && c.Username != "" && c.Password != ""
}

// String redacts secrets so credentials are safe in %v output
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{PharmacyNumber:%s Username:%s APIKey:%s Password:%s}",
		c.PharmacyNumber, c.Username, redact(c.APIKey), redact(c.Password))
}

// GoString keeps %#v redacted too
func (c Credentials) GoString() string { return c.String() }

func redact(s string) string {
	if s == "" {
		return "<unset>"
	}
	return "<redacted>"
}
