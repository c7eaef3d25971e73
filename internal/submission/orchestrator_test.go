package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxportal/internal/audit"
	"github.com/drfirst/go-rxportal/internal/bestrx"
	"github.com/drfirst/go-rxportal/internal/forms"
	"github.com/drfirst/go-rxportal/internal/observability/metrics"
)

type fakeAPI struct {
	reply *bestrx.Reply
	err   error

	refills   []bestrx.RefillPayload
	transfers []bestrx.TransferPayload
	auth      string
}

func (f *fakeAPI) SendRefill(ctx context.Context, p bestrx.RefillPayload) (*bestrx.Reply, error) {
	f.refills = append(f.refills, p)
	return f.reply, f.err
}

func (f *fakeAPI) SendTransfer(ctx context.Context, p bestrx.TransferPayload, authorization string) (*bestrx.Reply, error) {
	f.transfers = append(f.transfers, p)
	f.auth = authorization
	return f.reply, f.err
}

func (f *fakeAPI) calls() int { return len(f.refills) + len(f.transfers) }

type fakeSink struct {
	err       error
	refills   []audit.RefillRecord
	transfers []audit.TransferRecord
	contacts  []forms.ContactRequest
	waitlist  []forms.WaitlistRequest
	ctxErr    error
	deadline  time.Time
}

func (s *fakeSink) RecordRefill(ctx context.Context, rec audit.RefillRecord) error {
	s.ctxErr = ctx.Err()
	s.deadline, _ = ctx.Deadline()
	s.refills = append(s.refills, rec)
	return s.err
}

func (s *fakeSink) RecordTransfer(ctx context.Context, rec audit.TransferRecord) error {
	s.transfers = append(s.transfers, rec)
	return s.err
}

func (s *fakeSink) RecordContact(ctx context.Context, form forms.ContactRequest) error {
	s.contacts = append(s.contacts, form)
	return s.err
}

func (s *fakeSink) RecordWaitlist(ctx context.Context, form forms.WaitlistRequest) error {
	s.waitlist = append(s.waitlist, form)
	return s.err
}

var testCreds = Credentials{
	PharmacyNumber: "1234567",
	APIKey:         "api-key",
	Username:       "portal",
	Password:       "secret",
}

func refillForm() forms.RefillRequest {
	return forms.RefillRequest{
		PatientName:         "Jane Q Doe",
		DOB:                 "1980-02-03",
		Phone:               "(614) 555-1234",
		PrescriptionNumbers: "111, 222",
		MedicationNames:     "Drug A",
		Consent:             true,
	}
}

func transferForm() forms.TransferRequest {
	return forms.TransferRequest{
		RxNumber:   "7654321",
		RxFillDate: "2026-09-01",
		Destination: forms.PharmacyAddress{
			Name:     "Main Street Pharmacy",
			Address1: "1 Main St",
			City:     "Columbus",
			State:    "OH",
			Zip:      "43215",
			Phone:    "614-555-0000",
		},
		Consent: true,
	}
}

func reply(status int, body string) *bestrx.Reply {
	return &bestrx.Reply{StatusCode: status, Body: []byte(body)}
}

const refillOK = `{"RxInRefillResponse":[{"RxNumber":"111","Status":"OK"},{"RxNumber":"222","Status":"FAILED","ErrorCode":"ERROR_RX_NOT_FOUND"}]}`

func TestSubmitRefillSuccess(t *testing.T) {
	api := &fakeAPI{reply: reply(http.StatusOK, refillOK)}
	sink := &fakeSink{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	o := New(testCreds, api, sink, nil, WithMetrics(m))

	r := o.SubmitRefill(context.Background(), refillForm())

	assert.True(t, r.Success)
	assert.Equal(t, MsgRefillSubmitted, r.Message)
	assert.JSONEq(t, refillOK, string(r.Data))
	assert.Equal(t, FailureNone, r.Failure)

	require.Len(t, api.refills, 1)
	assert.Equal(t, []bestrx.RefillItem{
		{RxNumber: "111", MedicationName: "Drug A"},
		{RxNumber: "222", MedicationName: ""},
	}, api.refills[0].RxInRefillRequest)
	assert.Equal(t, "Doe", api.refills[0].LastName)
	assert.Equal(t, "6145551234", api.refills[0].Phone)

	require.Len(t, sink.refills, 1)
	assert.Equal(t, refillForm(), sink.refills[0].Form)
	assert.JSONEq(t, refillOK, string(sink.refills[0].Response))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("refill", metrics.OutcomeSuccess)))
}

func TestSubmitRefillAuditFailureStillSucceeds(t *testing.T) {
	api := &fakeAPI{reply: reply(http.StatusOK, refillOK)}
	sink := &fakeSink{err: errors.New("connection reset")}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	o := New(testCreds, api, sink, nil, WithMetrics(m))

	r := o.SubmitRefill(context.Background(), refillForm())

	assert.True(t, r.Success)
	assert.Equal(t, MsgRefillSubmitted, r.Message)
	assert.NotEmpty(t, r.Data)
	assert.Len(t, sink.refills, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditFailures.WithLabelValues("refill")))
}

func TestSubmitRefillAuditSurvivesCancelledRequest(t *testing.T) {
	api := &fakeAPI{reply: reply(http.StatusOK, refillOK)}
	sink := &fakeSink{}
	o := New(testCreds, api, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := o.SubmitRefill(ctx, refillForm())

	assert.True(t, r.Success)
	require.Len(t, sink.refills, 1)
	assert.NoError(t, sink.ctxErr)
}

func TestSubmitRefillAuditTimeout(t *testing.T) {
	api := &fakeAPI{reply: reply(http.StatusOK, refillOK)}
	sink := &fakeSink{}
	o := New(testCreds, api, sink, nil, WithAuditTimeout(2*time.Second))

	start := time.Now()
	r := o.SubmitRefill(context.Background(), refillForm())

	assert.True(t, r.Success)
	require.Len(t, sink.refills, 1)
	assert.WithinDuration(t, start.Add(2*time.Second), sink.deadline, time.Second)
}

func TestSubmitRefillNotConfigured(t *testing.T) {
	for _, tc := range []struct {
		name  string
		creds Credentials
	}{
		{"missing api key", Credentials{PharmacyNumber: "1", Username: "u", Password: "p"}},
		{"missing pharmacy number", Credentials{APIKey: "k", Username: "u"}},
		{"missing username", Credentials{PharmacyNumber: "1", APIKey: "k"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{reply: reply(http.StatusOK, refillOK)}
			sink := &fakeSink{}

			r := New(tc.creds, api, sink, nil).SubmitRefill(context.Background(), refillForm())

			assert.False(t, r.Success)
			assert.Equal(t, "Pharmacy service is not properly configured. Please contact support.", r.Message)
			assert.Equal(t, FailureConfiguration, r.Failure)
			assert.Zero(t, api.calls())
			assert.Empty(t, sink.refills)
		})
	}
}

func TestSubmitRefillFailures(t *testing.T) {
	for _, tc := range []struct {
		name    string
		reply   *bestrx.Reply
		err     error
		message string
		failure FailureKind
	}{
		{
			name:    "403 without error code",
			reply:   reply(http.StatusForbidden, `{}`),
			message: "Authentication failed. Please contact support.",
			failure: FailureRejected,
		},
		{
			name:    "403 empty body",
			reply:   reply(http.StatusForbidden, ""),
			message: MsgUnreachable,
			failure: FailureTransport,
		},
		{
			name:    "403 with json but no code",
			reply:   reply(http.StatusForbidden, `{"message":"Forbidden"}`),
			message: bestrx.MsgAuthFailed,
			failure: FailureRejected,
		},
		{
			name:    "400 html body",
			reply:   reply(http.StatusBadRequest, "<html>bad</html>"),
			message: MsgUnreachable,
			failure: FailureTransport,
		},
		{
			name:    "500 html body",
			reply:   reply(http.StatusInternalServerError, "<html>Internal Server Error</html>"),
			message: "Unable to connect to pharmacy service. Please try again later.",
			failure: FailureTransport,
		},
		{
			name:    "500 with known item code",
			reply:   reply(http.StatusInternalServerError, `{"RxInRefillResponse":[{"Status":"FAILED","ErrorCode":"ERROR_INVALID_PATIENT"}]}`),
			message: "Patient information not found. Please verify your name and date of birth.",
			failure: FailureRejected,
		},
		{
			name:    "200 with no ok item",
			reply:   reply(http.StatusOK, `{"RxInRefillResponse":[{"Status":"FAILED","ErrorCode":"ERROR_RX_REFILLED"}]}`),
			message: "One or more prescriptions have already been refilled recently.",
			failure: FailureRejected,
		},
		{
			name:    "200 with raw error text",
			reply:   reply(http.StatusOK, `{"RxInRefillResponse":[{"Status":"FAILED","ErrorMessage":"Store closed"}]}`),
			message: "Store closed",
			failure: FailureRejected,
		},
		{
			name:    "200 with empty array",
			reply:   reply(http.StatusOK, `{"RxInRefillResponse":[]}`),
			message: bestrx.MsgGeneric,
			failure: FailureRejected,
		},
		{
			name:    "200 unrecognized shape",
			reply:   reply(http.StatusOK, `{"status":"ok"}`),
			message: bestrx.MsgGeneric,
			failure: FailureRejected,
		},
		{
			name:    "200 non-json body",
			reply:   reply(http.StatusOK, "OK"),
			message: "Unable to connect to pharmacy service. Please try again later.",
			failure: FailureTransport,
		},
		{
			name:    "transport error",
			err:     fmt.Errorf("%w: dial tcp: connection refused", bestrx.ErrTransport),
			message: MsgUnreachable,
			failure: FailureTransport,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{reply: tc.reply, err: tc.err}
			sink := &fakeSink{}

			r := New(testCreds, api, sink, nil).SubmitRefill(context.Background(), refillForm())

			assert.False(t, r.Success)
			assert.Equal(t, tc.message, r.Message)
			assert.Equal(t, tc.failure, r.Failure)
			assert.Nil(t, r.Data)
			assert.Empty(t, sink.refills)
			assert.Equal(t, 1, api.calls())
		})
	}
}

func TestSubmitTransferSuccess(t *testing.T) {
	body := `{"valid":true,"transferred":true}`
	api := &fakeAPI{reply: reply(http.StatusOK, body)}
	sink := &fakeSink{}
	clock := func() time.Time {
		return time.Date(2026, 10, 17, 23, 30, 0, 0, time.FixedZone("EDT", -4*3600))
	}
	o := New(testCreds, api, sink, nil, WithClock(clock))

	r := o.SubmitTransfer(context.Background(), transferForm())

	assert.True(t, r.Success)
	assert.Equal(t, MsgTransferSubmitted, r.Message)
	require.Len(t, api.transfers, 1)
	assert.Equal(t, "2026-10-18", api.transfers[0].TransferDate)
	assert.Equal(t, "6145550000", api.transfers[0].TransferToPharmacy.Phone)
	assert.Equal(t, bestrx.BuildAuthHeader("portal", "secret"), api.auth)
	require.Len(t, sink.transfers, 1)
	assert.Equal(t, transferForm(), sink.transfers[0].Form)
}

func TestSubmitTransferRejected(t *testing.T) {
	for _, tc := range []struct {
		name    string
		body    string
		message string
	}{
		{"known code", `{"valid":true,"transferred":false,"errorCode":"ERROR0069"}`, "Prescription cannot be transferred. Please contact the pharmacy."},
		{"string flags", `{"valid":"true","transferred":"true"}`, bestrx.MsgGeneric},
		{"unknown code", `{"valid":false,"errorCode":"ERROR9999"}`, bestrx.MsgGeneric},
		{"raw text", `{"valid":false,"errorMessage":"Pharmacy offline"}`, "Pharmacy offline"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{reply: reply(http.StatusOK, tc.body)}
			sink := &fakeSink{}

			r := New(testCreds, api, sink, nil).SubmitTransfer(context.Background(), transferForm())

			assert.False(t, r.Success)
			assert.Equal(t, tc.message, r.Message)
			assert.Empty(t, sink.transfers)
		})
	}
}

func TestSubmitTransferNotConfigured(t *testing.T) {
	api := &fakeAPI{}
	creds := testCreds
	creds.Password = ""

	r := New(creds, api, &fakeSink{}, nil).SubmitTransfer(context.Background(), transferForm())

	assert.Equal(t, MsgNotConfigured, r.Message)
	assert.Zero(t, api.calls())
}

func TestSubmitContactAndWaitlist(t *testing.T) {
	sink := &fakeSink{}
	o := New(Credentials{}, &fakeAPI{}, sink, nil)

	r := o.SubmitContact(context.Background(), forms.ContactRequest{Name: "A"})
	assert.True(t, r.Success)
	assert.Equal(t, MsgContactReceived, r.Message)
	assert.Len(t, sink.contacts, 1)

	r = o.SubmitWaitlist(context.Background(), forms.WaitlistRequest{Name: "B"})
	assert.True(t, r.Success)
	assert.Equal(t, MsgWaitlistJoined, r.Message)
	assert.Len(t, sink.waitlist, 1)
}

func TestSubmitContactStoreFailure(t *testing.T) {
	sink := &fakeSink{err: errors.New("db down")}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	o := New(Credentials{}, &fakeAPI{}, sink, nil, WithMetrics(m))

	r := o.SubmitContact(context.Background(), forms.ContactRequest{})
	assert.False(t, r.Success)
	assert.Equal(t, MsgStoreFailed, r.Message)
	assert.Equal(t, FailureStore, r.Failure)

	r = o.SubmitWaitlist(context.Background(), forms.WaitlistRequest{})
	assert.Equal(t, FailureStore, r.Failure)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("waitlist", metrics.OutcomeStoreFailed)))
}

// Wires the real client against a stub server
func TestSubmitRefillOverHTTP(t *testing.T) {
	var got bestrx.RefillPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"message":"Forbidden"}`)
	}))
	defer srv.Close()

	client := bestrx.NewClient(bestrx.Config{RefillURL: srv.URL, Timeout: time.Second}, nil, nil, nil)
	sink := &fakeSink{}

	r := New(testCreds, client, sink, nil).SubmitRefill(context.Background(), refillForm())

	assert.False(t, r.Success)
	assert.Equal(t, "Authentication failed. Please contact support.", r.Message)
	assert.Equal(t, "api-key", got.APIKey)
	assert.Len(t, got.RxInRefillRequest, 2)
	assert.Empty(t, sink.refills)
}

func TestSubmitRefillServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, refillOK)
	}))
	url := srv.URL
	srv.Close()

	client := bestrx.NewClient(bestrx.Config{RefillURL: url, Timeout: time.Second}, nil, nil, nil)
	r := New(testCreds, client, &fakeSink{}, nil).SubmitRefill(context.Background(), refillForm())

	assert.Equal(t, MsgUnreachable, r.Message)
	assert.Equal(t, FailureTransport, r.Failure)
}

func TestResultJSONHidesFailureKind(t *testing.T) {
	b, err := json.Marshal(failed(FailureTransport, MsgUnreachable))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"message":"Unable to connect to pharmacy service. Please try again later."}`, string(b))
}

func TestCredentialsStringRedacts(t *testing.T) {
	s := fmt.Sprintf("%v %+v %#v", testCreds, testCreds, testCreds)
	assert.NotContains(t, s, "api-key")
	assert.NotContains(t, s, "secret")
	assert.Contains(t, s, "1234567")
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, StatusIdle, tr.Status())

	require.NoError(t, tr.Begin())
	assert.Equal(t, StatusSubmitting, tr.Status())
	assert.ErrorIs(t, tr.Begin(), ErrAlreadySubmitted)

	assert.Equal(t, StatusError, tr.Finish(Result{}))
	assert.Equal(t, StatusError, tr.Finish(Result{Success: true}))

	tr = NewTracker()
	assert.Equal(t, StatusIdle, tr.Finish(Result{Success: true}))
	require.NoError(t, tr.Begin())
	assert.Equal(t, StatusSuccess, tr.Finish(Result{Success: true}))
}
