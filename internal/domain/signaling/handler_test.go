package signaling

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/domain/telehealth"
)

func newTestHandler() (*Handler, *fakeGate, *echo.Echo) {
	svc, gate := newTestDispatcher()
	return NewHandler(svc), gate, echo.New()
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func postSignal(e *echo.Echo, sessionID, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(sessionID)
	return c, rec
}

func TestHandler_SendSignal(t *testing.T) {
	h, gate, e := newTestHandler()
	sess := gate.addSession(telehealth.StatusActive)

	body := `{"sender_id":"` + sess.PatientID.String() + `","type":"offer","payload":{"sdp":"v=0"}}`
	c, rec := postSignal(e, sess.ID.String(), body)

	if err := h.SendSignal(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var msg Message
	json.Unmarshal(rec.Body.Bytes(), &msg)
	if msg.RecipientID != sess.TherapistID {
		t.Error("expected recipient to be the other party")
	}
}

func TestHandler_SendSignal_Errors(t *testing.T) {
	h, gate, e := newTestHandler()
	sess := gate.addSession(telehealth.StatusActive)

	cases := []struct {
		name      string
		sessionID string
		body      string
		want      int
	}{
		{"unknown session", uuid.NewString(), `{"sender_id":"` + sess.PatientID.String() + `","type":"offer"}`, http.StatusNotFound},
		{"outsider", sess.ID.String(), `{"sender_id":"` + uuid.NewString() + `","type":"offer"}`, http.StatusForbidden},
		{"bad kind", sess.ID.String(), `{"sender_id":"` + sess.PatientID.String() + `","type":"wave"}`, http.StatusBadRequest},
		{"bad session id", "not-a-uuid", `{}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := postSignal(e, tc.sessionID, tc.body)
			if code := httpStatus(t, h.SendSignal(c)); code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, code)
			}
		})
	}
}

func TestHandler_PollSignals(t *testing.T) {
	h, gate, e := newTestHandler()
	sess := gate.addSession(telehealth.StatusActive)

	body := `{"sender_id":"` + sess.PatientID.String() + `","type":"offer","payload":{"sdp":"v=0"}}`
	c, _ := postSignal(e, sess.ID.String(), body)
	if err := h.SendSignal(c); err != nil {
		t.Fatalf("send: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/?user_id="+sess.TherapistID.String(), nil)
	rec := httptest.NewRecorder()
	pc := e.NewContext(req, rec)
	pc.SetParamNames("id")
	pc.SetParamValues(sess.ID.String())

	if err := h.PollSignals(pc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var msgs []*Message
	json.Unmarshal(rec.Body.Bytes(), &msgs)
	if len(msgs) != 1 || msgs[0].Kind != KindOffer {
		t.Errorf("expected the offer, got %d messages", len(msgs))
	}

	// A second poll returns an empty array, not null.
	rec2 := httptest.NewRecorder()
	pc2 := e.NewContext(httptest.NewRequest(http.MethodGet, "/?user_id="+sess.TherapistID.String(), nil), rec2)
	pc2.SetParamNames("id")
	pc2.SetParamValues(sess.ID.String())
	if err := h.PollSignals(pc2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body := strings.TrimSpace(rec2.Body.String()); body != "[]" {
		t.Errorf("expected empty array, got %q", body)
	}
}

func TestHandler_PollSignals_BadUser(t *testing.T) {
	h, gate, e := newTestHandler()
	sess := gate.addSession(telehealth.StatusActive)

	req := httptest.NewRequest(http.MethodGet, "/?user_id=bogus", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID.String())

	if code := httpStatus(t, h.PollSignals(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}
