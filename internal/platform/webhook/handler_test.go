package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestServer() (*echo.Echo, *Dispatcher) {
	d := NewDispatcher(NewInMemoryStore(), zerolog.Nop())
	e := echo.New()
	NewHandler(d).RegisterRoutes(e.Group("/webhooks"))
	return e, d
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_RegisterAndGet(t *testing.T) {
	e, _ := newTestServer()

	rec := doJSON(e, http.MethodPost, "/webhooks", `{"url":"https://example.com/hook","events":["session.*"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created Endpoint
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Secret == "" {
		t.Error("registration response should include the generated secret")
	}

	rec = doJSON(e, http.MethodGet, "/webhooks/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var fetched Endpoint
	_ = json.Unmarshal(rec.Body.Bytes(), &fetched)
	if fetched.Secret != "" {
		t.Error("secret must not be returned on reads")
	}
}

func TestHandler_RegisterRejectsBadURL(t *testing.T) {
	e, _ := newTestServer()

	rec := doJSON(e, http.MethodPost, "/webhooks", `{"url":"not-a-url","events":["*"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandler_ListPaginates(t *testing.T) {
	e, d := newTestServer()
	for i := 0; i < 3; i++ {
		if _, err := d.Register(context.Background(), "https://example.com/hook", "", []string{"*"}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	rec := doJSON(e, http.MethodGet, "/webhooks?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var resp struct {
		Data    []Endpoint `json:"data"`
		Total   int        `json:"total"`
		HasMore bool       `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Data) != 2 || resp.Total != 3 || !resp.HasMore {
		t.Errorf("unexpected page: len=%d total=%d has_more=%v", len(resp.Data), resp.Total, resp.HasMore)
	}
}

func TestHandler_PauseResumeDelete(t *testing.T) {
	e, d := newTestServer()
	ep, _ := d.Register(context.Background(), "https://example.com/hook", "", []string{"*"})

	rec := doJSON(e, http.MethodPost, "/webhooks/"+ep.ID+"/pause", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d", rec.Code)
	}
	got, _ := d.store.GetEndpoint(context.Background(), ep.ID)
	if got.Status != StatusPaused {
		t.Errorf("status after pause = %q", got.Status)
	}

	rec = doJSON(e, http.MethodPost, "/webhooks/"+ep.ID+"/resume", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d", rec.Code)
	}

	rec = doJSON(e, http.MethodDelete, "/webhooks/"+ep.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(e, http.MethodDelete, "/webhooks/"+ep.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestHandler_TestEndpoint(t *testing.T) {
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	e, d := newTestServer()
	ep, _ := d.Register(context.Background(), receiver.URL, "", []string{"session.*"})

	rec := doJSON(e, http.MethodPost, "/webhooks/"+ep.ID+"/test", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("test status = %d, body %s", rec.Code, rec.Body.String())
	}
	var attempt Delivery
	_ = json.Unmarshal(rec.Body.Bytes(), &attempt)
	if !attempt.Succeeded {
		t.Errorf("test delivery should succeed: %+v", attempt)
	}
}
