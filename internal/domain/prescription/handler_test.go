package prescription

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pouchrx/pouchrx/internal/platform/auth"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	return NewHandler(f.svc), f, echo.New()
}

func withUser(req *http.Request, id uuid.UUID, roles ...string) *http.Request {
	return req.WithContext(auth.WithUser(req.Context(), id.String(), roles))
}

func TestHandler_Issue(t *testing.T) {
	h, _, e := newTestHandler()
	body := `{"owner_id":"` + uuid.New().String() + `","max_strength_mg":6}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = withUser(req, uuid.New(), auth.RoleDoctor)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Issue(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_Issue_BadStrength(t *testing.T) {
	h, _, e := newTestHandler()
	body := `{"owner_id":"` + uuid.New().String() + `","max_strength_mg":20}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = withUser(req, uuid.New(), auth.RoleDoctor)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.Issue(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Upload(t *testing.T) {
	h, _, e := newTestHandler()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="rx.pdf"`)
	hdr.Set("Content-Type", "application/pdf")
	part, _ := w.CreatePart(hdr)
	part.Write([]byte("%PDF-1.7"))
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req = withUser(req, uuid.New(), auth.RolePatient)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Upload(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var p Prescription
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.Status != StatusPendingReview {
		t.Errorf("expected pending_review, got %s", p.Status)
	}
}

func TestHandler_Upload_MissingFile(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = withUser(req, uuid.New())
	c := e.NewContext(req, httptest.NewRecorder())
	if err := h.Upload(c); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestHandler_Get_HidesOtherPatients(t *testing.T) {
	h, f, e := newTestHandler()
	owner := uuid.New()
	p, _ := f.svc.Issue(asUser(uuid.New(), auth.RoleDoctor), IssueRequest{OwnerID: owner, MaxStrengthMg: 3})

	req := withUser(httptest.NewRequest(http.MethodGet, "/", nil), uuid.New(), auth.RolePatient)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	err := h.Get(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for another patient's prescription, got %v", err)
	}

	req = withUser(httptest.NewRequest(http.MethodGet, "/", nil), owner, auth.RolePatient)
	rec := httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.Get(c); err != nil {
		t.Fatalf("owner should see prescription: %v", err)
	}
}

func TestHandler_Approve_Conflict(t *testing.T) {
	h, f, e := newTestHandler()
	p, _ := f.svc.Issue(asUser(uuid.New(), auth.RoleDoctor), IssueRequest{OwnerID: uuid.New(), MaxStrengthMg: 3})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"max_strength_mg":3}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = withUser(req, uuid.New(), auth.RoleDoctor)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())

	err := h.Approve(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_DocumentURL(t *testing.T) {
	h, f, e := newTestHandler()
	p, _ := f.svc.Upload(asUser(uuid.New()), "rx.pdf", "application/pdf", strings.NewReader("%PDF"))

	req := withUser(httptest.NewRequest(http.MethodGet, "/", nil), uuid.New(), auth.RoleDoctor)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())

	if err := h.DocumentURL(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp documentURLResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !strings.HasPrefix(resp.URL, "/api/v1/documents/") {
		t.Errorf("unexpected url %s", resp.URL)
	}
}

func TestHandler_InvalidID(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if err := h.Get(c); err == nil {
		t.Error("expected error for invalid id")
	}
}
