package intake

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func submit(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/intake", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(asPatient(uuid.New()))
	rec := httptest.NewRecorder()
	if err := h.Submit(echo.New().NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestHandler_Submit(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)

	rec := submit(t, h, `{"date_of_birth":"1990-01-01","smoker_status":"current"}`)
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	rec = submit(t, h, `{"date_of_birth":"2012-01-01","smoker_status":"current"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for underage, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "at least 18") {
		t.Errorf("expected age reason in body, got %s", rec.Body.String())
	}
}
