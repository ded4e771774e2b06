package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func invokeWithSecret(t *testing.T, configured, provided string) (*httptest.ResponseRecorder, bool) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/aggregate", nil)
	if provided != "" {
		req.Header.Set(secretHeader, provided)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	reached := false
	handler := cronSecretMiddleware(configured)(func(echo.Context) error {
		reached = true
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return rec, reached
}

func TestCronSecretMiddlewareFailsClosedWhenUnconfigured(t *testing.T) {
	t.Parallel()

	rec, reached := invokeWithSecret(t, "", "anything")
	if reached {
		t.Fatal("handler reached with no secret configured")
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestCronSecretMiddlewareRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	rec, reached := invokeWithSecret(t, "right", "wrong")
	if reached {
		t.Fatal("handler reached with wrong secret")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestCronSecretMiddlewareRejectsMissingHeader(t *testing.T) {
	t.Parallel()

	rec, reached := invokeWithSecret(t, "right", "")
	if reached {
		t.Fatal("handler reached without the secret header")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestCronSecretMiddlewareAllowsMatch(t *testing.T) {
	t.Parallel()

	rec, reached := invokeWithSecret(t, "right", "right")
	if !reached {
		t.Fatal("handler not reached with the correct secret")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
