package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fundscout/fundscout/internal/logger"
	"golang.org/x/crypto/bcrypt"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(nil, nil, logger.Nop())
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("ADMIN_SECRET_HASH", "")
	s := newTestServer(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/ingest/run"},
		{http.MethodPost, "/api/v1/ingest/validate-links"},
		{http.MethodPost, "/api/v1/ingest/featured"},
		{http.MethodGet, "/api/v1/jobs/abc"},
	}
	for _, r := range routes {
		req := httptest.NewRequest(r.method, r.path, nil)
		rec := httptest.NewRecorder()
		s.Echo.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without credentials: status = %d, want 401", r.method, r.path, rec.Code)
		}
	}
}

func TestJobStatusUnknownID(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing secret: %v", err)
	}
	t.Setenv("ADMIN_SECRET_HASH", string(hash))
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/does-not-exist", nil)
	req.Header.Set("X-Admin-Secret", "letmein")
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
