package chi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func authProtected(keys []string) http.Handler {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return BearerAuthMiddleware(keys)(next)
}

func doRequest(h http.Handler, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBearerAuth_Disabled(t *testing.T) {
	h := authProtected(nil)
	if rec := doRequest(h, "/query", ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want pass-through without configured keys", rec.Code)
	}
}

func TestBearerAuth_ValidKey(t *testing.T) {
	h := authProtected([]string{"secret-key"})
	if rec := doRequest(h, "/query", "Bearer secret-key"); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for a valid key", rec.Code)
	}
}

func TestBearerAuth_Rejections(t *testing.T) {
	h := authProtected([]string{"secret-key"})

	tests := []struct {
		name          string
		authorization string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic secret-key"},
		{"invalid key", "Bearer wrong-key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := doRequest(h, "/query", tt.authorization); rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestBearerAuth_ExemptPaths(t *testing.T) {
	h := authProtected([]string{"secret-key"})

	for _, path := range []string{"/healthz", "/metrics"} {
		if rec := doRequest(h, path, ""); rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want exemption from auth", path, rec.Code)
		}
	}
}
