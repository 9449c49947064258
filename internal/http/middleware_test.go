package http

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/fleet-reservations/internal/logging"
)

func TestRequirePrincipal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		userID     string
		admin      string
		wantStatus int
		wantAdmin  bool
		wantCalled bool
	}{
		{name: "missing user header", wantStatus: http.StatusUnauthorized},
		{name: "driver", userID: "u1", wantStatus: http.StatusOK, wantCalled: true},
		{name: "administrator", userID: "u2", admin: "true", wantStatus: http.StatusOK, wantAdmin: true, wantCalled: true},
		{name: "unparseable admin flag", userID: "u3", admin: "yes please", wantStatus: http.StatusOK, wantCalled: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			called := false
			handler := RequirePrincipal(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				principal, ok := PrincipalFromContext(r.Context())
				if !ok {
					t.Fatalf("expected principal in context")
				}
				if principal.UserID != tc.userID || principal.IsAdmin != tc.wantAdmin {
					t.Fatalf("unexpected principal: %#v", principal)
				}
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/reservations", nil)
			if tc.userID != "" {
				req.Header.Set(headerUserID, tc.userID)
			}
			if tc.admin != "" {
				req.Header.Set(headerIsAdmin, tc.admin)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
			if called != tc.wantCalled {
				t.Fatalf("expected called=%v, got %v", tc.wantCalled, called)
			}
		})
	}
}

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := logging.New(&buf, "info")

	handler := RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if logging.FromContext(r.Context()) == nil {
			t.Fatalf("expected request logger in context")
		}
		w.WriteHeader(http.StatusTeapot)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/reservations", nil))

	out := buf.String()
	if !strings.Contains(out, `"msg":"request completed"`) || !strings.Contains(out, `"status":418`) {
		t.Fatalf("unexpected log output: %s", out)
	}
	if !strings.Contains(out, `"path":"/reservations"`) {
		t.Fatalf("expected request path in log output: %s", out)
	}
}
