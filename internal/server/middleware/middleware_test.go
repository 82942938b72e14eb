package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantAllow  string
	}{
		{"no origin header", []string{"https://a.example"}, http.MethodGet, "", false, http.StatusOK, ""},
		{"listed origin", []string{"https://a.example"}, http.MethodGet, "https://A.example", false, http.StatusOK, "https://A.example"},
		{"unlisted origin", []string{"https://a.example"}, http.MethodGet, "https://b.example", false, http.StatusOK, ""},
		{"wildcard", []string{"*"}, http.MethodGet, "https://b.example", false, http.StatusOK, "*"},
		{"preflight listed", []string{"https://a.example"}, http.MethodOptions, "https://a.example", true, http.StatusNoContent, "https://a.example"},
		{"preflight unlisted", []string{"https://a.example"}, http.MethodOptions, "https://b.example", true, http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/status", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodGet)
			}
			rr := httptest.NewRecorder()
			CORS(tt.origins)(okHandler()).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Fatalf("allow-origin = %q, want %q", got, tt.wantAllow)
			}
			if tt.preflight && tt.wantStatus == http.StatusNoContent {
				if got := rr.Header().Get("Access-Control-Allow-Methods"); got != "GET, OPTIONS" {
					t.Fatalf("allow-methods = %q", got)
				}
			}
		})
	}
}

func TestLogging_LevelByStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ok", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("fine")) })
	mux.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	h := Logging(logger)(mux)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	if buf.Len() != 0 {
		t.Fatalf("2xx logged above debug: %s", buf.String())
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/7", nil))
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "status=404") {
		t.Fatalf("log = %s", out)
	}
	if !strings.Contains(out, `route="GET /items/{id}"`) {
		t.Fatalf("route not recorded: %s", out)
	}
}

func TestAuth_Disabled(t *testing.T) {
	rr := httptest.NewRecorder()
	Auth("")(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAuth_Challenge(t *testing.T) {
	rr := httptest.NewRecorder()
	Auth("k")(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized || rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("status = %d headers = %v", rr.Code, rr.Header())
	}
}
