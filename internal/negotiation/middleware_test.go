package negotiation

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return resp.Error.Code
}

func TestMiddleware_MissingHeader(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler called without client header")
	})
	wrapped := Middleware(VersionPolicy{MinVersion: "1.4.0"}, testLogger())(handler)

	req := httptest.NewRequest("GET", "/checkout-sessions/123", nil)
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if code := decodeErrorCode(t, w); code != ClientRequired {
		t.Errorf("Error code = %s, want %s", code, ClientRequired)
	}
}

func TestMiddleware_InvalidHeader(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler called with invalid header")
	})
	wrapped := Middleware(VersionPolicy{}, testLogger())(handler)

	req := httptest.NewRequest("GET", "/checkout-sessions/123", nil)
	req.Header.Set(ClientHeader, `name="wholesale-web"`)
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestMiddleware_ValidHeader(t *testing.T) {
	var got ClientInfo
	var ok bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = GetClientInfo(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	wrapped := Middleware(VersionPolicy{MinVersion: "1.4.0"}, testLogger())(handler)

	req := httptest.NewRequest("POST", "/checkout-sessions", nil)
	req.Header.Set(ClientHeader, `name="wholesale-web", version="1.5.0"`)
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d\nBody: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if !ok || got.Name != "wholesale-web" || got.Version != "1.5.0" {
		t.Errorf("client info = %+v, %v", got, ok)
	}
}

func TestMiddleware_OutdatedClient(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler called for outdated client")
	})
	wrapped := Middleware(VersionPolicy{MinVersion: "1.4.0"}, testLogger())(handler)

	req := httptest.NewRequest("POST", "/checkout-sessions/abc/commit", nil)
	req.Header.Set(ClientHeader, `version="1.3.2"`)
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)

	if w.Code != http.StatusUpgradeRequired {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusUpgradeRequired)
	}
	if code := decodeErrorCode(t, w); code != ClientUpgradeRequired {
		t.Errorf("Error code = %s, want %s", code, ClientUpgradeRequired)
	}
}

func TestMiddleware_ExemptPaths(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetClientInfo(r.Context()); ok {
			t.Error("exempt path carried client info")
		}
		w.WriteHeader(http.StatusOK)
	})
	wrapped := Middleware(VersionPolicy{MinVersion: "1.4.0"}, testLogger())(handler)

	for _, path := range []string{"/health", "/healthz", "/metrics", "/mcp"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest("GET", path, nil)
			w := httptest.NewRecorder()
			wrapped.ServeHTTP(w, req)
			if w.Code != http.StatusOK {
				t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
			}
		})
	}
}
