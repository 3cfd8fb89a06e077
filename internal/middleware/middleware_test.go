package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"interactionlog/internal/apperrors"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var body APIError
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestAPIChainSetsRequestIDAndRecovers(t *testing.T) {
	h := API(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Errorf("request id missing from context")
		}
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("X-Request-ID header missing")
	}
	body := decodeError(t, rec)
	if body.Success || body.Code != CodeInternal || body.RequestID == "" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestRequestIDKeepsClientValue(t *testing.T) {
	var got string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-123")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "client-123" {
		t.Fatalf("request id = %q", got)
	}
}

func TestRequestIDExtractsTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	var sc trace.SpanContext
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc = trace.SpanContextFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !sc.IsValid() || !sc.IsRemote() {
		t.Fatalf("span context = %+v, want a valid remote context", sc)
	}
	if got := sc.TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("trace id = %s", got)
	}
}

func TestWriteErrorMapsKinds(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		details bool
	}{
		{"validation", apperrors.Validation(map[string]string{"branch": "Branch is required"}), http.StatusBadRequest, CodeValidation, true},
		{"configuration", apperrors.Configuration("storage not configured", nil), http.StatusServiceUnavailable, CodeConfiguration, false},
		{"transport", apperrors.Transport("database unavailable", errors.New("locked")), http.StatusServiceUnavailable, CodeUnavailable, false},
		{"plain", errors.New("disk full"), http.StatusInternalServerError, CodeInternal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, httptest.NewRequest(http.MethodPost, "/api/interactions", nil), tt.err)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			body := decodeError(t, rec)
			if body.Code != tt.code || (len(body.Details) > 0) != tt.details {
				t.Fatalf("unexpected body %+v", body)
			}
			if tt.status == http.StatusInternalServerError && strings.Contains(body.Error, "disk") {
				t.Fatalf("internal error leaked: %q", body.Error)
			}
		})
	}
}

func TestMethods(t *testing.T) {
	h := Methods(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), http.MethodGet)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("GET status = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != "GET" {
		t.Fatalf("DELETE status = %d allow = %q", rec.Code, rec.Header().Get("Allow"))
	}
}

func TestParseJSONRequest(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name        string
		contentType string
		body        string
		wantErr     bool
	}{
		{"ok", "application/json", `{"name":"x"}`, false},
		{"wrong type", "text/plain", `{"name":"x"}`, true},
		{"unknown field", "application/json", `{"name":"x","extra":1}`, true},
		{"trailing", "application/json", `{"name":"x"}{"name":"y"}`, true},
		{"malformed", "application/json", `{"name":`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			var p payload
			err := ParseJSONRequest(req, &p)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseJSONRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
