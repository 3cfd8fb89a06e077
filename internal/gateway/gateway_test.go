package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"interactionlog/internal/apperrors"
	"interactionlog/internal/rules"
)

func sampleRecord() rules.InteractionRecord {
	return rules.InteractionRecord{
		StaffName:  "Alex",
		Channel:    "Phone",
		Category:   "Games",
		WantedItem: "Switch cartridge",
	}
}

// fakeService mimics the submission endpoints with a fixed submit response.
func fakeService(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/csrf-token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"csrf_token":"tok-1"}`))
	})
	mux.HandleFunc("/api/interactions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(CSRFHeader) != "tok-1" {
			t.Errorf("csrf header = %q", r.Header.Get(CSRFHeader))
		}
		var a rules.Answers
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&a); err != nil {
			t.Errorf("request body is not an answer set: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPGatewaySubmitSuccess(t *testing.T) {
	srv := fakeService(t, http.StatusCreated,
		`{"success":true,"data":{"id":"abc","staffName":"Alex","channel":"Phone","category":"Games","wantedItem":"Switch cartridge","timestamp":"2026-05-01T10:00:00Z"}}`)

	stored, err := NewHTTPGateway(srv.URL + "/").Submit(context.Background(), sampleRecord())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if stored.ID != "abc" || stored.Timestamp.IsZero() {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestHTTPGatewayErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		kind      apperrors.Kind
		retryable bool
		field     string
	}{
		{"validation details", http.StatusBadRequest, `{"success":false,"error":"validation failed","code":"validation","details":{"branch":"Branch is required"}}`, apperrors.KindValidation, false, "branch"},
		{"duplicate", http.StatusConflict, `{"success":false,"error":"already recorded","code":"duplicate_submission"}`, apperrors.KindTransport, false, ""},
		{"conflict", http.StatusConflict, `{"success":false,"error":"conflict","code":"conflict"}`, apperrors.KindTransport, false, ""},
		{"wrong base url", http.StatusNotFound, `404 page not found`, apperrors.KindConfiguration, false, ""},
		{"wrong method", http.StatusMethodNotAllowed, `{"success":false,"error":"Method not allowed","code":"method_not_allowed"}`, apperrors.KindConfiguration, false, ""},
		{"malformed payload", http.StatusBadRequest, `{"success":false,"error":"unknown field","code":"bad_request"}`, apperrors.KindConfiguration, false, ""},
		{"forbidden", http.StatusForbidden, `{"success":false,"error":"bad token"}`, apperrors.KindConfiguration, false, ""},
		{"not configured", http.StatusServiceUnavailable, `{"success":false,"error":"storage off","code":"configuration"}`, apperrors.KindConfiguration, false, ""},
		{"rate limited", http.StatusTooManyRequests, `{"success":false,"error":"slow down"}`, apperrors.KindTransport, true, ""},
		{"server error", http.StatusInternalServerError, `not json`, apperrors.KindTransport, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeService(t, tt.status, tt.body)
			_, err := NewHTTPGateway(srv.URL).Submit(context.Background(), sampleRecord())

			var appErr *apperrors.Error
			if !errors.As(err, &appErr) || appErr.Kind != tt.kind {
				t.Fatalf("Submit() = %v, want kind %s", err, tt.kind)
			}
			if appErr.Retryable() != tt.retryable {
				t.Fatalf("Retryable() = %v", appErr.Retryable())
			}
			if tt.kind != apperrors.KindValidation && len(appErr.Fields) > 0 {
				t.Fatalf("non-validation error carries fields %v", appErr.Fields)
			}
			if tt.name == "duplicate" && !errors.Is(err, ErrDuplicate) {
				t.Fatalf("Submit() = %v, want ErrDuplicate", err)
			}
			if tt.field != "" {
				if _, ok := appErr.Fields[tt.field]; !ok {
					t.Fatalf("fields = %v, want %s", appErr.Fields, tt.field)
				}
			}
		})
	}
}

func TestHTTPGatewayMissingBaseURL(t *testing.T) {
	_, err := NewHTTPGateway("").Submit(context.Background(), sampleRecord())
	if !errors.Is(err, apperrors.ErrConfiguration) {
		t.Fatalf("Submit() = %v, want configuration error", err)
	}
}

func TestHTTPGatewayUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPGateway(url).Submit(context.Background(), sampleRecord())
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperrors.KindTransport || appErr.Timeout {
		t.Fatalf("Submit() = %v, want non-timeout transport error", err)
	}
}

func TestHTTPGatewayDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := NewHTTPGateway(srv.URL).Submit(ctx, sampleRecord())

	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || !appErr.Timeout {
		t.Fatalf("Submit() = %v, want timeout", err)
	}
}

func TestHTTPGatewaySendsCredential(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewHTTPGateway(srv.URL, WithCredential("secret")).Submit(context.Background(), sampleRecord())
	if !errors.Is(err, apperrors.ErrConfiguration) {
		t.Fatalf("Submit() = %v, want configuration error", err)
	}
	if auth != "Bearer secret" {
		t.Fatalf("Authorization = %q", auth)
	}
}

func TestHTTPLookupFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/options/branch" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"success":true,"data":{"set":"branch","options":["Main Street","Mall"]}}`))
	}))
	defer srv.Close()

	names, err := NewHTTPLookup(srv.URL).Fetch(context.Background(), rules.OptionBranch)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(names) != 2 || names[0] != "Main Street" {
		t.Fatalf("names = %v", names)
	}

	if _, err := NewHTTPLookup(srv.URL).Fetch(context.Background(), rules.OptionStaff); err == nil {
		t.Fatalf("Fetch() of missing set succeeded")
	}
}

type fakeInserter struct {
	err error
}

func (f fakeInserter) InsertInteraction(ctx context.Context, rec rules.InteractionRecord) (rules.InteractionRecord, error) {
	if f.err != nil {
		return rules.InteractionRecord{}, f.err
	}
	rec.ID = "local-1"
	return rec, nil
}

func TestLocalGateway(t *testing.T) {
	ctx := context.Background()

	stored, err := NewLocalGateway(fakeInserter{}).Submit(ctx, sampleRecord())
	if err != nil || stored.ID != "local-1" {
		t.Fatalf("Submit() = %+v, %v", stored, err)
	}

	_, err = NewLocalGateway(fakeInserter{err: errors.New("database is locked")}).Submit(ctx, sampleRecord())
	if !errors.Is(err, apperrors.ErrTransport) {
		t.Fatalf("Submit() = %v, want transport error", err)
	}

	_, err = NewLocalGateway(nil).Submit(ctx, sampleRecord())
	if !errors.Is(err, apperrors.ErrConfiguration) {
		t.Fatalf("Submit() = %v, want configuration error", err)
	}
}
