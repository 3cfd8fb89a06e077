package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"interactionlog/internal/apperrors"
	"interactionlog/internal/config"
	"interactionlog/internal/engine"
	"interactionlog/internal/gateway"
	"interactionlog/internal/rules"
)

func testConfig(t *testing.T, dbPath string) config.Config {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("manager password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}
	return config.Config{
		ServerHost:        "127.0.0.1",
		ServerPort:        "0",
		Environment:       "test",
		DatabasePath:      dbPath,
		AllowedOrigins:    []string{"https://shop.example"},
		AdminUsername:     "manager",
		AdminPasswordHash: string(hash),
		JWTSecret:         "integration-secret",
		SessionTTL:        time.Hour,
		OptionsMaxAge:     time.Minute,
		DuplicateWindow:   2 * time.Minute,
		RateLimitWindow:   time.Nanosecond,
		CSRFTokenTTL:      time.Hour,
		SweepInterval:     time.Minute,
	}
}

func newTestServer(t *testing.T, cfg config.Config) (*App, *httptest.Server) {
	t.Helper()
	app := newApp(context.Background(), cfg)
	t.Cleanup(func() {
		if app.store != nil {
			app.store.Close()
		}
	})
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)
	return app, srv
}

func TestEndToEndSubmission(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "data", "interactions.db"))
	_, srv := newTestServer(t, cfg)
	ctx := context.Background()

	eng := engine.New(gateway.NewHTTPGateway(srv.URL), engine.WithTimeout(5*time.Second))
	for f, v := range map[rules.Field]string{
		rules.FieldStaffName:  "Alex",
		rules.FieldChannel:    "Phone",
		rules.FieldCategory:   "Games",
		rules.FieldWantedItem: "Switch cartridge",
	} {
		if err := eng.SetText(f, v); err != nil {
			t.Fatalf("SetText(%s) error = %v", f, err)
		}
	}
	stored, err := eng.Submit(ctx)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if stored.ID == "" || stored.Timestamp.IsZero() {
		t.Fatalf("stored = %+v", stored)
	}

	// The server validates again even when a client skips local checks.
	gw := gateway.NewHTTPGateway(srv.URL)
	_, err = gw.Submit(ctx, rules.InteractionRecord{
		StaffName: "Alex", Channel: rules.ChannelInStore, Category: "Electronics", WantedItem: "Charger",
	})
	if apperrors.KindOf(err) != apperrors.KindValidation {
		t.Fatalf("Submit() error = %v, want validation", err)
	}
	if _, ok := apperrors.FieldsOf(err)[string(rules.FieldBranch)]; !ok {
		t.Fatalf("violations = %v, want branch", apperrors.FieldsOf(err))
	}

	// Same interaction again inside the duplicate window.
	_, err = gw.Submit(ctx, rules.InteractionRecord{
		StaffName: "Alex", Channel: "Phone", Category: "Games", WantedItem: "Switch cartridge",
	})
	if !errors.Is(err, gateway.ErrDuplicate) {
		t.Fatalf("duplicate Submit() error = %v, want the duplicate rejected", err)
	}
}

func TestAdminFlow(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "interactions.db"))
	_, srv := newTestServer(t, cfg)

	gw := gateway.NewHTTPGateway(srv.URL)
	_, err := gw.Submit(context.Background(), rules.InteractionRecord{
		StaffName: "Sam", Channel: rules.ChannelWhatsApp, Category: "Toys",
		Purchased: rules.BoolPtr(false), OutOfStock: rules.BoolPtr(true), WantedItem: "Puzzle",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/admin/interactions")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", resp.StatusCode)
	}

	body := bytes.NewBufferString(`{"username":"manager","password":"manager password"}`)
	resp, err = http.Post(srv.URL+"/api/admin/login", "application/json", body)
	if err != nil {
		t.Fatalf("login error = %v", err)
	}
	var login struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	json.NewDecoder(resp.Body).Decode(&login)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || login.Data.Token == "" {
		t.Fatalf("login status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/admin/interactions?filter=out_of_stock", nil)
	req.Header.Set("Authorization", "Bearer "+login.Data.Token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	defer resp.Body.Close()
	var page struct {
		Data struct {
			Interactions []rules.InteractionRecord `json:"interactions"`
			TotalSize    int                       `json:"total_size"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || page.Data.TotalSize != 1 || page.Data.Interactions[0].WantedItem != "Puzzle" {
		t.Fatalf("status = %d, page = %+v", resp.StatusCode, page.Data)
	}
}

func TestDegradedWithoutStorage(t *testing.T) {
	cfg := testConfig(t, "")
	_, srv := newTestServer(t, cfg)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz error = %v", err)
	}
	var health struct {
		Data struct {
			Status  string `json:"status"`
			Storage string `json:"storage"`
		} `json:"data"`
	}
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health.Data.Status != "degraded" || health.Data.Storage != "disabled" {
		t.Fatalf("health = %+v", health.Data)
	}

	resp, err = http.Get(srv.URL + "/api/options/staff")
	if err != nil {
		t.Fatalf("options error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("options status = %d, want 200 from defaults", resp.StatusCode)
	}

	gw := gateway.NewHTTPGateway(srv.URL)
	_, err = gw.Submit(context.Background(), rules.InteractionRecord{
		StaffName: "Alex", Channel: "Phone", Category: "Games", WantedItem: "Controller",
	})
	if apperrors.KindOf(err) != apperrors.KindConfiguration {
		t.Fatalf("Submit() error = %v, want configuration", err)
	}
}

func TestRoutingExtras(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "interactions.db"))
	_, srv := newTestServer(t, cfg)

	resp, err := http.Get(srv.URL + "/no/such/page")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound || resp.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("404 status = %d, content type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/interactions", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, X-CSRF-Token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight error = %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://shop.example" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}

	req.Header.Set("Origin", "https://elsewhere.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight error = %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin allowed: %q", got)
	}
}

func TestCORSWithoutAllowedOrigins(t *testing.T) {
	h := withCORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/options", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want none", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/interactions", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("preflight Access-Control-Allow-Origin = %q, want none", got)
	}
}
