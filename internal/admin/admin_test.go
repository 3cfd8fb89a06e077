package admin

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"interactionlog/internal/data"
	"interactionlog/internal/form"
	"interactionlog/internal/options"
	"interactionlog/internal/rules"
)

type fixedStats struct{ s form.Stats }

func (f fixedStats) Stats() form.Stats { return f.s }

type testEnv struct {
	store *data.Store
	cache *options.Cache
	mux   *http.ServeMux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store, err := data.Open(ctx, filepath.Join(t.TempDir(), "admin.db"))
	if err != nil {
		t.Fatalf("data.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if _, err := store.SeedOptions(ctx, rules.DefaultOptionSets()); err != nil {
		t.Fatalf("SeedOptions() error = %v", err)
	}

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	recs := []rules.InteractionRecord{
		{StaffName: "Alex", Channel: rules.ChannelInStore, Branch: "Mall", Category: "Games",
			Purchased: rules.BoolPtr(true), WantedItem: "Controller"},
		{StaffName: "Alex", Channel: rules.ChannelInStore, Branch: "Main Street", Category: "Electronics",
			Purchased: rules.BoolPtr(false), OutOfStock: rules.BoolPtr(true), WantedItem: "USB-C charger"},
		{StaffName: "Sam", Channel: rules.ChannelWhatsApp, Category: "Electronics",
			Purchased: rules.BoolPtr(false), OutOfStock: rules.BoolPtr(true), WantedItem: "usb-c charger "},
		{StaffName: "Sam", Channel: "Phone", Category: "Games", WantedItem: "Switch cartridge"},
		{StaffName: "Jordan", Channel: rules.ChannelOther, OtherChannel: "Street fair",
			Category: rules.CategoryOther, OtherCategory: "Gift wrap", WantedItem: "Gift box"},
	}
	for i, rec := range recs {
		rec.Timestamp = base.Add(time.Duration(i) * time.Hour)
		if _, err := store.InsertInteraction(ctx, rec); err != nil {
			t.Fatalf("InsertInteraction() error = %v", err)
		}
	}

	cache := options.NewCache(options.SourceFunc(store.OptionNames))
	h := NewHandler(Config{
		Store:   store,
		Options: cache,
		Stats:   fixedStats{form.Stats{Total: 7, Accepted: 5}},
		Now:     func() time.Time { return base.Add(24 * time.Hour) },
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/admin/interactions", h.ListInteractions)
	mux.HandleFunc("GET /api/admin/interactions/export", h.Export)
	mux.HandleFunc("GET /api/admin/interactions/{id}", h.GetInteraction)
	mux.HandleFunc("GET /api/admin/summary", h.Summary)
	mux.HandleFunc("GET /api/admin/options/{set}", h.ListOptions)
	mux.HandleFunc("POST /api/admin/options/{set}", h.CreateOption)
	mux.HandleFunc("PUT /api/admin/options/{set}/{id}", h.UpdateOption)

	return &testEnv{store: store, cache: cache, mux: mux}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if !env.Success {
		t.Fatalf("success = false")
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestListInteractionsPagination(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/admin/interactions?page_size=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var page Page
	decodeData(t, rec, &page)
	if page.TotalSize != 5 || len(page.Interactions) != 2 || page.NextPageToken == "" {
		t.Fatalf("page 1 = %+v", page)
	}
	if page.Interactions[0].StaffName != "Jordan" {
		t.Fatalf("first record = %+v, want newest first", page.Interactions[0])
	}

	seen := len(page.Interactions)
	for page.NextPageToken != "" {
		rec = env.do(t, http.MethodGet, "/api/admin/interactions?page_size=2&page_token="+page.NextPageToken, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		page = Page{}
		decodeData(t, rec, &page)
		seen += len(page.Interactions)
	}
	if seen != 5 {
		t.Fatalf("paged through %d records, want 5", seen)
	}
}

func TestGetInteraction(t *testing.T) {
	env := newTestEnv(t)

	var page Page
	decodeData(t, env.do(t, http.MethodGet, "/api/admin/interactions?page_size=1", ""), &page)
	id := page.Interactions[0].ID

	rec := env.do(t, http.MethodGet, "/api/admin/interactions/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got rules.InteractionRecord
	decodeData(t, rec, &got)
	if got.ID != id || got.OtherChannel != "Street fair" {
		t.Fatalf("record = %+v", got)
	}

	if rec := env.do(t, http.MethodGet, "/api/admin/interactions/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing record status = %d", rec.Code)
	}
}

func TestListInteractionsFilter(t *testing.T) {
	env := newTestEnv(t)

	q := url.Values{"filter": {`channel = "In-store" AND purchased = false`}}
	rec := env.do(t, http.MethodGet, "/api/admin/interactions?"+q.Encode(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var page Page
	decodeData(t, rec, &page)
	if page.TotalSize != 1 || page.Interactions[0].WantedItem != "USB-C charger" {
		t.Fatalf("page = %+v", page)
	}

	bad := url.Values{"filter": {`colour = "red"`}}
	if rec := env.do(t, http.MethodGet, "/api/admin/interactions?"+bad.Encode(), ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad filter status = %d, want 400", rec.Code)
	}
}

func TestListInteractionsRejectsForeignPageToken(t *testing.T) {
	env := newTestEnv(t)
	token := encodePageToken(2, `staff = "Sam"`)

	rec := env.do(t, http.MethodGet, "/api/admin/interactions?page_token="+token, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/admin/interactions?page_token=abc!", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed token status = %d, want 400", rec.Code)
	}
}

func TestSummary(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/admin/summary", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var s Summary
	decodeData(t, rec, &s)

	if s.Total != 5 {
		t.Fatalf("Total = %d, want 5", s.Total)
	}
	if s.ByChannel["In-store"] != 2 || s.ByChannel["Street fair"] != 1 {
		t.Fatalf("ByChannel = %v", s.ByChannel)
	}
	if s.ByCategory["Gift wrap"] != 1 || s.ByStaff["Sam"] != 2 || s.ByBranch["Mall"] != 1 {
		t.Fatalf("summary = %+v", s)
	}
	if s.PurchaseAsked != 3 || s.Purchased != 1 {
		t.Fatalf("purchase = %d/%d, want 1/3", s.Purchased, s.PurchaseAsked)
	}
	if len(s.OutOfStockItems) != 1 || s.OutOfStockItems[0].Count != 2 {
		t.Fatalf("OutOfStockItems = %+v", s.OutOfStockItems)
	}
	if s.Submissions == nil || s.Submissions.Total != 7 {
		t.Fatalf("Submissions = %+v", s.Submissions)
	}
	if len(s.Options) != len(rules.AllOptionSets()) {
		t.Fatalf("Options = %+v", s.Options)
	}

	q := url.Values{"filter": {`staff = "Alex"`}}
	rec = env.do(t, http.MethodGet, "/api/admin/summary?"+q.Encode(), "")
	s = Summary{}
	decodeData(t, rec, &s)
	if s.Total != 2 {
		t.Fatalf("filtered Total = %d, want 2", s.Total)
	}
}

func TestExportCSV(t *testing.T) {
	env := newTestEnv(t)

	q := url.Values{"format": {"csv"}, "filter": {`category = "Games"`}}
	rec := env.do(t, http.MethodGet, "/api/admin/interactions/export?"+q.Encode(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "interactions_20260502_090000.csv") {
		t.Fatalf("Content-Disposition = %q", cd)
	}

	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}

	if rec := env.do(t, http.MethodGet, "/api/admin/interactions/export?format=pdf", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown format status = %d, want 400", rec.Code)
	}
}

func TestOptionManagement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if got := env.cache.Get(ctx, rules.OptionStaff); len(got) != 4 {
		t.Fatalf("initial staff = %v", got)
	}

	rec := env.do(t, http.MethodPost, "/api/admin/options/staff", `{"name":"Riley","displayOrder":5}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created data.FormOption
	decodeData(t, rec, &created)
	if created.ID == 0 || !created.Active {
		t.Fatalf("created = %+v", created)
	}

	got := env.cache.Get(ctx, rules.OptionStaff)
	if len(got) != 5 || got[0] != "Riley" {
		t.Fatalf("staff after create = %v", got)
	}

	if rec := env.do(t, http.MethodPost, "/api/admin/options/staff", `{"name":"Riley"}`); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/admin/options/staff", `{"name":"  "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank name status = %d, want 400", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/admin/options/colours", `{"name":"Red"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown set status = %d, want 404", rec.Code)
	}

	target := "/api/admin/options/staff/" + jsonNumber(created.ID)
	rec = env.do(t, http.MethodPut, target, `{"name":"Riley","active":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var updated data.FormOption
	decodeData(t, rec, &updated)
	if updated.Active || updated.DisplayOrder != 5 {
		t.Fatalf("updated = %+v", updated)
	}
	if got := env.cache.Get(ctx, rules.OptionStaff); len(got) != 4 {
		t.Fatalf("staff after deactivate = %v", got)
	}

	rec = env.do(t, http.MethodGet, "/api/admin/options/staff", "")
	var all []data.FormOption
	decodeData(t, rec, &all)
	if len(all) != 5 {
		t.Fatalf("admin listing = %d entries, want 5 including inactive", len(all))
	}

	if rec := env.do(t, http.MethodPut, "/api/admin/options/staff/9999", `{"name":"Nobody"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("missing id status = %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodPut, "/api/admin/options/staff/abc", `{"name":"Nobody"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", rec.Code)
	}
}

func TestUnconfiguredStore(t *testing.T) {
	h := NewHandler(Config{})
	rec := httptest.NewRecorder()
	h.ListInteractions(rec, httptest.NewRequest(http.MethodGet, "/api/admin/interactions", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func jsonNumber(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
