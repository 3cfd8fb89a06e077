// Package admin serves the authenticated dashboard API: interaction listing,
// exports, the summary view, and dropdown option management.
package admin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"interactionlog/internal/apperrors"
	"interactionlog/internal/data"
	"interactionlog/internal/export"
	"interactionlog/internal/filter"
	"interactionlog/internal/form"
	"interactionlog/internal/logger"
	"interactionlog/internal/middleware"
	"interactionlog/internal/options"
	"interactionlog/internal/rules"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Store is the part of data.Store the dashboard reads and writes.
type Store interface {
	ListInteractions(ctx context.Context, q data.InteractionQuery) ([]rules.InteractionRecord, error)
	EachInteraction(ctx context.Context, where string, args []any, fn func(rules.InteractionRecord) error) error
	CountInteractions(ctx context.Context, where string, args []any) (int, error)
	GetInteraction(ctx context.Context, id string) (rules.InteractionRecord, error)
	ListOptions(ctx context.Context, set rules.OptionSet, activeOnly bool) ([]data.FormOption, error)
	CreateOption(ctx context.Context, opt data.FormOption) (data.FormOption, error)
	UpdateOption(ctx context.Context, opt data.FormOption) (data.FormOption, error)
}

// StatsSource reports live submission counters.
type StatsSource interface {
	Stats() form.Stats
}

type Config struct {
	Store   Store
	Options *options.Cache
	Stats   StatsSource
	Now     func() time.Time
}

// Handler serves /api/admin/*. Every route expects the auth middleware in
// front of it.
type Handler struct {
	store   Store
	options *options.Cache
	stats   StatsSource
	now     func() time.Time
}

func NewHandler(cfg Config) *Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{store: cfg.Store, options: cfg.Options, stats: cfg.Stats, now: cfg.Now}
}

// Page is one page of the interaction listing.
type Page struct {
	Interactions  []rules.InteractionRecord `json:"interactions"`
	NextPageToken string                    `json:"next_page_token,omitempty"`
	TotalSize     int                       `json:"total_size"`
}

type pageToken struct {
	Offset int    `json:"o"`
	Filter string `json:"f"`
}

func encodePageToken(offset int, filterStr string) string {
	raw, _ := json.Marshal(pageToken{Offset: offset, Filter: filterStr})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// decodePageToken returns the offset a token points at. A token is only
// valid with the filter it was issued for.
func decodePageToken(token, filterStr string) (int, error) {
	if token == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, errors.New("malformed page_token")
	}
	var pt pageToken
	if err := json.Unmarshal(raw, &pt); err != nil || pt.Offset < 0 {
		return 0, errors.New("malformed page_token")
	}
	if pt.Filter != filterStr {
		return 0, errors.New("page_token was issued for a different filter")
	}
	return pt.Offset, nil
}

func parsePageSize(s string) (int, error) {
	if s == "" {
		return DefaultPageSize, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("page_size must be a non-negative integer")
	}
	if n == 0 {
		return DefaultPageSize, nil
	}
	if n > MaxPageSize {
		n = MaxPageSize
	}
	return n, nil
}

// available writes a configuration error when no store is wired.
func (h *Handler) available(w http.ResponseWriter, r *http.Request) bool {
	if h.store == nil {
		middleware.WriteError(w, r, apperrors.Configuration("Storage is not configured", nil))
		return false
	}
	return true
}

func (h *Handler) parseFilter(w http.ResponseWriter, r *http.Request) (filter.SQLCondition, string, bool) {
	filterStr := strings.TrimSpace(r.URL.Query().Get("filter"))
	cond, err := filter.ParseInteractionFilter(filterStr)
	if err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, middleware.CodeBadRequest,
			err.Error(), map[string]string{"filter": "Supported fields: " + strings.Join(filter.Fields(), ", ")})
		return filter.SQLCondition{}, "", false
	}
	return cond, filterStr, true
}

// ListInteractions handles GET /api/admin/interactions.
func (h *Handler) ListInteractions(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	cond, filterStr, ok := h.parseFilter(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	pageSize, err := parsePageSize(q.Get("page_size"))
	if err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, middleware.CodeBadRequest, err.Error(), nil)
		return
	}
	offset, err := decodePageToken(q.Get("page_token"), filterStr)
	if err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, middleware.CodeBadRequest, err.Error(), nil)
		return
	}

	total, err := h.store.CountInteractions(r.Context(), cond.Clause, cond.Params)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	recs, err := h.store.ListInteractions(r.Context(), data.InteractionQuery{
		Where:  cond.Clause,
		Args:   cond.Params,
		Limit:  pageSize,
		Offset: offset,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	page := Page{Interactions: recs, TotalSize: total}
	if page.Interactions == nil {
		page.Interactions = []rules.InteractionRecord{}
	}
	if next := offset + len(recs); len(recs) == pageSize && next < total {
		page.NextPageToken = encodePageToken(next, filterStr)
	}
	middleware.WriteAPISuccess(w, r, page)
}

// GetInteraction handles GET /api/admin/interactions/{id}.
func (h *Handler) GetInteraction(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	rec, err := h.store.GetInteraction(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, rec)
}

// Export handles GET /api/admin/interactions/export.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, middleware.CodeBadRequest, err.Error(), nil)
		return
	}
	cond, filterStr, ok := h.parseFilter(w, r)
	if !ok {
		return
	}

	start := h.now()
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, format.Filename(start)))
	w.Header().Set("Cache-Control", "no-store")

	n, err := export.Write(w, format, func(fn func(rules.InteractionRecord) error) error {
		return h.store.EachInteraction(r.Context(), cond.Clause, cond.Params, fn)
	})
	if err != nil {
		// Headers are already sent; the client sees a truncated file.
		logger.LogHTTPError(r, http.StatusInternalServerError, fmt.Errorf("export after %d rows: %w", n, err))
		return
	}
	logger.LogInfo("Admin %s exported %d interactions as %s (filter=%q)",
		middleware.GetSubject(r.Context()), n, format, filterStr)
}

// Summary handles GET /api/admin/summary.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	cond, _, ok := h.parseFilter(w, r)
	if !ok {
		return
	}

	start := h.now()
	s := newSummary()
	err := h.store.EachInteraction(r.Context(), cond.Clause, cond.Params, func(rec rules.InteractionRecord) error {
		s.add(rec)
		return nil
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	s.finish()

	if h.stats != nil {
		stats := h.stats.Stats()
		s.Submissions = &stats
	}
	if h.options != nil {
		s.Options = h.options.Status()
	}
	s.GeneratedAt = h.now()
	s.Duration = s.GeneratedAt.Sub(start).String()

	logger.LogInfo("Summary generated in %s (interactions: %d)", s.Duration, s.Total)
	middleware.WriteAPISuccess(w, r, s)
}

type optionRequest struct {
	Name         string `json:"name"`
	Active       *bool  `json:"active,omitempty"`
	DisplayOrder *int   `json:"displayOrder,omitempty"`
}

func (h *Handler) optionSet(w http.ResponseWriter, r *http.Request) (rules.OptionSet, bool) {
	set, err := rules.ParseOptionSet(r.PathValue("set"))
	if err != nil {
		middleware.WriteAPIError(w, r, http.StatusNotFound, middleware.CodeNotFound, err.Error(), nil)
		return "", false
	}
	return set, true
}

// ListOptions handles GET /api/admin/options/{set}, inactive entries included.
func (h *Handler) ListOptions(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	set, ok := h.optionSet(w, r)
	if !ok {
		return
	}
	opts, err := h.store.ListOptions(r.Context(), set, false)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if opts == nil {
		opts = []data.FormOption{}
	}
	middleware.WriteAPISuccess(w, r, opts)
}

// CreateOption handles POST /api/admin/options/{set}.
func (h *Handler) CreateOption(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	set, ok := h.optionSet(w, r)
	if !ok {
		return
	}
	var req optionRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, middleware.CodeBadRequest, err.Error(), nil)
		return
	}

	opt := data.FormOption{Set: set, Name: req.Name, Active: true}
	if req.Active != nil {
		opt.Active = *req.Active
	}
	if req.DisplayOrder != nil {
		opt.DisplayOrder = *req.DisplayOrder
	}

	created, err := h.store.CreateOption(r.Context(), opt)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.invalidate(set)
	logger.LogInfo("Admin %s added %s option %q", middleware.GetSubject(r.Context()), set, created.Name)
	middleware.WriteAPIStatus(w, r, http.StatusCreated, created)
}

// UpdateOption handles PUT /api/admin/options/{set}/{id}. Omitted active
// and displayOrder keep their stored values.
func (h *Handler) UpdateOption(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	set, ok := h.optionSet(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, middleware.CodeBadRequest, "invalid option id", nil)
		return
	}
	var req optionRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, middleware.CodeBadRequest, err.Error(), nil)
		return
	}

	current, err := h.findOption(r.Context(), set, id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	current.Name = req.Name
	if req.Active != nil {
		current.Active = *req.Active
	}
	if req.DisplayOrder != nil {
		current.DisplayOrder = *req.DisplayOrder
	}

	updated, err := h.store.UpdateOption(r.Context(), current)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.invalidate(set)
	logger.LogInfo("Admin %s updated %s option %d (name=%q active=%t)",
		middleware.GetSubject(r.Context()), set, updated.ID, updated.Name, updated.Active)
	middleware.WriteAPISuccess(w, r, updated)
}

func (h *Handler) findOption(ctx context.Context, set rules.OptionSet, id int64) (data.FormOption, error) {
	opts, err := h.store.ListOptions(ctx, set, false)
	if err != nil {
		return data.FormOption{}, err
	}
	for _, o := range opts {
		if o.ID == id {
			return o, nil
		}
	}
	return data.FormOption{}, fmt.Errorf("option %d in %s: %w", id, set, data.ErrNotFound)
}

func (h *Handler) invalidate(set rules.OptionSet) {
	if h.options != nil {
		h.options.Invalidate(set)
	}
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, data.ErrNotFound):
		middleware.WriteAPIError(w, r, http.StatusNotFound, middleware.CodeNotFound, err.Error(), nil)
	case errors.Is(err, data.ErrConflict):
		middleware.WriteAPIError(w, r, http.StatusConflict, middleware.CodeConflict, err.Error(), nil)
	default:
		middleware.WriteError(w, r, err)
	}
}
