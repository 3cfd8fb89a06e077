// internal/form/form.go
package form

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"interactionlog/internal/apperrors"
	"interactionlog/internal/engine"
	"interactionlog/internal/gateway"
	"interactionlog/internal/logger"
	"interactionlog/internal/middleware"
	"interactionlog/internal/options"
	"interactionlog/internal/rules"
	"interactionlog/internal/security"
)

var tracer = otel.Tracer("interactionlog/internal/form")

// HoneypotField is a hidden input real users never fill in.
const HoneypotField = "website"

// submission is the request body of POST /api/interactions: the answer set
// plus the anti-abuse fields.
type submission struct {
	rules.Answers
	CSRFToken string `json:"csrf_token,omitempty"`
	Website   string `json:"website,omitempty"`
}

// Stats counts submission outcomes since startup.
type Stats struct {
	Total              int `json:"total"`
	Accepted           int `json:"accepted"`
	ValidationFailures int `json:"validationFailures"`
	CSRFFailures       int `json:"csrfFailures"`
	RateLimitBlocks    int `json:"rateLimitBlocks"`
	DuplicateBlocks    int `json:"duplicateBlocks"`
	HoneypotBlocks     int `json:"honeypotBlocks"`
	Failures           int `json:"failures"`
}

// Config wires a Handler. Gateway may be nil, in which case submissions
// fail with a configuration error.
type Config struct {
	Gateway    engine.Gateway
	Options    *options.Cache
	CSRF       *security.CSRFStore
	RateLimit  *security.Window
	Duplicates *security.Window
	Now        func() time.Time
}

// Handler serves the public form endpoints.
type Handler struct {
	gateway    engine.Gateway
	options    *options.Cache
	csrf       *security.CSRFStore
	rateLimit  *security.Window
	duplicates *security.Window
	validator  *rules.Validator

	statsMu sync.Mutex
	stats   Stats
}

func NewHandler(cfg Config) *Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Options == nil {
		cfg.Options = options.NewCache(nil)
	}
	if cfg.CSRF == nil {
		cfg.CSRF = security.NewCSRFStore(time.Hour, cfg.Now)
	}
	if cfg.RateLimit == nil {
		cfg.RateLimit = security.NewWindow(5*time.Second, cfg.Now)
	}
	if cfg.Duplicates == nil {
		cfg.Duplicates = security.NewWindow(2*time.Minute, cfg.Now)
	}
	return &Handler{
		gateway:    cfg.Gateway,
		options:    cfg.Options,
		csrf:       cfg.CSRF,
		rateLimit:  cfg.RateLimit,
		duplicates: cfg.Duplicates,
		validator:  rules.NewValidator(nil, cfg.Now),
	}
}

func (h *Handler) count(field *int, label string) {
	h.statsMu.Lock()
	*field++
	n := *field
	h.statsMu.Unlock()
	logger.LogInfo("Stat update: %s = %d", label, n)
}

// Stats returns a snapshot of the submission counters.
func (h *Handler) Stats() Stats {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	return h.stats
}

// Submit handles POST /api/interactions.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "form.Submit")
	defer span.End()
	r = r.WithContext(ctx)

	h.count(&h.stats.Total, "total_submissions")

	var body submission
	if err := middleware.ParseJSONRequest(r, &body); err != nil {
		h.count(&h.stats.ValidationFailures, "validation_failures")
		middleware.WriteAPIError(w, r, http.StatusBadRequest, middleware.CodeBadRequest, err.Error(), nil)
		return
	}

	// Honeypot trap
	if body.Website != "" {
		logger.LogWarn("Honeypot triggered by %s", logger.GetClientIP(r))
		h.count(&h.stats.HoneypotBlocks, "honeypot_blocks")
		middleware.WriteAPIError(w, r, http.StatusForbidden, middleware.CodeForbidden, "Invalid submission", nil)
		return
	}

	token := r.Header.Get(gateway.CSRFHeader)
	if token == "" {
		token = body.CSRFToken
	}
	if !h.csrf.Validate(token) {
		logger.LogHTTPError(r, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		h.count(&h.stats.CSRFFailures, "csrf_failures")
		middleware.WriteAPIError(w, r, http.StatusForbidden, middleware.CodeCSRF, "Missing or invalid CSRF token", nil)
		return
	}

	clientIP := logger.GetClientIP(r)
	if h.rateLimit.Seen(clientIP) {
		h.rejectRateLimited(w, r, clientIP)
		return
	}

	if h.gateway == nil {
		h.count(&h.stats.Failures, "failures")
		middleware.WriteError(w, r, apperrors.Configuration("Submissions are disabled: storage is not configured", nil))
		return
	}

	lang := rules.MatchLanguage(r.Header.Get("Accept-Language"))
	validator := h.validator.WithLanguage(lang).WithOptions(h.options.All(ctx))
	rec, err := validator.Validate(body.Answers)
	if err != nil {
		h.count(&h.stats.ValidationFailures, "validation_failures")
		span.SetAttributes(attribute.Int("validation.violations", len(apperrors.FieldsOf(err))))
		middleware.WriteError(w, r, err)
		return
	}
	span.SetAttributes(
		attribute.String("interaction.channel", rec.Channel),
		attribute.String("interaction.category", rec.Category),
	)

	// Reserve the duplicate key and the client's rate slot before storing so
	// concurrent identical submissions cannot both pass.
	key := security.SubmissionKey(rec.StaffName, rec.ChannelLabel(), rec.CategoryLabel(), rec.WantedItem)
	if !h.duplicates.Allow(key) {
		logger.LogWarn("Duplicate interaction detected for key %s", key[:12])
		h.count(&h.stats.DuplicateBlocks, "duplicate_blocks")
		middleware.WriteAPIError(w, r, http.StatusConflict, middleware.CodeDuplicate,
			"This interaction was already recorded. Please wait before submitting it again.", nil)
		return
	}
	if !h.rateLimit.Allow(clientIP) {
		h.duplicates.Forget(key)
		h.rejectRateLimited(w, r, clientIP)
		return
	}

	stored, err := h.gateway.Submit(ctx, rec)
	if err != nil {
		h.duplicates.Forget(key)
		h.rateLimit.Forget(clientIP)
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway submit failed")
		h.count(&h.stats.Failures, "failures")
		middleware.WriteError(w, r, err)
		return
	}

	h.count(&h.stats.Accepted, "accepted_submissions")
	logger.LogInfo("Interaction %s accepted: staff=%s channel=%s category=%s ip=%s",
		stored.ID, stored.StaffName, stored.ChannelLabel(), stored.CategoryLabel(), clientIP)

	middleware.WriteAPIStatus(w, r, http.StatusCreated, stored)
}

func (h *Handler) rejectRateLimited(w http.ResponseWriter, r *http.Request, clientIP string) {
	logger.LogWarn("Rate limit exceeded for %s", clientIP)
	h.count(&h.stats.RateLimitBlocks, "rate_limit_blocks")
	middleware.WriteAPIError(w, r, http.StatusTooManyRequests, middleware.CodeRateLimit,
		"Too many submissions. Please wait before trying again.", nil)
}

// Rules handles GET /api/form-rules.
func (h *Handler) Rules(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	middleware.WriteAPISuccess(w, r, rules.RuleTable())
}

// AllOptions handles GET /api/options.
func (h *Handler) AllOptions(w http.ResponseWriter, r *http.Request) {
	middleware.WriteAPISuccess(w, r, h.options.All(r.Context()))
}

// OptionSet handles GET /api/options/{set}.
func (h *Handler) OptionSet(w http.ResponseWriter, r *http.Request) {
	set, err := rules.ParseOptionSet(r.PathValue("set"))
	if err != nil {
		middleware.WriteAPIError(w, r, http.StatusNotFound, middleware.CodeNotFound, err.Error(), nil)
		return
	}
	middleware.WriteAPISuccess(w, r, gateway.OptionList{Set: set, Options: h.options.Get(r.Context(), set)})
}

// Status reports whether submissions can be stored, for the health check.
func (h *Handler) Status() map[string]any {
	return map[string]any{
		"submissions_enabled": h.gateway != nil,
		"options":             h.options.Status(),
		"languages":           languages(),
	}
}

func languages() []string {
	out := make([]string, len(rules.SupportedLanguages))
	for i, tag := range rules.SupportedLanguages {
		out[i] = strings.ToLower(tag.String())
	}
	return out
}
