// Package gateway implements the persistence gateway the form engine submits
// validated records to, and the lookup client for option sets.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"interactionlog/internal/apperrors"
	"interactionlog/internal/rules"
)

var tracer = otel.Tracer("interactionlog/internal/gateway")

// ErrDuplicate is the cause of the error returned when the service already
// recorded the same interaction inside its duplicate window.
var ErrDuplicate = errors.New("interaction already recorded")

const (
	submitPath  = "/api/interactions"
	csrfPath    = "/api/csrf-token"
	optionsPath = "/api/options/"

	// CSRFHeader carries the single-use token on submissions.
	CSRFHeader = "X-CSRF-Token"

	maxResponseBytes = 1 << 20

	// Envelope codes written by the service's middleware.
	codeValidation = "validation"
	codeDuplicate  = "duplicate_submission"
)

// envelope is the response shape of every JSON endpoint.
type envelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details"`
}

// HTTPGateway submits records to a remote interaction service.
type HTTPGateway struct {
	baseURL    string
	client     *http.Client
	credential string
}

type HTTPOption func(*HTTPGateway)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(g *HTTPGateway) { g.client = c }
}

// WithCredential sends token as a bearer credential on every request.
func WithCredential(token string) HTTPOption {
	return func(g *HTTPGateway) { g.credential = token }
}

func NewHTTPGateway(baseURL string, opts ...HTTPOption) *HTTPGateway {
	g := &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Submit fetches a CSRF token and posts rec in the answer shape. The
// returned record carries the id and timestamp the server assigned.
func (g *HTTPGateway) Submit(ctx context.Context, rec rules.InteractionRecord) (rules.InteractionRecord, error) {
	ctx, span := tracer.Start(ctx, "gateway.HTTPGateway.Submit")
	defer span.End()

	stored, err := g.submit(ctx, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.KindOf(err)))
		return rules.InteractionRecord{}, err
	}
	span.SetAttributes(attribute.String("interaction.id", stored.ID))
	return stored, nil
}

func (g *HTTPGateway) submit(ctx context.Context, rec rules.InteractionRecord) (rules.InteractionRecord, error) {
	if g.baseURL == "" {
		return rules.InteractionRecord{}, apperrors.Configuration("gateway base URL is not set", nil)
	}

	var token struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := g.getJSON(ctx, csrfPath, &token); err != nil {
		return rules.InteractionRecord{}, err
	}

	body, err := json.Marshal(rec.Answers())
	if err != nil {
		return rules.InteractionRecord{}, fmt.Errorf("encode record: %w", err)
	}
	req, err := g.newRequest(ctx, http.MethodPost, submitPath, bytes.NewReader(body))
	if err != nil {
		return rules.InteractionRecord{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(CSRFHeader, token.CSRFToken)

	env, err := g.do(ctx, req)
	if err != nil {
		return rules.InteractionRecord{}, err
	}
	var stored rules.InteractionRecord
	if err := json.Unmarshal(env.Data, &stored); err != nil {
		return rules.InteractionRecord{}, apperrors.Transport("decode stored record", err)
	}
	return stored, nil
}

func (g *HTTPGateway) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, apperrors.Configuration("invalid gateway URL", err)
	}
	req.Header.Set("Accept", "application/json")
	if g.credential != "" {
		req.Header.Set("Authorization", "Bearer "+g.credential)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

// getJSON decodes a plain (non-envelope) JSON response.
func (g *HTTPGateway) getJSON(ctx context.Context, path string, v any) error {
	req, err := g.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return transportError(ctx, "request "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, envelope{Error: resp.Status})
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(v); err != nil {
		return apperrors.Transport("decode "+path, err)
	}
	return nil
}

// do sends req and decodes the envelope, mapping failures to error kinds.
func (g *HTTPGateway) do(ctx context.Context, req *http.Request) (envelope, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return envelope{}, transportError(ctx, req.Method+" "+req.URL.Path, err)
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&env)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if decodeErr != nil {
			return envelope{}, apperrors.Transport("decode response", decodeErr)
		}
		return env, nil
	}
	if env.Error == "" {
		env.Error = resp.Status
	}
	return envelope{}, statusError(resp.StatusCode, env)
}

func transportError(ctx context.Context, what string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.Timeout(what+" timed out", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return apperrors.Timeout(what+" timed out", err)
	}
	return apperrors.Transport(what+" failed", err)
}

func statusError(status int, env envelope) error {
	switch {
	case env.Code == codeValidation || len(env.Details) > 0:
		return &apperrors.Error{Kind: apperrors.KindValidation, Message: env.Error, Fields: env.Details}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.Configuration(fmt.Sprintf("gateway refused credentials (%d): %s", status, env.Error), nil)
	case status == http.StatusServiceUnavailable && env.Code == string(apperrors.KindConfiguration):
		return apperrors.Configuration("gateway is not configured: "+env.Error, nil)
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return apperrors.Transport(fmt.Sprintf("gateway returned %d: %s", status, env.Error), nil)
	case status == http.StatusConflict && env.Code == codeDuplicate:
		return apperrors.Rejected(env.Error, ErrDuplicate)
	case status == http.StatusConflict:
		return apperrors.Rejected(fmt.Sprintf("gateway returned %d: %s", status, env.Error), nil)
	case status >= 400 && status < 500:
		// Wrong base URL, method or payload shape: nothing the user can fix.
		return apperrors.Configuration(fmt.Sprintf("gateway returned %d: %s", status, env.Error), nil)
	default:
		return apperrors.Transport(fmt.Sprintf("gateway returned %d: %s", status, env.Error), nil)
	}
}
