package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"interactionlog/internal/apperrors"
	"interactionlog/internal/logger"
)

// Request context keys
type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	SubjectKey   contextKey = "subject"
)

// Error codes used in API error envelopes.
const (
	CodeValidation    = "validation"
	CodeConfiguration = "configuration"
	CodeUnavailable   = "unavailable"
	CodeCSRF          = "csrf_invalid"
	CodeForbidden     = "forbidden"
	CodeDuplicate     = "duplicate_submission"
	CodeRateLimit     = "rate_limit_exceeded"
	CodeBadRequest    = "bad_request"
	CodeUnauthorized  = "unauthorized"
	CodeNotFound      = "not_found"
	CodeConflict      = "conflict"
	CodeMethod        = "method_not_allowed"
	CodeInternal      = "internal_error"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// Standard API error response
type APIError struct {
	Success   bool              `json:"success"`
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	Details   map[string]string `json:"details,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// Standard API success response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// API is the middleware chain for JSON endpoints.
func API(next http.Handler) http.Handler {
	return RequestID(
		Logging(
			ErrorHandling(next),
		),
	)
}

// RequestID middleware adds a unique request ID to each request and picks up
// an incoming trace context so handler spans join the caller's trace.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = generateRequestID()
		}
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx = context.WithValue(ctx, RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logging middleware logs all API requests with consistent format
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := GetRequestID(r.Context())

		fields := logger.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"client_ip":  logger.GetClientIP(r),
		}
		if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
		}
		logger.LogFields("INFO", "API request started", fields)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		logger.LogFields("INFO", "API request completed", logger.Fields{
			"request_id":    requestID,
			"status_code":   rw.statusCode,
			"processing_ms": duration.Milliseconds(),
		})
	})
}

// ErrorHandling middleware provides panic recovery and consistent error responses
func ErrorHandling(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.LogFields("ERROR", "Panic in API handler", logger.Fields{
					"request_id": GetRequestID(r.Context()),
					"error":      fmt.Sprintf("%v", err),
					"path":       r.URL.Path,
					"method":     r.Method,
				})
				WriteAPIError(w, r, http.StatusInternalServerError, CodeInternal,
					"An internal error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Methods rejects requests whose method is not listed.
func Methods(next http.Handler, methods ...string) http.Handler {
	allow := strings.Join(methods, ", ")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, m := range methods {
			if r.Method == m {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("Allow", allow)
		WriteAPIError(w, r, http.StatusMethodNotAllowed, CodeMethod, "Method not allowed", nil)
	})
}

// Helper functions
func generateRequestID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// GetRequestID returns the request id stored by RequestID.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithSubject stores the authenticated admin name.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, SubjectKey, subject)
}

func GetSubject(ctx context.Context) string {
	if s, ok := ctx.Value(SubjectKey).(string); ok {
		return s
	}
	return ""
}

// WriteAPIError writes a standardized error response
func WriteAPIError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string, details map[string]string) {
	response := APIError{
		Success:   false,
		Error:     message,
		Code:      code,
		Details:   details,
		RequestID: GetRequestID(r.Context()),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// WriteError maps err to a status and error envelope. Validation errors are
// logged at INFO since they are an expected outcome.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusFor(err)
	message := err.Error()
	var details map[string]string

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
		details = appErr.Fields
	}

	switch {
	case status == http.StatusBadRequest:
		logger.LogInfo("Rejected %s %s: %v", r.Method, r.URL.Path, err)
	case status >= http.StatusInternalServerError:
		logger.LogHTTPError(r, status, err)
		if status == http.StatusInternalServerError {
			message = "An internal error occurred"
		}
	default:
		logger.LogWarn("Request %s %s failed with %d: %v", r.Method, r.URL.Path, status, err)
	}

	WriteAPIError(w, r, status, code, message, details)
}

// StatusFor maps an error to its HTTP status and envelope code.
func StatusFor(err error) (int, string) {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		return http.StatusBadRequest, CodeValidation
	case apperrors.KindConfiguration:
		return http.StatusServiceUnavailable, CodeConfiguration
	case apperrors.KindTransport:
		return http.StatusServiceUnavailable, CodeUnavailable
	}
	return http.StatusInternalServerError, CodeInternal
}

// WriteAPISuccess writes a standardized success response
func WriteAPISuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	WriteAPIStatus(w, r, http.StatusOK, data)
}

// WriteAPIStatus writes a success envelope with an explicit status code.
func WriteAPIStatus(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	response := APIResponse{
		Success:   true,
		Data:      data,
		RequestID: GetRequestID(r.Context()),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// ParseJSONRequest parses JSON request body into the provided struct
func ParseJSONRequest(r *http.Request, v interface{}) error {
	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return fmt.Errorf("content-type must be application/json")
	}

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields() // Strict parsing
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if decoder.More() {
		return fmt.Errorf("invalid JSON body: trailing data")
	}
	return nil
}
