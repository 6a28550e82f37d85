// Package apierror writes RFC 7807 Problem Detail error responses.
package apierror

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// HeaderRequiredCredits tells a 402 client how many credits the operation needs.
const HeaderRequiredCredits = "X-Required-Credits"

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// TraceID echoes X-Request-ID.
	TraceID string `json:"trace_id,omitempty"`
	// Fields lists offending input fields for validation failures.
	Fields []string `json:"fields,omitempty"`
	// RequiredCredits is set on 402 responses.
	RequiredCredits string `json:"required_credits,omitempty"`
	// Prompts is set when the client must collect a reflection first.
	Prompts map[string]string `json:"prompts,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// New builds a problem for status with the standard title.
func New(status int, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   fmt.Sprintf("https://roseglass.dating/errors/%d", status),
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
}

// Write sends p. When r is non-nil the instance and trace id are filled in.
func Write(w http.ResponseWriter, r *http.Request, p *ProblemDetail) {
	if r != nil {
		p.Instance = r.URL.Path
	}
	if p.TraceID == "" {
		p.TraceID = w.Header().Get("X-Request-ID")
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes a problem with the standard title for status.
func WriteError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	Write(w, r, New(status, detail))
}

func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusBadRequest, detail)
}

// WriteValidation writes a 400 naming the offending fields.
func WriteValidation(w http.ResponseWriter, r *http.Request, detail string, fields []string) {
	p := New(http.StatusBadRequest, detail)
	p.Fields = fields
	Write(w, r, p)
}

func WriteUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, r, http.StatusUnauthorized, detail)
}

// WritePaymentRequired writes a 402 and sets X-Required-Credits.
func WritePaymentRequired(w http.ResponseWriter, r *http.Request, detail, required string) {
	w.Header().Set(HeaderRequiredCredits, required)
	p := New(http.StatusPaymentRequired, detail)
	p.RequiredCredits = required
	Write(w, r, p)
}

func WriteNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusNotFound, detail)
}

func WriteConflict(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusConflict, detail)
}

// WriteReflectionRequired writes a 409 carrying the prompts the client should
// show the user.
func WriteReflectionRequired(w http.ResponseWriter, r *http.Request, detail string, prompts map[string]string) {
	p := New(http.StatusConflict, detail)
	p.Prompts = prompts
	Write(w, r, p)
}

func WriteRequestTooLarge(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusRequestEntityTooLarge, detail)
}

// WriteTooManyRequests writes a 429 with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, r, http.StatusTooManyRequests, "Rate limit exceeded. Retry after the specified interval.")
}

// WriteBadGateway reports an upstream model failure without its details.
func WriteBadGateway(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("upstream failure", "error", err, "path", pathOf(r))
	WriteError(w, r, http.StatusBadGateway, "The analysis provider is unavailable. No credits were charged.")
}

// WriteInternal writes a 500. err is logged and never sent to the client.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("internal server error", "error", err, "path", pathOf(r))
	WriteError(w, r, http.StatusInternalServerError, "An unexpected error occurred. Please try again later.")
}

func pathOf(r *http.Request) string {
	if r == nil {
		return ""
	}
	return r.URL.Path
}
