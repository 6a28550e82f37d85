package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Mindburn-Labs/roseglass/pkg/apierror"
	"github.com/Mindburn-Labs/roseglass/pkg/auth"
	"github.com/Mindburn-Labs/roseglass/pkg/cocreate"
	"github.com/Mindburn-Labs/roseglass/pkg/finance"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// usageView is the wire form of a usage record.
type usageView struct {
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	CostUSD      decimal.Decimal `json:"cost_usd"`
	ChargeUSD    decimal.Decimal `json:"charge_usd"`
	ModelUsed    string          `json:"model_used"`
}

func usageOf(u finance.UsageRecord) usageView {
	return usageView{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CostUSD:      u.Cost,
		ChargeUSD:    u.Charge,
		ModelUsed:    u.Model,
	}
}

func (s *Server) principal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		apierror.WriteUnauthorized(w, r, "Not authenticated")
		return nil, false
	}
	return p, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	llm := "not_configured"
	if s.opts.LLMConfigured {
		llm = "configured"
	}
	status, code := "healthy", http.StatusOK
	database := "not_configured"
	if s.opts.Database != nil {
		database = "ok"
		if err := s.opts.Database.Ping(r.Context()); err != nil {
			s.logger.WarnContext(r.Context(), "database ping failed", "error", err)
			database = "unavailable"
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]any{
		"status":      status,
		"environment": s.opts.Environment,
		"services": map[string]string{
			"api":      "ok",
			"llm":      llm,
			"database": database,
		},
	})
}

// readImages base64-encodes uploaded files. Non-image content is
// rejected by name.
func readImages(files []*multipart.FileHeader) ([]string, error) {
	out := make([]string, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("invalid image file: %s", fh.Filename)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil || len(data) == 0 || !strings.HasPrefix(http.DetectContentType(data), "image/") {
			return nil, fmt.Errorf("invalid image file: %s", fh.Filename)
		}
		out = append(out, base64.StdEncoding.EncodeToString(data))
	}
	return out, nil
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
			apierror.WriteRequestTooLarge(w, r, fmt.Sprintf("Upload exceeds %d bytes", s.opts.MaxUploadBytes))
			return
		}
		apierror.WriteBadRequest(w, r, "Expected a multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	premium := false
	if v := strings.TrimSpace(r.FormValue("use_premium")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			apierror.WriteValidation(w, r, "use_premium must be a boolean", []string{"use_premium"})
			return
		}
		premium = b
	}

	profile, err := readImages(r.MultipartForm.File["profile_images"])
	if err != nil {
		apierror.WriteBadRequest(w, r, err.Error())
		return
	}
	conversation, err := readImages(r.MultipartForm.File["conversation_images"])
	if err != nil {
		apierror.WriteBadRequest(w, r, err.Error())
		return
	}

	res, err := s.svc.Analyze(r.Context(), p.UserID, cocreate.AnalyzeInput{
		ProfileImages:      profile,
		ConversationImages: conversation,
		UserContext:        r.FormValue("user_context"),
		Premium:            premium,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"analysis":          res.Analysis,
		"usage":             usageOf(res.Usage),
		"remaining_credits": res.RemainingCredits,
		"analysis_id":       res.AnalysisID,
		"gate_id":           res.Gate.ID,
		"prompts":           res.Gate.Prompts,
	})
}

type historyItem struct {
	ID           string          `json:"id"`
	AnalysisText string          `json:"analysis_text"`
	CreatedAt    string          `json:"created_at"`
	ModelUsed    string          `json:"model_used"`
	CostUSD      decimal.Decimal `json:"cost_usd"`
	ChargeUSD    decimal.Decimal `json:"charge_usd"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			apierror.WriteValidation(w, r, "limit must be a positive integer", []string{"limit"})
			return
		}
		limit = n
	}
	analyses, err := s.svc.History(r.Context(), p.UserID, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	items := make([]historyItem, 0, len(analyses))
	for _, a := range analyses {
		items = append(items, historyItem{
			ID:           a.ID,
			AnalysisText: a.Text,
			CreatedAt:    a.CreatedAt.UTC().Format(time.RFC3339),
			ModelUsed:    a.Usage.Model,
			CostUSD:      a.Usage.Cost,
			ChargeUSD:    a.Usage.Charge,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "analyses": items})
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	credits, err := s.svc.Credits(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user_id": p.UserID,
		"credits": credits,
	})
}

func (s *Server) handleGetGate(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	view, err := s.svc.Gate(r.Context(), p.UserID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// readBody reads a bounded JSON body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		apierror.WriteRequestTooLarge(w, r, "Request body too large")
		return nil, false
	}
	return body, true
}

func (s *Server) handleReflect(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var in reflectionBody
	if err := decode(s.bodies.reflection, body, &in); err != nil {
		apierror.WriteBadRequest(w, r, err.Error())
		return
	}
	view, err := s.svc.Reflect(r.Context(), p.UserID, r.PathValue("id"), in.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCoCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var in coCreateBody
	if err := decode(s.bodies.coCreate, body, &in); err != nil {
		apierror.WriteBadRequest(w, r, err.Error())
		return
	}
	input := cocreate.CoCreateInput{GateID: in.GateID}
	if in.Reflection != nil {
		input.Reflection = in.Reflection.input()
	}
	res, err := s.svc.CoCreate(r.Context(), p.UserID, input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"suggested_message": res.SuggestedMessage,
		"usage":             usageOf(res.Usage),
		"remaining_credits": res.RemainingCredits,
		"co_creation_id":    res.CoCreationID,
		"gate_id":           res.GateID,
	})
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.opts.StripeWebhookSecret == "" {
		apierror.WriteError(w, r, http.StatusServiceUnavailable, "Payments are not configured")
		return
	}
	payload, ok := readBody(w, r)
	if !ok {
		return
	}
	err := verifyStripeSignature(payload, r.Header.Get("Stripe-Signature"), s.opts.StripeWebhookSecret, s.now(), s.opts.WebhookTolerance)
	if err != nil {
		s.logger.WarnContext(r.Context(), "webhook rejected", "error", err)
		apierror.WriteBadRequest(w, r, err.Error())
		return
	}

	var ev stripeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		apierror.WriteBadRequest(w, r, "Invalid event payload")
		return
	}
	if ev.Type != eventCheckoutCompleted {
		s.logger.DebugContext(r.Context(), "webhook ignored", "type", ev.Type)
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "applied": false})
		return
	}

	session := ev.Data.Object
	usd, credits, err := session.amounts()
	if err != nil {
		apierror.WriteBadRequest(w, r, err.Error())
		return
	}
	applied, balance, err := s.svc.ApplyPayment(r.Context(), cocreate.Payment{
		SessionID:     session.ID,
		PaymentIntent: session.PaymentIntent,
		UserID:        session.Metadata["user_id"],
		AmountUSD:     usd,
		Credits:       credits,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"received": true,
		"applied":  applied,
		"balance":  balance,
	})
}
