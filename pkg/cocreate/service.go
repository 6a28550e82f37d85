// Package cocreate runs the two-phase workflow: a paid analysis that opens a
// reflection gate, and a paid co-creation that is only possible once the
// user has answered the gate's prompts.
package cocreate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/roseglass/pkg/artifacts"
	"github.com/Mindburn-Labs/roseglass/pkg/auth"
	"github.com/Mindburn-Labs/roseglass/pkg/events"
	"github.com/Mindburn-Labs/roseglass/pkg/finance"
	"github.com/Mindburn-Labs/roseglass/pkg/idgen"
	"github.com/Mindburn-Labs/roseglass/pkg/llm"
	"github.com/Mindburn-Labs/roseglass/pkg/observability"
	"github.com/Mindburn-Labs/roseglass/pkg/policy"
	"github.com/Mindburn-Labs/roseglass/pkg/reflection"
	"github.com/Mindburn-Labs/roseglass/pkg/store"
)

// DefaultMinCredits is the balance required to start a paid call.
var DefaultMinCredits = decimal.RequireFromString("0.02")

// Deps are the collaborators of a Service. Artifacts, Events and Telemetry
// are optional.
type Deps struct {
	LLM       llm.Client
	Router    *llm.Router
	Meter     *finance.UsageMeter
	Store     store.Store
	Policy    *policy.Engine
	Artifacts artifacts.Store
	Events    events.Publisher
	Telemetry *observability.Provider

	MinCredits     decimal.Decimal
	SignupCredits  decimal.Decimal
	DevUserCredits decimal.Decimal
}

// Service implements the analysis and co-creation workflow.
type Service struct {
	llm       llm.Client
	router    *llm.Router
	meter     *finance.UsageMeter
	store     store.Store
	policy    *policy.Engine
	artifacts artifacts.Store
	events    events.Publisher
	telemetry *observability.Provider

	minCredits     decimal.Decimal
	signupCredits  decimal.Decimal
	devUserCredits decimal.Decimal

	newGateID       idgen.Func
	newCoCreationID idgen.Func
	clock           func() time.Time
	logger          *slog.Logger
}

var _ auth.UserResolver = (*Service)(nil)

// NewService builds a Service. LLM and Store are required; a nil Router,
// Meter or Policy gets the defaults and a nil Events publisher is a no-op.
func NewService(d Deps) (*Service, error) {
	if d.LLM == nil || d.Store == nil {
		return nil, errors.New("cocreate: LLM client and store are required")
	}
	if d.Router == nil {
		d.Router = llm.NewRouter(finance.ModelSonnet, finance.ModelOpus)
	}
	if d.Meter == nil {
		m, err := finance.NewUsageMeter(nil, finance.DefaultMarkup)
		if err != nil {
			return nil, err
		}
		d.Meter = m
	}
	if d.Policy == nil {
		p, err := policy.NewEngine(nil)
		if err != nil {
			return nil, err
		}
		d.Policy = p
	}
	if d.Events == nil {
		d.Events = events.NoopPublisher{}
	}
	if d.MinCredits.IsZero() {
		d.MinCredits = DefaultMinCredits
	}

	return &Service{
		llm:             d.LLM,
		router:          d.Router,
		meter:           d.Meter,
		store:           d.Store,
		policy:          d.Policy,
		artifacts:       d.Artifacts,
		events:          d.Events,
		telemetry:       d.Telemetry,
		minCredits:      d.MinCredits,
		signupCredits:   d.SignupCredits,
		devUserCredits:  d.DevUserCredits,
		newGateID:       idgen.Gate,
		newCoCreationID: idgen.CoCreation,
		clock:           func() time.Time { return time.Now().UTC() },
		logger:          slog.Default().With("component", "cocreate"),
	}, nil
}

// WithClock overrides the gate clock for deterministic testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WithIDs overrides gate and co-creation id generation.
func (s *Service) WithIDs(gate, coCreation idgen.Func) *Service {
	s.newGateID = gate
	s.newCoCreationID = coCreation
	return s
}

// ResolveUser returns the internal id for an external identity, creating the
// account on first sight. New accounts receive the signup grant; the
// development user receives the development grant.
func (s *Service) ResolveUser(ctx context.Context, externalID, email string) (string, error) {
	initial := s.signupCredits
	if externalID == auth.DevExternalID {
		initial = s.devUserCredits
	}
	u, err := s.store.EnsureUser(ctx, externalID, email, initial)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// AnalyzeInput is one Phase 1 request. Images are base64 encoded.
type AnalyzeInput struct {
	ProfileImages      []string
	ConversationImages []string
	UserContext        string
	Premium            bool
}

// AnalyzeResult is the outcome of Analyze.
type AnalyzeResult struct {
	AnalysisID       string              `json:"analysis_id"`
	Analysis         string              `json:"analysis"`
	Usage            finance.UsageRecord `json:"usage"`
	RemainingCredits decimal.Decimal     `json:"remaining_credits"`
	Gate             *GateView           `json:"gate"`
}

// Analyze runs a paid profile analysis and opens a reflection gate over it.
func (s *Service) Analyze(ctx context.Context, userID string, in AnalyzeInput) (_ *AnalyzeResult, err error) {
	ctx, span := s.telemetry.StartSpan(ctx, "cocreate.Analyze", trace.WithAttributes(
		attribute.Int("profile_images", len(in.ProfileImages)),
		attribute.Int("conversation_images", len(in.ConversationImages)),
		attribute.Bool("premium", in.Premium),
	))
	defer func() { endSpan(span, err) }()

	credits, err := s.admit(ctx, userID, policy.Input{
		Operation:          policy.OperationAnalyze,
		ProfileImages:      len(in.ProfileImages),
		ConversationImages: len(in.ConversationImages),
		Premium:            in.Premium,
	}, "Analysis")
	if err != nil {
		return nil, err
	}

	hashes := s.archive(ctx, append(append([]string(nil), in.ProfileImages...), in.ConversationImages...))

	req := s.router.AnalysisRequest(in.ProfileImages, in.ConversationImages, in.UserContext, in.Premium)
	resp, err := s.llm.Generate(ctx, req)
	if err != nil {
		return nil, &GenerationError{Operation: "analysis", Err: err}
	}

	usage, err := s.price(ctx, "Analysis", credits, req.Model, resp)
	if err != nil {
		return nil, err
	}
	digest, err := usage.Digest()
	if err != nil {
		return nil, err
	}
	gateID, err := s.newGateID()
	if err != nil {
		return nil, err
	}

	balance, err := s.debit(ctx, userID, "Analysis", usage)
	if err != nil {
		return nil, err
	}

	analysis := &store.Analysis{
		UserID:                 userID,
		Text:                   resp.Text,
		UserContext:            in.UserContext,
		Usage:                  usage,
		UsageDigest:            digest,
		ProfileImageCount:      len(in.ProfileImages),
		ConversationImageCount: len(in.ConversationImages),
		ImageHashes:            hashes,
	}
	if err := s.store.SaveAnalysis(ctx, analysis); err != nil {
		err = fmt.Errorf("save analysis: %w", err)
		s.refund(ctx, userID, usage, err)
		return nil, err
	}

	gate := reflection.New(Perception{AnalysisID: analysis.ID, Analysis: resp.Text, Model: usage.Model}, s.gateOptions(gateID)...)
	if err := s.saveGate(ctx, userID, gate); err != nil {
		s.refund(ctx, userID, usage, err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "analysis complete",
		"user_id", userID,
		"analysis_id", analysis.ID,
		"gate_id", gate.ID,
		"model", usage.Model,
		"charge", usage.Charge.StringFixed(4),
		"balance", balance.StringFixed(4),
	)
	events.Emit(ctx, s.events, events.TopicAnalysisCompleted, events.AnalysisCompleted{
		AnalysisID:  analysis.ID,
		GateID:      gate.ID,
		UserID:      userID,
		Model:       usage.Model,
		Charge:      usage.Charge,
		UsageDigest: digest,
	})

	return &AnalyzeResult{
		AnalysisID:       analysis.ID,
		Analysis:         resp.Text,
		Usage:            usage,
		RemainingCredits: balance,
		Gate:             viewOf(gate),
	}, nil
}

// Gate returns a gate owned by userID. Gates of other users are reported as
// store.ErrNotFound.
func (s *Service) Gate(ctx context.Context, userID, gateID string) (*GateView, error) {
	g, err := s.loadGate(ctx, userID, gateID)
	if err != nil {
		return nil, err
	}
	return viewOf(g), nil
}

// Reflect records the user's reflection on a gate.
func (s *Service) Reflect(ctx context.Context, userID, gateID string, input map[string]string) (*GateView, error) {
	g, err := s.loadGate(ctx, userID, gateID)
	if err != nil {
		return nil, err
	}
	if err := g.ReceiveReflection(input); err != nil {
		return nil, err
	}
	if err := s.commitReflection(ctx, userID, g); err != nil {
		return nil, err
	}
	return viewOf(g), nil
}

// commitReflection persists a gate that has just passed and announces it.
func (s *Service) commitReflection(ctx context.Context, userID string, g *Gate) error {
	if err := s.saveGate(ctx, userID, g); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "gate passed", "user_id", userID, "gate_id", g.ID)
	events.Emit(ctx, s.events, events.TopicGatePassed, events.GatePassed{
		GateID:   g.ID,
		UserID:   userID,
		PassedAt: *g.PassedAt(),
	})
	return nil
}

// CoCreateInput is one Phase 2 request. A non-nil Reflection is validated up
// front but only persisted once the co-creation has been paid for, so a
// rejected or failed request leaves the gate waiting.
type CoCreateInput struct {
	GateID     string
	Reflection map[string]string
}

// CoCreateResult is the outcome of CoCreate.
type CoCreateResult struct {
	CoCreationID     string              `json:"co_creation_id"`
	GateID           string              `json:"gate_id"`
	AnalysisID       string              `json:"analysis_id"`
	SuggestedMessage string              `json:"suggested_message"`
	Usage            finance.UsageRecord `json:"usage"`
	RemainingCredits decimal.Decimal     `json:"remaining_credits"`
}

// CoCreate drafts a message from both hands. It returns
// reflection.ErrReflectionRequired while the gate is waiting.
func (s *Service) CoCreate(ctx context.Context, userID string, in CoCreateInput) (_ *CoCreateResult, err error) {
	ctx, span := s.telemetry.StartSpan(ctx, "cocreate.CoCreate", trace.WithAttributes(
		attribute.String("gate_id", in.GateID),
	))
	defer func() { endSpan(span, err) }()

	g, err := s.loadGate(ctx, userID, in.GateID)
	if err != nil {
		return nil, err
	}
	inline := in.Reflection != nil
	if inline {
		if err := g.ReceiveReflection(in.Reflection); err != nil {
			return nil, err
		}
	}

	prompt, err := g.CoCreationPrompt()
	if err != nil {
		if errors.Is(err, reflection.ErrReflectionRequired) {
			s.logger.InfoContext(ctx, "awaiting reflection", "user_id", userID, "gate_id", g.ID)
		}
		return nil, err
	}

	credits, err := s.admit(ctx, userID, policy.Input{Operation: policy.OperationCoCreate}, "Co-creation")
	if err != nil {
		return nil, err
	}

	req := s.router.CoCreationRequest(prompt)
	resp, err := s.llm.Generate(ctx, req)
	if err != nil {
		return nil, &GenerationError{Operation: "co-creation", Err: err}
	}

	usage, err := s.price(ctx, "Co-creation", credits, req.Model, resp)
	if err != nil {
		return nil, err
	}
	digest, err := usage.Digest()
	if err != nil {
		return nil, err
	}
	id, err := s.newCoCreationID()
	if err != nil {
		return nil, err
	}

	balance, err := s.debit(ctx, userID, "Co-creation", usage)
	if err != nil {
		return nil, err
	}
	if inline {
		if err := s.commitReflection(ctx, userID, g); err != nil {
			s.refund(ctx, userID, usage, err)
			return nil, err
		}
	}

	cc := &store.CoCreation{
		ID:          id,
		UserID:      userID,
		GateID:      g.ID,
		AnalysisID:  g.Perception().AnalysisID,
		Message:     resp.Text,
		Usage:       usage,
		UsageDigest: digest,
	}
	if err := s.store.SaveCoCreation(ctx, cc); err != nil {
		err = fmt.Errorf("save co-creation: %w", err)
		s.refund(ctx, userID, usage, err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "co-creation complete",
		"user_id", userID,
		"gate_id", g.ID,
		"co_creation_id", id,
		"charge", usage.Charge.StringFixed(4),
		"balance", balance.StringFixed(4),
	)
	events.Emit(ctx, s.events, events.TopicCoCreationCompleted, events.CoCreationCompleted{
		CoCreationID: id,
		GateID:       g.ID,
		UserID:       userID,
		Model:        usage.Model,
		Charge:       usage.Charge,
	})

	return &CoCreateResult{
		CoCreationID:     id,
		GateID:           g.ID,
		AnalysisID:       cc.AnalysisID,
		SuggestedMessage: resp.Text,
		Usage:            usage,
		RemainingCredits: balance,
	}, nil
}

// History lists the user's analyses, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*store.Analysis, error) {
	return s.store.ListAnalyses(ctx, userID, limit)
}

// Credits returns the user's balance.
func (s *Service) Credits(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.store.GetCredits(ctx, userID)
}

// Payment is a verified credit purchase.
type Payment struct {
	SessionID     string
	PaymentIntent string
	UserID        string
	AmountUSD     decimal.Decimal
	Credits       decimal.Decimal
}

// ApplyPayment credits a purchase once per session id. Replays report
// applied=false with the current balance.
func (s *Service) ApplyPayment(ctx context.Context, p Payment) (applied bool, balance decimal.Decimal, err error) {
	if p.SessionID == "" || p.UserID == "" || !p.Credits.IsPositive() {
		return false, decimal.Zero, ErrInvalidPayment
	}
	applied, balance, err = s.store.CompleteTransaction(ctx, &store.Transaction{
		UserID:        p.UserID,
		SessionID:     p.SessionID,
		PaymentIntent: p.PaymentIntent,
		AmountUSD:     p.AmountUSD,
		Credits:       p.Credits,
		Status:        store.TransactionCompleted,
	})
	if err != nil {
		return false, decimal.Zero, err
	}
	if !applied {
		s.logger.InfoContext(ctx, "payment already applied", "session_id", p.SessionID)
		return false, balance, nil
	}
	s.logger.InfoContext(ctx, "credits added",
		"user_id", p.UserID,
		"session_id", p.SessionID,
		"credits", p.Credits.StringFixed(4),
		"balance", balance.StringFixed(4),
	)
	events.Emit(ctx, s.events, events.TopicCreditsAdded, events.CreditsAdded{
		UserID:    p.UserID,
		SessionID: p.SessionID,
		Credits:   p.Credits,
		Balance:   balance,
	})
	return true, balance, nil
}

// admit loads the balance and runs the admission policy. A payment denial
// becomes an *InsufficientCreditsError for the minimum balance.
func (s *Service) admit(ctx context.Context, userID string, in policy.Input, operation string) (decimal.Decimal, error) {
	credits, err := s.store.GetCredits(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	in.Credits = credits
	in.MinCredits = s.minCredits
	if err := s.policy.Evaluate(in); err != nil {
		var d *policy.Denial
		if errors.As(err, &d) && d.Kind == policy.KindPayment {
			return decimal.Zero, &InsufficientCreditsError{Operation: operation, Required: s.minCredits, Available: credits}
		}
		return decimal.Zero, err
	}
	return credits, nil
}

// price meters a response and checks it against the balance read at
// admission. A record failing its integrity check is never billed.
func (s *Service) price(ctx context.Context, operation string, credits decimal.Decimal, model string, resp *llm.Response) (finance.UsageRecord, error) {
	usage, err := s.meter.Meter(model, resp.InputTokens, resp.OutputTokens)
	if err != nil {
		return finance.UsageRecord{}, err
	}
	if err := s.quote(ctx, operation, credits, usage); err != nil {
		return finance.UsageRecord{}, err
	}
	return usage, nil
}

// quote checks a record's integrity and that credits cover its charge.
func (s *Service) quote(ctx context.Context, operation string, credits decimal.Decimal, usage finance.UsageRecord) error {
	if err := usage.Validate(); err != nil {
		s.logger.ErrorContext(ctx, "usage record rejected", "model", usage.Model, "error", err)
		return err
	}
	if credits.LessThan(usage.Charge) {
		return &InsufficientCreditsError{Operation: operation, Required: usage.Charge, Available: credits}
	}
	return nil
}

// debit takes the charge from the user. It never overdraws: a concurrent
// spend surfacing as store.ErrInsufficientCredits is reported with the
// refreshed balance.
func (s *Service) debit(ctx context.Context, userID, operation string, usage finance.UsageRecord) (decimal.Decimal, error) {
	balance, err := s.store.DeductCredits(ctx, userID, usage.Charge)
	if errors.Is(err, store.ErrInsufficientCredits) {
		current, gerr := s.store.GetCredits(ctx, userID)
		if gerr != nil {
			current = decimal.Zero
		}
		return decimal.Zero, &InsufficientCreditsError{Operation: operation, Required: usage.Charge, Available: current}
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("deduct credits: %w", err)
	}

	s.telemetry.RecordGeneration(ctx, operation, usage.Model, usage.InputTokens, usage.OutputTokens, usage.Charge)
	return balance, nil
}

// refund returns a debited charge after the paid result could not be
// persisted.
func (s *Service) refund(ctx context.Context, userID string, usage finance.UsageRecord, cause error) {
	balance, err := s.store.AddCredits(ctx, userID, usage.Charge)
	if err != nil {
		s.logger.ErrorContext(ctx, "refund failed",
			"user_id", userID,
			"charge", usage.Charge.StringFixed(4),
			"cause", cause,
			"error", err,
		)
		return
	}
	s.logger.ErrorContext(ctx, "charge refunded after persistence failure",
		"user_id", userID,
		"charge", usage.Charge.StringFixed(4),
		"balance", balance.StringFixed(4),
		"error", cause,
	)
}

func (s *Service) archive(ctx context.Context, images []string) []string {
	hashes, err := artifacts.ArchiveImages(ctx, s.artifacts, images)
	if err != nil {
		s.logger.WarnContext(ctx, "screenshot archive failed", "error", err)
		return nil
	}
	return hashes
}

func (s *Service) gateOptions(id string) []reflection.Option[Perception] {
	return []reflection.Option[Perception]{
		reflection.WithID[Perception](id),
		reflection.WithRenderer[Perception](renderPerception),
		reflection.WithClock[Perception](s.clock),
	}
}

func (s *Service) saveGate(ctx context.Context, userID string, g *Gate) error {
	snapshot, err := json.Marshal(g.Snapshot())
	if err != nil {
		return fmt.Errorf("encode gate: %w", err)
	}
	rec := &store.GateRecord{
		ID:         g.ID,
		UserID:     userID,
		AnalysisID: g.Perception().AnalysisID,
		State:      string(g.State()),
		Snapshot:   snapshot,
	}
	if err := s.store.SaveGate(ctx, rec); err != nil {
		return fmt.Errorf("save gate: %w", err)
	}
	return nil
}

func (s *Service) loadGate(ctx context.Context, userID, gateID string) (*Gate, error) {
	rec, err := s.store.GetGate(ctx, gateID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, store.ErrNotFound
	}
	var snap reflection.Snapshot[Perception]
	if err := json.Unmarshal(rec.Snapshot, &snap); err != nil {
		return nil, fmt.Errorf("decode gate %s: %w", gateID, err)
	}
	snap.ID = rec.ID
	return reflection.Restore(snap, s.gateOptions(rec.ID)...), nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
