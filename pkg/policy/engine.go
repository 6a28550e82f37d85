// Package policy evaluates CEL admission rules for paid operations.
package policy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"
)

// Operations subject to admission.
const (
	OperationAnalyze  = "analyze"
	OperationCoCreate = "co_create"
)

// Kind classifies a denial for the HTTP layer.
type Kind string

const (
	KindPayment Kind = "payment" // 402
	KindInvalid Kind = "invalid" // 400
)

// MaxImages bounds each screenshot group on an analysis.
const MaxImages = 10

// Rule is a named CEL expression over `input` that must evaluate to true.
type Rule struct {
	Name       string
	Expression string
	Reason     string
	Kind       Kind
}

// DefaultRules gate every paid call.
var DefaultRules = []Rule{
	{
		Name:       "min_credits",
		Expression: `input.credits >= input.min_credits`,
		Reason:     "Insufficient credits",
		Kind:       KindPayment,
	},
	{
		Name:       "profile_images",
		Expression: `input.operation != "analyze" || (input.profile_images >= 1 && input.profile_images <= 10)`,
		Reason:     "Between 1 and 10 profile images are required",
		Kind:       KindInvalid,
	},
	{
		Name:       "conversation_images",
		Expression: `input.conversation_images <= 10`,
		Reason:     "At most 10 conversation images are allowed",
		Kind:       KindInvalid,
	},
}

// Denial reports the first rule an input failed.
type Denial struct {
	Rule   string
	Reason string
	Kind   Kind
}

func (d *Denial) Error() string {
	return fmt.Sprintf("policy: denied by %s: %s", d.Rule, d.Reason)
}

// Input is the admission context for one operation.
type Input struct {
	Operation          string
	Credits            decimal.Decimal
	MinCredits         decimal.Decimal
	ProfileImages      int
	ConversationImages int
	Premium            bool
}

func (in Input) activation() map[string]any {
	return map[string]any{
		"input": map[string]any{
			"operation":           in.Operation,
			"credits":             in.Credits.InexactFloat64(),
			"min_credits":         in.MinCredits.InexactFloat64(),
			"profile_images":      int64(in.ProfileImages),
			"conversation_images": int64(in.ConversationImages),
			"premium":             in.Premium,
		},
	}
}

// Engine evaluates an ordered rule list with a compiled program cache.
type Engine struct {
	env      *cel.Env
	rules    []Rule
	prgCache map[string]cel.Program
	mu       sync.RWMutex
}

// NewEngine compiles rules up front so a bad expression fails at startup.
// A nil rule list uses DefaultRules.
func NewEngine(rules []Rule) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	if rules == nil {
		rules = DefaultRules
	}
	e := &Engine{env: env, rules: rules, prgCache: make(map[string]cel.Program)}
	for _, r := range rules {
		if r.Name == "" {
			return nil, errors.New("policy: rule without a name")
		}
		if _, err := e.program(r.Expression); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, err)
		}
	}
	return e, nil
}

// WithRule returns the default rules plus one extra expression, used for the
// operator override.
func WithRule(name, expression, reason string) []Rule {
	rules := make([]Rule, 0, len(DefaultRules)+1)
	rules = append(rules, DefaultRules...)
	return append(rules, Rule{Name: name, Expression: expression, Reason: reason, Kind: KindInvalid})
}

// Rules returns a copy of the active rules.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

func (e *Engine) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expression]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[expression]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program error: %w", err)
	}
	e.prgCache[expression] = prg
	return prg, nil
}

// Evaluate returns a *Denial for the first failing rule, nil when admitted,
// or a plain error when a rule cannot be evaluated.
func (e *Engine) Evaluate(in Input) error {
	activation := in.activation()
	for _, r := range e.rules {
		prg, err := e.program(r.Expression)
		if err != nil {
			return fmt.Errorf("rule %s: %w", r.Name, err)
		}
		out, _, err := prg.Eval(activation)
		if err != nil {
			return fmt.Errorf("CEL eval error in rule %s: %w", r.Name, err)
		}
		allowed, ok := out.Value().(bool)
		if !ok {
			return fmt.Errorf("rule %s did not return bool", r.Name)
		}
		if !allowed {
			return &Denial{Rule: r.Name, Reason: r.Reason, Kind: r.Kind}
		}
	}
	return nil
}
