// Package store persists users, credit balances, analyses, gates,
// co-creations and payment transactions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Mindburn-Labs/roseglass/pkg/finance"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrInsufficientCredits is returned when a debit would overdraw a balance.
	ErrInsufficientCredits = errors.New("store: insufficient credits")
	// ErrInvalidAmount is returned for negative debit or credit amounts.
	ErrInvalidAmount = errors.New("store: amount must not be negative")
)

// DefaultHistoryLimit and MaxHistoryLimit bound ListAnalyses.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// Transaction statuses.
const (
	TransactionPending   = "pending"
	TransactionCompleted = "completed"
)

// User is an authenticated account with a credit balance in USD.
type User struct {
	ID         string          `json:"id"`
	ExternalID string          `json:"external_id"`
	Email      string          `json:"email"`
	Credits    decimal.Decimal `json:"credits"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Analysis is a persisted Phase 1 result.
type Analysis struct {
	ID                     string              `json:"id"`
	UserID                 string              `json:"user_id"`
	Text                   string              `json:"analysis_text"`
	UserContext            string              `json:"user_context,omitempty"`
	Usage                  finance.UsageRecord `json:"usage"`
	UsageDigest            string              `json:"usage_digest"`
	ProfileImageCount      int                 `json:"profile_image_count"`
	ConversationImageCount int                 `json:"conversation_image_count"`
	ImageHashes            []string            `json:"image_hashes,omitempty"`
	CreatedAt              time.Time           `json:"created_at"`
}

// GateRecord persists a reflection gate snapshot. The store does not
// interpret the snapshot.
type GateRecord struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	AnalysisID string          `json:"analysis_id"`
	State      string          `json:"state"`
	Snapshot   json.RawMessage `json:"snapshot"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// CoCreation is a persisted Phase 2 result.
type CoCreation struct {
	ID          string              `json:"id"`
	UserID      string              `json:"user_id"`
	GateID      string              `json:"gate_id"`
	AnalysisID  string              `json:"analysis_id"`
	Message     string              `json:"message"`
	Usage       finance.UsageRecord `json:"usage"`
	UsageDigest string              `json:"usage_digest"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Transaction is a credit purchase.
type Transaction struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	SessionID     string          `json:"stripe_session_id"`
	PaymentIntent string          `json:"stripe_payment_intent,omitempty"`
	AmountUSD     decimal.Decimal `json:"amount_usd"`
	Credits       decimal.Decimal `json:"credits_added"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Store is the persistence contract shared by the Postgres and memory
// implementations.
type Store interface {
	// EnsureUser returns the user for externalID, creating it with
	// initialCredits on first sight.
	EnsureUser(ctx context.Context, externalID, email string, initialCredits decimal.Decimal) (*User, error)
	GetCredits(ctx context.Context, userID string) (decimal.Decimal, error)
	// DeductCredits atomically debits amount and returns the new balance.
	// It never overdraws; ErrInsufficientCredits leaves the balance unchanged.
	DeductCredits(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	AddCredits(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)

	SaveAnalysis(ctx context.Context, a *Analysis) error
	GetAnalysis(ctx context.Context, id string) (*Analysis, error)
	ListAnalyses(ctx context.Context, userID string, limit int) ([]*Analysis, error)

	SaveGate(ctx context.Context, g *GateRecord) error
	GetGate(ctx context.Context, id string) (*GateRecord, error)

	SaveCoCreation(ctx context.Context, c *CoCreation) error

	// CompleteTransaction records a completed purchase and credits the user.
	// A repeated session id is a no-op reporting applied=false.
	CompleteTransaction(ctx context.Context, tx *Transaction) (applied bool, balance decimal.Decimal, err error)

	Ping(ctx context.Context) error
	Close() error
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}
