package finance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/shopspring/decimal"
)

// ErrUsageIntegrity is returned when a usage record violates the pricing
// invariants. Such a record must not be persisted.
var ErrUsageIntegrity = errors.New("finance: usage record integrity violation")

// UsageRecord is the priced outcome of one model call.
type UsageRecord struct {
	Model        string          `json:"model"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	Cost         decimal.Decimal `json:"cost"`
	Charge       decimal.Decimal `json:"charge"`
}

// TotalTokens returns input plus output tokens.
func (u UsageRecord) TotalTokens() int64 { return u.InputTokens + u.OutputTokens }

// Validate checks the record before it is persisted.
func (u UsageRecord) Validate() error {
	switch {
	case u.InputTokens < 0 || u.OutputTokens < 0:
		return fmt.Errorf("%w: negative token count", ErrUsageIntegrity)
	case u.Cost.IsNegative():
		return fmt.Errorf("%w: negative cost %s", ErrUsageIntegrity, u.Cost)
	case u.Charge.LessThan(u.Cost):
		return fmt.Errorf("%w: charge %s below cost %s", ErrUsageIntegrity, u.Charge, u.Cost)
	}
	return nil
}

// Digest returns a sha256 over the RFC 8785 canonical JSON of the record.
// Equal records always produce the same digest.
func (u UsageRecord) Digest() (string, error) {
	raw, err := json.Marshal(u)
	if err != nil {
		return "", fmt.Errorf("finance: marshal usage record: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("finance: canonicalize usage record: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
