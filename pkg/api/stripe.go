package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultWebhookTolerance bounds the age of a signed webhook.
const DefaultWebhookTolerance = 5 * time.Minute

const eventCheckoutCompleted = "checkout.session.completed"

var (
	errMissingSignature = errors.New("missing or malformed Stripe-Signature header")
	errBadSignature     = errors.New("webhook signature mismatch")
	errStaleSignature   = errors.New("webhook timestamp outside tolerance")
)

// verifyStripeSignature checks a "t=<unix>,v1=<hex>" header against an
// HMAC-SHA256 of "<t>.<payload>". Any matching v1 entry passes.
func verifyStripeSignature(payload []byte, header, secret string, now time.Time, tolerance time.Duration) error {
	var (
		ts   int64
		sigs [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return errMissingSignature
			}
			ts = n
		case "v1":
			sig, err := hex.DecodeString(v)
			if err == nil {
				sigs = append(sigs, sig)
			}
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return errMissingSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	expected := mac.Sum(nil)

	matched := false
	for _, sig := range sigs {
		if hmac.Equal(sig, expected) {
			matched = true
			break
		}
	}
	if !matched {
		return errBadSignature
	}
	if age := now.Sub(time.Unix(ts, 0)); age > tolerance || age < -tolerance {
		return errStaleSignature
	}
	return nil
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object checkoutSession `json:"object"`
	} `json:"data"`
}

type checkoutSession struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	AmountTotal   int64             `json:"amount_total"` // cents
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
}

// amounts returns the USD paid and the credits to grant. Metadata "credits"
// overrides the one-credit-per-dollar default.
func (s checkoutSession) amounts() (usd, credits decimal.Decimal, err error) {
	usd = decimal.NewFromInt(s.AmountTotal).Shift(-2)
	credits = usd
	if c, ok := s.Metadata["credits"]; ok && c != "" {
		credits, err = decimal.NewFromString(c)
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("metadata credits: %w", err)
		}
	}
	return usd, credits, nil
}
