// Package events publishes domain events for downstream consumers (billing
// exports, analytics). Publishing is best effort.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicAnalysisCompleted   = "roseglass.analysis.completed"
	TopicGatePassed          = "roseglass.gate.passed"
	TopicCoCreationCompleted = "roseglass.cocreation.completed"
	TopicCreditsAdded        = "roseglass.credits.added"

	// TopicAll matches every roseglass subject.
	TopicAll = "roseglass.>"
)

type AnalysisCompleted struct {
	AnalysisID  string          `json:"analysis_id"`
	GateID      string          `json:"gate_id"`
	UserID      string          `json:"user_id"`
	Model       string          `json:"model"`
	Charge      decimal.Decimal `json:"charge"`
	UsageDigest string          `json:"usage_digest"`
}

type GatePassed struct {
	GateID   string    `json:"gate_id"`
	UserID   string    `json:"user_id"`
	PassedAt time.Time `json:"passed_at"`
}

type CoCreationCompleted struct {
	CoCreationID string          `json:"co_creation_id"`
	GateID       string          `json:"gate_id"`
	UserID       string          `json:"user_id"`
	Model        string          `json:"model"`
	Charge       decimal.Decimal `json:"charge"`
}

type CreditsAdded struct {
	UserID    string          `json:"user_id"`
	SessionID string          `json:"session_id"`
	Credits   decimal.Decimal `json:"credits"`
	Balance   decimal.Decimal `json:"balance"`
}

// Publisher emits events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }
func (NoopPublisher) Close() error                                { return nil }

// Recorded is one captured publish.
type Recorded struct {
	Topic string
	Event any
}

// RecordingPublisher captures events in memory.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []Recorded
	// Err, when set, is returned from Publish after recording.
	Err error
}

func (r *RecordingPublisher) Publish(_ context.Context, topic string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Topic: topic, Event: event})
	return r.Err
}

func (r *RecordingPublisher) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *RecordingPublisher) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Topics lists the topics published so far, in order.
func (r *RecordingPublisher) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	topics := make([]string, len(r.events))
	for i, e := range r.events {
		topics[i] = e.Topic
	}
	return topics
}
