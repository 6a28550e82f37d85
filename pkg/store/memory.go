package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store for development and tests. Every read
// returns a copy.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]*User // by id
	byExternal  map[string]string
	analyses    map[string]*Analysis
	gates       map[string]*GateRecord
	coCreations map[string]*CoCreation
	sessions    map[string]*Transaction
	clock       func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*User),
		byExternal:  make(map[string]string),
		analyses:    make(map[string]*Analysis),
		gates:       make(map[string]*GateRecord),
		coCreations: make(map[string]*CoCreation),
		sessions:    make(map[string]*Transaction),
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) EnsureUser(_ context.Context, externalID, email string, initialCredits decimal.Decimal) (*User, error) {
	if externalID == "" {
		return nil, fmt.Errorf("store: external id must not be empty")
	}
	if initialCredits.IsNegative() {
		return nil, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byExternal[externalID]; ok {
		u := s.users[id]
		if email != "" {
			u.Email = email
		}
		cp := *u
		return &cp, nil
	}
	u := &User{
		ID:         uuid.New().String(),
		ExternalID: externalID,
		Email:      email,
		Credits:    initialCredits,
		CreatedAt:  s.clock(),
	}
	s.users[u.ID] = u
	s.byExternal[externalID] = u.ID
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetCredits(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	return u.Credits, nil
}

func (s *MemoryStore) DeductCredits(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	if u.Credits.LessThan(amount) {
		return u.Credits, ErrInsufficientCredits
	}
	u.Credits = u.Credits.Sub(amount)
	return u.Credits, nil
}

func (s *MemoryStore) AddCredits(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	u.Credits = u.Credits.Add(amount)
	return u.Credits, nil
}

func (s *MemoryStore) SaveAnalysis(_ context.Context, a *Analysis) error {
	if err := a.Usage.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[a.UserID]; !ok {
		return ErrNotFound
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.clock()
	}
	cp := *a
	cp.ImageHashes = append([]string(nil), a.ImageHashes...)
	s.analyses[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAnalysis(_ context.Context, id string) (*Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.analyses[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	cp.ImageHashes = append([]string(nil), a.ImageHashes...)
	return &cp, nil
}

func (s *MemoryStore) ListAnalyses(_ context.Context, userID string, limit int) ([]*Analysis, error) {
	limit = clampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Analysis
	for _, a := range s.analyses {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveGate(_ context.Context, g *GateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	if existing, ok := s.gates[g.ID]; ok {
		if existing.UserID != g.UserID {
			return ErrNotFound
		}
		g.CreatedAt = existing.CreatedAt
	} else if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	cp := *g
	cp.Snapshot = append([]byte(nil), g.Snapshot...)
	s.gates[g.ID] = &cp
	return nil
}

func (s *MemoryStore) GetGate(_ context.Context, id string) (*GateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.gates[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	cp.Snapshot = append([]byte(nil), g.Snapshot...)
	return &cp, nil
}

func (s *MemoryStore) SaveCoCreation(_ context.Context, c *CoCreation) error {
	if err := c.Usage.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.gates[c.GateID]; !ok {
		return ErrNotFound
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.clock()
	}
	cp := *c
	s.coCreations[c.ID] = &cp
	return nil
}

func (s *MemoryStore) CompleteTransaction(_ context.Context, tx *Transaction) (bool, decimal.Decimal, error) {
	if tx.Credits.IsNegative() || tx.AmountUSD.IsNegative() {
		return false, decimal.Zero, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[tx.UserID]
	if !ok {
		return false, decimal.Zero, ErrNotFound
	}
	if _, seen := s.sessions[tx.SessionID]; seen {
		return false, u.Credits, nil
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	tx.Status = TransactionCompleted
	tx.CreatedAt = s.clock()
	cp := *tx
	s.sessions[tx.SessionID] = &cp
	u.Credits = u.Credits.Add(tx.Credits)
	return true, u.Credits, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
