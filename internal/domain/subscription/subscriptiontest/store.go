// Package subscriptiontest provides an in-memory subscription.Store for
// tests of packages that sit on top of the store.
package subscriptiontest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outcomesignal/entitlements-api/internal/domain/subscription"
	"github.com/outcomesignal/entitlements-api/internal/types"
)

var _ subscription.Store = (*MemoryStore)(nil)

type usageEvent struct {
	userID   string
	kind     types.ResourceKind
	quantity int
	at       time.Time
}

// MemoryStore is a mutex-guarded in-memory Store. Err fields, when set,
// are returned by the matching method.
type MemoryStore struct {
	mu     sync.Mutex
	subs   map[string]*types.Subscription
	usage  []usageEvent
	calls  map[string]int
	Now    func() time.Time
	Period time.Duration

	GetErr    error
	EnsureErr error
	CountErr  error
	RecordErr error
	ExpireErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:   make(map[string]*types.Subscription),
		calls:  make(map[string]int),
		Now:    time.Now,
		Period: 7 * 24 * time.Hour,
	}
}

// Put inserts or replaces a subscription row.
func (s *MemoryStore) Put(sub types.Subscription) *types.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.Now().UTC()
		sub.UpdatedAt = sub.CreatedAt
	}
	s.subs[sub.UserID] = &sub
	cp := sub
	return &cp
}

// AddUsage appends a usage event at the given time.
func (s *MemoryStore) AddUsage(userID string, kind types.ResourceKind, quantity int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, usageEvent{userID: userID, kind: kind, quantity: quantity, at: at})
}

// Calls reports how many times a Store method has been invoked.
func (s *MemoryStore) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// TotalCalls reports the number of Store method invocations.
func (s *MemoryStore) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// Len reports the number of stored subscriptions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *MemoryStore) Get(_ context.Context, userID string) types.SubscriptionLookup {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["Get"]++
	if s.GetErr != nil {
		return types.StoreError(s.GetErr)
	}
	sub, ok := s.subs[userID]
	if !ok {
		return types.NotFound()
	}
	cp := *sub
	return types.Found(&cp)
}

func (s *MemoryStore) EnsureTrial(_ context.Context, userID string) (*types.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["EnsureTrial"]++
	if s.EnsureErr != nil {
		return nil, s.EnsureErr
	}
	if userID == "" {
		return nil, types.ErrUnauthenticated
	}
	if sub, ok := s.subs[userID]; ok {
		cp := *sub
		return &cp, nil
	}
	now := s.Now().UTC()
	endsAt := now.Add(s.Period)
	sub := &types.Subscription{
		ID:          uuid.New(),
		UserID:      userID,
		Tier:        types.TierTrial,
		Status:      types.StatusActive,
		TrialEndsAt: &endsAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.subs[userID] = sub
	cp := *sub
	return &cp, nil
}

func (s *MemoryStore) CountResourceUsage(_ context.Context, userID string, kind types.ResourceKind, period types.Period) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["CountResourceUsage"]++
	if s.CountErr != nil {
		return 0, s.CountErr
	}
	total := 0
	for _, e := range s.usage {
		if e.userID == userID && e.kind == kind && period.Contains(e.at) {
			total += e.quantity
		}
	}
	return total, nil
}

func (s *MemoryStore) RecordResourceUsage(_ context.Context, userID string, kind types.ResourceKind, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["RecordResourceUsage"]++
	if s.RecordErr != nil {
		return s.RecordErr
	}
	s.usage = append(s.usage, usageEvent{userID: userID, kind: kind, quantity: quantity, at: s.Now().UTC()})
	return nil
}

func (s *MemoryStore) ExpireDueTrials(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["ExpireDueTrials"]++
	if s.ExpireErr != nil {
		return nil, s.ExpireErr
	}
	ids := []uuid.UUID{}
	for _, sub := range s.subs {
		if sub.Tier == types.TierTrial && sub.Status == types.StatusActive &&
			sub.TrialEndsAt != nil && sub.TrialEndsAt.Before(now) {
			sub.Status = types.StatusExpired
			sub.UpdatedAt = now
			ids = append(ids, sub.ID)
		}
	}
	return ids, nil
}
