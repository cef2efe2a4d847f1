// Package memory provides in-memory repository implementations backing unit
// tests and single-process deployments. The user store serializes all
// mutations for one user behind the store mutex, which makes the conditional
// usage commit and the period resets mutually exclusive by construction.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/compliance_service/internal/domain/entities"
	"github.com/ledgerline/compliance_service/internal/domain/repositories"
)

// UserStateStore is an in-memory UserStateRepository.
type UserStateStore struct {
	mu     sync.Mutex
	states map[uuid.UUID]*entities.UserComplianceState
}

func NewUserStateStore() *UserStateStore {
	return &UserStateStore{states: make(map[uuid.UUID]*entities.UserComplianceState)}
}

func (s *UserStateStore) Get(ctx context.Context, userID uuid.UUID) (*entities.UserComplianceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[userID]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	return cloneState(state), nil
}

func (s *UserStateStore) Create(ctx context.Context, state *entities.UserComplianceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.UserID] = cloneState(state)
	return nil
}

// CommitUsage applies all increments under the store lock, only if the daily
// accumulator for the kind stays within the cap. Nothing is applied on
// failure, so two racing commits can never jointly overshoot the limit.
func (s *UserStateStore) CommitUsage(ctx context.Context, userID uuid.UUID, commit repositories.UsageCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[userID]
	if !ok {
		return repositories.ErrUserNotFound
	}

	if state.DailyUsed.Get(commit.Kind).Add(commit.Amount).GreaterThan(commit.DailyCap) {
		return repositories.ErrLimitConflict
	}

	state.DailyUsed[commit.Kind] = state.DailyUsed.Get(commit.Kind).Add(commit.Amount)
	state.WeeklyUsed[commit.Kind] = state.WeeklyUsed.Get(commit.Kind).Add(commit.Amount)
	state.MonthlyUsed[commit.Kind] = state.MonthlyUsed.Get(commit.Kind).Add(commit.Amount)
	state.DailyTxCount++
	state.TotalDepositedLifetime = state.TotalDepositedLifetime.Add(commit.Amount)
	now := commit.Now
	if state.FirstDepositAt == nil {
		first := now
		state.FirstDepositAt = &first
	}
	last := now
	state.LastDepositAt = &last
	state.Version++
	state.UpdatedAt = now
	return nil
}

// RevertUsage walks back a commit after a failed event append. Accumulators
// floor at zero so a stray revert can never drive them negative.
func (s *UserStateStore) RevertUsage(ctx context.Context, userID uuid.UUID, commit repositories.UsageCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[userID]
	if !ok {
		return repositories.ErrUserNotFound
	}

	state.DailyUsed[commit.Kind] = floorZero(state.DailyUsed.Get(commit.Kind).Sub(commit.Amount))
	state.WeeklyUsed[commit.Kind] = floorZero(state.WeeklyUsed.Get(commit.Kind).Sub(commit.Amount))
	state.MonthlyUsed[commit.Kind] = floorZero(state.MonthlyUsed.Get(commit.Kind).Sub(commit.Amount))
	if state.DailyTxCount > 0 {
		state.DailyTxCount--
	}
	state.TotalDepositedLifetime = floorZero(state.TotalDepositedLifetime.Sub(commit.Amount))
	state.Version++
	state.UpdatedAt = commit.Now
	return nil
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func (s *UserStateStore) SetPendingVerification(ctx context.Context, userID uuid.UUID, vt *entities.VerificationType, requestedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[userID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	state.PendingVerification = vt
	state.PendingRequestedAt = requestedAt
	state.Version++
	state.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *UserStateStore) UpgradeTier(ctx context.Context, userID uuid.UUID, tier entities.VerificationTier, verifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[userID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	if tier.Rank() > state.Tier.Rank() {
		state.Tier = tier
	}
	state.PendingVerification = nil
	state.PendingRequestedAt = nil
	state.KYCVerifiedAt = &verifiedAt
	state.Version++
	state.UpdatedAt = verifiedAt
	return nil
}

func (s *UserStateStore) SetAMLRiskScore(ctx context.Context, userID uuid.UUID, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[userID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	state.AMLRiskScore = &score
	state.Version++
	state.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *UserStateStore) ResetDaily(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, state := range s.states {
		state.DailyUsed = entities.NewUsageMap()
		state.DailyTxCount = 0
		state.Version++
	}
	return nil
}

func (s *UserStateStore) ResetWeekly(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, state := range s.states {
		state.WeeklyUsed = entities.NewUsageMap()
		state.Version++
	}
	return nil
}

func (s *UserStateStore) ResetMonthly(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, state := range s.states {
		state.MonthlyUsed = entities.NewUsageMap()
		state.Version++
	}
	return nil
}

func cloneState(state *entities.UserComplianceState) *entities.UserComplianceState {
	c := *state
	c.DailyUsed = state.DailyUsed.Clone()
	c.WeeklyUsed = state.WeeklyUsed.Clone()
	c.MonthlyUsed = state.MonthlyUsed.Clone()
	return &c
}

// DepositEventStore is an in-memory DepositEventRepository.
type DepositEventStore struct {
	mu     sync.RWMutex
	events map[uuid.UUID][]*entities.DepositEvent
}

func NewDepositEventStore() *DepositEventStore {
	return &DepositEventStore{events: make(map[uuid.UUID][]*entities.DepositEvent)}
}

func (s *DepositEventStore) Append(ctx context.Context, event *entities.DepositEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *event
	s.events[event.UserID] = append(s.events[event.UserID], &copied)
	return nil
}

func (s *DepositEventStore) ListByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*entities.DepositEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entities.DepositEvent
	for _, e := range s.events[userID] {
		if !e.CreatedAt.Before(since) {
			copied := *e
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *DepositEventStore) SetFlag(ctx context.Context, eventID uuid.UUID, flagged bool, reason *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, events := range s.events {
		for _, e := range events {
			if e.ID == eventID {
				e.Flagged = flagged
				e.FlagReason = reason
				return nil
			}
		}
	}
	return repositories.ErrDepositNotFound
}

// ComplianceLogStore is an in-memory ComplianceLogRepository.
type ComplianceLogStore struct {
	mu      sync.RWMutex
	entries []*entities.ComplianceLogEntry
}

func NewComplianceLogStore() *ComplianceLogStore {
	return &ComplianceLogStore{}
}

func (s *ComplianceLogStore) Append(ctx context.Context, entry *entities.ComplianceLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *entry
	s.entries = append(s.entries, &copied)
	return nil
}

func (s *ComplianceLogStore) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.ComplianceLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest first, matching the postgres repository.
	var matched []*entities.ComplianceLogEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].UserID == userID {
			matched = append(matched, s.entries[i])
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	out := make([]*entities.ComplianceLogEntry, len(matched))
	for i, e := range matched {
		copied := *e
		out[i] = &copied
	}
	return out, nil
}
