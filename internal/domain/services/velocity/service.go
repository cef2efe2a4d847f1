package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerline/compliance_service/internal/domain/entities"
	"github.com/ledgerline/compliance_service/internal/domain/repositories"
	"github.com/ledgerline/compliance_service/internal/domain/services/tierpolicy"
)

const defaultCurrency = "USD"

// lightPendingCapDivisor halves the single-transaction limit while a light
// verification request is outstanding.
var lightPendingCapDivisor = decimal.NewFromInt(2)

// Service is the velocity gate: the only component with authority to block a
// transaction. Evaluate renders a verdict; Commit records usage after the
// transaction actually settles. The two are deliberately separate calls.
type Service struct {
	userRepo    repositories.UserStateRepository
	depositRepo repositories.DepositEventRepository
	auditRepo   repositories.ComplianceLogRepository
	policies    *tierpolicy.Table
	logger      *zap.Logger
}

// NewService creates a velocity gate.
func NewService(
	userRepo repositories.UserStateRepository,
	depositRepo repositories.DepositEventRepository,
	auditRepo repositories.ComplianceLogRepository,
	policies *tierpolicy.Table,
	logger *zap.Logger,
) *Service {
	return &Service{
		userRepo:    userRepo,
		depositRepo: depositRepo,
		auditRepo:   auditRepo,
		policies:    policies,
		logger:      logger,
	}
}

// Evaluate checks a proposed transaction against the user's tier policy and
// rolling usage. Checks short-circuit on the first failure. Weekly and
// monthly accumulators only populate the snapshot; by product policy they
// never cause a denial.
func (s *Service) Evaluate(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, kind entities.TransactionKind) (*entities.GateDecision, error) {
	state, err := s.userRepo.Get(ctx, userID)
	if err != nil {
		if err == repositories.ErrUserNotFound {
			return &entities.GateDecision{Allowed: false, Reason: "user not found"}, nil
		}
		return nil, fmt.Errorf("failed to load compliance state: %w", err)
	}

	policy, err := s.policies.PolicyFor(state.Tier)
	if err != nil {
		return nil, err
	}

	snapshot := s.snapshot(state, policy, kind)

	deny := func(reason string) (*entities.GateDecision, error) {
		s.logger.Info("transaction denied",
			zap.String("user_id", userID.String()),
			zap.String("kind", string(kind)),
			zap.String("amount", amount.String()),
			zap.String("reason", reason),
		)
		return &entities.GateDecision{Allowed: false, Reason: reason, Snapshot: snapshot}, nil
	}

	switch state.Status {
	case entities.AccountSuspended:
		return deny("account suspended")
	case entities.AccountRestricted:
		if kind != entities.KindFiatToCrypto {
			return deny("account restricted: only fiat to crypto deposits are permitted")
		}
	}

	if !policy.Allows(kind) {
		required := s.tierRequiredFor(kind)
		return deny(fmt.Sprintf("%s transactions require %s verification", kind, required))
	}

	if amount.GreaterThan(policy.SingleTxLimit) {
		return deny(fmt.Sprintf("amount $%s exceeds the single transaction limit of $%s; split into smaller transactions",
			amount.String(), policy.SingleTxLimit.String()))
	}

	if state.PendingVerification != nil {
		switch *state.PendingVerification {
		case entities.VerificationLight:
			reduced := policy.SingleTxLimit.Div(lightPendingCapDivisor)
			if amount.GreaterThan(reduced) {
				return deny(fmt.Sprintf("amount capped at $%s while light verification is pending", reduced.String()))
			}
		case entities.VerificationStandard:
			if kind == entities.KindCryptoToFiat {
				return deny("crypto to fiat transactions are suspended while document verification is pending")
			}
		}
	}

	used := state.DailyUsed.Get(kind)
	if used.Add(amount).GreaterThan(policy.DailyLimit) {
		remaining := policy.DailyLimit.Sub(used)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		return deny(fmt.Sprintf("daily limit reached: $%s remaining today; resets at midnight UTC", remaining.String()))
	}

	if policy.MaxDailyTxCount > 0 && state.DailyTxCount >= policy.MaxDailyTxCount {
		return deny(fmt.Sprintf("daily transaction count limit of %d reached; resets at midnight UTC", policy.MaxDailyTxCount))
	}

	return &entities.GateDecision{Allowed: true, Snapshot: snapshot}, nil
}

// Commit records usage for a transaction that settled. The store applies the
// three accumulator increments as one conditional update, so two racing
// commits can never jointly exceed the daily limit; the loser gets
// ErrLimitConflict and no usage is recorded. On success the settled
// transaction is appended to the deposit event log with the supplied risk
// level, keeping the accumulators a projection of that log.
func (s *Service) Commit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, kind entities.TransactionKind, riskLevel entities.RiskLevel) (*entities.DepositEvent, error) {
	state, err := s.userRepo.Get(ctx, userID)
	if err != nil {
		if err == repositories.ErrUserNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load compliance state: %w", err)
	}

	policy, err := s.policies.PolicyFor(state.Tier)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	commit := repositories.UsageCommit{
		Kind:     kind,
		Amount:   amount,
		DailyCap: policy.DailyLimit,
		Now:      now,
	}
	if err := s.userRepo.CommitUsage(ctx, userID, commit); err != nil {
		if err == repositories.ErrLimitConflict {
			s.logger.Warn("commit lost the race for remaining daily budget",
				zap.String("user_id", userID.String()),
				zap.String("kind", string(kind)),
				zap.String("amount", amount.String()),
			)
			return nil, err
		}
		return nil, fmt.Errorf("failed to commit usage: %w", err)
	}

	event := &entities.DepositEvent{
		ID:        uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Currency:  defaultCurrency,
		Kind:      kind,
		RiskLevel: riskLevel,
		CreatedAt: now,
	}
	if err := s.depositRepo.Append(ctx, event); err != nil {
		// The accumulators are a projection of the event log; a commit whose
		// event never landed must not stay counted.
		if revertErr := s.userRepo.RevertUsage(ctx, userID, commit); revertErr != nil {
			s.logger.Error("failed to revert usage after event append failure",
				zap.Error(revertErr),
				zap.String("user_id", userID.String()),
				zap.String("amount", amount.String()),
			)
		}
		return nil, fmt.Errorf("failed to append deposit event: %w", err)
	}

	if err := s.auditRepo.Append(ctx, &entities.ComplianceLogEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Action:    entities.ActionTransactionCommitted,
		Amount:    &amount,
		TxID:      &event.ID,
		RiskLevel: &riskLevel,
		CreatedAt: now,
	}); err != nil {
		s.logger.Error("failed to write audit entry for commit",
			zap.Error(err), zap.String("user_id", userID.String()))
	}

	s.logger.Info("transaction committed",
		zap.String("user_id", userID.String()),
		zap.String("kind", string(kind)),
		zap.String("amount", amount.String()),
	)
	return event, nil
}

// ResetDaily zeroes every user's daily accumulators. Idempotent; driven by
// the external scheduler at midnight UTC.
func (s *Service) ResetDaily(ctx context.Context) error {
	if err := s.userRepo.ResetDaily(ctx); err != nil {
		return fmt.Errorf("daily reset failed: %w", err)
	}
	s.logger.Info("daily usage accumulators reset")
	return nil
}

// ResetWeekly zeroes every user's weekly accumulators (Monday 00:00 UTC).
func (s *Service) ResetWeekly(ctx context.Context) error {
	if err := s.userRepo.ResetWeekly(ctx); err != nil {
		return fmt.Errorf("weekly reset failed: %w", err)
	}
	s.logger.Info("weekly usage accumulators reset")
	return nil
}

// ResetMonthly zeroes every user's monthly accumulators (first of month).
func (s *Service) ResetMonthly(ctx context.Context) error {
	if err := s.userRepo.ResetMonthly(ctx); err != nil {
		return fmt.Errorf("monthly reset failed: %w", err)
	}
	s.logger.Info("monthly usage accumulators reset")
	return nil
}

func (s *Service) snapshot(state *entities.UserComplianceState, policy entities.TierPolicy, kind entities.TransactionKind) entities.LimitSnapshot {
	dailyUsed := state.DailyUsed.Get(kind)
	remaining := policy.DailyLimit.Sub(dailyUsed)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return entities.LimitSnapshot{
		Tier:            state.Tier,
		SingleTxLimit:   policy.SingleTxLimit,
		DailyLimit:      policy.DailyLimit,
		DailyUsed:       dailyUsed,
		DailyRemaining:  remaining,
		WeeklyLimit:     policy.WeeklyLimit,
		WeeklyUsed:      state.WeeklyUsed.Get(kind),
		MonthlyLimit:    policy.MonthlyLimit,
		MonthlyUsed:     state.MonthlyUsed.Get(kind),
		DailyTxCount:    state.DailyTxCount,
		MaxDailyTxCount: policy.MaxDailyTxCount,
	}
}

// tierRequiredFor returns the lowest tier whose policy allows the kind.
func (s *Service) tierRequiredFor(kind entities.TransactionKind) entities.VerificationTier {
	for _, tier := range []entities.VerificationTier{entities.TierNone, entities.TierBasic, entities.TierStandard} {
		policy, err := s.policies.PolicyFor(tier)
		if err != nil {
			continue
		}
		if policy.Allows(kind) {
			return tier
		}
	}
	return entities.TierStandard
}
