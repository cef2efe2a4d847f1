package compliance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerline/compliance_service/internal/domain/entities"
	"github.com/ledgerline/compliance_service/internal/domain/repositories"
	"github.com/ledgerline/compliance_service/internal/domain/services/aml"
	"github.com/ledgerline/compliance_service/internal/domain/services/risk"
	"github.com/ledgerline/compliance_service/internal/domain/services/velocity"
	"github.com/ledgerline/compliance_service/internal/domain/services/verification"
	"github.com/ledgerline/compliance_service/pkg/metrics"
)

// Service is the single entry point the rest of the platform calls for
// compliance decisions. It composes the velocity gate, the AML screener, the
// risk engine and the verification advisor, records audit entries for every
// allow and deny, and keeps the operational metrics.
type Service struct {
	gate         *velocity.Service
	screener     *aml.Service
	riskEngine   *risk.Service
	verification *verification.Service
	userRepo     repositories.UserStateRepository
	depositRepo  repositories.DepositEventRepository
	auditRepo    repositories.ComplianceLogRepository
	logger       *zap.Logger
}

// NewService wires the facade.
func NewService(
	gate *velocity.Service,
	screener *aml.Service,
	riskEngine *risk.Service,
	verificationSvc *verification.Service,
	userRepo repositories.UserStateRepository,
	depositRepo repositories.DepositEventRepository,
	auditRepo repositories.ComplianceLogRepository,
	logger *zap.Logger,
) *Service {
	return &Service{
		gate:         gate,
		screener:     screener,
		riskEngine:   riskEngine,
		verification: verificationSvc,
		userRepo:     userRepo,
		depositRepo:  depositRepo,
		auditRepo:    auditRepo,
		logger:       logger,
	}
}

// RegisterUser creates a fresh unverified compliance record. Registering an
// already known user is a no-op so upstream retries stay safe.
func (s *Service) RegisterUser(ctx context.Context, userID uuid.UUID) (*entities.UserComplianceState, error) {
	if existing, err := s.userRepo.Get(ctx, userID); err == nil {
		return existing, nil
	} else if err != repositories.ErrUserNotFound {
		return nil, err
	}

	state := entities.NewUserComplianceState(userID, time.Now().UTC())
	if err := s.userRepo.Create(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to create compliance state: %w", err)
	}
	s.logger.Info("compliance state registered", zap.String("user_id", userID.String()))
	return state, nil
}

// GetUserState returns the current compliance record for a user.
func (s *Service) GetUserState(ctx context.Context, userID uuid.UUID) (*entities.UserComplianceState, error) {
	return s.userRepo.Get(ctx, userID)
}

// EvaluateTransaction runs the velocity gate and writes the decision to the
// audit log.
func (s *Service) EvaluateTransaction(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, kind entities.TransactionKind) (*entities.GateDecision, error) {
	decision, err := s.gate.Evaluate(ctx, userID, amount, kind)
	if err != nil {
		return nil, err
	}

	tier := string(decision.Snapshot.Tier)
	outcome := "allowed"
	action := entities.ActionTransactionAllowed
	if !decision.Allowed {
		outcome = "denied"
		action = entities.ActionTransactionDenied
		metrics.GateDeniedAmount.WithLabelValues(string(kind), tier).Observe(amountAsFloat(amount))
	}
	metrics.GateDecisionsTotal.WithLabelValues(string(kind), tier, outcome).Inc()

	if err := s.auditRepo.Append(ctx, &entities.ComplianceLogEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Action:    action,
		Amount:    &amount,
		Reason:    decision.Reason,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		s.logger.Error("failed to write audit entry for gate decision",
			zap.Error(err), zap.String("user_id", userID.String()))
	}

	return decision, nil
}

// CommitTransaction records a settled transaction. The deposit event carries
// the user's risk level as scored at settlement time, so later pattern
// analysis sees the risk context the transaction landed in.
func (s *Service) CommitTransaction(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, kind entities.TransactionKind) (*entities.DepositEvent, error) {
	level := entities.RiskLow
	if score, err := s.riskEngine.Score(ctx, userID); err == nil {
		level = score.Level
	} else {
		s.logger.Warn("risk scoring unavailable at commit, recording low",
			zap.Error(err), zap.String("user_id", userID.String()))
	}

	event, err := s.gate.Commit(ctx, userID, amount, kind, level)
	if err != nil {
		if err == repositories.ErrLimitConflict {
			metrics.CommitConflictsTotal.Inc()
		}
		return nil, err
	}

	state, stateErr := s.userRepo.Get(ctx, userID)
	tier := ""
	if stateErr == nil {
		tier = string(state.Tier)
	}
	metrics.CommittedAmount.WithLabelValues(string(kind), tier).Observe(amountAsFloat(amount))
	return event, nil
}

// ScreenCounterparty screens an external address and pins the resulting risk
// score to the user's compliance record for the risk engine to weigh.
func (s *Service) ScreenCounterparty(ctx context.Context, userID uuid.UUID, address string, amount *decimal.Decimal) (*entities.AMLCheckResult, error) {
	started := time.Now()
	result, err := s.screener.Screen(ctx, address, amount)
	if err != nil {
		return nil, err
	}
	metrics.ScreeningDuration.WithLabelValues(result.Provider).Observe(time.Since(started).Seconds())
	metrics.ScreeningsTotal.WithLabelValues(result.Provider, string(result.RiskLevel)).Inc()

	if err := s.userRepo.SetAMLRiskScore(ctx, userID, result.RiskScore); err != nil {
		if err != repositories.ErrUserNotFound {
			return nil, fmt.Errorf("failed to store aml score: %w", err)
		}
		s.logger.Warn("screened address for unknown user, score not stored",
			zap.String("user_id", userID.String()))
	}

	if err := s.auditRepo.Append(ctx, &entities.ComplianceLogEntry{
		ID:     uuid.New(),
		UserID: userID,
		Action: entities.ActionAMLScreening,
		Reason: fmt.Sprintf("provider %s scored %s risk", result.Provider, result.RiskLevel),
		Metadata: map[string]interface{}{
			"address":    address,
			"provider":   result.Provider,
			"risk_score": strconv.FormatFloat(result.RiskScore, 'f', 2, 64),
			"sanctioned": strconv.FormatBool(result.IsSanctioned),
		},
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		s.logger.Error("failed to write audit entry for screening",
			zap.Error(err), zap.String("user_id", userID.String()))
	}

	return result, nil
}

// GetRiskScore computes the user's current composite risk score.
func (s *Service) GetRiskScore(ctx context.Context, userID uuid.UUID) (*entities.RiskScore, error) {
	score, err := s.riskEngine.Score(ctx, userID)
	if err != nil {
		return nil, err
	}
	if state, stateErr := s.userRepo.Get(ctx, userID); stateErr == nil {
		metrics.RiskScoreDistribution.WithLabelValues(string(state.Tier)).Observe(score.Score)
	}
	return score, nil
}

// GetUnusualPatterns analyzes the user's recent deposit history.
func (s *Service) GetUnusualPatterns(ctx context.Context, userID uuid.UUID) (*entities.PatternReport, error) {
	report, err := s.riskEngine.DetectPatterns(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, p := range report.Patterns {
		metrics.PatternsDetectedTotal.WithLabelValues(string(p.Type), string(p.Action)).Inc()
	}
	return report, nil
}

// GetVerificationRecommendation asks the advisor whether the user should be
// nudged or forced toward stronger verification.
func (s *Service) GetVerificationRecommendation(ctx context.Context, userID uuid.UUID) (*entities.VerificationRecommendation, error) {
	return s.verification.ShouldRequestVerification(ctx, userID)
}

// RequestVerification starts a verification and returns the constraints that
// apply while it is pending.
func (s *Service) RequestVerification(ctx context.Context, userID uuid.UUID, vt entities.VerificationType) (*entities.VerificationRequestOutcome, error) {
	outcome, err := s.verification.RequestVerification(ctx, userID, vt)
	if err != nil {
		return nil, err
	}
	metrics.VerificationsRequestedTotal.WithLabelValues(string(vt)).Inc()
	return outcome, nil
}

// CompleteVerification resolves a pending verification into a tier outcome.
func (s *Service) CompleteVerification(ctx context.Context, userID uuid.UUID, documents []entities.VerificationDocument) (*entities.VerificationOutcome, error) {
	outcome, err := s.verification.CompleteVerification(ctx, userID, documents)
	if err != nil {
		return nil, err
	}
	metrics.TierUpgradesTotal.WithLabelValues(string(outcome.PreviousTier), string(outcome.NewTier)).Inc()
	return outcome, nil
}

// FlagDeposit marks a settled deposit for manual review.
func (s *Service) FlagDeposit(ctx context.Context, userID, eventID uuid.UUID, reason string) error {
	if err := s.depositRepo.SetFlag(ctx, eventID, true, &reason); err != nil {
		return err
	}
	metrics.FlaggedDepositsTotal.Inc()

	if err := s.auditRepo.Append(ctx, &entities.ComplianceLogEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Action:    entities.ActionDepositFlagged,
		TxID:      &eventID,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		s.logger.Error("failed to write audit entry for deposit flag",
			zap.Error(err), zap.String("user_id", userID.String()))
	}
	return nil
}

// UnflagDeposit clears a review flag after an analyst signs off.
func (s *Service) UnflagDeposit(ctx context.Context, eventID uuid.UUID) error {
	return s.depositRepo.SetFlag(ctx, eventID, false, nil)
}

// GetComplianceLog pages through a user's audit trail, newest first.
func (s *Service) GetComplianceLog(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.ComplianceLogEntry, error) {
	return s.auditRepo.ListByUser(ctx, userID, limit, offset)
}

// ResetDaily zeroes all daily accumulators and records the sweep.
func (s *Service) ResetDaily(ctx context.Context) error {
	if err := s.gate.ResetDaily(ctx); err != nil {
		return err
	}
	metrics.LimitResetsTotal.WithLabelValues("daily").Inc()
	return nil
}

// ResetWeekly zeroes all weekly accumulators and records the sweep.
func (s *Service) ResetWeekly(ctx context.Context) error {
	if err := s.gate.ResetWeekly(ctx); err != nil {
		return err
	}
	metrics.LimitResetsTotal.WithLabelValues("weekly").Inc()
	return nil
}

// ResetMonthly zeroes all monthly accumulators and records the sweep.
func (s *Service) ResetMonthly(ctx context.Context) error {
	if err := s.gate.ResetMonthly(ctx); err != nil {
		return err
	}
	metrics.LimitResetsTotal.WithLabelValues("monthly").Inc()
	return nil
}

func amountAsFloat(amount decimal.Decimal) float64 {
	f, _ := amount.Float64()
	return f
}
