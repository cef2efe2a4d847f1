package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerline/compliance_service/internal/domain/entities"
	"github.com/ledgerline/compliance_service/internal/domain/repositories"
	"github.com/ledgerline/compliance_service/internal/domain/services/tierpolicy"
)

var (
	// ErrNoPendingVerification is returned when completing a verification for
	// a user who has none outstanding.
	ErrNoPendingVerification = errors.New("no verification pending")
	// ErrDocumentsRequired is returned when document verification completes
	// without any submitted documents.
	ErrDocumentsRequired = errors.New("document verification requires at least one document")
)

// The advisor requires standard verification outright above this composite
// risk score, and soft-suggests an upgrade to none-tier users past this
// lifetime deposit volume.
var (
	requireStandardAbove  = 80.0
	suggestUpgradeAbove   = decimal.NewFromInt(10000)
	roundNumbersRequireAt = 70.0
)

var lightPendingCapDivisor = decimal.NewFromInt(2)

// RiskEngine is the slice of the risk engine the advisor consumes.
type RiskEngine interface {
	Score(ctx context.Context, userID uuid.UUID) (*entities.RiskScore, error)
	DetectPatterns(ctx context.Context, userID uuid.UUID) (*entities.PatternReport, error)
}

// Service decides when users should be nudged or forced toward stronger
// verification, and drives the per-user verification state machine.
type Service struct {
	userRepo   repositories.UserStateRepository
	auditRepo  repositories.ComplianceLogRepository
	riskEngine RiskEngine
	policies   *tierpolicy.Table
	logger     *zap.Logger
}

// NewService creates a verification advisor.
func NewService(
	userRepo repositories.UserStateRepository,
	auditRepo repositories.ComplianceLogRepository,
	riskEngine RiskEngine,
	policies *tierpolicy.Table,
	logger *zap.Logger,
) *Service {
	return &Service{
		userRepo:   userRepo,
		auditRepo:  auditRepo,
		riskEngine: riskEngine,
		policies:   policies,
		logger:     logger,
	}
}

// ShouldRequestVerification applies the advisory rules in priority order:
// extreme risk and strong structuring signals require document verification,
// any other unusual pattern recommends light verification, and heavy unverified
// volume earns only a soft suggestion.
func (s *Service) ShouldRequestVerification(ctx context.Context, userID uuid.UUID) (*entities.VerificationRecommendation, error) {
	state, err := s.userRepo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	score, err := s.riskEngine.Score(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to score user: %w", err)
	}
	patterns, err := s.riskEngine.DetectPatterns(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to detect patterns: %w", err)
	}

	if score.Level == entities.RiskHigh && score.Score > requireStandardAbove {
		vt := entities.VerificationStandard
		return &entities.VerificationRecommendation{
			ShouldRequest: true,
			Required:      true,
			Type:          &vt,
			Reason:        fmt.Sprintf("composite risk score %.0f requires document verification", score.Score),
		}, nil
	}

	for _, p := range patterns.Patterns {
		if p.Type == entities.PatternRoundNumbers && p.Confidence > roundNumbersRequireAt {
			vt := entities.VerificationStandard
			return &entities.VerificationRecommendation{
				ShouldRequest: true,
				Required:      true,
				Type:          &vt,
				Reason:        "structuring indicators in deposit history require document verification",
			}, nil
		}
	}

	if patterns.HasUnusualPatterns {
		vt := entities.VerificationLight
		return &entities.VerificationRecommendation{
			ShouldRequest: true,
			Required:      false,
			Type:          &vt,
			Reason:        "unusual deposit patterns detected",
			Suggestions:   []string{"complete light verification to keep full account capabilities"},
		}, nil
	}

	if state.Tier == entities.TierNone && state.TotalDepositedLifetime.GreaterThan(suggestUpgradeAbove) {
		return &entities.VerificationRecommendation{
			ShouldRequest: false,
			Suggestions: []string{
				fmt.Sprintf("lifetime deposits of $%s exceed the unverified comfort zone; basic verification unlocks higher limits",
					state.TotalDepositedLifetime.String()),
			},
		}, nil
	}

	return &entities.VerificationRecommendation{ShouldRequest: false}, nil
}

// RequestVerification marks a verification as pending and returns the
// capability constraints that apply while it is outstanding. The velocity
// gate enforces them by reading the pending state, not from a second copy.
func (s *Service) RequestVerification(ctx context.Context, userID uuid.UUID, vt entities.VerificationType) (*entities.VerificationRequestOutcome, error) {
	if vt != entities.VerificationLight && vt != entities.VerificationStandard {
		return nil, fmt.Errorf("unknown verification type %q", vt)
	}

	state, err := s.userRepo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.userRepo.SetPendingVerification(ctx, userID, &vt, &now); err != nil {
		return nil, fmt.Errorf("failed to set pending verification: %w", err)
	}

	if err := s.auditRepo.Append(ctx, &entities.ComplianceLogEntry{
		ID:     uuid.New(),
		UserID: userID,
		Action: entities.ActionVerificationRequested,
		Reason: string(vt),
		Metadata: map[string]interface{}{
			"tier": string(state.Tier),
		},
		CreatedAt: now,
	}); err != nil {
		s.logger.Error("failed to write audit entry for verification request",
			zap.Error(err), zap.String("user_id", userID.String()))
	}

	policy, err := s.policies.PolicyFor(state.Tier)
	if err != nil {
		return nil, err
	}

	outcome := &entities.VerificationRequestOutcome{Type: vt, RequestedAt: now}
	switch vt {
	case entities.VerificationLight:
		reduced := policy.SingleTxLimit.Div(lightPendingCapDivisor)
		outcome.Constraints.SingleTxCap = &reduced
	case entities.VerificationStandard:
		outcome.Constraints.BlockedKinds = []entities.TransactionKind{entities.KindCryptoToFiat}
	}

	s.logger.Info("verification requested",
		zap.String("user_id", userID.String()),
		zap.String("type", string(vt)),
	)
	return outcome, nil
}

// CompleteVerification resolves the pending verification into a tier
// outcome: documents yield standard, phone yields basic only when the user
// was unverified. Tiers never move down.
func (s *Service) CompleteVerification(ctx context.Context, userID uuid.UUID, documents []entities.VerificationDocument) (*entities.VerificationOutcome, error) {
	state, err := s.userRepo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if state.PendingVerification == nil {
		return nil, ErrNoPendingVerification
	}

	pending := *state.PendingVerification
	if pending == entities.VerificationStandard && len(documents) == 0 {
		return nil, ErrDocumentsRequired
	}

	target := state.Tier
	switch pending {
	case entities.VerificationStandard:
		target = entities.TierStandard
	case entities.VerificationLight:
		if state.Tier == entities.TierNone {
			target = entities.TierBasic
		}
	}
	if target.Rank() < state.Tier.Rank() {
		target = state.Tier
	}

	now := time.Now().UTC()
	if err := s.userRepo.UpgradeTier(ctx, userID, target, now); err != nil {
		return nil, fmt.Errorf("failed to upgrade tier: %w", err)
	}

	if err := s.auditRepo.Append(ctx, &entities.ComplianceLogEntry{
		ID:     uuid.New(),
		UserID: userID,
		Action: entities.ActionTierUpgraded,
		Reason: string(pending),
		Metadata: map[string]interface{}{
			"previous_tier": string(state.Tier),
			"new_tier":      string(target),
			"documents":     len(documents),
		},
		CreatedAt: now,
	}); err != nil {
		s.logger.Error("failed to write audit entry for tier upgrade",
			zap.Error(err), zap.String("user_id", userID.String()))
	}

	s.logger.Info("verification completed",
		zap.String("user_id", userID.String()),
		zap.String("previous_tier", string(state.Tier)),
		zap.String("new_tier", string(target)),
	)

	return &entities.VerificationOutcome{
		PreviousTier: state.Tier,
		NewTier:      target,
		VerifiedAt:   now,
	}, nil
}
