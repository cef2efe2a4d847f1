package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerline/compliance_service/internal/domain/entities"
	"github.com/ledgerline/compliance_service/internal/domain/repositories"
	"github.com/ledgerline/compliance_service/internal/domain/services/aml"
	"github.com/ledgerline/compliance_service/internal/domain/services/tierpolicy"
)

// Composite score weights. The four sub-scores are each normalized to 0-100
// before weighting.
const (
	weightFrequency      = 0.20
	weightDepositSize    = 0.30
	weightTierCompliance = 0.30
	weightAMLRisk        = 0.20
)

// Composite level boundaries.
const (
	levelHighAt   = 70.0
	levelMediumAt = 40.0
)

// Pattern detection windows and thresholds.
const (
	frequencyWindow  = 7 * 24 * time.Hour
	patternWindow    = 30 * 24 * time.Hour
	minPatternEvents = 3
	rapidSpan        = 6 * time.Hour
)

// Lifetime-deposit thresholds for the tier-compliance factor, modeling
// activity inconsistent with the declared tier.
var (
	basicLifetimeThreshold = decimal.NewFromInt(50000)
	noneLifetimeThreshold  = decimal.NewFromInt(10000)

	div500  = decimal.NewFromInt(500)
	div1000 = decimal.NewFromInt(1000)
)

// Service scores users and detects behavioral deposit patterns. It only
// reads: the velocity gate owns accumulator writes, and the deposit event
// log is the source of truth for history.
type Service struct {
	userRepo    repositories.UserStateRepository
	depositRepo repositories.DepositEventRepository
	policies    *tierpolicy.Table
	amlLimits   aml.Thresholds
	logger      *zap.Logger
}

// NewService creates a risk engine. amlLimits must be the same thresholds the
// screener buckets with, so the AML factor and the screener agree.
func NewService(
	userRepo repositories.UserStateRepository,
	depositRepo repositories.DepositEventRepository,
	policies *tierpolicy.Table,
	amlLimits aml.Thresholds,
	logger *zap.Logger,
) *Service {
	return &Service{
		userRepo:    userRepo,
		depositRepo: depositRepo,
		policies:    policies,
		amlLimits:   amlLimits,
		logger:      logger,
	}
}

// Score computes the composite risk score: a fixed weighted sum of four
// sub-scores, each normalized to 0-100.
func (s *Service) Score(ctx context.Context, userID uuid.UUID) (*entities.RiskScore, error) {
	state, err := s.userRepo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	recent, err := s.depositRepo.ListByUserSince(ctx, userID, now.Add(-frequencyWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to load recent deposits: %w", err)
	}
	monthly, err := s.depositRepo.ListByUserSince(ctx, userID, now.Add(-patternWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to load monthly deposits: %w", err)
	}

	policy, err := s.policies.PolicyFor(state.Tier)
	if err != nil {
		return nil, err
	}

	factors := []entities.RiskFactor{
		{Name: "deposit_frequency", Score: frequencyScore(len(recent)), Weight: weightFrequency},
		{Name: "deposit_size", Score: depositSizeScore(monthly, policy.MonthlyLimit), Weight: weightDepositSize},
		{Name: "tier_compliance", Score: tierComplianceScore(state.Tier, state.TotalDepositedLifetime), Weight: weightTierCompliance},
		{Name: "aml_risk", Score: s.amlFactorScore(state.AMLRiskScore), Weight: weightAMLRisk},
	}

	var composite float64
	for _, f := range factors {
		composite += f.Score * f.Weight
	}

	level := entities.RiskLow
	switch {
	case composite >= levelHighAt:
		level = entities.RiskHigh
	case composite >= levelMediumAt:
		level = entities.RiskMedium
	}

	s.logger.Debug("risk score computed",
		zap.String("user_id", userID.String()),
		zap.Float64("score", composite),
		zap.String("level", string(level)),
	)

	return &entities.RiskScore{Score: composite, Level: level, Factors: factors}, nil
}

// frequencyScore buckets the trailing-7-day deposit count.
func frequencyScore(count int) float64 {
	switch {
	case count <= 5:
		return 30
	case count <= 15:
		return 60
	default:
		return 100
	}
}

// depositSizeScore buckets the trailing-30-day total as a percentage of the
// tier's monthly limit.
func depositSizeScore(events []*entities.DepositEvent, monthlyLimit decimal.Decimal) float64 {
	total := decimal.Zero
	for _, e := range events {
		total = total.Add(e.Amount)
	}
	if monthlyLimit.IsZero() {
		return 100
	}
	pct := total.Div(monthlyLimit).Mul(decimal.NewFromInt(100)).InexactFloat64()
	switch {
	case pct <= 30:
		return 20
	case pct <= 70:
		return 50
	case pct <= 120:
		return 80
	default:
		return 100
	}
}

// tierComplianceScore models lifetime volume inconsistent with the declared
// tier. Standard-tier users always score zero.
func tierComplianceScore(tier entities.VerificationTier, lifetime decimal.Decimal) float64 {
	switch tier {
	case entities.TierStandard:
		return 0
	case entities.TierBasic:
		if lifetime.GreaterThan(basicLifetimeThreshold) {
			return 70
		}
		return 30
	default:
		if lifetime.GreaterThan(noneLifetimeThreshold) {
			return 80
		}
		return 40
	}
}

// amlFactorScore steps the stored screening score with the same thresholds
// the screener buckets with.
func (s *Service) amlFactorScore(stored *float64) float64 {
	if stored == nil {
		return 0
	}
	switch {
	case *stored >= s.amlLimits.High:
		return 100
	case *stored >= s.amlLimits.Medium:
		return 60
	case *stored >= s.amlLimits.Low:
		return 30
	default:
		return 0
	}
}

// DetectPatterns analyzes the trailing 30 days of deposit events. Fewer than
// three events yields an empty report; there is not enough signal to call
// anything a pattern.
func (s *Service) DetectPatterns(ctx context.Context, userID uuid.UUID) (*entities.PatternReport, error) {
	if _, err := s.userRepo.Get(ctx, userID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	events, err := s.depositRepo.ListByUserSince(ctx, userID, now.Add(-patternWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to load deposit history: %w", err)
	}

	report := &entities.PatternReport{Patterns: []entities.Pattern{}}
	if len(events) < minPatternEvents {
		return report, nil
	}

	if p := detectRapidDeposits(events); p != nil {
		report.Patterns = append(report.Patterns, *p)
	}
	if p := detectRoundNumbers(events); p != nil {
		report.Patterns = append(report.Patterns, *p)
	}
	if p := detectBusinessPattern(events); p != nil {
		report.Patterns = append(report.Patterns, *p)
	}

	// The business pattern is a benign signal; it never marks the user as
	// unusual on its own.
	for _, p := range report.Patterns {
		if p.Type != entities.PatternBusinessPattern {
			report.HasUnusualPatterns = true
			break
		}
	}

	return report, nil
}

// detectRapidDeposits slides a three-event window over the time-ordered log:
// every index whose span back to two events earlier is six hours or less
// counts as a rapid occurrence.
func detectRapidDeposits(events []*entities.DepositEvent) *entities.Pattern {
	rapid := 0
	for i := 2; i < len(events); i++ {
		if events[i].CreatedAt.Sub(events[i-2].CreatedAt) <= rapidSpan {
			rapid++
		}
	}

	confidence := math.Min(100, float64(rapid)/float64(len(events))*100)
	if confidence <= 50 {
		return nil
	}

	action := entities.PatternActionMonitor
	if confidence > 70 {
		action = entities.PatternActionSuggest
	}
	return &entities.Pattern{
		Type:        entities.PatternRapidDeposits,
		Confidence:  confidence,
		Action:      action,
		Description: fmt.Sprintf("%d rapid deposit bursts across %d deposits", rapid, len(events)),
	}
}

// detectRoundNumbers flags deposit histories dominated by amounts divisible
// by 1000 or 500, the strongest structuring signal. Its action is always
// review and is never downgraded.
func detectRoundNumbers(events []*entities.DepositEvent) *entities.Pattern {
	round := 0
	for _, e := range events {
		if e.Amount.Mod(div1000).IsZero() || e.Amount.Mod(div500).IsZero() {
			round++
		}
	}

	fraction := float64(round) / float64(len(events))
	if fraction <= 0.6 {
		return nil
	}

	return &entities.Pattern{
		Type:        entities.PatternRoundNumbers,
		Confidence:  fraction * 100,
		Action:      entities.PatternActionReview,
		Description: fmt.Sprintf("%d of %d deposits are round amounts", round, len(events)),
	}
}

// detectBusinessPattern flags salary-like regularity: a coefficient of
// variation of deposit amounts under 40%.
func detectBusinessPattern(events []*entities.DepositEvent) *entities.Pattern {
	amounts := make([]float64, len(events))
	var sum float64
	for i, e := range events {
		amounts[i] = e.Amount.InexactFloat64()
		sum += amounts[i]
	}
	mean := sum / float64(len(amounts))
	if mean == 0 {
		return nil
	}

	var variance float64
	for _, a := range amounts {
		variance += (a - mean) * (a - mean)
	}
	variance /= float64(len(amounts))
	cov := math.Sqrt(variance) / mean * 100

	if cov >= 40 {
		return nil
	}

	return &entities.Pattern{
		Type:        entities.PatternBusinessPattern,
		Confidence:  math.Max(0, 100-cov),
		Action:      entities.PatternActionMonitor,
		Description: fmt.Sprintf("deposit amounts vary by only %.1f%%", cov),
	}
}
