package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/compliance_service/internal/domain/entities"
)

var (
	// ErrUserNotFound is returned when no compliance state exists for a user.
	ErrUserNotFound = errors.New("user compliance state not found")
	// ErrLimitConflict is returned when a conditional usage increment would
	// push the daily accumulator past the cap handed down by the gate.
	ErrLimitConflict = errors.New("usage increment exceeds daily limit")
	// ErrDepositNotFound is returned when a deposit event does not exist.
	ErrDepositNotFound = errors.New("deposit event not found")
)

// UsageCommit is the atomic mutation applied when a gated transaction
// settles. All three accumulators move together or not at all.
type UsageCommit struct {
	Kind     entities.TransactionKind
	Amount   decimal.Decimal
	DailyCap decimal.Decimal
	Now      time.Time
}

// UserStateRepository is the store for per-user compliance records.
type UserStateRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*entities.UserComplianceState, error)
	Create(ctx context.Context, state *entities.UserComplianceState) error
	// CommitUsage applies the increments of a settled transaction as a single
	// conditional update: it fails with ErrLimitConflict, applying nothing,
	// when the daily accumulator for the kind would exceed commit.DailyCap.
	CommitUsage(ctx context.Context, userID uuid.UUID, commit UsageCommit) error
	// RevertUsage undoes the increments of a commit whose deposit event could
	// not be recorded, so the accumulators stay a projection of the event log.
	RevertUsage(ctx context.Context, userID uuid.UUID, commit UsageCommit) error
	SetPendingVerification(ctx context.Context, userID uuid.UUID, vt *entities.VerificationType, requestedAt *time.Time) error
	// UpgradeTier sets the tier and verification timestamp and clears the
	// pending verification. Implementations never lower the tier.
	UpgradeTier(ctx context.Context, userID uuid.UUID, tier entities.VerificationTier, verifiedAt time.Time) error
	SetAMLRiskScore(ctx context.Context, userID uuid.UUID, score float64) error
	ResetDaily(ctx context.Context) error
	ResetWeekly(ctx context.Context) error
	ResetMonthly(ctx context.Context) error
}

// DepositEventRepository is the append-only store of settled transactions.
type DepositEventRepository interface {
	Append(ctx context.Context, event *entities.DepositEvent) error
	// ListByUserSince returns a user's events with CreatedAt >= since, oldest
	// first.
	ListByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*entities.DepositEvent, error)
	SetFlag(ctx context.Context, eventID uuid.UUID, flagged bool, reason *string) error
}

// ComplianceLogRepository is the append-only audit sink.
type ComplianceLogRepository interface {
	Append(ctx context.Context, entry *entities.ComplianceLogEntry) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.ComplianceLogEntry, error)
}
