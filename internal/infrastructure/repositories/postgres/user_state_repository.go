package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ledgerline/compliance_service/internal/domain/entities"
	"github.com/ledgerline/compliance_service/internal/domain/repositories"
)

// UserStateRepository implements the user state store for PostgreSQL. The
// three usage maps live in jsonb columns keyed by transaction kind, which
// lets the commit guard read and bump a single kind in one statement.
type UserStateRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
	tracer trace.Tracer
}

// NewUserStateRepository creates a new user state repository.
func NewUserStateRepository(db *sqlx.DB, logger *zap.Logger) *UserStateRepository {
	return &UserStateRepository{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("user-state-repository"),
	}
}

type userStateRow struct {
	UserID                 uuid.UUID  `db:"user_id"`
	Tier                   string     `db:"tier"`
	Status                 string     `db:"status"`
	DailyUsed              []byte     `db:"daily_used"`
	WeeklyUsed             []byte     `db:"weekly_used"`
	MonthlyUsed            []byte     `db:"monthly_used"`
	DailyTxCount           int        `db:"daily_tx_count"`
	TotalDepositedLifetime string     `db:"total_deposited_lifetime"`
	FirstDepositAt         *time.Time `db:"first_deposit_at"`
	LastDepositAt          *time.Time `db:"last_deposit_at"`
	AMLRiskScore           *float64   `db:"aml_risk_score"`
	PendingVerification    *string    `db:"pending_verification"`
	PendingRequestedAt     *time.Time `db:"pending_requested_at"`
	KYCVerifiedAt          *time.Time `db:"kyc_verified_at"`
	Version                int64      `db:"version"`
	CreatedAt              time.Time  `db:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at"`
}

const userStateColumns = `
	user_id, tier, status, daily_used, weekly_used, monthly_used,
	daily_tx_count, total_deposited_lifetime, first_deposit_at, last_deposit_at,
	aml_risk_score, pending_verification, pending_requested_at, kyc_verified_at,
	version, created_at, updated_at`

// Get retrieves a user's compliance state.
func (r *UserStateRepository) Get(ctx context.Context, userID uuid.UUID) (*entities.UserComplianceState, error) {
	ctx, span := r.tracer.Start(ctx, "user_state_repo.get", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
	))
	defer span.End()

	var row userStateRow
	query := `SELECT ` + userStateColumns + ` FROM user_compliance_states WHERE user_id = $1`
	if err := r.db.GetContext(ctx, &row, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, repositories.ErrUserNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get compliance state: %w", err)
	}
	return r.fromRow(&row)
}

// Create inserts a fresh compliance state.
func (r *UserStateRepository) Create(ctx context.Context, state *entities.UserComplianceState) error {
	ctx, span := r.tracer.Start(ctx, "user_state_repo.create", trace.WithAttributes(
		attribute.String("user_id", state.UserID.String()),
	))
	defer span.End()

	daily, weekly, monthly, err := marshalUsageMaps(state)
	if err != nil {
		span.RecordError(err)
		return err
	}

	query := `
		INSERT INTO user_compliance_states (` + userStateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (user_id) DO NOTHING`

	_, err = r.db.ExecContext(ctx, query,
		state.UserID,
		string(state.Tier),
		string(state.Status),
		daily,
		weekly,
		monthly,
		state.DailyTxCount,
		state.TotalDepositedLifetime.String(),
		state.FirstDepositAt,
		state.LastDepositAt,
		state.AMLRiskScore,
		verificationTypeString(state.PendingVerification),
		state.PendingRequestedAt,
		state.KYCVerifiedAt,
		state.Version,
		state.CreatedAt,
		state.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		r.logger.Error("failed to create compliance state",
			zap.Error(err), zap.String("user_id", state.UserID.String()))
		return fmt.Errorf("failed to create compliance state: %w", err)
	}
	return nil
}

// CommitUsage applies the settlement increments in one guarded UPDATE. The
// WHERE clause re-reads the daily accumulator inside the statement, so under
// concurrent commits only those that still fit the cap take effect; the rest
// match zero rows and surface ErrLimitConflict.
func (r *UserStateRepository) CommitUsage(ctx context.Context, userID uuid.UUID, commit repositories.UsageCommit) error {
	ctx, span := r.tracer.Start(ctx, "user_state_repo.commit_usage", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
		attribute.String("kind", string(commit.Kind)),
		attribute.String("amount", commit.Amount.String()),
	))
	defer span.End()

	query := `
		UPDATE user_compliance_states SET
			daily_used   = jsonb_set(daily_used,   ARRAY[$2], to_jsonb((COALESCE((daily_used->>$2)::numeric, 0) + $3::numeric)::text)),
			weekly_used  = jsonb_set(weekly_used,  ARRAY[$2], to_jsonb((COALESCE((weekly_used->>$2)::numeric, 0) + $3::numeric)::text)),
			monthly_used = jsonb_set(monthly_used, ARRAY[$2], to_jsonb((COALESCE((monthly_used->>$2)::numeric, 0) + $3::numeric)::text)),
			daily_tx_count = daily_tx_count + 1,
			total_deposited_lifetime = total_deposited_lifetime + $3::numeric,
			first_deposit_at = COALESCE(first_deposit_at, $4),
			last_deposit_at = $4,
			version = version + 1,
			updated_at = $4
		WHERE user_id = $1
		  AND COALESCE((daily_used->>$2)::numeric, 0) + $3::numeric <= $5::numeric`

	result, err := r.db.ExecContext(ctx, query,
		userID,
		string(commit.Kind),
		commit.Amount.String(),
		commit.Now,
		commit.DailyCap.String(),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit usage: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to read commit result: %w", err)
	}
	if rows == 0 {
		var exists bool
		check := `SELECT EXISTS(SELECT 1 FROM user_compliance_states WHERE user_id = $1)`
		if err := r.db.GetContext(ctx, &exists, check, userID); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to resolve commit rejection: %w", err)
		}
		if !exists {
			return repositories.ErrUserNotFound
		}
		return repositories.ErrLimitConflict
	}
	return nil
}

// RevertUsage walks back the increments of a commit whose deposit event failed
// to persist. Accumulators floor at zero; the deposit timestamps stay as they
// were, they are monitoring metadata rather than part of the projection.
func (r *UserStateRepository) RevertUsage(ctx context.Context, userID uuid.UUID, commit repositories.UsageCommit) error {
	ctx, span := r.tracer.Start(ctx, "user_state_repo.revert_usage", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
		attribute.String("kind", string(commit.Kind)),
		attribute.String("amount", commit.Amount.String()),
	))
	defer span.End()

	query := `
		UPDATE user_compliance_states SET
			daily_used   = jsonb_set(daily_used,   ARRAY[$2], to_jsonb(GREATEST(COALESCE((daily_used->>$2)::numeric, 0) - $3::numeric, 0)::text)),
			weekly_used  = jsonb_set(weekly_used,  ARRAY[$2], to_jsonb(GREATEST(COALESCE((weekly_used->>$2)::numeric, 0) - $3::numeric, 0)::text)),
			monthly_used = jsonb_set(monthly_used, ARRAY[$2], to_jsonb(GREATEST(COALESCE((monthly_used->>$2)::numeric, 0) - $3::numeric, 0)::text)),
			daily_tx_count = GREATEST(daily_tx_count - 1, 0),
			total_deposited_lifetime = GREATEST(total_deposited_lifetime - $3::numeric, 0),
			version = version + 1,
			updated_at = $4
		WHERE user_id = $1`

	return r.mustAffect(ctx, span, query, userID, string(commit.Kind), commit.Amount.String(), commit.Now)
}

// SetPendingVerification stores or clears the outstanding verification.
func (r *UserStateRepository) SetPendingVerification(ctx context.Context, userID uuid.UUID, vt *entities.VerificationType, requestedAt *time.Time) error {
	ctx, span := r.tracer.Start(ctx, "user_state_repo.set_pending_verification")
	defer span.End()

	query := `
		UPDATE user_compliance_states
		SET pending_verification = $2, pending_requested_at = $3,
		    version = version + 1, updated_at = NOW()
		WHERE user_id = $1`

	return r.mustAffect(ctx, span, query, userID, verificationTypeString(vt), requestedAt)
}

// UpgradeTier raises the tier, never lowers it, and clears the pending
// verification either way.
func (r *UserStateRepository) UpgradeTier(ctx context.Context, userID uuid.UUID, tier entities.VerificationTier, verifiedAt time.Time) error {
	ctx, span := r.tracer.Start(ctx, "user_state_repo.upgrade_tier", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
		attribute.String("tier", string(tier)),
	))
	defer span.End()

	query := `
		UPDATE user_compliance_states
		SET tier = CASE
				WHEN $2 = 'standard' THEN 'standard'
				WHEN $2 = 'basic' AND tier = 'none' THEN 'basic'
				ELSE tier
			END,
		    pending_verification = NULL,
		    pending_requested_at = NULL,
		    kyc_verified_at = $3,
		    version = version + 1,
		    updated_at = $3
		WHERE user_id = $1`

	return r.mustAffect(ctx, span, query, userID, string(tier), verifiedAt)
}

// SetAMLRiskScore pins the latest screening score to the user.
func (r *UserStateRepository) SetAMLRiskScore(ctx context.Context, userID uuid.UUID, score float64) error {
	ctx, span := r.tracer.Start(ctx, "user_state_repo.set_aml_score")
	defer span.End()

	query := `
		UPDATE user_compliance_states
		SET aml_risk_score = $2, version = version + 1, updated_at = NOW()
		WHERE user_id = $1`

	return r.mustAffect(ctx, span, query, userID, score)
}

// ResetDaily zeroes every user's daily accumulators and counters.
func (r *UserStateRepository) ResetDaily(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "user_state_repo.reset_daily")
	defer span.End()

	query := `
		UPDATE user_compliance_states
		SET daily_used = $1::jsonb, daily_tx_count = 0,
		    version = version + 1, updated_at = NOW()`

	_, err := r.db.ExecContext(ctx, query, emptyUsageJSON())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to reset daily usage: %w", err)
	}
	return nil
}

// ResetWeekly zeroes every user's weekly accumulators.
func (r *UserStateRepository) ResetWeekly(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "user_state_repo.reset_weekly")
	defer span.End()

	query := `
		UPDATE user_compliance_states
		SET weekly_used = $1::jsonb, version = version + 1, updated_at = NOW()`

	_, err := r.db.ExecContext(ctx, query, emptyUsageJSON())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to reset weekly usage: %w", err)
	}
	return nil
}

// ResetMonthly zeroes every user's monthly accumulators.
func (r *UserStateRepository) ResetMonthly(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "user_state_repo.reset_monthly")
	defer span.End()

	query := `
		UPDATE user_compliance_states
		SET monthly_used = $1::jsonb, version = version + 1, updated_at = NOW()`

	_, err := r.db.ExecContext(ctx, query, emptyUsageJSON())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to reset monthly usage: %w", err)
	}
	return nil
}

func (r *UserStateRepository) mustAffect(ctx context.Context, span trace.Span, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("update failed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 0 {
		return repositories.ErrUserNotFound
	}
	return nil
}

func (r *UserStateRepository) fromRow(row *userStateRow) (*entities.UserComplianceState, error) {
	daily, err := unmarshalUsageMap(row.DailyUsed)
	if err != nil {
		return nil, fmt.Errorf("corrupt daily usage for user %s: %w", row.UserID, err)
	}
	weekly, err := unmarshalUsageMap(row.WeeklyUsed)
	if err != nil {
		return nil, fmt.Errorf("corrupt weekly usage for user %s: %w", row.UserID, err)
	}
	monthly, err := unmarshalUsageMap(row.MonthlyUsed)
	if err != nil {
		return nil, fmt.Errorf("corrupt monthly usage for user %s: %w", row.UserID, err)
	}
	lifetime, err := decimal.NewFromString(row.TotalDepositedLifetime)
	if err != nil {
		return nil, fmt.Errorf("corrupt lifetime total for user %s: %w", row.UserID, err)
	}

	state := &entities.UserComplianceState{
		UserID:                 row.UserID,
		Tier:                   entities.VerificationTier(row.Tier),
		Status:                 entities.AccountStatus(row.Status),
		DailyUsed:              daily,
		WeeklyUsed:             weekly,
		MonthlyUsed:            monthly,
		DailyTxCount:           row.DailyTxCount,
		TotalDepositedLifetime: lifetime,
		FirstDepositAt:         row.FirstDepositAt,
		LastDepositAt:          row.LastDepositAt,
		AMLRiskScore:           row.AMLRiskScore,
		PendingRequestedAt:     row.PendingRequestedAt,
		KYCVerifiedAt:          row.KYCVerifiedAt,
		Version:                row.Version,
		CreatedAt:              row.CreatedAt,
		UpdatedAt:              row.UpdatedAt,
	}
	if row.PendingVerification != nil {
		vt := entities.VerificationType(*row.PendingVerification)
		state.PendingVerification = &vt
	}
	return state, nil
}

func marshalUsageMaps(state *entities.UserComplianceState) ([]byte, []byte, []byte, error) {
	daily, err := marshalUsageMap(state.DailyUsed)
	if err != nil {
		return nil, nil, nil, err
	}
	weekly, err := marshalUsageMap(state.WeeklyUsed)
	if err != nil {
		return nil, nil, nil, err
	}
	monthly, err := marshalUsageMap(state.MonthlyUsed)
	if err != nil {
		return nil, nil, nil, err
	}
	return daily, weekly, monthly, nil
}

func marshalUsageMap(m entities.UsageMap) ([]byte, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[string(k)] = v.String()
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal usage map: %w", err)
	}
	return raw, nil
}

func unmarshalUsageMap(raw []byte) (entities.UsageMap, error) {
	if len(raw) == 0 {
		return entities.NewUsageMap(), nil
	}
	var in map[string]string
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	m := entities.NewUsageMap()
	for k, v := range in {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, err
		}
		m[entities.TransactionKind(k)] = d
	}
	return m, nil
}

func emptyUsageJSON() []byte {
	raw, _ := marshalUsageMap(entities.NewUsageMap())
	return raw
}

func verificationTypeString(vt *entities.VerificationType) *string {
	if vt == nil {
		return nil
	}
	s := string(*vt)
	return &s
}
