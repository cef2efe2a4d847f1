package postgres

import (
	"context"
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

// DepositEventRepository implements the deposit event log for PostgreSQL.
type DepositEventRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
	tracer trace.Tracer
}

// NewDepositEventRepository creates a new deposit event repository.
func NewDepositEventRepository(db *sqlx.DB, logger *zap.Logger) *DepositEventRepository {
	return &DepositEventRepository{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("deposit-event-repository"),
	}
}

type depositEventRow struct {
	ID         uuid.UUID `db:"id"`
	UserID     uuid.UUID `db:"user_id"`
	Amount     string    `db:"amount"`
	Currency   string    `db:"currency"`
	Kind       string    `db:"kind"`
	RiskLevel  string    `db:"risk_level"`
	Flagged    bool      `db:"flagged"`
	FlagReason *string   `db:"flag_reason"`
	CreatedAt  time.Time `db:"created_at"`
}

// Append records a settled transaction.
func (r *DepositEventRepository) Append(ctx context.Context, event *entities.DepositEvent) error {
	ctx, span := r.tracer.Start(ctx, "deposit_event_repo.append", trace.WithAttributes(
		attribute.String("user_id", event.UserID.String()),
		attribute.String("amount", event.Amount.String()),
	))
	defer span.End()

	query := `
		INSERT INTO deposit_events (
			id, user_id, amount, currency, kind, risk_level, flagged, flag_reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.UserID,
		event.Amount.String(),
		event.Currency,
		string(event.Kind),
		string(event.RiskLevel),
		event.Flagged,
		event.FlagReason,
		event.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		r.logger.Error("failed to append deposit event",
			zap.Error(err), zap.String("user_id", event.UserID.String()))
		return fmt.Errorf("failed to append deposit event: %w", err)
	}
	return nil
}

// ListByUserSince returns a user's events at or after the cutoff, oldest
// first.
func (r *DepositEventRepository) ListByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*entities.DepositEvent, error) {
	ctx, span := r.tracer.Start(ctx, "deposit_event_repo.list_since", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
	))
	defer span.End()

	query := `
		SELECT id, user_id, amount, currency, kind, risk_level, flagged, flag_reason, created_at
		FROM deposit_events
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at ASC`

	var rows []depositEventRow
	if err := r.db.SelectContext(ctx, &rows, query, userID, since); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list deposit events: %w", err)
	}

	events := make([]*entities.DepositEvent, 0, len(rows))
	for i := range rows {
		event, err := depositEventFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// SetFlag marks or clears a deposit for manual review.
func (r *DepositEventRepository) SetFlag(ctx context.Context, eventID uuid.UUID, flagged bool, reason *string) error {
	ctx, span := r.tracer.Start(ctx, "deposit_event_repo.set_flag", trace.WithAttributes(
		attribute.String("event_id", eventID.String()),
		attribute.Bool("flagged", flagged),
	))
	defer span.End()

	query := `UPDATE deposit_events SET flagged = $2, flag_reason = $3 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, eventID, flagged, reason)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to flag deposit event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to read flag result: %w", err)
	}
	if rows == 0 {
		return repositories.ErrDepositNotFound
	}
	return nil
}

func depositEventFromRow(row *depositEventRow) (*entities.DepositEvent, error) {
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount on deposit event %s: %w", row.ID, err)
	}
	return &entities.DepositEvent{
		ID:         row.ID,
		UserID:     row.UserID,
		Amount:     amount,
		Currency:   row.Currency,
		Kind:       entities.TransactionKind(row.Kind),
		RiskLevel:  entities.RiskLevel(row.RiskLevel),
		Flagged:    row.Flagged,
		FlagReason: row.FlagReason,
		CreatedAt:  row.CreatedAt,
	}, nil
}
