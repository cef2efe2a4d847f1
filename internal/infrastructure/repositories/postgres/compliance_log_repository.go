package postgres

import (
	"context"
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
)

// ComplianceLogRepository implements the audit sink for PostgreSQL.
type ComplianceLogRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
	tracer trace.Tracer
}

// NewComplianceLogRepository creates a new compliance log repository.
func NewComplianceLogRepository(db *sqlx.DB, logger *zap.Logger) *ComplianceLogRepository {
	return &ComplianceLogRepository{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("compliance-log-repository"),
	}
}

type complianceLogRow struct {
	ID        uuid.UUID  `db:"id"`
	UserID    uuid.UUID  `db:"user_id"`
	Action    string     `db:"action"`
	Amount    *string    `db:"amount"`
	TxID      *uuid.UUID `db:"tx_id"`
	RiskLevel *string    `db:"risk_level"`
	Reason    *string    `db:"reason"`
	Metadata  []byte     `db:"metadata"`
	CreatedAt time.Time  `db:"created_at"`
}

// Append writes an audit entry. Audit writes must never fail a business
// operation, so callers log and continue on error.
func (r *ComplianceLogRepository) Append(ctx context.Context, entry *entities.ComplianceLogEntry) error {
	ctx, span := r.tracer.Start(ctx, "compliance_log_repo.append", trace.WithAttributes(
		attribute.String("user_id", entry.UserID.String()),
		attribute.String("action", string(entry.Action)),
	))
	defer span.End()

	var metadata []byte
	if entry.Metadata != nil {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
		metadata = raw
	}

	var amount *string
	if entry.Amount != nil {
		s := entry.Amount.String()
		amount = &s
	}
	var level *string
	if entry.RiskLevel != nil {
		s := string(*entry.RiskLevel)
		level = &s
	}
	var reason *string
	if entry.Reason != "" {
		reason = &entry.Reason
	}

	query := `
		INSERT INTO compliance_log (
			id, user_id, action, amount, tx_id, risk_level, reason, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		string(entry.Action),
		amount,
		entry.TxID,
		level,
		reason,
		metadata,
		entry.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		r.logger.Error("failed to append compliance log entry",
			zap.Error(err), zap.String("user_id", entry.UserID.String()))
		return fmt.Errorf("failed to append compliance log entry: %w", err)
	}
	return nil
}

// ListByUser pages through a user's audit trail, newest first.
func (r *ComplianceLogRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.ComplianceLogEntry, error) {
	ctx, span := r.tracer.Start(ctx, "compliance_log_repo.list", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
	))
	defer span.End()

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, user_id, action, amount, tx_id, risk_level, reason, metadata, created_at
		FROM compliance_log
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	var rows []complianceLogRow
	if err := r.db.SelectContext(ctx, &rows, query, userID, limit, offset); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list compliance log: %w", err)
	}

	entries := make([]*entities.ComplianceLogEntry, 0, len(rows))
	for i := range rows {
		entry, err := complianceLogFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func complianceLogFromRow(row *complianceLogRow) (*entities.ComplianceLogEntry, error) {
	entry := &entities.ComplianceLogEntry{
		ID:        row.ID,
		UserID:    row.UserID,
		Action:    entities.ComplianceAction(row.Action),
		TxID:      row.TxID,
		CreatedAt: row.CreatedAt,
	}
	if row.Amount != nil {
		amount, err := decimal.NewFromString(*row.Amount)
		if err != nil {
			return nil, fmt.Errorf("corrupt amount on log entry %s: %w", row.ID, err)
		}
		entry.Amount = &amount
	}
	if row.RiskLevel != nil {
		level := entities.RiskLevel(*row.RiskLevel)
		entry.RiskLevel = &level
	}
	if row.Reason != nil {
		entry.Reason = *row.Reason
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt metadata on log entry %s: %w", row.ID, err)
		}
	}
	return entry, nil
}
