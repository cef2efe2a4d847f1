package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DepositEvent is the append-only record of a settled transaction. It is the
// source of truth for historical pattern analysis; only the flagged/flag_reason
// pair may change after creation, through a later review.
type DepositEvent struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	UserID     uuid.UUID       `json:"user_id" db:"user_id"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	Currency   string          `json:"currency" db:"currency"`
	Kind       TransactionKind `json:"kind" db:"kind"`
	RiskLevel  RiskLevel       `json:"risk_level" db:"risk_level"`
	Flagged    bool            `json:"flagged" db:"flagged"`
	FlagReason *string         `json:"flag_reason,omitempty" db:"flag_reason"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}
