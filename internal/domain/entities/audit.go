package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ComplianceAction string

const (
	ActionTransactionAllowed    ComplianceAction = "transaction_allowed"
	ActionTransactionDenied     ComplianceAction = "transaction_denied"
	ActionTransactionCommitted  ComplianceAction = "transaction_committed"
	ActionAMLScreening          ComplianceAction = "aml_screening"
	ActionVerificationRequested ComplianceAction = "verification_requested"
	ActionTierUpgraded          ComplianceAction = "tier_upgraded"
	ActionDepositFlagged        ComplianceAction = "deposit_flagged"
	ActionLimitsReset           ComplianceAction = "limits_reset"
)

// ComplianceLogEntry is a write-once audit record of an engine decision.
// Entries are never read back by the decision logic itself.
type ComplianceLogEntry struct {
	ID        uuid.UUID              `json:"id" db:"id"`
	UserID    uuid.UUID              `json:"user_id" db:"user_id"`
	Action    ComplianceAction       `json:"action" db:"action"`
	Amount    *decimal.Decimal       `json:"amount,omitempty" db:"amount"`
	TxID      *uuid.UUID             `json:"tx_id,omitempty" db:"tx_id"`
	RiskLevel *RiskLevel             `json:"risk_level,omitempty" db:"risk_level"`
	Reason    string                 `json:"reason,omitempty" db:"reason"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}
