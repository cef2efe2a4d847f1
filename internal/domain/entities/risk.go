package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskFactor is one normalized sub-score of the composite risk score.
type RiskFactor struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
}

// RiskScore is the composite risk assessment for a user.
type RiskScore struct {
	Score   float64      `json:"score"`
	Level   RiskLevel    `json:"level"`
	Factors []RiskFactor `json:"factors"`
}

type PatternType string

const (
	PatternRapidDeposits   PatternType = "rapid_deposits"
	PatternRoundNumbers    PatternType = "round_numbers"
	PatternBusinessPattern PatternType = "business_pattern"
)

type PatternAction string

const (
	PatternActionMonitor PatternAction = "monitor"
	PatternActionSuggest PatternAction = "suggest_verification"
	PatternActionReview  PatternAction = "review"
)

// Pattern is one behavioral signal detected in a user's deposit history.
type Pattern struct {
	Type        PatternType   `json:"type"`
	Confidence  float64       `json:"confidence"`
	Action      PatternAction `json:"action"`
	Description string        `json:"description"`
}

// PatternReport is the result of behavioral pattern detection. The business
// pattern is benign and never sets HasUnusualPatterns on its own.
type PatternReport struct {
	HasUnusualPatterns bool      `json:"has_unusual_patterns"`
	Patterns           []Pattern `json:"patterns"`
}

// AMLCheckResult is the ephemeral outcome of screening a counterparty
// address. It is consumed immediately and not persisted by the engine.
type AMLCheckResult struct {
	RiskScore      float64           `json:"risk_score"`
	RiskLevel      RiskLevel         `json:"risk_level"`
	IsSanctioned   bool              `json:"is_sanctioned"`
	RiskCategories []string          `json:"risk_categories,omitempty"`
	Provider       string            `json:"provider"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CheckedAt      time.Time         `json:"checked_at"`
}

// VerificationRecommendation is the advisor's verdict on whether a user
// should be pushed toward stronger verification.
type VerificationRecommendation struct {
	ShouldRequest bool              `json:"should_request"`
	Required      bool              `json:"required"`
	Type          *VerificationType `json:"type,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Suggestions   []string          `json:"suggestions,omitempty"`
}

// PendingConstraints describes the capability reductions that apply while a
// verification request is outstanding. The velocity gate enforces them by
// reading the user's pending verification, never from a second copy.
type PendingConstraints struct {
	SingleTxCap  *decimal.Decimal  `json:"single_tx_cap,omitempty"`
	BlockedKinds []TransactionKind `json:"blocked_kinds,omitempty"`
}

// VerificationRequestOutcome is returned when a verification is requested.
type VerificationRequestOutcome struct {
	Type        VerificationType   `json:"type"`
	RequestedAt time.Time          `json:"requested_at"`
	Constraints PendingConstraints `json:"constraints"`
}

// VerificationOutcome is returned when a pending verification completes.
type VerificationOutcome struct {
	PreviousTier VerificationTier `json:"previous_tier"`
	NewTier      VerificationTier `json:"new_tier"`
	VerifiedAt   time.Time        `json:"verified_at"`
}

// VerificationDocument is a submitted identity document reference; the engine
// records its presence but document storage belongs to the host.
type VerificationDocument struct {
	Type      string `json:"type"`
	Reference string `json:"reference"`
}
