package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VerificationTier is the user's verification level. Tiers only ever move
// upward; nothing in the engine downgrades a tier automatically.
type VerificationTier string

const (
	TierNone     VerificationTier = "none"
	TierBasic    VerificationTier = "basic"
	TierStandard VerificationTier = "standard"
)

// Rank orders tiers for monotonicity checks. Unknown tiers rank below none.
func (t VerificationTier) Rank() int {
	switch t {
	case TierNone:
		return 0
	case TierBasic:
		return 1
	case TierStandard:
		return 2
	}
	return -1
}

// Next returns the tier one level above, or the same tier at the top.
func (t VerificationTier) Next() VerificationTier {
	switch t {
	case TierNone:
		return TierBasic
	case TierBasic:
		return TierStandard
	}
	return t
}

type TransactionKind string

const (
	KindFiatToCrypto   TransactionKind = "fiat_to_crypto"
	KindCryptoToFiat   TransactionKind = "crypto_to_fiat"
	KindCryptoToCrypto TransactionKind = "crypto_to_crypto"
)

// AllTransactionKinds is the closed set of kinds; usage accumulators carry an
// entry for every member so no kind is ever missing from a user record.
var AllTransactionKinds = []TransactionKind{
	KindFiatToCrypto,
	KindCryptoToFiat,
	KindCryptoToCrypto,
}

type AccountStatus string

const (
	AccountActive     AccountStatus = "active"
	AccountFlagged    AccountStatus = "flagged"
	AccountSuspended  AccountStatus = "suspended"
	AccountRestricted AccountStatus = "restricted"
)

type VerificationType string

const (
	// VerificationLight is phone-based verification; completing it upgrades a
	// none-tier user to basic.
	VerificationLight VerificationType = "light"
	// VerificationStandard is document KYC; completing it upgrades to standard.
	VerificationStandard VerificationType = "standard"
)

// TierPolicy holds the limits and capabilities of a single tier. Policies are
// loaded once at startup and treated as immutable for the process lifetime.
type TierPolicy struct {
	Tier                VerificationTier  `json:"tier"`
	SingleTxLimit       decimal.Decimal   `json:"single_tx_limit"`
	DailyLimit          decimal.Decimal   `json:"daily_limit"`
	WeeklyLimit         decimal.Decimal   `json:"weekly_limit"`
	MonthlyLimit        decimal.Decimal   `json:"monthly_limit"`
	MaxDailyTxCount     int               `json:"max_daily_tx_count"`
	AllowedKinds        []TransactionKind `json:"allowed_kinds"`
}

// Allows reports whether the policy permits the given transaction kind.
func (p TierPolicy) Allows(kind TransactionKind) bool {
	for _, k := range p.AllowedKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// UsageMap tracks cumulative transaction value per kind over one period.
type UsageMap map[TransactionKind]decimal.Decimal

// NewUsageMap returns a usage map with a zero entry for every kind.
func NewUsageMap() UsageMap {
	m := make(UsageMap, len(AllTransactionKinds))
	for _, k := range AllTransactionKinds {
		m[k] = decimal.Zero
	}
	return m
}

// Get returns the accumulated usage for a kind, zero when absent.
func (m UsageMap) Get(kind TransactionKind) decimal.Decimal {
	if v, ok := m[kind]; ok {
		return v
	}
	return decimal.Zero
}

// Total sums usage across all kinds.
func (m UsageMap) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range m {
		total = total.Add(v)
	}
	return total
}

// Clone returns an independent copy of the map.
func (m UsageMap) Clone() UsageMap {
	c := make(UsageMap, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// UserComplianceState is the per-user mutable compliance record. The three
// usage maps are a cached projection of the deposit event log; they reset only
// through the scheduled period resets.
type UserComplianceState struct {
	UserID                 uuid.UUID         `json:"user_id" db:"user_id"`
	Tier                   VerificationTier  `json:"tier" db:"tier"`
	Status                 AccountStatus     `json:"status" db:"status"`
	DailyUsed              UsageMap          `json:"daily_used" db:"-"`
	WeeklyUsed             UsageMap          `json:"weekly_used" db:"-"`
	MonthlyUsed            UsageMap          `json:"monthly_used" db:"-"`
	DailyTxCount           int               `json:"daily_tx_count" db:"daily_tx_count"`
	TotalDepositedLifetime decimal.Decimal   `json:"total_deposited_lifetime" db:"total_deposited_lifetime"`
	FirstDepositAt         *time.Time        `json:"first_deposit_at,omitempty" db:"first_deposit_at"`
	LastDepositAt          *time.Time        `json:"last_deposit_at,omitempty" db:"last_deposit_at"`
	AMLRiskScore           *float64          `json:"aml_risk_score,omitempty" db:"aml_risk_score"`
	PendingVerification    *VerificationType `json:"pending_verification,omitempty" db:"pending_verification"`
	PendingRequestedAt     *time.Time        `json:"pending_requested_at,omitempty" db:"pending_requested_at"`
	KYCVerifiedAt          *time.Time        `json:"kyc_verified_at,omitempty" db:"kyc_verified_at"`
	Version                int64             `json:"version" db:"version"`
	CreatedAt              time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at" db:"updated_at"`
}

// NewUserComplianceState returns the record a user starts with when they first
// become eligible to transact.
func NewUserComplianceState(userID uuid.UUID, now time.Time) *UserComplianceState {
	return &UserComplianceState{
		UserID:                 userID,
		Tier:                   TierNone,
		Status:                 AccountActive,
		DailyUsed:              NewUsageMap(),
		WeeklyUsed:             NewUsageMap(),
		MonthlyUsed:            NewUsageMap(),
		TotalDepositedLifetime: decimal.Zero,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// LimitSnapshot is attached to every gate decision so callers can render
// remaining budgets without a second lookup. Weekly and monthly figures are
// monitoring-only; they never cause a denial.
type LimitSnapshot struct {
	Tier             VerificationTier `json:"tier"`
	SingleTxLimit    decimal.Decimal  `json:"single_tx_limit"`
	DailyLimit       decimal.Decimal  `json:"daily_limit"`
	DailyUsed        decimal.Decimal  `json:"daily_used"`
	DailyRemaining   decimal.Decimal  `json:"daily_remaining"`
	WeeklyLimit      decimal.Decimal  `json:"weekly_limit"`
	WeeklyUsed       decimal.Decimal  `json:"weekly_used"`
	MonthlyLimit     decimal.Decimal  `json:"monthly_limit"`
	MonthlyUsed      decimal.Decimal  `json:"monthly_used"`
	DailyTxCount     int              `json:"daily_tx_count"`
	MaxDailyTxCount  int              `json:"max_daily_tx_count"`
}

// GateDecision is the velocity gate's verdict on a proposed transaction.
// A denial is a normal value, not an error.
type GateDecision struct {
	Allowed  bool          `json:"allowed"`
	Reason   string        `json:"reason,omitempty"`
	Snapshot LimitSnapshot `json:"limit_snapshot"`
}
