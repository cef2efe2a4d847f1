package compliance

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgerline/compliance_service/internal/domain/entities"
	"github.com/ledgerline/compliance_service/internal/domain/repositories"
	"github.com/ledgerline/compliance_service/internal/domain/services/aml"
	"github.com/ledgerline/compliance_service/internal/domain/services/risk"
	"github.com/ledgerline/compliance_service/internal/domain/services/tierpolicy"
	"github.com/ledgerline/compliance_service/internal/domain/services/velocity"
	"github.com/ledgerline/compliance_service/internal/domain/services/verification"
	"github.com/ledgerline/compliance_service/internal/infrastructure/adapters"
	"github.com/ledgerline/compliance_service/internal/infrastructure/repositories/memory"
)

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func facadePolicies(t *testing.T) *tierpolicy.Table {
	t.Helper()
	table, err := tierpolicy.New(
		entities.TierPolicy{
			Tier:          entities.TierNone,
			SingleTxLimit: amount("800"), DailyLimit: amount("1000"),
			WeeklyLimit: amount("5000"), MonthlyLimit: amount("10000"),
			MaxDailyTxCount: 5,
			AllowedKinds:    []entities.TransactionKind{entities.KindFiatToCrypto},
		},
		entities.TierPolicy{
			Tier:          entities.TierBasic,
			SingleTxLimit: amount("5000"), DailyLimit: amount("25000"),
			WeeklyLimit: amount("100000"), MonthlyLimit: amount("250000"),
			MaxDailyTxCount: 20,
			AllowedKinds:    []entities.TransactionKind{entities.KindFiatToCrypto, entities.KindCryptoToFiat},
		},
		entities.TierPolicy{
			Tier:          entities.TierStandard,
			SingleTxLimit: amount("50000"), DailyLimit: amount("250000"),
			WeeklyLimit: amount("1000000"), MonthlyLimit: amount("2500000"),
			MaxDailyTxCount: 100,
			AllowedKinds: []entities.TransactionKind{
				entities.KindFiatToCrypto, entities.KindCryptoToFiat, entities.KindCryptoToCrypto,
			},
		},
	)
	require.NoError(t, err)
	return table
}

func newFacade(t *testing.T) *Service {
	t.Helper()

	users := memory.NewUserStateStore()
	deposits := memory.NewDepositEventStore()
	audit := memory.NewComplianceLogStore()
	policies := facadePolicies(t)
	log := zap.NewNop()

	limits := aml.Thresholds{High: 75, Medium: 50, Low: 25}
	mock := adapters.NewMockAMLProvider()
	screener, err := aml.NewService(
		map[string]aml.Provider{"mock": mock},
		mock,
		"mock",
		[]string{`^G[A-Z0-9]{55}$`},
		limits,
		time.Second,
		nil,
		log,
	)
	require.NoError(t, err)

	gate := velocity.NewService(users, deposits, audit, policies, log)
	riskEngine := risk.NewService(users, deposits, policies, limits, log)
	advisor := verification.NewService(users, audit, riskEngine, policies, log)

	return NewService(gate, screener, riskEngine, advisor, users, deposits, audit, log)
}

func TestRegisterUser_IsIdempotent(t *testing.T) {
	svc := newFacade(t)
	ctx := context.Background()
	userID := uuid.New()

	first, err := svc.RegisterUser(ctx, userID)
	require.NoError(t, err)
	second, err := svc.RegisterUser(ctx, userID)
	require.NoError(t, err)

	assert.Equal(t, entities.TierNone, first.Tier)
	assert.Equal(t, first.UserID, second.UserID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestEvaluateThenCommit_RecordsDepositAndAuditTrail(t *testing.T) {
	svc := newFacade(t)
	ctx := context.Background()
	userID := uuid.New()
	_, err := svc.RegisterUser(ctx, userID)
	require.NoError(t, err)

	decision, err := svc.EvaluateTransaction(ctx, userID, amount("400"), entities.KindFiatToCrypto)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	event, err := svc.CommitTransaction(ctx, userID, amount("400"), entities.KindFiatToCrypto)
	require.NoError(t, err)
	assert.Equal(t, userID, event.UserID)
	assert.True(t, amount("400").Equal(event.Amount))

	entries, err := svc.GetComplianceLog(ctx, userID, 10, 0)
	require.NoError(t, err)
	actions := make([]entities.ComplianceAction, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, entities.ActionTransactionAllowed)
	assert.Contains(t, actions, entities.ActionTransactionCommitted)
}

func TestCommitTransaction_SurfacesDailyLimitConflict(t *testing.T) {
	svc := newFacade(t)
	ctx := context.Background()
	userID := uuid.New()
	_, err := svc.RegisterUser(ctx, userID)
	require.NoError(t, err)

	_, err = svc.CommitTransaction(ctx, userID, amount("600"), entities.KindFiatToCrypto)
	require.NoError(t, err)

	_, err = svc.CommitTransaction(ctx, userID, amount("600"), entities.KindFiatToCrypto)
	require.ErrorIs(t, err, repositories.ErrLimitConflict)
}

func TestFlagDeposit_AppendsAuditEntry(t *testing.T) {
	svc := newFacade(t)
	ctx := context.Background()
	userID := uuid.New()
	_, err := svc.RegisterUser(ctx, userID)
	require.NoError(t, err)

	event, err := svc.CommitTransaction(ctx, userID, amount("250"), entities.KindFiatToCrypto)
	require.NoError(t, err)

	require.NoError(t, svc.FlagDeposit(ctx, userID, event.ID, "manual review of rapid funding"))

	entries, err := svc.GetComplianceLog(ctx, userID, 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entities.ActionDepositFlagged, entries[0].Action)
	require.NotNil(t, entries[0].TxID)
	assert.Equal(t, event.ID, *entries[0].TxID)

	require.NoError(t, svc.UnflagDeposit(ctx, event.ID))
}

func TestScreenCounterparty_WhitelistedExchangeAddress(t *testing.T) {
	svc := newFacade(t)
	ctx := context.Background()
	userID := uuid.New()
	_, err := svc.RegisterUser(ctx, userID)
	require.NoError(t, err)

	address := "G" + strings.Repeat("A", 55)
	result, err := svc.ScreenCounterparty(ctx, userID, address, nil)
	require.NoError(t, err)

	assert.Equal(t, "whitelist", result.Provider)
	assert.Zero(t, result.RiskScore)
	assert.Equal(t, entities.RiskLow, result.RiskLevel)

	entries, err := svc.GetComplianceLog(ctx, userID, 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entities.ActionAMLScreening, entries[0].Action)
}

func TestResetDaily_RestoresFullBudget(t *testing.T) {
	svc := newFacade(t)
	ctx := context.Background()
	userID := uuid.New()
	_, err := svc.RegisterUser(ctx, userID)
	require.NoError(t, err)

	_, err = svc.CommitTransaction(ctx, userID, amount("700"), entities.KindFiatToCrypto)
	require.NoError(t, err)

	blocked, err := svc.EvaluateTransaction(ctx, userID, amount("500"), entities.KindFiatToCrypto)
	require.NoError(t, err)
	require.False(t, blocked.Allowed)

	require.NoError(t, svc.ResetDaily(ctx))

	allowed, err := svc.EvaluateTransaction(ctx, userID, amount("500"), entities.KindFiatToCrypto)
	require.NoError(t, err)
	assert.True(t, allowed.Allowed)
}
