package velocity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgerline/compliance_service/internal/domain/entities"
	"github.com/ledgerline/compliance_service/internal/domain/repositories"
	"github.com/ledgerline/compliance_service/internal/domain/services/tierpolicy"
	"github.com/ledgerline/compliance_service/internal/infrastructure/repositories/memory"
)

func amount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testPolicies(t *testing.T) *tierpolicy.Table {
	t.Helper()
	table, err := tierpolicy.New(
		entities.TierPolicy{
			Tier:            entities.TierNone,
			SingleTxLimit:   amount("1000"),
			DailyLimit:      amount("2500"),
			WeeklyLimit:     amount("10000"),
			MonthlyLimit:    amount("25000"),
			MaxDailyTxCount: 5,
			AllowedKinds:    []entities.TransactionKind{entities.KindFiatToCrypto},
		},
		entities.TierPolicy{
			Tier:            entities.TierBasic,
			SingleTxLimit:   amount("5000"),
			DailyLimit:      amount("25000"),
			WeeklyLimit:     amount("100000"),
			MonthlyLimit:    amount("250000"),
			MaxDailyTxCount: 20,
			AllowedKinds:    []entities.TransactionKind{entities.KindFiatToCrypto, entities.KindCryptoToFiat},
		},
		entities.TierPolicy{
			Tier:            entities.TierStandard,
			SingleTxLimit:   amount("50000"),
			DailyLimit:      amount("250000"),
			WeeklyLimit:     amount("1000000"),
			MonthlyLimit:    amount("2500000"),
			MaxDailyTxCount: 100,
			AllowedKinds:    entities.AllTransactionKinds,
		},
	)
	require.NoError(t, err)
	return table
}

func newTestService(t *testing.T) (*Service, *memory.UserStateStore, *memory.DepositEventStore) {
	t.Helper()
	users := memory.NewUserStateStore()
	deposits := memory.NewDepositEventStore()
	audit := memory.NewComplianceLogStore()
	svc := NewService(users, deposits, audit, testPolicies(t), zap.NewNop())
	return svc, users, deposits
}

func seedUser(t *testing.T, users *memory.UserStateStore, tier entities.VerificationTier) uuid.UUID {
	t.Helper()
	state := entities.NewUserComplianceState(uuid.New(), time.Now().UTC())
	state.Tier = tier
	require.NoError(t, users.Create(context.Background(), state))
	return state.UserID
}

func TestEvaluate_UnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t)

	decision, err := svc.Evaluate(context.Background(), uuid.New(), amount("100"), entities.KindFiatToCrypto)

	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "user not found", decision.Reason)
}

func TestEvaluate_KindNotAllowedNamesRequiredTier(t *testing.T) {
	svc, users, _ := newTestService(t)
	userID := seedUser(t, users, entities.TierNone)

	decision, err := svc.Evaluate(context.Background(), userID, amount("100"), entities.KindCryptoToFiat)

	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "basic")
}

func TestEvaluate_SingleLimitSuggestsSplitting(t *testing.T) {
	svc, users, _ := newTestService(t)
	userID := seedUser(t, users, entities.TierBasic)

	decision, err := svc.Evaluate(context.Background(), userID, amount("5001"), entities.KindCryptoToFiat)

	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "split")
}

func TestEvaluate_DailyLimitReportsRemaining(t *testing.T) {
	svc, users, _ := newTestService(t)
	userID := seedUser(t, users, entities.TierBasic)
	ctx := context.Background()

	// Burn 24000 of the 25000 daily budget in settled commits.
	for i := 0; i < 6; i++ {
		_, err := svc.Commit(ctx, userID, amount("4000"), entities.KindCryptoToFiat, entities.RiskLow)
		require.NoError(t, err)
	}

	decision, err := svc.Evaluate(ctx, userID, amount("1500"), entities.KindCryptoToFiat)

	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "$1000")
	assert.True(t, decision.Snapshot.DailyRemaining.Equal(amount("1000")))
}

func TestEvaluate_WeeklyAndMonthlyNeverBlock(t *testing.T) {
	svc, users, _ := newTestService(t)
	userID := seedUser(t, users, entities.TierStandard)
	ctx := context.Background()

	// Well past the weekly (1,000,000) and monthly caps via accumulated
	// commits across simulated days, but inside today's daily budget.
	users.Create(ctx, func() *entities.UserComplianceState {
		state := entities.NewUserComplianceState(userID, time.Now().UTC())
		state.Tier = entities.TierStandard
		state.WeeklyUsed[entities.KindFiatToCrypto] = amount("2000000")
		state.MonthlyUsed[entities.KindFiatToCrypto] = amount("5000000")
		return state
	}())

	decision, err := svc.Evaluate(ctx, userID, amount("100"), entities.KindFiatToCrypto)

	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.Snapshot.WeeklyUsed.Equal(amount("2000000")))
}

func TestEvaluate_DailyTxCountLimit(t *testing.T) {
	svc, users, _ := newTestService(t)
	userID := seedUser(t, users, entities.TierNone)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Commit(ctx, userID, amount("10"), entities.KindFiatToCrypto, entities.RiskLow)
		require.NoError(t, err)
	}

	decision, err := svc.Evaluate(ctx, userID, amount("10"), entities.KindFiatToCrypto)

	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "transaction count")
}

func TestEvaluate_SuspendedAccount(t *testing.T) {
	svc, users, _ := newTestService(t)
	state := entities.NewUserComplianceState(uuid.New(), time.Now().UTC())
	state.Tier = entities.TierBasic
	state.Status = entities.AccountSuspended
	require.NoError(t, users.Create(context.Background(), state))

	decision, err := svc.Evaluate(context.Background(), state.UserID, amount("10"), entities.KindFiatToCrypto)

	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "suspended")
}

func TestEvaluate_PendingLightVerificationHalvesCap(t *testing.T) {
	svc, users, _ := newTestService(t)
	light := entities.VerificationLight
	now := time.Now().UTC()
	state := entities.NewUserComplianceState(uuid.New(), now)
	state.Tier = entities.TierBasic
	state.PendingVerification = &light
	state.PendingRequestedAt = &now
	require.NoError(t, users.Create(context.Background(), state))

	blocked, err := svc.Evaluate(context.Background(), state.UserID, amount("3000"), entities.KindFiatToCrypto)
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)

	allowed, err := svc.Evaluate(context.Background(), state.UserID, amount("2500"), entities.KindFiatToCrypto)
	require.NoError(t, err)
	assert.True(t, allowed.Allowed)
}

func TestEvaluate_PendingStandardVerificationBlocksWithdrawals(t *testing.T) {
	svc, users, _ := newTestService(t)
	standard := entities.VerificationStandard
	now := time.Now().UTC()
	state := entities.NewUserComplianceState(uuid.New(), now)
	state.Tier = entities.TierBasic
	state.PendingVerification = &standard
	state.PendingRequestedAt = &now
	require.NoError(t, users.Create(context.Background(), state))

	withdrawal, err := svc.Evaluate(context.Background(), state.UserID, amount("100"), entities.KindCryptoToFiat)
	require.NoError(t, err)
	assert.False(t, withdrawal.Allowed)

	deposit, err := svc.Evaluate(context.Background(), state.UserID, amount("100"), entities.KindFiatToCrypto)
	require.NoError(t, err)
	assert.True(t, deposit.Allowed)
}

func TestCommit_AppendsDepositEvent(t *testing.T) {
	svc, users, deposits := newTestService(t)
	userID := seedUser(t, users, entities.TierBasic)
	ctx := context.Background()

	event, err := svc.Commit(ctx, userID, amount("250"), entities.KindFiatToCrypto, entities.RiskMedium)

	require.NoError(t, err)
	assert.Equal(t, entities.RiskMedium, event.RiskLevel)

	events, err := deposits.ListByUserSince(ctx, userID, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Amount.Equal(amount("250")))

	state, err := users.Get(ctx, userID)
	require.NoError(t, err)
	assert.True(t, state.TotalDepositedLifetime.Equal(amount("250")))
	assert.NotNil(t, state.FirstDepositAt)
	assert.Equal(t, 1, state.DailyTxCount)
}

func TestResetDaily_LooksLikeFreshUser(t *testing.T) {
	svc, users, _ := newTestService(t)
	userID := seedUser(t, users, entities.TierNone)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Commit(ctx, userID, amount("800"), entities.KindFiatToCrypto, entities.RiskLow)
		require.NoError(t, err)
	}
	blocked, err := svc.Evaluate(ctx, userID, amount("800"), entities.KindFiatToCrypto)
	require.NoError(t, err)
	require.False(t, blocked.Allowed)

	require.NoError(t, svc.ResetDaily(ctx))
	require.NoError(t, svc.ResetDaily(ctx)) // idempotent

	after, err := svc.Evaluate(ctx, userID, amount("800"), entities.KindFiatToCrypto)
	require.NoError(t, err)
	assert.True(t, after.Allowed)

	fresh := seedUser(t, users, entities.TierNone)
	baseline, err := svc.Evaluate(ctx, fresh, amount("800"), entities.KindFiatToCrypto)
	require.NoError(t, err)
	assert.Equal(t, baseline.Allowed, after.Allowed)
	assert.True(t, baseline.Snapshot.DailyRemaining.Equal(after.Snapshot.DailyRemaining))
}

// Fifty concurrent evaluate+commit attempts of $100 against a $1000 daily
// limit: exactly ten commits may succeed, regardless of interleaving.
func TestConcurrentCommits_NeverExceedDailyLimit(t *testing.T) {
	users := memory.NewUserStateStore()
	table, err := tierpolicy.New(
		entities.TierPolicy{
			Tier:            entities.TierNone,
			SingleTxLimit:   amount("500"),
			DailyLimit:      amount("1000"),
			WeeklyLimit:     amount("5000"),
			MonthlyLimit:    amount("10000"),
			MaxDailyTxCount: 100,
			AllowedKinds:    []entities.TransactionKind{entities.KindFiatToCrypto},
		},
		entities.TierPolicy{
			Tier:         entities.TierBasic,
			SingleTxLimit: amount("1000"), DailyLimit: amount("2000"),
			WeeklyLimit: amount("10000"), MonthlyLimit: amount("20000"),
			MaxDailyTxCount: 100,
			AllowedKinds:    []entities.TransactionKind{entities.KindFiatToCrypto},
		},
		entities.TierPolicy{
			Tier:         entities.TierStandard,
			SingleTxLimit: amount("2000"), DailyLimit: amount("4000"),
			WeeklyLimit: amount("20000"), MonthlyLimit: amount("40000"),
			MaxDailyTxCount: 100,
			AllowedKinds:    []entities.TransactionKind{entities.KindFiatToCrypto},
		},
	)
	require.NoError(t, err)
	svc := NewService(users, memory.NewDepositEventStore(), memory.NewComplianceLogStore(), table, zap.NewNop())

	userID := seedUser(t, users, entities.TierNone)
	ctx := context.Background()

	const attempts = 50
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := svc.Evaluate(ctx, userID, amount("100"), entities.KindFiatToCrypto)
			if err != nil {
				results <- err
				return
			}
			if !decision.Allowed {
				results <- repositories.ErrLimitConflict
				return
			}
			_, err = svc.Commit(ctx, userID, amount("100"), entities.KindFiatToCrypto, entities.RiskLow)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, repositories.ErrLimitConflict)
		}
	}
	assert.Equal(t, 10, succeeded)

	state, err := users.Get(ctx, userID)
	require.NoError(t, err)
	assert.True(t, state.DailyUsed.Get(entities.KindFiatToCrypto).Equal(amount("1000")))
}

type failingDepositStore struct{}

func (f *failingDepositStore) Append(ctx context.Context, event *entities.DepositEvent) error {
	return errors.New("event store unavailable")
}

func (f *failingDepositStore) ListByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*entities.DepositEvent, error) {
	return nil, nil
}

func (f *failingDepositStore) SetFlag(ctx context.Context, eventID uuid.UUID, flagged bool, reason *string) error {
	return nil
}

// A commit whose deposit event cannot be written must leave no trace in the
// accumulators; the usage is walked back and the budget stays spendable.
func TestCommit_RevertsUsageWhenEventWriteFails(t *testing.T) {
	users := memory.NewUserStateStore()
	svc := NewService(users, &failingDepositStore{}, memory.NewComplianceLogStore(), testPolicies(t), zap.NewNop())
	userID := seedUser(t, users, entities.TierNone)
	ctx := context.Background()

	_, err := svc.Commit(ctx, userID, amount("400"), entities.KindFiatToCrypto, entities.RiskLow)
	require.Error(t, err)

	state, err := users.Get(ctx, userID)
	require.NoError(t, err)
	assert.True(t, state.DailyUsed.Get(entities.KindFiatToCrypto).IsZero())
	assert.True(t, state.WeeklyUsed.Get(entities.KindFiatToCrypto).IsZero())
	assert.True(t, state.MonthlyUsed.Get(entities.KindFiatToCrypto).IsZero())
	assert.Zero(t, state.DailyTxCount)
	assert.True(t, state.TotalDepositedLifetime.IsZero())

	decision, err := svc.Evaluate(ctx, userID, amount("1000"), entities.KindFiatToCrypto)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}
