package tierpolicy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/compliance_service/internal/domain/entities"
	"github.com/ledgerline/compliance_service/internal/infrastructure/config"
)

func policy(tier entities.VerificationTier, single, daily, weekly, monthly int64, txCount int, kinds ...entities.TransactionKind) entities.TierPolicy {
	return entities.TierPolicy{
		Tier:            tier,
		SingleTxLimit:   decimal.NewFromInt(single),
		DailyLimit:      decimal.NewFromInt(daily),
		WeeklyLimit:     decimal.NewFromInt(weekly),
		MonthlyLimit:    decimal.NewFromInt(monthly),
		MaxDailyTxCount: txCount,
		AllowedKinds:    kinds,
	}
}

func fullSet() []entities.TierPolicy {
	return []entities.TierPolicy{
		policy(entities.TierNone, 1000, 2500, 10000, 25000, 5, entities.KindFiatToCrypto),
		policy(entities.TierBasic, 5000, 25000, 100000, 250000, 20, entities.KindFiatToCrypto, entities.KindCryptoToFiat),
		policy(entities.TierStandard, 50000, 250000, 1000000, 2500000, 100, entities.AllTransactionKinds...),
	}
}

func TestNew_RequiresEveryTier(t *testing.T) {
	_, err := New(fullSet()[:2]...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "standard")
}

func TestPolicyFor_KnownAndUnknownTiers(t *testing.T) {
	table, err := New(fullSet()...)
	require.NoError(t, err)

	p, err := table.PolicyFor(entities.TierBasic)
	require.NoError(t, err)
	assert.True(t, p.DailyLimit.Equal(decimal.NewFromInt(25000)))
	assert.True(t, p.Allows(entities.KindCryptoToFiat))
	assert.False(t, p.Allows(entities.KindCryptoToCrypto))

	_, err = table.PolicyFor(entities.VerificationTier("platinum"))
	require.Error(t, err)
}

func TestReload_SwapsWholeTable(t *testing.T) {
	table, err := New(fullSet()...)
	require.NoError(t, err)

	updated := fullSet()
	updated[0].DailyLimit = decimal.NewFromInt(3000)
	require.NoError(t, table.Reload(updated...))

	p, err := table.PolicyFor(entities.TierNone)
	require.NoError(t, err)
	assert.True(t, p.DailyLimit.Equal(decimal.NewFromInt(3000)))
}

func TestReload_RejectsIncompleteSetAndKeepsOldTable(t *testing.T) {
	table, err := New(fullSet()...)
	require.NoError(t, err)

	require.Error(t, table.Reload(fullSet()[:1]...))

	p, err := table.PolicyFor(entities.TierStandard)
	require.NoError(t, err)
	assert.True(t, p.SingleTxLimit.Equal(decimal.NewFromInt(50000)))
}

func TestFromConfig_DefaultsAreMonotonic(t *testing.T) {
	cfg := config.DefaultTiers()
	table, err := FromConfig(cfg)
	require.NoError(t, err)

	tiers := []entities.VerificationTier{entities.TierNone, entities.TierBasic, entities.TierStandard}
	var prev *entities.TierPolicy
	for _, tier := range tiers {
		p, err := table.PolicyFor(tier)
		require.NoError(t, err)
		if prev != nil {
			assert.True(t, p.SingleTxLimit.GreaterThan(prev.SingleTxLimit), "single limit at %s", tier)
			assert.True(t, p.DailyLimit.GreaterThan(prev.DailyLimit), "daily limit at %s", tier)
			assert.True(t, p.WeeklyLimit.GreaterThan(prev.WeeklyLimit), "weekly limit at %s", tier)
			assert.True(t, p.MonthlyLimit.GreaterThan(prev.MonthlyLimit), "monthly limit at %s", tier)
			assert.Greater(t, p.MaxDailyTxCount, prev.MaxDailyTxCount, "tx count at %s", tier)
			for _, kind := range prev.AllowedKinds {
				assert.True(t, p.Allows(kind), "%s must allow %s", tier, kind)
			}
		}
		q := p
		prev = &q
	}
}
