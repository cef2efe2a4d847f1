package aml

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgerline/compliance_service/internal/domain/entities"
	"github.com/ledgerline/compliance_service/internal/infrastructure/adapters"
)

type stubProvider struct {
	name   string
	result *entities.AMLCheckResult
	err    error
	calls  int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) CheckAddress(ctx context.Context, address string, amount *decimal.Decimal) (*entities.AMLCheckResult, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	result := *p.result
	return &result, nil
}

var testThresholds = Thresholds{High: 75, Medium: 50, Low: 25}

func newScreener(t *testing.T, provider *stubProvider, selected string) *Service {
	t.Helper()
	providers := map[string]Provider{}
	if provider != nil {
		providers[provider.name] = provider
	}
	svc, err := NewService(
		providers,
		adapters.NewMockAMLProvider(),
		selected,
		[]string{`^G[A-Z0-9]{55}$`, `^r[0-9a-zA-Z]{24,34}$`},
		testThresholds,
		5*time.Second,
		nil,
		zap.NewNop(),
	)
	require.NoError(t, err)
	return svc
}

func TestScreen_WhitelistBypassesProviders(t *testing.T) {
	provider := &stubProvider{name: "chainalysis", result: &entities.AMLCheckResult{RiskScore: 90}}
	svc := newScreener(t, provider, "chainalysis")

	address := "G" + strings.Repeat("A", 55)
	result, err := svc.Screen(context.Background(), address, nil)

	require.NoError(t, err)
	assert.Equal(t, float64(0), result.RiskScore)
	assert.Equal(t, entities.RiskLow, result.RiskLevel)
	assert.Equal(t, "whitelist", result.Provider)
	assert.Equal(t, 0, provider.calls)
}

func TestScreen_BucketsProviderScore(t *testing.T) {
	cases := []struct {
		score float64
		level entities.RiskLevel
	}{
		{10, entities.RiskLow},
		{49.9, entities.RiskLow},
		{50, entities.RiskMedium},
		{74.9, entities.RiskMedium},
		{75, entities.RiskHigh},
		{100, entities.RiskHigh},
	}

	for _, tc := range cases {
		provider := &stubProvider{name: "chainalysis", result: &entities.AMLCheckResult{RiskScore: tc.score}}
		svc := newScreener(t, provider, "chainalysis")

		result, err := svc.Screen(context.Background(), "bc1qunknownaddress", nil)

		require.NoError(t, err)
		assert.Equal(t, tc.level, result.RiskLevel, "score %v", tc.score)
		assert.Equal(t, "chainalysis", result.Provider)
	}
}

func TestScreen_FallsBackToMockOnProviderError(t *testing.T) {
	provider := &stubProvider{name: "elliptic", err: errors.New("upstream timeout")}
	svc := newScreener(t, provider, "elliptic")

	result, err := svc.Screen(context.Background(), "bc1qunknownaddress", nil)

	require.NoError(t, err, "provider outages must not surface to the caller")
	assert.Equal(t, "mock", result.Provider)
	assert.Equal(t, "mock", result.Metadata["provider"])
	assert.Equal(t, "elliptic", result.Metadata["requested_provider"])
	assert.NotEmpty(t, result.Metadata["fallback_reason"])
	assert.Equal(t, 1, provider.calls)
}

func TestScreen_FallsBackToMockWhenUnconfigured(t *testing.T) {
	svc := newScreener(t, nil, "chainalysis")

	result, err := svc.Screen(context.Background(), "bc1qunknownaddress", nil)

	require.NoError(t, err)
	assert.Equal(t, "mock", result.Provider)
	assert.Equal(t, "provider not configured", result.Metadata["fallback_reason"])
}

func TestScreen_MockIsDeterministic(t *testing.T) {
	svc := newScreener(t, nil, "chainalysis")

	first, err := svc.Screen(context.Background(), "bc1qsomeaddress", nil)
	require.NoError(t, err)
	second, err := svc.Screen(context.Background(), "bc1qsomeaddress", nil)
	require.NoError(t, err)

	assert.Equal(t, first.RiskScore, second.RiskScore)
	assert.False(t, first.IsSanctioned)
	assert.Less(t, first.RiskScore, testThresholds.High, "mock never lands in the high band")
}
