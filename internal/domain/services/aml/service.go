package aml

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ledgerline/compliance_service/internal/domain/entities"
)

// Provider screens a counterparty address against one risk-intelligence
// source. Implementations live in infrastructure/adapters.
type Provider interface {
	Name() string
	CheckAddress(ctx context.Context, address string, amount *decimal.Decimal) (*entities.AMLCheckResult, error)
}

// ResultCache is an optional short-TTL cache for screening results.
type ResultCache interface {
	Get(ctx context.Context, address string) (*entities.AMLCheckResult, error)
	Set(ctx context.Context, address string, result *entities.AMLCheckResult) error
}

// Thresholds bucket a raw provider score into a risk level. They are
// configuration, not logic.
type Thresholds struct {
	High   float64
	Medium float64
	Low    float64
}

// Bucket maps a score to its risk level.
func (t Thresholds) Bucket(score float64) entities.RiskLevel {
	switch {
	case score >= t.High:
		return entities.RiskHigh
	case score >= t.Medium:
		return entities.RiskMedium
	default:
		return entities.RiskLow
	}
}

// Service is the AML screener. Screening degrades rather than fails: on
// provider outage it falls back to the deterministic mock, with the fallback
// recorded in the result metadata so it cannot pass for a real clearance.
type Service struct {
	providers map[string]Provider
	fallback  Provider
	selected  string
	whitelist []*regexp.Regexp
	limits    Thresholds
	timeout   time.Duration
	cache     ResultCache
	group     singleflight.Group
	logger    *zap.Logger
}

// NewService creates an AML screener. fallback must be the mock provider;
// cache may be nil.
func NewService(
	providers map[string]Provider,
	fallback Provider,
	selected string,
	whitelistPatterns []string,
	limits Thresholds,
	timeout time.Duration,
	cache ResultCache,
	logger *zap.Logger,
) (*Service, error) {
	whitelist := make([]*regexp.Regexp, 0, len(whitelistPatterns))
	for _, pattern := range whitelistPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid whitelist pattern %q: %w", pattern, err)
		}
		whitelist = append(whitelist, re)
	}

	return &Service{
		providers: providers,
		fallback:  fallback,
		selected:  selected,
		whitelist: whitelist,
		limits:    limits,
		timeout:   timeout,
		cache:     cache,
		logger:    logger,
	}, nil
}

// Screen evaluates a counterparty address. Whitelisted exchange address
// shapes short-circuit to a zero-risk result without any provider call.
func (s *Service) Screen(ctx context.Context, address string, amount *decimal.Decimal) (*entities.AMLCheckResult, error) {
	for _, re := range s.whitelist {
		if re.MatchString(address) {
			return &entities.AMLCheckResult{
				RiskScore: 0,
				RiskLevel: entities.RiskLow,
				Provider:  "whitelist",
				Metadata:  map[string]string{"provider": "whitelist"},
				CheckedAt: time.Now().UTC(),
			}, nil
		}
	}

	// Concurrent screenings of the same address collapse into a single
	// cache lookup and provider call.
	v, _, _ := s.group.Do(address, func() (interface{}, error) {
		if s.cache != nil {
			if cached, err := s.cache.Get(ctx, address); err == nil && cached != nil {
				if cached.Metadata == nil {
					cached.Metadata = map[string]string{}
				}
				cached.Metadata["cache"] = "hit"
				return cached, nil
			}
		}

		result := s.dispatch(ctx, address, amount)
		result.RiskLevel = s.limits.Bucket(result.RiskScore)
		result.CheckedAt = time.Now().UTC()

		if s.cache != nil {
			if err := s.cache.Set(ctx, address, result); err != nil {
				s.logger.Warn("failed to cache screening result", zap.Error(err))
			}
		}
		return result, nil
	})

	return v.(*entities.AMLCheckResult), nil
}

// dispatch calls the configured provider with a bounded timeout, degrading to
// the mock on absence or failure. The caller never sees a provider error.
func (s *Service) dispatch(ctx context.Context, address string, amount *decimal.Decimal) *entities.AMLCheckResult {
	provider, ok := s.providers[s.selected]
	if !ok {
		s.logger.Warn("no screening provider configured, using mock fallback",
			zap.String("requested", s.selected))
		return s.fallbackResult(ctx, address, amount, s.selected, "provider not configured")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := provider.CheckAddress(callCtx, address, amount)
	if err != nil {
		s.logger.Warn("screening provider failed, using mock fallback",
			zap.Error(err),
			zap.String("provider", provider.Name()),
		)
		return s.fallbackResult(ctx, address, amount, provider.Name(), err.Error())
	}

	if result.Metadata == nil {
		result.Metadata = map[string]string{}
	}
	result.Provider = provider.Name()
	result.Metadata["provider"] = provider.Name()
	return result
}

func (s *Service) fallbackResult(ctx context.Context, address string, amount *decimal.Decimal, requested, reason string) *entities.AMLCheckResult {
	result, err := s.fallback.CheckAddress(ctx, address, amount)
	if err != nil {
		// The mock never errors in practice; keep the pipeline moving anyway.
		result = &entities.AMLCheckResult{RiskScore: 0}
	}
	if result.Metadata == nil {
		result.Metadata = map[string]string{}
	}
	result.Provider = s.fallback.Name()
	result.Metadata["provider"] = s.fallback.Name()
	result.Metadata["requested_provider"] = requested
	result.Metadata["fallback_reason"] = reason
	return result
}
