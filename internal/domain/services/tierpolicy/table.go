package tierpolicy

import (
	"fmt"
	"sync/atomic"

	"github.com/ledgerline/compliance_service/internal/domain/entities"

	"github.com/ledgerline/compliance_service/internal/infrastructure/config"
)

// Table is the static mapping from verification tier to limits and
// capabilities. Lookups are pure; a reload swaps the whole map atomically so
// no decision ever observes a half-updated policy.
type Table struct {
	policies atomic.Value // map[entities.VerificationTier]entities.TierPolicy
}

// New builds a table from the given policies. Every tier must be present.
func New(policies ...entities.TierPolicy) (*Table, error) {
	m := make(map[entities.VerificationTier]entities.TierPolicy, len(policies))
	for _, p := range policies {
		m[p.Tier] = p
	}
	for _, tier := range []entities.VerificationTier{entities.TierNone, entities.TierBasic, entities.TierStandard} {
		if _, ok := m[tier]; !ok {
			return nil, fmt.Errorf("tier policy table missing tier %s", tier)
		}
	}

	t := &Table{}
	t.policies.Store(m)
	return t, nil
}

// FromConfig builds a table from the validated tiers configuration.
func FromConfig(tiers config.TiersConfig) (*Table, error) {
	none, err := tiers.None.Policy(entities.TierNone)
	if err != nil {
		return nil, err
	}
	basic, err := tiers.Basic.Policy(entities.TierBasic)
	if err != nil {
		return nil, err
	}
	standard, err := tiers.Standard.Policy(entities.TierStandard)
	if err != nil {
		return nil, err
	}
	return New(none, basic, standard)
}

// PolicyFor returns the policy for a tier. An unknown tier is a programmer
// error: the enum is closed and the table is validated at construction.
func (t *Table) PolicyFor(tier entities.VerificationTier) (entities.TierPolicy, error) {
	m := t.policies.Load().(map[entities.VerificationTier]entities.TierPolicy)
	p, ok := m[tier]
	if !ok {
		return entities.TierPolicy{}, fmt.Errorf("unknown verification tier %q", tier)
	}
	return p, nil
}

// Reload replaces the whole table in one step. Per-field patching is
// deliberately not offered.
func (t *Table) Reload(policies ...entities.TierPolicy) error {
	fresh, err := New(policies...)
	if err != nil {
		return err
	}
	t.policies.Store(fresh.policies.Load())
	return nil
}
