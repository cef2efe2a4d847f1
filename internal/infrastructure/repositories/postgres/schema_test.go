package postgres

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/compliance_service/internal/domain/entities"
)

// The CHECK constraints in the initial migration must accept every value the
// Go enums can produce, or a legal state transition becomes unpersistable.
func TestSchemaConstraints_CoverAllEnumValues(t *testing.T) {
	schema, err := os.ReadFile(filepath.Join("..", "..", "..", "..", "migrations", "000001_init_compliance.up.sql"))
	require.NoError(t, err)

	constraints := map[string][]string{
		"chk_tier": {
			string(entities.TierNone),
			string(entities.TierBasic),
			string(entities.TierStandard),
		},
		"chk_status": {
			string(entities.AccountActive),
			string(entities.AccountFlagged),
			string(entities.AccountRestricted),
			string(entities.AccountSuspended),
		},
		"chk_pending": {
			string(entities.VerificationLight),
			string(entities.VerificationStandard),
		},
		"chk_kind": {
			string(entities.KindFiatToCrypto),
			string(entities.KindCryptoToFiat),
			string(entities.KindCryptoToCrypto),
		},
		"chk_risk_level": {
			string(entities.RiskLow),
			string(entities.RiskMedium),
			string(entities.RiskHigh),
		},
	}

	for name, values := range constraints {
		re := regexp.MustCompile(fmt.Sprintf(`CONSTRAINT %s CHECK \(([^)]+\)[^)]*)\)`, name))
		match := re.FindSubmatch(schema)
		require.NotNil(t, match, "constraint %s not found in migration", name)
		for _, v := range values {
			assert.Contains(t, string(match[1]), fmt.Sprintf("'%s'", v),
				"constraint %s does not accept %q", name, v)
		}
	}
}
