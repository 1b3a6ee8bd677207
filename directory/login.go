package directory

import (
	"strings"

	"github.com/jmcleod/gatehouse/internal/util"
)

// CanonicalLogin normalizes a typed identifier before lookup so that
// visually identical inputs resolve to the same account: Unicode
// normalization, case folding, surrounding whitespace stripped.
func CanonicalLogin(login string) string {
	return strings.ToLower(util.Normalize(strings.TrimSpace(login)))
}
