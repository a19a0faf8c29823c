package degrade

import (
	"fmt"
	"strings"
)

// Tier is the process-wide aggressiveness level. It is chosen once per run
// and never escalated per node.
type Tier int

const (
	// TierEssential attempts only rewrites with no structural ambiguity.
	TierEssential Tier = iota
	// TierAdvanced additionally attempts structurally richer rewrites but
	// refuses anything the analyzer flagged as ambiguous.
	TierAdvanced
	// TierExperimental attempts every strategy, including text-level repair
	// when structural rewriting fails. Meant for preview runs.
	TierExperimental
)

func (t Tier) String() string {
	switch t {
	case TierEssential:
		return "essential"
	case TierAdvanced:
		return "advanced"
	case TierExperimental:
		return "experimental"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier maps a configuration string to a Tier. The empty string selects
// the advanced default.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "advanced":
		return TierAdvanced, nil
	case "essential":
		return TierEssential, nil
	case "experimental":
		return TierExperimental, nil
	default:
		return TierAdvanced, fmt.Errorf("unknown tier %q (want essential, advanced or experimental)", s)
	}
}
