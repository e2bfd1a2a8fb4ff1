package domain

// FixBitlist left-pads values with false up to length n, or truncates if
// values is already longer. Grounded on the original arbiter's
// fix_bitlist: assertions may arrive with a mask/verdict array shorter than
// the bounty's artifact count, and must be aligned before comparison.
func FixBitlist(values []bool, n int) []bool {
	if len(values) >= n {
		return values[len(values)-n:]
	}
	out := make([]bool, n)
	copy(out[n-len(values):], values)
	return out
}

// UntrustedExpertsRequired is the minimum number of untrusted assertions
// collected before the "experts disagree" fraction check applies.
const UntrustedExpertsRequired = 3

// TrustedAuthors is the set of expert addresses configured as trusted
// (spec §9 trusted_experts).
type TrustedAuthors map[string]struct{}

// Disagree reports whether assertion a disagrees with truth on artifact i:
// the assertion must have opted in (mask[i]) and its verdict must differ
// from truth[i].
func Disagree(a Assertion, truth []bool) bool {
	mask := FixBitlist(a.Mask, len(truth))
	verdicts := FixBitlist(a.Verdicts, len(truth))
	for i := range truth {
		if mask[i] && verdicts[i] != truth[i] {
			return true
		}
	}
	return false
}

// ExpertsDisagree implements the population-level disagreement flag (spec
// §4.6): true if any trusted expert disagrees on at least one artifact, or
// if at least UntrustedExpertsRequired assertions were collected and at
// least 2/3 of them disagree. This is advisory operator signalling only,
// never correctness-affecting (spec §4.6, §9 Open Question 1).
func ExpertsDisagree(assertions []Assertion, truth []bool, trusted TrustedAuthors) bool {
	disagreeing := 0
	for _, a := range assertions {
		d := Disagree(a, truth)
		if d {
			if _, ok := trusted[a.Author]; ok {
				return true
			}
			disagreeing++
		}
	}
	if len(assertions) >= UntrustedExpertsRequired {
		return float64(disagreeing)/float64(len(assertions)) >= 2.0/3.0
	}
	return false
}
