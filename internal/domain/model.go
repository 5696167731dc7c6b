package domain

// Tier is a named capability class of backing model.
type Tier string

const (
	TierConversational Tier = "conversational"
	TierCapable        Tier = "capable"
	TierCodeSpecialist Tier = "code_specialist"
	TierDeep           Tier = "deep"
	TierFrontier       Tier = "frontier"
)

// Tiers lists every tier from cheapest to most capable.
var Tiers = []Tier{TierConversational, TierCapable, TierCodeSpecialist, TierDeep, TierFrontier}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	for _, v := range Tiers {
		if v == t {
			return true
		}
	}
	return false
}

// ModelSelection is the ordered list of candidate models for one request.
// It is computed once and never mutated afterwards.
type ModelSelection struct {
	Tier      Tier     `json:"tier"`
	Primary   string   `json:"primary"`
	Fallbacks []string `json:"fallbacks,omitempty"`
}

// Candidates returns [Primary, Fallbacks...] with blanks and duplicates removed.
// The returned slice is a fresh copy.
func (s ModelSelection) Candidates() []string {
	out := make([]string, 0, 1+len(s.Fallbacks))
	seen := make(map[string]bool, 1+len(s.Fallbacks))
	for _, m := range append([]string{s.Primary}, s.Fallbacks...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
