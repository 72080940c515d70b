// Package policyrules resolves statement policy numbers to their canonical
// form before matching. Analysts register rules to correct systematic typos
// on carrier statements; the rules are loaded fresh for every matching run.
package policyrules

import "strings"

// Overrides maps a source policy number to its canonical target.
type Overrides map[string]string

// Resolve returns the target for policyNumber. ok is false when no rule
// exists, in which case the input is returned unchanged.
func (o Overrides) Resolve(policyNumber string) (string, bool) {
	if target, ok := o[policyNumber]; ok {
		return target, true
	}
	return policyNumber, false
}

// Lookup is Resolve without the presence flag.
func (o Overrides) Lookup(policyNumber string) string {
	target, _ := o.Resolve(policyNumber)
	return target
}

// Rule is a persisted override.
type Rule struct {
	SourcePolicyNumber string  `json:"source_policy_number"`
	TargetPolicyNumber string  `json:"target_policy_number"`
	Note               *string `json:"note"`
	UpdatedAt          string  `json:"updated_at"`
}

// FromRules builds an Overrides map. Later rules win for a repeated source.
func FromRules(rules []Rule) Overrides {
	o := make(Overrides, len(rules))
	for _, r := range rules {
		o[r.SourcePolicyNumber] = r.TargetPolicyNumber
	}
	return o
}

// Normalize trims both sides of a rule and reports whether both are present.
func Normalize(source, target string) (string, string, bool) {
	source, target = strings.TrimSpace(source), strings.TrimSpace(target)
	return source, target, source != "" && target != ""
}
