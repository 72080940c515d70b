package matcher

import (
	"encoding/json"
	"strings"
)

// Tag is a contributing factor or audit marker on a match result.
type Tag string

const (
	TagPolicyInMemo       Tag = "policy_in_memo"
	TagExactAmount        Tag = "exact_amount"
	TagNearAmount         Tag = "near_amount"
	TagNearDate           Tag = "near_date"
	TagSoftDate           Tag = "soft_date"
	TagCarrierMatch       Tag = "carrier_match"
	TagNameHint           Tag = "name_hint"
	TagPolicyRuleOverride Tag = "policy_rule_override"
	TagManualResolution   Tag = "manual_resolution"
)

type tagInfo struct {
	label  string
	points int // hundredths of a score point
}

var tags = map[Tag]tagInfo{
	TagPolicyInMemo:       {"Policy in Memo", 55},
	TagExactAmount:        {"Exact Amount", 30},
	TagNearAmount:         {"Near Amount", 15},
	TagNearDate:           {"Near Date", 10},
	TagSoftDate:           {"Soft Date", 5},
	TagCarrierMatch:       {"Carrier Match", 5},
	TagNameHint:           {"Name Hint", 5},
	TagPolicyRuleOverride: {"Policy Rule", 0},
	TagManualResolution:   {"Manual Resolution", 0},
}

// Known reports whether t belongs to the closed tag set.
func (t Tag) Known() bool {
	_, ok := tags[t]
	return ok
}

// Label is the human readable name of the tag.
func (t Tag) Label() string {
	if info, ok := tags[t]; ok {
		return info.label
	}
	return string(t)
}

// Weight is the score contribution of the tag.
func (t Tag) Weight() float64 {
	return float64(t.points()) / 100
}

func (t Tag) points() int {
	return tags[t].points
}

// Reasons is an ordered list of tags. It serializes to the comma-joined form
// used in storage and the API.
type Reasons []Tag

// String joins the tags with commas.
func (r Reasons) String() string {
	parts := make([]string, len(r))
	for i, t := range r {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// Has reports whether t is present.
func (r Reasons) Has(t Tag) bool {
	for _, existing := range r {
		if existing == t {
			return true
		}
	}
	return false
}

// With returns a copy of r with t appended.
func (r Reasons) With(t Tag) Reasons {
	out := make(Reasons, len(r), len(r)+1)
	copy(out, r)
	return append(out, t)
}

// ParseReasons splits a comma-joined reason string. Empty segments are skipped;
// unknown tags are kept so the stored trail survives a round trip.
func ParseReasons(s string) Reasons {
	var out Reasons
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, Tag(part))
	}
	return out
}

func (r Reasons) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Reasons) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = ParseReasons(s)
	return nil
}
