package tools

import "fmt"

// Source enumerates the provenance tags core.remember writes may declare.
type Source string

const (
	SourceUserQuote    Source = "user_quote"
	SourceUserExplicit Source = "user_explicit"
	SourceUserImplicit Source = "user_implicit"
	SourceInferred     Source = "inferred"
	SourceSystem       Source = "system"
)

// FieldRule gates a single field's writes.
type FieldRule struct {
	MinConfidence       float64
	RequireSource       []Source // empty means any source is acceptable
	EscalateIfUncertain bool
	MaxDelta            *float64 // numeric fields only
}

func (r FieldRule) sourceAllowed(s Source) bool {
	if len(r.RequireSource) == 0 {
		return true
	}
	for _, allowed := range r.RequireSource {
		if allowed == s {
			return true
		}
	}
	return false
}

// FieldPolicy is the per-field table core.remember consults before writing
// to the user model.
type FieldPolicy struct {
	rules          map[string]FieldRule
	userDefault    FieldRule
	nonUserDefault FieldRule
}

// DefaultFieldPolicy returns the policy defaults named in the spec: unlisted
// user.* fields require minConfidence=0.7 and one of
// {user_quote,user_explicit,user_implicit}; everything else defaults to
// minConfidence=0.5 with no source restriction.
func DefaultFieldPolicy() *FieldPolicy {
	return &FieldPolicy{
		rules: make(map[string]FieldRule),
		userDefault: FieldRule{
			MinConfidence: 0.7,
			RequireSource: []Source{SourceUserQuote, SourceUserExplicit, SourceUserImplicit},
		},
		nonUserDefault: FieldRule{MinConfidence: 0.5},
	}
}

// SetRule overrides the policy for a specific "subject.attribute" field.
func (p *FieldPolicy) SetRule(field string, rule FieldRule) {
	p.rules[field] = rule
}

// Check validates a proposed remember write against field policy. Returns a
// diagnostic error if the write should be rejected before any side effect.
func (p *FieldPolicy) Check(subject, attribute string, confidence float64, source Source, numericDelta *float64) error {
	field := subject + "." + attribute
	rule, ok := p.rules[field]
	if !ok {
		if subject == "user" {
			rule = p.userDefault
		} else {
			rule = p.nonUserDefault
		}
	}

	if confidence < rule.MinConfidence {
		return fmt.Errorf("confidence %.2f below minimum %.2f for field %q", confidence, rule.MinConfidence, field)
	}
	if !rule.sourceAllowed(source) {
		return fmt.Errorf("source %q not permitted for field %q", source, field)
	}
	if rule.MaxDelta != nil && numericDelta != nil {
		delta := *numericDelta
		if delta < 0 {
			delta = -delta
		}
		if delta > *rule.MaxDelta {
			return fmt.Errorf("delta %.4f exceeds max allowed %.4f for field %q", delta, *rule.MaxDelta, field)
		}
	}
	return nil
}
