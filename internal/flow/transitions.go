package flow

import "turnpipe/internal/domain/model"

// pickTransition returns the first keyword or any rule matching lowered, else
// the first default rule.
func pickTransition(rules []model.TransitionRule, lowered string) (string, bool) {
	def, hasDef := "", false
	for _, t := range rules {
		if t.Default {
			if !hasDef {
				def, hasDef = t.Next, true
			}
			continue
		}
		if t.Matches(lowered) {
			return t.Next, true
		}
	}
	return def, hasDef
}
