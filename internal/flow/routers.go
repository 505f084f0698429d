package flow

import (
	"context"
	"fmt"

	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/adapter"
)

// routeKeyword returns the first rule whose keyword occurs in lowered, else
// the default rule, else the router's defaultRoute.
//
// A default rule pointing back at the turn's entry state is skipped unless
// the router sets allowSameStateDefault.
func routeKeyword(r *model.RouterConfig, lowered, entryState string) (string, bool) {
	var def *model.KeywordRule
	for i := range r.Rules {
		rule := &r.Rules[i]
		if rule.Default {
			if def == nil {
				def = rule
			}
			continue
		}
		if model.ContainsAnyKeyword(lowered, rule.Keywords) {
			return rule.Next, true
		}
	}
	if def != nil && (r.AllowSameStateDefault || def.Next != entryState) {
		return def.Next, true
	}
	if r.DefaultRoute != "" {
		return r.DefaultRoute, true
	}
	return "", false
}

// routeClassifier asks the classifier for one of the router's labels. Output
// outside the label set falls back to defaultRoute; a failed call is returned
// so the job is retried.
func routeClassifier(ctx context.Context, c adapter.Classifier, r *model.RouterConfig, text string) (next string, label string, err error) {
	if c == nil {
		return r.DefaultRoute, "", nil
	}
	label, err = c.Classify(ctx, r.Prompt, text, r.Labels())
	if err != nil {
		return "", "", fmt.Errorf("classify: %w", err)
	}
	if next, ok := r.RouteFor(label); ok {
		return next, label, nil
	}
	return r.DefaultRoute, label, nil
}
