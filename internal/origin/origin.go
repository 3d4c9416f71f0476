// Package origin tags a context with the subsystem that issued the work in
// it, so lower layers can label queries and calls without importing their
// callers.
package origin

import "context"

// Pipeline marks work done by an incident pipeline run.
const Pipeline = "pipeline"

type ctxKey struct{}

// With returns ctx tagged with name. An empty name leaves ctx unchanged.
func With(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, name)
}

// From returns the tag set by With, or "" when there is none.
func From(ctx context.Context) string {
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}
