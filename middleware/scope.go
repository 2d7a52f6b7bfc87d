package middleware

import (
	"context"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/scope"
)

// Scope returns middleware that restores multi-tenant scope from the
// job's AppID/OrgID fields into the context. Processors then see the
// same forge.Scope as the original enqueue caller.
func Scope() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx = scope.Restore(ctx, j.AppID, j.OrgID)
		return next(ctx)
	}
}
