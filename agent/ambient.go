package agent

import (
	"context"

	"github.com/typedai/typedai/user"
)

// Ambient bindings ride on context.Context, never on globals: every task
// carries its own binding and nested calls see the innermost one.

type ambientKey int

const (
	ambientUserKey ambientKey = iota
	ambientAgentKey
)

// singleUserService resolves the sole user when AUTH=single_user. Set once at
// boot via SetSingleUserService; nil in multi-user deployments.
var singleUserService user.Service

// SetSingleUserService installs the fallback user resolution used by
// CurrentUser when no ambient binding exists. Call once at boot.
func SetSingleUserService(svc user.Service) {
	singleUserService = svc
}

// RunWithUser binds u as the ambient user for calls made within fn.
func RunWithUser(ctx context.Context, u user.User, fn func(ctx context.Context) error) error {
	return fn(context.WithValue(ctx, ambientUserKey, u))
}

// RunWithAgent binds c as the ambient agent for calls made within fn. The
// runner establishes this binding before each iteration.
func RunWithAgent(ctx context.Context, c *Context, fn func(ctx context.Context) error) error {
	return fn(context.WithValue(ctx, ambientAgentKey, c))
}

// WithUser returns a context carrying u as the ambient user.
func WithUser(ctx context.Context, u user.User) context.Context {
	return context.WithValue(ctx, ambientUserKey, u)
}

// WithAgent returns a context carrying c as the ambient agent.
func WithAgent(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, ambientAgentKey, c)
}

// CurrentAgent returns the ambient agent binding. The second return is false
// when no agent is bound.
func CurrentAgent(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(ambientAgentKey).(*Context)
	return c, ok
}

// CurrentUser resolves the effective user: the ambient agent's owner when an
// agent binding is present, otherwise the ambient user binding, otherwise the
// sole user in single-user mode. Fails with ErrNotBound when none applies.
func CurrentUser(ctx context.Context) (user.User, error) {
	if c, ok := CurrentAgent(ctx); ok {
		return c.User, nil
	}
	if u, ok := ctx.Value(ambientUserKey).(user.User); ok {
		return u, nil
	}
	if singleUserService != nil {
		if u, ok := singleUserService.SingleUser(); ok {
			return u, nil
		}
	}
	return user.User{}, ErrNotBound
}
