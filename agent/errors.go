package agent

import "errors"

// Sentinel errors surfaced by agent stores and the ambient context.
var (
	// ErrNotFound reports an entity lookup miss.
	ErrNotFound = errors.New("agent: not found")
	// ErrParentMissing reports an attempt to save a child whose parent does
	// not exist.
	ErrParentMissing = errors.New("agent: parent agent missing")
	// ErrUnauthorized reports a user-ownership check failure.
	ErrUnauthorized = errors.New("agent: unauthorized")
	// ErrNotBound reports that no ambient user or agent binding is present
	// and the deployment is not single-user.
	ErrNotBound = errors.New("agent: no ambient binding")
)
