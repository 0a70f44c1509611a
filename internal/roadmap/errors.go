package roadmap

import "errors"

var (
	// ErrNotFound means a referenced stage, task or template is absent.
	ErrNotFound = errors.New("roadmap: not found")

	// ErrInvalidState means a transition was attempted from a state that
	// does not allow it (e.g. re-activating an active stage).
	ErrInvalidState = errors.New("roadmap: invalid state")

	// ErrConstraint means a storage invariant would be violated
	// (duplicate task instantiation, ambiguous order index).
	ErrConstraint = errors.New("roadmap: constraint violation")
)
