package engine

import "errors"

var (
	// ErrValidation indicates a build request is incomplete.
	ErrValidation = errors.New("validation failed")

	// ErrNotBuilt indicates a directory holds no built charm.
	ErrNotBuilt = errors.New("not a built charm")
)
