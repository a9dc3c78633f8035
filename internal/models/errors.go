package models

import "errors"

// Shared error taxonomy. Edit, delete, and reaction targets that are
// missing or not owned by the requester are reported as ErrNotFound in
// both cases so a denial never confirms that an id exists.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("validation failed")
	ErrDuplicate    = errors.New("already exists")
)
