package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrAlreadyConsumed indicates a single-use record was already used or invalidated.
	ErrAlreadyConsumed = errors.New("repository: already consumed")
	// ErrExpired indicates the record exists but its validity window has passed.
	ErrExpired = errors.New("repository: expired")
)
