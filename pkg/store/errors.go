package store

import "errors"

var (
	// ErrNotFound indicates no row matched the requested deliberation/message.
	ErrNotFound = errors.New("not found")

	// ErrNotOwned indicates the deliberation exists but belongs to a
	// different principal (I4: owner isolation).
	ErrNotOwned = errors.New("not owned by principal")
)
