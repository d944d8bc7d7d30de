package storage

import "errors"

var (
	// ErrMigrationNotFound is returned when a migration is not found.
	ErrMigrationNotFound = errors.New("migration not found")

	// ErrRuleNotFound is returned when a stored rule is not found.
	ErrRuleNotFound = errors.New("rule not found")
)
