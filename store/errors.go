package store

import "errors"

var (
	// ErrAssignmentNotFound indicates no assignment matches the lookup.
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrNoRuns indicates no sync run has been recorded yet.
	ErrNoRuns = errors.New("no sync runs recorded")
)
