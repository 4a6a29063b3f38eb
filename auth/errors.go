package auth

import "errors"

var (
	// ErrNotAuthenticated is returned when no session snapshot is held.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrLoginInProgress is returned when a browser login is already running.
	ErrLoginInProgress = errors.New("a browser login is already in progress")
	// ErrTaskNotFound is returned for an unknown login task id.
	ErrTaskNotFound = errors.New("login task not found")
)
