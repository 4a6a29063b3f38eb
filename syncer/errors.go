package syncer

import "errors"

var (
	// ErrAlreadyInProgress is returned when a sync is already running.
	ErrAlreadyInProgress = errors.New("a sync is already in progress")
	// ErrTaskNotFound is returned for an unknown task id.
	ErrTaskNotFound = errors.New("sync task not found")
)
