package session

import "errors"

var (
	// ErrLoginFailed indicates the interactive login did not produce an
	// authenticated session.
	ErrLoginFailed = errors.New("login failed")
	// ErrMfaTimeout indicates the second-factor prompt was not approved
	// within the wait ceiling.
	ErrMfaTimeout = errors.New("multi-factor approval timed out")
	// ErrSessionExpired indicates the site invalidated the session and it
	// could not be recovered.
	ErrSessionExpired = errors.New("session expired")
	// ErrRefreshLimit indicates the per-run refresh budget is exhausted.
	ErrRefreshLimit = errors.New("session refresh limit reached")
)
