package session

import "github.com/campushq/coursetrack/browser"

// Snapshot is an exported, storable copy of a live session: its cookies,
// both web-storage namespaces, and the session-scoped base address. A
// snapshot taken from an interactive login can be restored into a fresh
// headless page by a separate Manager.
type Snapshot struct {
	Cookies        []browser.Cookie  `json:"cookies"`
	LocalStorage   map[string]string `json:"local_storage"`
	SessionStorage map[string]string `json:"session_storage"`
	BaseURL        string            `json:"base_url"`
}

// Empty reports whether the snapshot carries no usable state.
func (s Snapshot) Empty() bool {
	return len(s.Cookies) == 0 && len(s.LocalStorage) == 0 && len(s.SessionStorage) == 0
}
