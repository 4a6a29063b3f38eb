// Package session manages one authenticated browser session against the
// learning site: interactive login, snapshot export and restore, expiry
// detection, keep-alive, and bounded in-place refresh.
//
// The site issues a rotating session-scoped path segment after login and
// silently expires idle sessions, so every consumer treats "the session
// died mid-operation" as routine. All navigation from the extractor goes
// through the guarded Navigate primitive, which recovers from invalidity
// at most once per call.
package session

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/campushq/coursetrack/browser"
)

// Options configures a Manager.
type Options struct {
	// Page is the browser tab the manager owns. Required.
	Page browser.Page
	// BaseURL is the site root without any session segment. Required.
	BaseURL string
	// LoginDomain hosts the interactive sign-in flow.
	LoginDomain string
	// MFADomains host the second-factor prompt.
	MFADomains []string
	// ExpiryMarkers are page-text fragments that indicate a dead session.
	ExpiryMarkers []string
	// MFATimeout bounds the wait for second-factor approval.
	// Zero means 120 seconds.
	MFATimeout time.Duration
	// PollInterval is the URL polling cadence during login.
	// Zero means 2 seconds.
	PollInterval time.Duration
	// KeepAliveInterval is the minimum spacing between keep-alive
	// touches. Zero means 60 seconds.
	KeepAliveInterval time.Duration
	// MaxRefreshes bounds in-place refreshes per manager lifetime.
	// Zero means 3.
	MaxRefreshes int
	// Logger receives lifecycle events. Nil means the standard logger.
	Logger logrus.FieldLogger
}

// Manager owns one browser session. It is not safe for concurrent use;
// a sync run drives it from a single worker goroutine.
type Manager struct {
	page          browser.Page
	staticBase    string
	loginDomain   string
	mfaDomains    []string
	expiryMarkers []string
	mfaTimeout    time.Duration
	pollInterval  time.Duration
	keepAliveGap  time.Duration
	maxRefreshes  int
	log           logrus.FieldLogger

	sessionBase *regexp.Regexp

	baseURL       string
	snapshot      *Snapshot
	refreshes     int
	lastKeepAlive time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

// NewManager creates a Manager that drives opts.Page.
func NewManager(opts Options) (*Manager, error) {
	if opts.Page == nil {
		return nil, fmt.Errorf("session: page is required")
	}
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("session: base URL is required")
	}
	if opts.MFATimeout == 0 {
		opts.MFATimeout = 120 * time.Second
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.KeepAliveInterval == 0 {
		opts.KeepAliveInterval = 60 * time.Second
	}
	if opts.MaxRefreshes == 0 {
		opts.MaxRefreshes = 3
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	staticBase := strings.TrimRight(opts.BaseURL, "/")
	return &Manager{
		page:          opts.Page,
		staticBase:    staticBase,
		loginDomain:   opts.LoginDomain,
		mfaDomains:    opts.MFADomains,
		expiryMarkers: opts.ExpiryMarkers,
		mfaTimeout:    opts.MFATimeout,
		pollInterval:  opts.PollInterval,
		keepAliveGap:  opts.KeepAliveInterval,
		maxRefreshes:  opts.MaxRefreshes,
		log:           opts.Logger,
		sessionBase:   regexp.MustCompile(regexp.QuoteMeta(staticBase) + `/\.[A-Za-z0-9]+`),
		now:           time.Now,
		sleep:         time.Sleep,
	}, nil
}

// Page returns the browser tab the manager owns.
func (m *Manager) Page() browser.Page {
	return m.page
}

// BaseURL returns the session-scoped base address captured at login or
// restore. Empty until a session is established.
func (m *Manager) BaseURL() string {
	return m.baseURL
}

// StaticBaseURL returns the site root without any session segment.
func (m *Manager) StaticBaseURL() string {
	return m.staticBase
}

const loginScript = `
var user = document.querySelector('#username, input[name="username"]');
var pass = document.querySelector('#password, input[name="password"], input[type="password"]');
if (!user || !pass) { return false; }
user.value = arguments[0];
pass.value = arguments[1];
var submit = document.querySelector('input[type="submit"], button[type="submit"]');
if (submit) { submit.click(); } else if (pass.form) { pass.form.submit(); }
return true;
`

// Authenticate drives the interactive login flow. It navigates to the
// site root, submits credentials on the login page, waits out any
// second-factor prompt up to the MFA ceiling, and captures the
// session-scoped base address once the URL settles on the site.
func (m *Manager) Authenticate(netID, password string) error {
	if err := m.page.Navigate(m.staticBase); err != nil {
		return fmt.Errorf("open site: %w", err)
	}

	url, err := m.page.CurrentURL()
	if err != nil {
		return fmt.Errorf("read url: %w", err)
	}
	if m.onLoginDomain(url) {
		filled, err := m.page.RunScript(loginScript, []interface{}{netID, password})
		if err != nil {
			return fmt.Errorf("submit credentials: %w", err)
		}
		if ok, _ := filled.(bool); !ok {
			return fmt.Errorf("login form not found: %w", ErrLoginFailed)
		}
		m.sleep(m.pollInterval)
	}

	mfaSeen := false
	deadline := m.now().Add(m.mfaTimeout)
	for {
		url, err = m.page.CurrentURL()
		if err != nil {
			return fmt.Errorf("read url: %w", err)
		}

		switch {
		case m.onSite(url):
			return m.settleAuthenticated()
		case m.onMFADomain(url):
			if !mfaSeen {
				m.log.Info("waiting for second-factor approval")
				mfaSeen = true
			}
		case m.onLoginDomain(url):
			if text, err := m.page.Text(); err == nil && loginRejected(text) {
				return fmt.Errorf("credentials rejected: %w", ErrLoginFailed)
			}
		}

		if !m.now().Before(deadline) {
			if mfaSeen {
				return ErrMfaTimeout
			}
			return fmt.Errorf("login did not complete: %w", ErrLoginFailed)
		}
		m.sleep(m.pollInterval)
	}
}

func loginRejected(text string) bool {
	lowered := strings.ToLower(text)
	return strings.Contains(lowered, "incorrect") ||
		strings.Contains(lowered, "invalid") ||
		strings.Contains(lowered, "authentication failed")
}

// settleAuthenticated confirms the landing page is usable and captures
// the session-scoped base address.
func (m *Manager) settleAuthenticated() error {
	if text, err := m.page.Text(); err == nil && m.containsExpiryMarker(text) {
		return fmt.Errorf("landed on expired-session page: %w", ErrLoginFailed)
	}
	if _, err := m.deriveBaseURL(); err != nil {
		return fmt.Errorf("capture session address: %w", err)
	}
	m.log.WithField("base", m.baseURL).Info("authenticated")
	return nil
}

// CheckAlreadyLoggedIn probes whether the page already carries a usable
// session, without supplying credentials.
func (m *Manager) CheckAlreadyLoggedIn() bool {
	if err := m.page.Navigate(m.staticBase + "/student/top"); err != nil {
		return false
	}
	url, err := m.page.CurrentURL()
	if err != nil || !m.onSite(url) {
		return false
	}
	if text, err := m.page.Text(); err != nil || m.containsExpiryMarker(text) {
		return false
	}
	if _, err := m.deriveBaseURL(); err != nil {
		return false
	}
	return true
}

// WaitForLogin blocks until a human completes the login in a visible
// browser, polling the URL until it settles on an authenticated
// session-scoped address. onMfa is invoked when the second-factor prompt
// is first observed.
func (m *Manager) WaitForLogin(timeout time.Duration, onMfa func()) error {
	mfaSeen := false
	deadline := m.now().Add(timeout)
	for m.now().Before(deadline) {
		url, err := m.page.CurrentURL()
		if err != nil {
			return fmt.Errorf("read url: %w", err)
		}
		if m.onSite(url) && m.sessionBase.MatchString(url) {
			if _, err := m.deriveBaseURL(); err != nil {
				return fmt.Errorf("capture session address: %w", err)
			}
			return nil
		}
		if m.onMFADomain(url) && !mfaSeen {
			mfaSeen = true
			if onMfa != nil {
				onMfa()
			}
		}
		m.sleep(m.pollInterval)
	}
	if mfaSeen {
		return ErrMfaTimeout
	}
	return fmt.Errorf("login not completed within %s: %w", timeout, ErrLoginFailed)
}

const readStorageScript = `
var out = {};
var store = window[arguments[0]];
for (var i = 0; i < store.length; i++) {
	var key = store.key(i);
	out[key] = store.getItem(key);
}
return out;
`

const writeStorageScript = `
var store = window[arguments[0]];
var data = JSON.parse(arguments[1]);
for (var key in data) {
	store.setItem(key, data[key]);
}
`

// Export captures the live session for handoff to another manager.
func (m *Manager) Export() (Snapshot, error) {
	cookies, err := m.page.Cookies()
	if err != nil {
		return Snapshot{}, fmt.Errorf("export cookies: %w", err)
	}
	local, err := m.readStorage("localStorage")
	if err != nil {
		return Snapshot{}, fmt.Errorf("export local storage: %w", err)
	}
	sessionStore, err := m.readStorage("sessionStorage")
	if err != nil {
		return Snapshot{}, fmt.Errorf("export session storage: %w", err)
	}
	if m.baseURL == "" {
		if _, err := m.deriveBaseURL(); err != nil {
			return Snapshot{}, fmt.Errorf("capture session address: %w", err)
		}
	}
	snapshot := Snapshot{
		Cookies:        cookies,
		LocalStorage:   local,
		SessionStorage: sessionStore,
		BaseURL:        m.baseURL,
	}
	m.snapshot = &snapshot
	return snapshot, nil
}

func (m *Manager) readStorage(namespace string) (map[string]string, error) {
	result, err := m.page.RunScript(readStorageScript, []interface{}{namespace})
	if err != nil {
		return nil, err
	}
	raw, _ := result.(map[string]interface{})
	values := make(map[string]string, len(raw))
	for key, value := range raw {
		if s, ok := value.(string); ok {
			values[key] = s
		}
	}
	return values, nil
}

// Restore injects a snapshot into a fresh page and deep-verifies it.
// It returns false on any verification failure; the caller must not
// assume partial success.
func (m *Manager) Restore(snapshot Snapshot) bool {
	if snapshot.Empty() {
		return false
	}
	if err := m.page.Navigate(m.staticBase); err != nil {
		m.log.WithError(err).Warn("restore: open site failed")
		return false
	}
	if !m.injectSnapshot(snapshot) {
		return false
	}
	if !m.deepVerify() {
		return false
	}
	m.snapshot = &snapshot
	m.log.WithField("base", m.baseURL).Info("session restored from snapshot")
	return true
}

// injectSnapshot sets cookies and both storage namespaces. Cookie fields
// the automation layer cannot set are already absent from browser.Cookie;
// a cookie that still fails is retried as a minimal name/value pair.
func (m *Manager) injectSnapshot(snapshot Snapshot) bool {
	for _, cookie := range snapshot.Cookies {
		if err := m.page.AddCookie(cookie); err != nil {
			minimal := browser.Cookie{Name: cookie.Name, Value: cookie.Value}
			if err := m.page.AddCookie(minimal); err != nil {
				m.log.WithError(err).WithField("cookie", cookie.Name).Warn("cookie injection failed")
			}
		}
	}
	if !m.writeStorage("localStorage", snapshot.LocalStorage) {
		return false
	}
	if !m.writeStorage("sessionStorage", snapshot.SessionStorage) {
		return false
	}
	return true
}

func (m *Manager) writeStorage(namespace string, values map[string]string) bool {
	if len(values) == 0 {
		return true
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		m.log.WithError(err).WithField("namespace", namespace).Warn("storage encoding failed")
		return false
	}
	if _, err := m.page.RunScript(writeStorageScript, []interface{}{namespace, string(encoded)}); err != nil {
		m.log.WithError(err).WithField("namespace", namespace).Warn("storage injection failed")
		return false
	}
	return true
}

// deepVerify performs the two-hop verification: domain root, then an
// authenticated-only path. Neither hop may redirect to the login or MFA
// domain, and neither page may carry an expiry marker.
func (m *Manager) deepVerify() bool {
	if err := m.page.Navigate(m.staticBase); err != nil {
		m.log.WithError(err).Warn("verify: root navigation failed")
		return false
	}
	if !m.verifyCurrentPage("root") {
		return false
	}
	if err := m.page.Navigate(m.staticBase + "/student/top"); err != nil {
		m.log.WithError(err).Warn("verify: authenticated path failed")
		return false
	}
	if !m.verifyCurrentPage("student home") {
		return false
	}
	if _, err := m.deriveBaseURL(); err != nil {
		m.log.WithError(err).Warn("verify: no session address")
		return false
	}
	return true
}

func (m *Manager) verifyCurrentPage(hop string) bool {
	url, err := m.page.CurrentURL()
	if err != nil {
		m.log.WithError(err).Warn("verify: url read failed")
		return false
	}
	if m.onLoginDomain(url) || m.onMFADomain(url) {
		m.log.WithFields(logrus.Fields{"hop": hop, "url": url}).Warn("verify: redirected to login")
		return false
	}
	text, err := m.page.Text()
	if err != nil {
		m.log.WithError(err).Warn("verify: page read failed")
		return false
	}
	if m.containsExpiryMarker(text) {
		m.log.WithField("hop", hop).Warn("verify: expiry marker present")
		return false
	}
	return true
}

// IsValid is the cheap check: current address off the login/MFA domains
// and no expiry marker in the current page.
func (m *Manager) IsValid() bool {
	url, err := m.page.CurrentURL()
	if err != nil {
		return false
	}
	if m.onLoginDomain(url) || m.onMFADomain(url) {
		return false
	}
	text, err := m.page.Text()
	if err != nil {
		return false
	}
	return !m.containsExpiryMarker(text)
}

// Refresh re-applies the last snapshot in place: clear cookies, re-inject,
// re-verify, re-derive the session address since it rotates. Bounded by
// the per-manager refresh budget.
func (m *Manager) Refresh() bool {
	if m.snapshot == nil {
		m.log.Warn("refresh requested with no snapshot")
		return false
	}
	if m.refreshes >= m.maxRefreshes {
		m.log.WithField("limit", m.maxRefreshes).Warn("refresh budget exhausted")
		return false
	}
	m.refreshes++
	m.log.WithField("attempt", m.refreshes).Info("refreshing session")

	if err := m.page.DeleteCookies(); err != nil {
		m.log.WithError(err).Warn("refresh: cookie clear failed")
		return false
	}
	if err := m.page.Navigate(m.staticBase); err != nil {
		m.log.WithError(err).Warn("refresh: open site failed")
		return false
	}
	if !m.injectSnapshot(*m.snapshot) {
		return false
	}
	if !m.deepVerify() {
		return false
	}
	m.lastKeepAlive = m.now()
	return true
}

// RefreshesUsed reports how many refreshes this manager has spent.
func (m *Manager) RefreshesUsed() int {
	return m.refreshes
}

// KeepAlive touches an authenticated-only path to reset the site's idle
// timer, at most once per keep-alive interval. Detected invalidity
// triggers exactly one refresh.
func (m *Manager) KeepAlive() {
	if m.now().Sub(m.lastKeepAlive) < m.keepAliveGap {
		return
	}
	m.lastKeepAlive = m.now()

	target := m.baseURL
	if target == "" {
		target = m.staticBase
	}
	if err := m.page.Navigate(target + "/student/top"); err != nil {
		m.log.WithError(err).Warn("keep-alive navigation failed")
		return
	}
	if !m.IsValid() {
		m.log.Warn("session invalid during keep-alive, refreshing")
		m.Refresh()
	}
}

// Navigate is the guarded navigation primitive: it joins path onto the
// session-scoped base address, and on detecting invalidity performs one
// refresh and one retry before surfacing failure. The retry rebuilds the
// URL because the base address rotates on refresh.
func (m *Manager) Navigate(path, description string) error {
	if err := m.page.Navigate(m.baseURL + path); err != nil {
		return fmt.Errorf("navigate to %s: %w", description, err)
	}
	if m.IsValid() {
		return nil
	}

	m.log.WithField("page", description).Warn("session invalid after navigation, refreshing")
	if !m.Refresh() {
		if m.refreshes >= m.maxRefreshes {
			return fmt.Errorf("at %s: %w", description, ErrRefreshLimit)
		}
		return fmt.Errorf("at %s: %w", description, ErrSessionExpired)
	}
	if err := m.page.Navigate(m.baseURL + path); err != nil {
		return fmt.Errorf("navigate to %s after refresh: %w", description, err)
	}
	if !m.IsValid() {
		return fmt.Errorf("at %s: %w", description, ErrSessionExpired)
	}
	return nil
}

// Close releases the underlying browser.
func (m *Manager) Close() error {
	return m.page.Close()
}

// deriveBaseURL extracts the rotating session segment from the current
// URL, minting one via the site root if the current URL lacks it.
func (m *Manager) deriveBaseURL() (string, error) {
	url, err := m.page.CurrentURL()
	if err != nil {
		return "", err
	}
	if match := m.sessionBase.FindString(url); match != "" {
		m.baseURL = match
		return match, nil
	}
	if err := m.page.Navigate(m.staticBase + "/student/top"); err != nil {
		return "", err
	}
	url, err = m.page.CurrentURL()
	if err != nil {
		return "", err
	}
	if match := m.sessionBase.FindString(url); match != "" {
		m.baseURL = match
		return match, nil
	}
	return "", fmt.Errorf("no session segment in %s", url)
}

func (m *Manager) onSite(url string) bool {
	return strings.HasPrefix(url, m.staticBase)
}

func (m *Manager) onLoginDomain(url string) bool {
	return m.loginDomain != "" && strings.Contains(url, m.loginDomain)
}

func (m *Manager) onMFADomain(url string) bool {
	for _, domain := range m.mfaDomains {
		if strings.Contains(url, domain) {
			return true
		}
	}
	return false
}

func (m *Manager) containsExpiryMarker(text string) bool {
	lowered := strings.ToLower(text)
	for _, marker := range m.expiryMarkers {
		if strings.Contains(lowered, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
