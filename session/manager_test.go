package session

import (
	"errors"
	"testing"
	"time"

	"github.com/campushq/coursetrack/browser"
	"github.com/campushq/coursetrack/internal/testsupport"
)

const (
	testBase     = "https://learningsuite.byu.edu"
	testLogin    = "https://cas.byu.edu/cas/login"
	testMFA      = "https://api-abc123.duosecurity.com/frame"
	sessionBase1 = testBase + "/.DaEo"
	sessionBase2 = testBase + "/.XyZw"
)

func newTestManager(t *testing.T, page *testsupport.FakePage) *Manager {
	t.Helper()

	m, err := NewManager(Options{
		Page:          page,
		BaseURL:       testBase,
		LoginDomain:   "cas.byu.edu",
		MFADomains:    []string{"duosecurity.com"},
		ExpiryMarkers: []string{"session has expired", "please log in"},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	clock := time.Now()
	m.now = func() time.Time { return clock }
	m.sleep = func(d time.Duration) { clock = clock.Add(d) }
	return m
}

func testSnapshot() Snapshot {
	return Snapshot{
		Cookies: []browser.Cookie{
			{Name: "JSESSIONID", Value: "abc", Domain: "learningsuite.byu.edu", Path: "/", Secure: true},
		},
		LocalStorage:   map[string]string{"auth_token": "tok"},
		SessionStorage: map[string]string{"nav": "home"},
		BaseURL:        sessionBase1,
	}
}

// loggedInPage is a fake site where restore verification succeeds and the
// session segment resolves to sessionBase1.
func loggedInPage() *testsupport.FakePage {
	return &testsupport.FakePage{
		Redirects: map[string]string{
			testBase:                  sessionBase1 + "/student/top",
			testBase + "/student/top": sessionBase1 + "/student/top",
		},
		Pages: map[string]testsupport.PageState{
			sessionBase1 + "/student/top": {Text: "Student Home"},
		},
	}
}

func TestRestore_Success(t *testing.T) {
	page := loggedInPage()
	m := newTestManager(t, page)

	if !m.Restore(testSnapshot()) {
		t.Fatal("expected restore to succeed")
	}
	if m.BaseURL() != sessionBase1 {
		t.Errorf("BaseURL = %q, expected %q", m.BaseURL(), sessionBase1)
	}
	if len(page.CookieJar) != 1 || page.CookieJar[0].Name != "JSESSIONID" {
		t.Errorf("expected injected cookie, got %v", page.CookieJar)
	}
	if page.Storage["localStorage"]["auth_token"] != "tok" {
		t.Errorf("expected local storage injected, got %v", page.Storage)
	}
	if page.Storage["sessionStorage"]["nav"] != "home" {
		t.Errorf("expected session storage injected, got %v", page.Storage)
	}
}

func TestRestore_LoginRedirectFails(t *testing.T) {
	page := loggedInPage()
	// The authenticated-only hop bounces to the login domain.
	page.Redirects[testBase+"/student/top"] = testLogin
	m := newTestManager(t, page)

	if m.Restore(testSnapshot()) {
		t.Fatal("expected restore to fail on login redirect")
	}
}

func TestRestore_ExpiryMarkerFails(t *testing.T) {
	page := loggedInPage()
	page.Pages[sessionBase1+"/student/top"] = testsupport.PageState{
		Text: "Your session has expired. Please log in again.",
	}
	m := newTestManager(t, page)

	if m.Restore(testSnapshot()) {
		t.Fatal("expected restore to fail on expiry marker")
	}
}

func TestRestore_EmptySnapshot(t *testing.T) {
	m := newTestManager(t, loggedInPage())

	if m.Restore(Snapshot{}) {
		t.Fatal("expected restore of empty snapshot to fail")
	}
}

func TestRestore_CookieFallsBackToMinimal(t *testing.T) {
	page := loggedInPage()
	page.FailAddCookie = map[string]int{"JSESSIONID": 1}
	m := newTestManager(t, page)

	if !m.Restore(testSnapshot()) {
		t.Fatal("expected restore to succeed with minimal cookie")
	}
	if len(page.CookieJar) != 1 {
		t.Fatalf("expected one cookie, got %d", len(page.CookieJar))
	}
	if page.CookieJar[0].Domain != "" {
		t.Errorf("expected minimal cookie without domain, got %+v", page.CookieJar[0])
	}
}

func TestIsValid(t *testing.T) {
	cases := []struct {
		name string
		url  string
		text string
		want bool
	}{
		{
			name: "authenticated page",
			url:  sessionBase1 + "/student/top",
			text: "Student Home",
			want: true,
		},
		{
			name: "on login domain",
			url:  testLogin,
			text: "Sign in",
			want: false,
		},
		{
			name: "on mfa domain",
			url:  testMFA,
			text: "Approve this request",
			want: false,
		},
		{
			name: "expiry marker",
			url:  sessionBase1 + "/student/top",
			text: "Your session has expired",
			want: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page := &testsupport.FakePage{
				URL: tc.url,
				Pages: map[string]testsupport.PageState{
					tc.url: {Text: tc.text},
				},
			}
			m := newTestManager(t, page)
			if got := m.IsValid(); got != tc.want {
				t.Fatalf("IsValid = %v, expected %v", got, tc.want)
			}
		})
	}
}

func TestNavigate_RefreshesOnceAndRetries(t *testing.T) {
	page := loggedInPage()
	m := newTestManager(t, page)
	if !m.Restore(testSnapshot()) {
		t.Fatal("restore failed")
	}

	// The session dies: the gradebook page under the old base shows the
	// expiry marker. A refresh rotates the session segment to base2,
	// where the page is fine.
	page.Pages[sessionBase1+"/grades"] = testsupport.PageState{Text: "session has expired"}
	page.Pages[sessionBase2+"/grades"] = testsupport.PageState{Text: "Gradebook"}
	page.Redirects[testBase] = sessionBase2 + "/student/top"
	page.Redirects[testBase+"/student/top"] = sessionBase2 + "/student/top"
	page.Pages[sessionBase2+"/student/top"] = testsupport.PageState{Text: "Student Home"}

	if err := m.Navigate("/grades", "gradebook"); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if m.RefreshesUsed() != 1 {
		t.Errorf("RefreshesUsed = %d, expected 1", m.RefreshesUsed())
	}
	if page.URL != sessionBase2+"/grades" {
		t.Errorf("landed on %q, expected retry under rotated base", page.URL)
	}
}

func TestNavigate_NoSnapshotSurfacesExpiry(t *testing.T) {
	page := loggedInPage()
	page.Pages[sessionBase1+"/grades"] = testsupport.PageState{Text: "please log in"}
	m := newTestManager(t, page)
	m.baseURL = sessionBase1

	err := m.Navigate("/grades", "gradebook")
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestNavigate_RefreshBudgetExhausted(t *testing.T) {
	page := loggedInPage()
	m := newTestManager(t, page)
	if !m.Restore(testSnapshot()) {
		t.Fatal("restore failed")
	}
	m.refreshes = m.maxRefreshes

	page.Pages[sessionBase1+"/grades"] = testsupport.PageState{Text: "please log in"}
	err := m.Navigate("/grades", "gradebook")
	if !errors.Is(err, ErrRefreshLimit) {
		t.Fatalf("expected ErrRefreshLimit, got %v", err)
	}
}

func TestKeepAlive_Spacing(t *testing.T) {
	page := loggedInPage()
	m := newTestManager(t, page)
	if !m.Restore(testSnapshot()) {
		t.Fatal("restore failed")
	}

	clock := time.Now()
	m.now = func() time.Time { return clock }

	before := len(page.Navigated)
	m.KeepAlive()
	if len(page.Navigated) != before+1 {
		t.Fatalf("expected keep-alive navigation, got %d new", len(page.Navigated)-before)
	}

	m.KeepAlive()
	if len(page.Navigated) != before+1 {
		t.Fatal("expected second keep-alive within the interval to be a no-op")
	}

	clock = clock.Add(61 * time.Second)
	m.KeepAlive()
	if len(page.Navigated) != before+2 {
		t.Fatal("expected keep-alive after the interval to navigate")
	}
}

func TestAuthenticate_Success(t *testing.T) {
	page := &testsupport.FakePage{
		Redirects: map[string]string{
			testBase: testLogin,
		},
		Pages: map[string]testsupport.PageState{
			testLogin:                     {Text: "BYU Sign In"},
			sessionBase1 + "/student/top": {Text: "Student Home"},
		},
	}
	page.Scripts = []testsupport.ScriptStub{
		{
			Contains: "#username",
			Fn: func(args []interface{}) (interface{}, error) {
				if args[0] != "student7" || args[1] != "hunter2" {
					return false, nil
				}
				// Simulate the post-login redirect.
				page.URL = sessionBase1 + "/student/top"
				return true, nil
			},
		},
	}
	m := newTestManager(t, page)

	if err := m.Authenticate("student7", "hunter2"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if m.BaseURL() != sessionBase1 {
		t.Errorf("BaseURL = %q, expected %q", m.BaseURL(), sessionBase1)
	}
}

func TestAuthenticate_MfaTimeout(t *testing.T) {
	page := &testsupport.FakePage{
		Redirects: map[string]string{
			testBase: testMFA,
		},
		Pages: map[string]testsupport.PageState{
			testMFA: {Text: "Approve this request"},
		},
	}
	m := newTestManager(t, page)

	err := m.Authenticate("student7", "hunter2")
	if !errors.Is(err, ErrMfaTimeout) {
		t.Fatalf("expected ErrMfaTimeout, got %v", err)
	}
}

func TestAuthenticate_RejectedCredentials(t *testing.T) {
	page := &testsupport.FakePage{
		Redirects: map[string]string{
			testBase: testLogin,
		},
		Pages: map[string]testsupport.PageState{
			testLogin: {Text: "The credentials you provided are incorrect."},
		},
	}
	page.Scripts = []testsupport.ScriptStub{
		{Contains: "#username", Result: true},
	}
	m := newTestManager(t, page)

	err := m.Authenticate("student7", "wrong")
	if !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("expected ErrLoginFailed, got %v", err)
	}
}

func TestExport_RoundTrip(t *testing.T) {
	page := loggedInPage()
	page.URL = sessionBase1 + "/student/top"
	page.CookieJar = []browser.Cookie{{Name: "JSESSIONID", Value: "abc"}}
	page.Storage = map[string]map[string]string{
		"localStorage":   {"auth_token": "tok"},
		"sessionStorage": {"nav": "home"},
	}
	m := newTestManager(t, page)

	snapshot, err := m.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if snapshot.BaseURL != sessionBase1 {
		t.Errorf("BaseURL = %q, expected %q", snapshot.BaseURL, sessionBase1)
	}
	if len(snapshot.Cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(snapshot.Cookies))
	}
	if snapshot.LocalStorage["auth_token"] != "tok" {
		t.Errorf("LocalStorage = %v", snapshot.LocalStorage)
	}

	// A second manager restores the exported snapshot into a fresh page.
	fresh := loggedInPage()
	m2 := newTestManager(t, fresh)
	if !m2.Restore(snapshot) {
		t.Fatal("expected restore of exported snapshot to succeed")
	}
	if fresh.Storage["sessionStorage"]["nav"] != "home" {
		t.Errorf("expected session storage round-trip, got %v", fresh.Storage)
	}
}

func TestCheckAlreadyLoggedIn(t *testing.T) {
	t.Run("live session", func(t *testing.T) {
		m := newTestManager(t, loggedInPage())
		if !m.CheckAlreadyLoggedIn() {
			t.Fatal("expected probe to succeed")
		}
		if m.BaseURL() != sessionBase1 {
			t.Errorf("BaseURL = %q", m.BaseURL())
		}
	})

	t.Run("redirected to login", func(t *testing.T) {
		page := loggedInPage()
		page.Redirects[testBase+"/student/top"] = testLogin
		m := newTestManager(t, page)
		if m.CheckAlreadyLoggedIn() {
			t.Fatal("expected probe to fail")
		}
	})
}

func TestWaitForLogin(t *testing.T) {
	t.Run("settles on session address", func(t *testing.T) {
		page := loggedInPage()
		page.URL = testLogin
		m := newTestManager(t, page)

		polls := 0
		m.sleep = func(time.Duration) {
			polls++
			if polls == 3 {
				page.URL = sessionBase1 + "/student/top"
			}
		}

		mfaCalls := 0
		if err := m.WaitForLogin(time.Minute, func() { mfaCalls++ }); err != nil {
			t.Fatalf("WaitForLogin: %v", err)
		}
		if m.BaseURL() != sessionBase1 {
			t.Errorf("BaseURL = %q", m.BaseURL())
		}
		if mfaCalls != 0 {
			t.Errorf("expected no mfa callback, got %d", mfaCalls)
		}
	})

	t.Run("reports mfa and times out", func(t *testing.T) {
		page := &testsupport.FakePage{URL: testMFA}
		m := newTestManager(t, page)

		mfaCalls := 0
		err := m.WaitForLogin(time.Minute, func() { mfaCalls++ })
		if !errors.Is(err, ErrMfaTimeout) {
			t.Fatalf("expected ErrMfaTimeout, got %v", err)
		}
		if mfaCalls != 1 {
			t.Errorf("expected one mfa callback, got %d", mfaCalls)
		}
	})
}
