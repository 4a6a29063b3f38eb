// Package browser abstracts the automated browser behind a small page
// interface so session and scrape logic never touch WebDriver directly.
package browser

// Cookie is a browser cookie in the shape the automation layer can set.
// Expiry is a unix timestamp; zero means a session cookie.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Path   string `json:"path,omitempty"`
	Domain string `json:"domain,omitempty"`
	Secure bool   `json:"secure,omitempty"`
	Expiry int64  `json:"expiry,omitempty"`
}

// Link is an anchor found on a page.
type Link struct {
	Href string
	Text string
}

// Page is a live browser tab. Implementations must be safe to use from a
// single goroutine at a time.
type Page interface {
	// Navigate loads the given URL and blocks until the page settles
	// or the page-load timeout elapses.
	Navigate(url string) error

	// CurrentURL reports the URL the tab is on, after any redirects.
	CurrentURL() (string, error)

	// Source returns the rendered page HTML.
	Source() (string, error)

	// Text returns the visible text of the page body.
	Text() (string, error)

	// FindLinks returns anchors whose href contains the given substring.
	FindLinks(hrefSubstring string) ([]Link, error)

	// Cookies returns all cookies visible to the current page.
	Cookies() ([]Cookie, error)

	// AddCookie sets a cookie for the current page's domain.
	AddCookie(cookie Cookie) error

	// DeleteCookies removes every cookie visible to the current page.
	DeleteCookies() error

	// RunScript executes JavaScript in the page and returns its result.
	RunScript(script string, args []interface{}) (interface{}, error)

	// Close ends the browser session.
	Close() error
}
