package testsupport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/campushq/coursetrack/browser"
)

// PageState is the content a FakePage serves at one URL.
type PageState struct {
	Text   string
	Source string
	Links  []browser.Link
}

// ScriptStub cans a RunScript result for scripts containing a marker.
type ScriptStub struct {
	Contains string
	Result   interface{}
	Err      error
	// Fn, when set, computes the result and may mutate the page to
	// simulate side effects like submitting a login form.
	Fn func(args []interface{}) (interface{}, error)
}

// FakePage is a scripted browser.Page for driving session and scrape
// logic without a real browser.
type FakePage struct {
	// Pages maps a landed-on URL to the state served there.
	Pages map[string]PageState
	// Redirects maps a navigated URL to where the browser lands.
	Redirects map[string]string
	// Scripts are matched in order by substring against RunScript input.
	Scripts []ScriptStub
	// NavigateErrs fails navigation to specific URLs.
	NavigateErrs map[string]error
	// FailAddCookie fails AddCookie for the named cookie this many times.
	FailAddCookie map[string]int

	URL        string
	CookieJar  []browser.Cookie
	Storage    map[string]map[string]string
	Closed     bool
	Navigated  []string
	ScriptsRun []string
}

var _ browser.Page = (*FakePage)(nil)

func (p *FakePage) Navigate(url string) error {
	p.Navigated = append(p.Navigated, url)
	if err := p.NavigateErrs[url]; err != nil {
		return err
	}
	landed := url
	for i := 0; i < 10; i++ {
		next, ok := p.Redirects[landed]
		if !ok {
			break
		}
		landed = next
	}
	p.URL = landed
	return nil
}

func (p *FakePage) CurrentURL() (string, error) {
	return p.URL, nil
}

func (p *FakePage) Source() (string, error) {
	return p.Pages[p.URL].Source, nil
}

func (p *FakePage) Text() (string, error) {
	return p.Pages[p.URL].Text, nil
}

func (p *FakePage) FindLinks(hrefSubstring string) ([]browser.Link, error) {
	var links []browser.Link
	for _, link := range p.Pages[p.URL].Links {
		if strings.Contains(link.Href, hrefSubstring) {
			links = append(links, link)
		}
	}
	return links, nil
}

func (p *FakePage) Cookies() ([]browser.Cookie, error) {
	return append([]browser.Cookie(nil), p.CookieJar...), nil
}

func (p *FakePage) AddCookie(cookie browser.Cookie) error {
	if p.FailAddCookie[cookie.Name] > 0 {
		p.FailAddCookie[cookie.Name]--
		return fmt.Errorf("cannot set cookie %s", cookie.Name)
	}
	p.CookieJar = append(p.CookieJar, cookie)
	return nil
}

func (p *FakePage) DeleteCookies() error {
	p.CookieJar = nil
	return nil
}

func (p *FakePage) RunScript(script string, args []interface{}) (interface{}, error) {
	p.ScriptsRun = append(p.ScriptsRun, script)
	for _, stub := range p.Scripts {
		if strings.Contains(script, stub.Contains) {
			if stub.Fn != nil {
				return stub.Fn(args)
			}
			return stub.Result, stub.Err
		}
	}

	// Default web-storage behavior so snapshot export/restore round-trips.
	if strings.Contains(script, "store.getItem(key)") {
		namespace, _ := args[0].(string)
		out := map[string]interface{}{}
		for key, value := range p.Storage[namespace] {
			out[key] = value
		}
		return out, nil
	}
	if strings.Contains(script, "JSON.parse(arguments[1])") {
		namespace, _ := args[0].(string)
		encoded, _ := args[1].(string)
		values := map[string]string{}
		if err := json.Unmarshal([]byte(encoded), &values); err != nil {
			return nil, err
		}
		if p.Storage == nil {
			p.Storage = map[string]map[string]string{}
		}
		if p.Storage[namespace] == nil {
			p.Storage[namespace] = map[string]string{}
		}
		for key, value := range values {
			p.Storage[namespace][key] = value
		}
		return nil, nil
	}
	return nil, nil
}

func (p *FakePage) Close() error {
	p.Closed = true
	return nil
}
