package browser

import (
	"fmt"
	"time"

	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
)

// Options configures a remote WebDriver page.
type Options struct {
	// DriverURL is the WebDriver remote endpoint.
	DriverURL string
	// Headless runs the browser without a window.
	Headless bool
	// PageTimeout bounds each page load. Zero means 30 seconds.
	PageTimeout time.Duration
}

// RemotePage drives a Chrome tab through a WebDriver remote.
type RemotePage struct {
	driver selenium.WebDriver
}

var _ Page = (*RemotePage)(nil)

// OpenRemote starts a Chrome session against opts.DriverURL.
func OpenRemote(opts Options) (*RemotePage, error) {
	caps := selenium.Capabilities{"browserName": "chrome"}
	args := []string{
		"--disable-gpu",
		"--no-sandbox",
		"--window-size=1400,1000",
	}
	if opts.Headless {
		args = append(args, "--headless=new")
	}
	caps.AddChrome(chrome.Capabilities{Args: args})

	driver, err := selenium.NewRemote(caps, opts.DriverURL)
	if err != nil {
		return nil, fmt.Errorf("connect to webdriver at %s: %w", opts.DriverURL, err)
	}

	timeout := opts.PageTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if err := driver.SetPageLoadTimeout(timeout); err != nil {
		driver.Quit()
		return nil, fmt.Errorf("set page load timeout: %w", err)
	}

	return &RemotePage{driver: driver}, nil
}

func (p *RemotePage) Navigate(url string) error {
	if err := p.driver.Get(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (p *RemotePage) CurrentURL() (string, error) {
	url, err := p.driver.CurrentURL()
	if err != nil {
		return "", fmt.Errorf("read current url: %w", err)
	}
	return url, nil
}

func (p *RemotePage) Source() (string, error) {
	source, err := p.driver.PageSource()
	if err != nil {
		return "", fmt.Errorf("read page source: %w", err)
	}
	return source, nil
}

func (p *RemotePage) Text() (string, error) {
	result, err := p.driver.ExecuteScript("return document.body ? document.body.innerText : '';", nil)
	if err != nil {
		return "", fmt.Errorf("read page text: %w", err)
	}
	text, _ := result.(string)
	return text, nil
}

const findLinksScript = `
var needle = arguments[0];
var out = [];
var anchors = document.querySelectorAll('a[href]');
for (var i = 0; i < anchors.length; i++) {
	var a = anchors[i];
	if (a.href.indexOf(needle) !== -1) {
		out.push({href: a.href, text: a.textContent});
	}
}
return out;
`

func (p *RemotePage) FindLinks(hrefSubstring string) ([]Link, error) {
	result, err := p.driver.ExecuteScript(findLinksScript, []interface{}{hrefSubstring})
	if err != nil {
		return nil, fmt.Errorf("find links: %w", err)
	}
	items, _ := result.([]interface{})
	links := make([]Link, 0, len(items))
	for _, item := range items {
		fields, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		href, _ := fields["href"].(string)
		text, _ := fields["text"].(string)
		links = append(links, Link{Href: href, Text: text})
	}
	return links, nil
}

func (p *RemotePage) Cookies() ([]Cookie, error) {
	raw, err := p.driver.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Path:   c.Path,
			Domain: c.Domain,
			Secure: c.Secure,
			Expiry: int64(c.Expiry),
		})
	}
	return cookies, nil
}

func (p *RemotePage) AddCookie(cookie Cookie) error {
	raw := &selenium.Cookie{
		Name:   cookie.Name,
		Value:  cookie.Value,
		Path:   cookie.Path,
		Domain: cookie.Domain,
		Secure: cookie.Secure,
	}
	if cookie.Expiry > 0 {
		raw.Expiry = uint(cookie.Expiry)
	}
	if err := p.driver.AddCookie(raw); err != nil {
		return fmt.Errorf("add cookie %s: %w", cookie.Name, err)
	}
	return nil
}

func (p *RemotePage) DeleteCookies() error {
	if err := p.driver.DeleteAllCookies(); err != nil {
		return fmt.Errorf("delete cookies: %w", err)
	}
	return nil
}

func (p *RemotePage) RunScript(script string, args []interface{}) (interface{}, error) {
	result, err := p.driver.ExecuteScript(script, args)
	if err != nil {
		return nil, fmt.Errorf("run script: %w", err)
	}
	return result, nil
}

func (p *RemotePage) Close() error {
	if err := p.driver.Quit(); err != nil {
		return fmt.Errorf("quit browser: %w", err)
	}
	return nil
}
