package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/woolpilot/wool-pilot/internal/scrape"
)

// Browser owns one Playwright process and Chromium instance and hands
// out isolated sessions. Each session is its own browser context, so
// cookies and challenge state from one attempt never reach the next.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    *Options
	logger  *slog.Logger
	uaIndex atomic.Uint32
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgents     []string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless: true,
		Timeout:  30 * time.Second,
		UserAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "de-DE,de;q=0.9,en;q=0.8",
		TimezoneID:     "Europe/Berlin",
		Locale:         "de-DE",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Encoding": "gzip, deflate, br",
			"DNT":             "1",
		},
	}
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = DefaultOptions().UserAgents
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--window-size=1920,1080",
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		opts:    opts,
		logger:  slog.Default().With("component", "browser"),
	}, nil
}

// NewSession opens a fresh isolated browser context. Sessions rotate
// through the configured user agents.
func (b *Browser) NewSession(ctx context.Context) (scrape.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ua := b.opts.UserAgents[int(b.uaIndex.Add(1)-1)%len(b.opts.UserAgents)]

	headers := make(map[string]string, len(b.opts.ExtraHeaders)+1)
	for k, v := range b.opts.ExtraHeaders {
		headers[k] = v
	}
	if b.opts.AcceptLanguage != "" {
		headers["Accept-Language"] = b.opts.AcceptLanguage
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &ua,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &b.opts.Locale,
		TimezoneId:        &b.opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  b.opts.ViewportWidth,
			Height: b.opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	}

	bctx, err := b.browser.NewContext(contextOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	b.logger.Debug("session opened", "user_agent", ua)

	return &Session{
		context: bctx,
		timeout: b.opts.Timeout,
		logger:  b.logger,
	}, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

// Session wraps one playwright browser context.
type Session struct {
	context playwright.BrowserContext
	timeout time.Duration
	logger  *slog.Logger
}

// Load opens a new page in this session and navigates it. The effective
// timeout is the session default, tightened to the context deadline when
// one is set; playwright itself has no context support.
func (s *Session) Load(ctx context.Context, url string) (scrape.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, context.DeadlineExceeded
		}
		if remaining < timeout {
			timeout = remaining
		}
	}

	page, err := s.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(timeout.Milliseconds()))

	_, err = page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	return &Page{page: page}, nil
}

func (s *Session) Close() error {
	if err := s.context.Close(); err != nil {
		return fmt.Errorf("failed to close session context: %w", err)
	}
	return nil
}

// Page wraps a playwright page behind the engine's read-only view.
type Page struct {
	page playwright.Page
}

func (p *Page) URL() string {
	return p.page.URL()
}

func (p *Page) Title() (string, error) {
	title, err := p.page.Title()
	if err != nil {
		return "", fmt.Errorf("failed to get page title: %w", err)
	}
	return title, nil
}

func (p *Page) Content() (string, error) {
	content, err := p.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	return content, nil
}
