// Package rod adapts go-rod with stealth evasions to the profile.Browser
// abstraction.
package rod

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-extractor/internal/profile"
)

// Config controls how browsers are launched.
type Config struct {
	Headless bool
	// Bin is the Chrome binary; empty lets the launcher download one.
	Bin string
	// Stealth injects go-rod/stealth evasions before any navigation.
	Stealth      bool
	PollInterval time.Duration
}

// Factory launches one browser process per session.
type Factory struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a rod-backed browser factory.
func New(cfg Config, logger *zap.Logger) *Factory {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{cfg: cfg, logger: logger}
}

// Open launches Chrome for s and opens a blank tab.
func (f *Factory) Open(ctx context.Context, s *profile.Session) (profile.Browser, error) {
	if s == nil {
		return nil, fmt.Errorf("session is required")
	}
	l := f.launcher(s).Context(ctx)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	b := &Browser{
		cfg:      f.cfg,
		session:  s,
		launcher: l,
		browser:  browser,
		logger:   f.logger.With(zap.String("session_id", s.ID)),
	}
	if user, pass, ok := s.Proxy.Credentials(); ok {
		wait := browser.HandleAuth(user, pass)
		go func() {
			if err := wait(); err != nil {
				b.logger.Debug("proxy auth handler stopped", zap.Error(err))
			}
		}()
	}

	page, err := f.newPage(browser)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.page = page
	if err := applyFingerprint(page, s.Fingerprint); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func (f *Factory) launcher(s *profile.Session) *launcher.Launcher {
	l := launcher.New().
		Headless(f.cfg.Headless).
		Set("disable-blink-features", "AutomationControlled")
	if f.cfg.Bin != "" {
		l = l.Bin(f.cfg.Bin)
	}
	if server := s.Proxy.Server(); server != "" {
		l = l.Proxy(server)
	}
	if w, h := s.Fingerprint.ViewportWidth, s.Fingerprint.ViewportHeight; w > 0 && h > 0 {
		l = l.Set("window-size", fmt.Sprintf("%d,%d", w, h))
	}
	return l
}

func (f *Factory) newPage(browser *rod.Browser) (*rod.Page, error) {
	if f.cfg.Stealth {
		page, err := stealth.Page(browser)
		if err != nil {
			return nil, fmt.Errorf("open stealth page: %w", err)
		}
		return page, nil
	}
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	return page, nil
}

func applyFingerprint(page *rod.Page, fp profile.Fingerprint) error {
	if fp.UserAgent != "" {
		err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      fp.UserAgent,
			AcceptLanguage: fp.AcceptLanguage,
			Platform:       fp.Platform,
		})
		if err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
	}
	if fp.Timezone != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: fp.Timezone}).Call(page); err != nil {
			return fmt.Errorf("set timezone: %w", err)
		}
	}
	if fp.ViewportWidth > 0 && fp.ViewportHeight > 0 {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             fp.ViewportWidth,
			Height:            fp.ViewportHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
	}
	return nil
}

// Browser is one rod page bound to a session.
type Browser struct {
	cfg      Config
	session  *profile.Session
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	logger   *zap.Logger

	mu        sync.Mutex
	lastURL   string
	closeOnce sync.Once
}

// Navigate seeds jar cookies and loads rawURL.
func (b *Browser) Navigate(ctx context.Context, rawURL string) error {
	b.mu.Lock()
	b.lastURL = rawURL
	b.mu.Unlock()

	if cookies := jarCookies(b.session.Jar, rawURL); len(cookies) > 0 {
		if err := b.page.SetCookies(cookies); err != nil {
			b.logger.Debug("seeding cookies failed", zap.Error(err))
		}
	}
	if err := b.page.Context(ctx).Navigate(rawURL); err != nil {
		return fmt.Errorf("navigate: %w", mapErr(ctx, err))
	}
	return nil
}

// WaitFor blocks until cond holds or ctx ends.
func (b *Browser) WaitFor(ctx context.Context, cond profile.Condition) error {
	p := b.page.Context(ctx)
	switch cond.Kind {
	case profile.ConditionDOMContentLoaded:
		ticker := time.NewTicker(b.cfg.PollInterval)
		defer ticker.Stop()
		for {
			res, err := p.Eval(`() => document.readyState`)
			if err != nil {
				return fmt.Errorf("ready state: %w", mapErr(ctx, err))
			}
			if s := res.Value.Str(); s == "interactive" || s == "complete" {
				return nil
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("ready state: %w", ctx.Err())
			case <-ticker.C:
			}
		}
	case profile.ConditionNetworkIdle:
		p.WaitRequestIdle(cond.Quiet, nil, nil, nil)()
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("network idle: %w", err)
		}
		return nil
	case profile.ConditionSelector:
		if _, err := p.Element(cond.Selector); err != nil {
			return fmt.Errorf("wait for %q: %w", cond.Selector, mapErr(ctx, err))
		}
		return nil
	default:
		return fmt.Errorf("unsupported wait condition %d", cond.Kind)
	}
}

// Evaluate runs expression and unmarshals its value into out.
func (b *Browser) Evaluate(ctx context.Context, expression string, out any) error {
	res, err := b.page.Context(ctx).Eval(asFunction(expression))
	if err != nil {
		return fmt.Errorf("evaluate: %w", mapErr(ctx, err))
	}
	if out == nil {
		return nil
	}
	if err := res.Value.Unmarshal(out); err != nil {
		return fmt.Errorf("decode evaluation result: %w", err)
	}
	return nil
}

// asFunction turns a plain expression into the function source rod's Eval
// expects; Eval invokes what it is given with .apply.
func asFunction(expression string) string {
	expression = strings.Trim(expression, "\t\n\v\f\r ;")
	return "() => (" + expression + ")"
}

// Title returns document.title.
func (b *Browser) Title(ctx context.Context) (string, error) {
	res, err := b.page.Context(ctx).Eval(`() => document.title`)
	if err != nil {
		return "", fmt.Errorf("title: %w", mapErr(ctx, err))
	}
	return res.Value.Str(), nil
}

// Close syncs cookies back to the session jar and kills the browser.
func (b *Browser) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.syncCookies()
		if b.browser != nil {
			err = b.browser.Close()
		}
		b.launcher.Kill()
	})
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

func (b *Browser) syncCookies() {
	b.mu.Lock()
	rawURL := b.lastURL
	b.mu.Unlock()
	if b.page == nil || rawURL == "" || b.session.Jar == nil {
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cookies, err := b.page.Context(ctx).Cookies([]string{rawURL})
	if err != nil {
		b.logger.Debug("cookie sync skipped", zap.Error(err))
		return
	}
	b.session.Jar.SetCookies(u, toHTTPCookies(cookies))
}

func mapErr(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return profile.MarkContextLost(err)
}

func jarCookies(jar http.CookieJar, rawURL string) []*proto.NetworkCookieParam {
	if jar == nil {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	cookies := jar.Cookies(u)
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:  c.Name,
			Value: c.Value,
			URL:   rawURL,
		})
	}
	return params
}

func toHTTPCookies(cookies []*proto.NetworkCookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			hc.Expires = c.Expires.Time().UTC()
		}
		out = append(out, hc)
	}
	return out
}
