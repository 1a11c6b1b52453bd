// Package chromedp adapts headless Chrome driven by chromedp to the
// profile.Browser abstraction.
package chromedp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-extractor/internal/profile"
)

// Config controls how browsers are launched.
type Config struct {
	Headless    bool
	ExecPath    string
	MaxParallel int
	// PollInterval paces readyState and network-idle polling.
	PollInterval time.Duration
}

// Factory launches one Chrome instance per session so each gets its own
// proxy, cookies, and fingerprint.
type Factory struct {
	cfg     Config
	limiter chan struct{}
	logger  *zap.Logger
}

// New creates a chromedp-backed browser factory.
func New(cfg Config, logger *zap.Logger) (*Factory, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Factory{cfg: cfg, limiter: limiter, logger: logger}, nil
}

// Open launches a browser bound to s.
func (f *Factory) Open(ctx context.Context, s *profile.Session) (profile.Browser, error) {
	if s == nil {
		return nil, fmt.Errorf("session is required")
	}
	if err := f.acquire(ctx); err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), f.allocatorOptions(s)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	b := &Browser{
		factory:     f,
		session:     s,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		tracker:     newNetworkTracker(time.Now),
		logger:      f.logger.With(zap.String("session_id", s.ID)),
	}
	chromedp.ListenTarget(tabCtx, b.tracker.capture)
	if user, pass, ok := s.Proxy.Credentials(); ok {
		chromedp.ListenTarget(tabCtx, b.authHandler(user, pass))
	}

	if err := startTab(ctx, tabCtx, func() { tabCancel(); allocCancel() }, func(c context.Context) error {
		return chromedp.Run(c)
	}); err != nil {
		_ = b.Close()
		return nil, err
	}
	if err := b.run(ctx, b.setupAction()); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("set up tab: %w", err)
	}
	return b, nil
}

// startTab allocates Chrome and its first tab. The first Run on a chromedp
// context owns the browser process and must use the long-lived tabCtx; ctx
// only bounds the startup wait, through abort.
func startTab(ctx, tabCtx context.Context, abort func(), run func(context.Context) error) error {
	stop := forwardCancel(ctx, abort)
	defer stop()
	if err := run(tabCtx); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("start chrome: %w", ctx.Err())
		}
		return fmt.Errorf("start chrome: %w", profile.MarkContextLost(err))
	}
	return nil
}

func (f *Factory) allocatorOptions(s *profile.Session) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range launchFlags(f.cfg, s) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if s.Fingerprint.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(s.Fingerprint.UserAgent))
	}
	if s.Fingerprint.ViewportWidth > 0 && s.Fingerprint.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(s.Fingerprint.ViewportWidth, s.Fingerprint.ViewportHeight))
	}
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}
	return opts
}

// launchFlags returns the Chrome command-line switches for a session.
func launchFlags(cfg Config, s *profile.Session) map[string]any {
	flags := map[string]any{
		"headless":               cfg.Headless,
		"disable-gpu":            true,
		"hide-scrollbars":        true,
		"enable-automation":      false,
		"disable-blink-features": "AutomationControlled",
	}
	if cfg.Headless {
		flags["headless"] = "new"
	}
	if server := s.Proxy.Server(); server != "" {
		flags["proxy-server"] = server
	}
	if lang := primaryLanguage(s.Fingerprint.AcceptLanguage); lang != "" {
		flags["lang"] = lang
	}
	return flags
}

func primaryLanguage(acceptLanguage string) string {
	first, _, _ := strings.Cut(acceptLanguage, ",")
	first, _, _ = strings.Cut(first, ";")
	return strings.TrimSpace(first)
}

func (b *Browser) setupAction() chromedp.Action {
	fp := b.session.Fingerprint
	_, _, needsAuth := b.session.Proxy.Credentials()
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if needsAuth {
			if err := fetch.Enable().WithHandleAuthRequests(true).Do(ctx); err != nil {
				return fmt.Errorf("enable fetch domain: %w", err)
			}
		}
		if fp.UserAgent != "" {
			override := emulation.SetUserAgentOverride(fp.UserAgent)
			if fp.AcceptLanguage != "" {
				override = override.WithAcceptLanguage(fp.AcceptLanguage)
			}
			if fp.Platform != "" {
				override = override.WithPlatform(fp.Platform)
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if fp.Timezone != "" {
			if err := emulation.SetTimezoneOverride(fp.Timezone).Do(ctx); err != nil {
				return fmt.Errorf("set timezone: %w", err)
			}
		}
		if fp.ViewportWidth > 0 && fp.ViewportHeight > 0 {
			err := emulation.SetDeviceMetricsOverride(int64(fp.ViewportWidth), int64(fp.ViewportHeight), 1, false).Do(ctx)
			if err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
		}
		return nil
	})
}

// authHandler answers proxy authentication challenges while the Fetch domain
// is intercepting requests.
func (b *Browser) authHandler(user, pass string) func(ev any) {
	return func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go b.exec(func(ctx context.Context) error {
				return fetch.ContinueRequest(e.RequestID).Do(ctx)
			})
		case *fetch.EventAuthRequired:
			resp := authResponse(e.AuthChallenge, user, pass)
			go b.exec(func(ctx context.Context) error {
				return fetch.ContinueWithAuth(e.RequestID, resp).Do(ctx)
			})
		}
	}
}

func authResponse(challenge *fetch.AuthChallenge, user, pass string) *fetch.AuthChallengeResponse {
	if challenge == nil || challenge.Source != fetch.AuthChallengeSourceProxy {
		return &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseCancelAuth}
	}
	return &fetch.AuthChallengeResponse{
		Response: fetch.AuthChallengeResponseResponseProvideCredentials,
		Username: user,
		Password: pass,
	}
}

// exec runs a CDP command from an event listener, which must not block.
func (b *Browser) exec(fn func(ctx context.Context) error) {
	c := chromedp.FromContext(b.tabCtx)
	if c == nil || c.Target == nil {
		return
	}
	if err := fn(cdp.WithExecutor(b.tabCtx, c.Target)); err != nil {
		b.logger.Debug("cdp listener command failed", zap.Error(err))
	}
}

func (f *Factory) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (f *Factory) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}
