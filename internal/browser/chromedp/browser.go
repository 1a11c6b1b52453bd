package chromedp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-extractor/internal/profile"
)

// Browser is one Chrome tab bound to a session.
type Browser struct {
	factory     *Factory
	session     *profile.Session
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	tracker     *networkTracker
	logger      *zap.Logger

	mu        sync.Mutex
	lastURL   string
	closeOnce sync.Once
}

// bind derives a command context from the tab that also honours ctx's
// deadline and cancellation. Cancelling it does not close the tab.
func (b *Browser) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(b.tabCtx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(b.tabCtx)
	}
	stop := forwardCancel(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := b.bind(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("chromedp run: %w", ctx.Err())
		}
		return profile.MarkContextLost(err)
	}
	return nil
}

// Navigate loads rawURL, seeding cookies from the session jar first.
func (b *Browser) Navigate(ctx context.Context, rawURL string) error {
	b.mu.Lock()
	b.lastURL = rawURL
	b.mu.Unlock()

	actions := []chromedp.Action{}
	if params := jarCookies(b.session.Jar, rawURL); len(params) > 0 {
		actions = append(actions, network.SetCookies(params))
	}
	actions = append(actions, navigateAction(rawURL))
	if err := b.run(ctx, actions...); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

// navigateAction issues Page.navigate and returns once the document is
// committed. Readiness is left to WaitFor so a page whose load event never
// fires does not stall the attempt.
func navigateAction(rawURL string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errorText, _, err := page.Navigate(rawURL).Do(ctx)
		if err != nil {
			return err
		}
		return navigationError(errorText)
	})
}

func navigationError(errorText string) error {
	if errorText == "" {
		return nil
	}
	return fmt.Errorf("page load error %s", errorText)
}

// WaitFor blocks until cond holds or ctx ends.
func (b *Browser) WaitFor(ctx context.Context, cond profile.Condition) error {
	switch cond.Kind {
	case profile.ConditionDOMContentLoaded:
		return b.poll(ctx, func() (bool, error) {
			var state string
			if err := b.run(ctx, chromedp.Evaluate(`document.readyState`, &state)); err != nil {
				// The document is still being swapped in; keep polling.
				if errors.Is(err, profile.ErrContextLost) && ctx.Err() == nil {
					return false, nil
				}
				return false, err
			}
			return state == "interactive" || state == "complete", nil
		})
	case profile.ConditionNetworkIdle:
		return b.poll(ctx, func() (bool, error) {
			return b.tracker.idleFor(cond.Quiet), nil
		})
	case profile.ConditionSelector:
		if err := b.run(ctx, chromedp.WaitReady(cond.Selector, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("wait for %q: %w", cond.Selector, err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported wait condition %d", cond.Kind)
	}
}

func (b *Browser) poll(ctx context.Context, check func() (bool, error)) error {
	ticker := time.NewTicker(b.factory.cfg.PollInterval)
	defer ticker.Stop()
	for {
		ok, err := check()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Evaluate runs expression in the page and decodes its result into out.
func (b *Browser) Evaluate(ctx context.Context, expression string, out any) error {
	if err := b.run(ctx, chromedp.Evaluate(expression, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// Title returns document.title.
func (b *Browser) Title(ctx context.Context) (string, error) {
	var title string
	if err := b.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("title: %w", err)
	}
	return title, nil
}

// Close copies page cookies back into the session jar and shuts Chrome down.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		b.syncCookies()
		b.tabCancel()
		b.allocCancel()
		b.factory.release()
	})
	return nil
}

func (b *Browser) syncCookies() {
	b.mu.Lock()
	rawURL := b.lastURL
	b.mu.Unlock()
	if rawURL == "" || b.session.Jar == nil {
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var cookies []*network.Cookie
	err = b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs([]string{rawURL}).Do(ctx)
		return err
	}))
	if err != nil {
		b.logger.Debug("cookie sync skipped", zap.Error(err))
		return
	}
	b.session.Jar.SetCookies(u, toHTTPCookies(cookies))
}

func jarCookies(jar http.CookieJar, rawURL string) []*network.CookieParam {
	if jar == nil {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	cookies := jar.Cookies(u)
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &network.CookieParam{
			Name:  c.Name,
			Value: c.Value,
			URL:   rawURL,
		})
	}
	return params
}

func toHTTPCookies(cookies []*network.Cookie) []*http.Cookie {
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
			hc.Expires = time.Unix(int64(c.Expires), 0).UTC()
		}
		out = append(out, hc)
	}
	return out
}
