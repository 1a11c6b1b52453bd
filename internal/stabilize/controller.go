// Package stabilize drives a navigated page until it is ready for extraction.
package stabilize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-extractor/internal/metrics"
	"github.com/JakeFAU/profile-extractor/internal/profile"
)

// State is a step of the stabilization state machine.
type State string

// Stabilization states, in the order they are normally reached.
const (
	StateRequested      State = "REQUESTED"
	StateDOMLoaded      State = "DOM_LOADED"
	StateNetworkSettled State = "NETWORK_SETTLED"
	StateContentReady   State = "CONTENT_READY"
	StateTimedOut       State = "TIMED_OUT"
)

// DefaultAnchors is the selector family that marks a rendered profile card.
var DefaultAnchors = []string{
	".top-card-layout",
	".pv-top-card",
	"main h1",
}

// Config controls the stabilization timeouts.
type Config struct {
	NavigationTimeout time.Duration
	SettleTimeout     time.Duration
	QuietWindow       time.Duration
	AnchorTimeout     time.Duration
	ContextLostDelay  time.Duration
	Anchors           []string
}

// DefaultConfig returns the production timeouts.
func DefaultConfig() Config {
	return Config{
		NavigationTimeout: 60 * time.Second,
		SettleTimeout:     10 * time.Second,
		QuietWindow:       500 * time.Millisecond,
		AnchorTimeout:     15 * time.Second,
		ContextLostDelay:  250 * time.Millisecond,
		Anchors:           DefaultAnchors,
	}
}

// Report describes how far a page got.
type Report struct {
	State          State
	Transitions    []State
	NetworkSettled bool
	AnchorPresent  bool
	Warnings       []string
}

func (r *Report) enter(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

func (r *Report) warn(stage, msg string) {
	r.Warnings = append(r.Warnings, stage+": "+msg)
	metrics.ObserveStabilizeWarning(stage)
}

// Controller runs the stabilization state machine. It holds no per-page state
// and is safe for concurrent use.
type Controller struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a controller. Zero durations fall back to DefaultConfig.
func New(cfg Config, logger *zap.Logger) *Controller {
	def := DefaultConfig()
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = def.NavigationTimeout
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = def.SettleTimeout
	}
	if cfg.QuietWindow <= 0 {
		cfg.QuietWindow = def.QuietWindow
	}
	if cfg.AnchorTimeout <= 0 {
		cfg.AnchorTimeout = def.AnchorTimeout
	}
	if cfg.ContextLostDelay <= 0 {
		cfg.ContextLostDelay = def.ContextLostDelay
	}
	if len(cfg.Anchors) == 0 {
		cfg.Anchors = def.Anchors
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{cfg: cfg, logger: logger}
}

// AnchorSelector returns the anchor family as a single "any of" selector.
func (c *Controller) AnchorSelector() string {
	return strings.Join(c.cfg.Anchors, ", ")
}

// Anchors returns the configured anchor selectors.
func (c *Controller) Anchors() []string {
	return append([]string(nil), c.cfg.Anchors...)
}

// Stabilize navigates b to url and waits for it to become extractable. A
// failure to reach DOM_LOADED is fatal and wraps ErrNavigationTimeout when the
// navigation timeout elapsed. Network-settle and anchor timeouts are recorded
// as warnings. A context loss that repeats after one in-place retry is fatal.
func (c *Controller) Stabilize(ctx context.Context, b profile.Browser, url string) (Report, error) {
	var report Report
	report.enter(StateRequested)
	log := c.logger.With(zap.String("url", url))

	if err := c.load(ctx, b, url); err != nil {
		if ctx.Err() != nil {
			return report, fmt.Errorf("navigate %s: %w", url, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			report.enter(StateTimedOut)
			log.Warn("navigation timed out", zap.Duration("timeout", c.cfg.NavigationTimeout))
			return report, fmt.Errorf("%w after %s: %w", profile.ErrNavigationTimeout, c.cfg.NavigationTimeout, err)
		}
		return report, fmt.Errorf("navigate %s: %w", url, err)
	}
	report.enter(StateDOMLoaded)

	err := c.wait(ctx, b, c.cfg.SettleTimeout, profile.NetworkIdle(c.cfg.QuietWindow))
	switch {
	case ctx.Err() != nil:
		return report, fmt.Errorf("network settle: %w", ctx.Err())
	case errors.Is(err, profile.ErrContextLost):
		return report, fmt.Errorf("network settle: %w", err)
	case err != nil:
		report.warn("network", err.Error())
		log.Warn("network did not settle; continuing", zap.Error(err))
	default:
		report.NetworkSettled = true
	}
	report.enter(StateNetworkSettled)

	err = c.wait(ctx, b, c.cfg.AnchorTimeout, profile.Selector(c.AnchorSelector()))
	switch {
	case ctx.Err() != nil:
		return report, fmt.Errorf("anchor wait: %w", ctx.Err())
	case errors.Is(err, profile.ErrContextLost):
		return report, fmt.Errorf("anchor wait: %w", err)
	case err != nil:
		report.warn("anchor", err.Error())
		log.Warn("anchor not found; extracting in degraded mode",
			zap.String("anchor", c.AnchorSelector()), zap.Error(err))
	default:
		report.AnchorPresent = true
	}
	report.enter(StateContentReady)

	log.Debug("page stabilized",
		zap.Bool("network_settled", report.NetworkSettled),
		zap.Bool("anchor_present", report.AnchorPresent))
	return report, nil
}

func (c *Controller) load(ctx context.Context, b profile.Browser, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, c.cfg.NavigationTimeout)
	defer cancel()

	err := profile.RetryContextLost(navCtx, c.cfg.ContextLostDelay, func() error {
		return b.Navigate(navCtx, url)
	})
	if err != nil {
		return c.deadline(navCtx, err)
	}
	err = profile.RetryContextLost(navCtx, c.cfg.ContextLostDelay, func() error {
		return b.WaitFor(navCtx, profile.DOMContentLoaded())
	})
	return c.deadline(navCtx, err)
}

func (c *Controller) wait(ctx context.Context, b profile.Browser, timeout time.Duration, cond profile.Condition) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := profile.RetryContextLost(waitCtx, c.cfg.ContextLostDelay, func() error {
		return b.WaitFor(waitCtx, cond)
	})
	return c.deadline(waitCtx, err)
}

// deadline attaches context.DeadlineExceeded to adapter errors that surfaced
// only because the stage context expired.
func (c *Controller) deadline(stageCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(stageCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}

// ContextLostDelay returns the pause before an in-place context-loss retry.
func (c *Controller) ContextLostDelay() time.Duration {
	return c.cfg.ContextLostDelay
}
