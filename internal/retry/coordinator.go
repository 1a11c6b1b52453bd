// Package retry runs profile requests to a terminal outcome, rotating
// sessions and backing off between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-extractor/internal/classifier"
	"github.com/JakeFAU/profile-extractor/internal/clock/system"
	"github.com/JakeFAU/profile-extractor/internal/extract"
	"github.com/JakeFAU/profile-extractor/internal/metrics"
	"github.com/JakeFAU/profile-extractor/internal/profile"
	"github.com/JakeFAU/profile-extractor/internal/stabilize"
)

// State is the per-request lifecycle state.
type State string

// Request states.
const (
	StatePending    State = "PENDING"
	StateAttempting State = "ATTEMPTING"
	StateRetrying   State = "RETRYING"
	StateSucceeded  State = "SUCCEEDED"
	StateFailed     State = "FAILED"
)

// Config controls the retry budget and pacing.
type Config struct {
	MaxRetries         int
	DegradedMaxRetries int
	BaseBackoff        time.Duration
	MaxBackoff         time.Duration
	HostQPS            float64
}

// DefaultConfig returns the production retry settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:         2,
		DegradedMaxRetries: 1,
		BaseBackoff:        time.Second,
		MaxBackoff:         15 * time.Second,
		HostQPS:            0.5,
	}
}

// SessionPool lends sessions for single attempts.
type SessionPool interface {
	Acquire(ctx context.Context) (*profile.Session, error)
	Release(session *profile.Session, health profile.Health) error
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// DOMFunc builds the DOM accessor used for a browser.
type DOMFunc func(b profile.Browser) extract.DOM

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithSleep replaces the back-off sleeper.
func WithSleep(fn SleepFunc) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// WithDOM replaces the DOM accessor factory.
func WithDOM(fn DOMFunc) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.dom = fn
		}
	}
}

// Coordinator drives requests through acquire, stabilize, classify, and
// extract, retrying with fresh sessions within the policy's budget.
type Coordinator struct {
	policy     *Policy
	pacer      *HostPacer
	pool       SessionPool
	browsers   profile.BrowserFactory
	stabilizer *stabilize.Controller
	classifier *classifier.Classifier
	engine     *extract.Engine
	clock      profile.Clock
	sleep      SleepFunc
	dom        DOMFunc
	logger     *zap.Logger
}

// New wires a coordinator.
func New(
	cfg Config,
	pool SessionPool,
	browsers profile.BrowserFactory,
	stabilizer *stabilize.Controller,
	cls *classifier.Classifier,
	engine *extract.Engine,
	clock profile.Clock,
	logger *zap.Logger,
	opts ...Option,
) (*Coordinator, error) {
	switch {
	case pool == nil:
		return nil, fmt.Errorf("session pool is required")
	case browsers == nil:
		return nil, fmt.Errorf("browser factory is required")
	case stabilizer == nil:
		return nil, fmt.Errorf("stabilization controller is required")
	case cls == nil:
		return nil, fmt.Errorf("block classifier is required")
	case engine == nil:
		return nil, fmt.Errorf("extraction engine is required")
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	delay := stabilizer.ContextLostDelay()
	c := &Coordinator{
		policy:     NewPolicy(cfg.MaxRetries, cfg.DegradedMaxRetries, cfg.BaseBackoff, cfg.MaxBackoff),
		pacer:      NewHostPacer(cfg.HostQPS),
		pool:       pool,
		browsers:   browsers,
		stabilizer: stabilizer,
		classifier: cls,
		engine:     engine,
		clock:      clock,
		sleep:      system.Clock{}.Sleep,
		dom: func(b profile.Browser) extract.DOM {
			return extract.BrowserDOM{Browser: b, ContextLostDelay: delay}
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type attemptOutcome struct {
	verdict  profile.Verdict
	result   profile.ExtractionResult
	degraded bool
	err      error
}

// Run executes req to exactly one terminal outcome. Per-attempt errors are
// absorbed; only the last one is reported.
func (c *Coordinator) Run(ctx context.Context, req profile.ProfileRequest) profile.Outcome {
	metrics.IncActiveRequests()
	defer metrics.DecActiveRequests()

	log := c.logger.With(zap.String("request_id", req.RequestID), zap.String("url", req.TargetURL))
	state := StatePending
	attempts, retries := 0, 0
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			lastErr = fmt.Errorf("before attempt %d: %w", attempts+1, err)
			break
		}
		if err := c.pacer.Wait(ctx, req.TargetURL); err != nil {
			lastErr = err
			break
		}

		state = StateAttempting
		attempts++
		start := time.Now()
		out := c.attempt(ctx, req, attempts, log)
		metrics.ObserveAttempt(attemptLabel(out), time.Since(start))

		if out.err == nil {
			state = StateSucceeded
			metrics.ObserveRequest(strings.ToLower(string(state)))
			log.Info("profile extracted",
				zap.Int("attempts", attempts),
				zap.Bool("degraded", out.degraded),
				zap.Bool("is_partial", out.result.IsPartial))
			return profile.Outcome{
				Record: profile.NewRecord(req, out.result, attempts, out.degraded, c.clock.Now()),
			}
		}

		lastErr = out.err
		if !c.policy.ShouldRetry(out.err, retries, out.degraded) {
			break
		}
		state = StateRetrying
		delay := c.policy.Backoff(retries)
		retries++
		log.Warn("attempt failed; retrying with a new session",
			zap.String("state", string(state)),
			zap.Int("attempt", attempts),
			zap.String("verdict", string(out.verdict)),
			zap.Duration("backoff", delay),
			zap.Int("budget", c.policy.Budget(out.degraded)),
			zap.Error(out.err))
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = fmt.Errorf("backoff after attempt %d: %w", attempts, err)
			break
		}
	}

	state = StateFailed
	metrics.ObserveRequest(strings.ToLower(string(state)))
	reason := profile.ReasonFor(lastErr)
	log.Warn("profile request failed",
		zap.String("reason", string(reason)),
		zap.Int("attempts", attempts),
		zap.Error(lastErr))
	return profile.Outcome{
		Failure: &profile.Failure{
			RequestID: req.RequestID,
			URL:       req.TargetURL,
			Reason:    reason,
			Attempts:  attempts,
			Error:     lastErr.Error(),
			FailedAt:  c.clock.Now(),
		},
	}
}

func (c *Coordinator) attempt(ctx context.Context, req profile.ProfileRequest, n int, log *zap.Logger) (out attemptOutcome) {
	sess, err := c.pool.Acquire(ctx)
	if err != nil {
		out.err = fmt.Errorf("acquire session: %w", err)
		return out
	}
	out.degraded = sess.Degraded
	log = log.With(zap.Int("attempt", n), zap.String("session_id", sess.ID), zap.String("tier", sess.Proxy.Tier))

	health := profile.HealthBurned
	defer func() {
		if health == profile.HealthBurned && ctx.Err() != nil {
			health = profile.HealthUsed
		}
		if err := c.pool.Release(sess, health); err != nil {
			log.Error("failed to release session", zap.Error(err))
		}
	}()

	browser, err := c.browsers.Open(ctx, sess)
	if err != nil {
		out.err = fmt.Errorf("open browser: %w", err)
		return out
	}
	defer func() {
		if err := browser.Close(); err != nil {
			log.Debug("browser close failed", zap.Error(err))
		}
	}()

	report, err := c.stabilizer.Stabilize(ctx, browser, req.TargetURL)
	if err != nil {
		out.err = fmt.Errorf("stabilize: %w", err)
		return out
	}

	var title string
	err = profile.RetryContextLost(ctx, c.stabilizer.ContextLostDelay(), func() error {
		var terr error
		title, terr = browser.Title(ctx)
		return terr
	})
	if err != nil {
		out.err = fmt.Errorf("read title: %w", err)
		return out
	}

	dom := c.dom(browser)
	signals := classifier.Signals{Title: title, AnchorPresent: report.AnchorPresent}
	if !signals.AnchorPresent {
		if signals.FallbackContent, err = c.engine.HasContent(ctx, dom); err != nil {
			out.err = fmt.Errorf("probe content: %w", err)
			return out
		}
		if !signals.FallbackContent && strings.TrimSpace(title) == "" {
			body, err := dom.Text(ctx, "body")
			if err != nil {
				out.err = fmt.Errorf("probe body: %w", err)
				return out
			}
			signals.EmptyPage = strings.TrimSpace(body) == ""
		}
	}

	out.verdict = c.classifier.Classify(signals)
	log = log.With(zap.String("verdict", string(out.verdict)), zap.String("state", string(report.State)))
	if out.verdict != profile.VerdictOK {
		log.Info("page blocked", zap.String("title", title), zap.String("marker", c.classifier.Marker(title)))
		out.err = fmt.Errorf("classify: %w", profile.VerdictError(out.verdict))
		return out
	}

	out.result, err = c.engine.Extract(ctx, req.TargetURL, dom, !report.AnchorPresent)
	if err != nil {
		out.err = fmt.Errorf("extract: %w", err)
		return out
	}
	health = profile.HealthUsed
	return out
}

func attemptLabel(out attemptOutcome) string {
	switch {
	case out.err == nil:
		return "ok"
	case out.verdict != "" && out.verdict != profile.VerdictOK:
		return strings.ToLower(string(out.verdict))
	case errors.Is(out.err, context.Canceled):
		return "canceled"
	default:
		return strings.ToLower(string(profile.ReasonFor(out.err)))
	}
}
