package stabilize

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-extractor/internal/profile"
)

type waitFunc func(ctx context.Context, cond profile.Condition) error

type fakeBrowser struct {
	mu        sync.Mutex
	navigate  func(ctx context.Context) error
	waits     map[profile.ConditionKind]waitFunc
	navCalls  int
	waitCalls map[profile.ConditionKind]int
	lastConds []profile.Condition
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		waits:     map[profile.ConditionKind]waitFunc{},
		waitCalls: map[profile.ConditionKind]int{},
	}
}

func (f *fakeBrowser) Navigate(ctx context.Context, _ string) error {
	f.mu.Lock()
	f.navCalls++
	fn := f.navigate
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (f *fakeBrowser) WaitFor(ctx context.Context, cond profile.Condition) error {
	f.mu.Lock()
	f.waitCalls[cond.Kind]++
	f.lastConds = append(f.lastConds, cond)
	fn := f.waits[cond.Kind]
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, cond)
}

func (f *fakeBrowser) Evaluate(context.Context, string, any) error { return nil }
func (f *fakeBrowser) Title(context.Context) (string, error)       { return "", nil }
func (f *fakeBrowser) Close() error                                { return nil }

func blockUntilDone(ctx context.Context, _ profile.Condition) error {
	<-ctx.Done()
	return ctx.Err()
}

func fastConfig() Config {
	return Config{
		NavigationTimeout: 50 * time.Millisecond,
		SettleTimeout:     30 * time.Millisecond,
		QuietWindow:       5 * time.Millisecond,
		AnchorTimeout:     30 * time.Millisecond,
		ContextLostDelay:  time.Millisecond,
		Anchors:           []string{".top-card-layout", "main h1"},
	}
}

func TestStabilize_HappyPath(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser()
	c := New(fastConfig(), zap.NewNop())

	report, err := c.Stabilize(context.Background(), b, "https://example.com/in/jane")
	require.NoError(t, err)
	require.Equal(t, StateContentReady, report.State)
	require.Equal(t, []State{StateRequested, StateDOMLoaded, StateNetworkSettled, StateContentReady}, report.Transitions)
	require.True(t, report.NetworkSettled)
	require.True(t, report.AnchorPresent)
	require.Empty(t, report.Warnings)

	require.Len(t, b.lastConds, 3)
	require.Equal(t, profile.ConditionNetworkIdle, b.lastConds[1].Kind)
	require.Equal(t, 5*time.Millisecond, b.lastConds[1].Quiet)
	require.Equal(t, ".top-card-layout, main h1", b.lastConds[2].Selector)
}

func TestStabilize_NavigationTimeoutIsFatal(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser()
	b.navigate = func(ctx context.Context) error {
		<-ctx.Done()
		return errors.New("page load aborted")
	}
	c := New(fastConfig(), zap.NewNop())

	report, err := c.Stabilize(context.Background(), b, "https://example.com/in/jane")
	require.ErrorIs(t, err, profile.ErrNavigationTimeout)
	require.Equal(t, StateTimedOut, report.State)
	require.Equal(t, profile.ReasonTimeout, profile.ReasonFor(err))
}

func TestStabilize_DOMLoadTimeoutIsFatal(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser()
	b.waits[profile.ConditionDOMContentLoaded] = blockUntilDone
	c := New(fastConfig(), zap.NewNop())

	report, err := c.Stabilize(context.Background(), b, "https://example.com/in/jane")
	require.ErrorIs(t, err, profile.ErrNavigationTimeout)
	require.Equal(t, StateTimedOut, report.State)
}

func TestStabilize_SettleFailureIsWarning(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser()
	b.waits[profile.ConditionNetworkIdle] = blockUntilDone
	c := New(fastConfig(), zap.NewNop())

	report, err := c.Stabilize(context.Background(), b, "https://example.com/in/jane")
	require.NoError(t, err)
	require.Equal(t, StateContentReady, report.State)
	require.False(t, report.NetworkSettled)
	require.True(t, report.AnchorPresent)
	require.Len(t, report.Warnings, 1)
	require.Contains(t, report.Warnings[0], "network")
}

func TestStabilize_AnchorMissingIsDegraded(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser()
	b.waits[profile.ConditionSelector] = blockUntilDone
	c := New(fastConfig(), zap.NewNop())

	report, err := c.Stabilize(context.Background(), b, "https://example.com/in/jane")
	require.NoError(t, err)
	require.Equal(t, StateContentReady, report.State)
	require.True(t, report.NetworkSettled)
	require.False(t, report.AnchorPresent)
	require.Len(t, report.Warnings, 1)
	require.Contains(t, report.Warnings[0], "anchor")
}

func TestStabilize_ContextLostRetriedOnce(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser()
	b.navigate = func(context.Context) error {
		if b.navCalls == 1 {
			return profile.MarkContextLost(errors.New("Execution context was destroyed"))
		}
		return nil
	}
	c := New(fastConfig(), zap.NewNop())

	report, err := c.Stabilize(context.Background(), b, "https://example.com/in/jane")
	require.NoError(t, err)
	require.Equal(t, StateContentReady, report.State)
	require.Equal(t, 2, b.navCalls)
}

func TestStabilize_RepeatedContextLossEscalates(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser()
	b.waits[profile.ConditionSelector] = func(context.Context, profile.Condition) error {
		return profile.MarkContextLost(errors.New("Cannot find context with specified id"))
	}
	c := New(fastConfig(), zap.NewNop())

	report, err := c.Stabilize(context.Background(), b, "https://example.com/in/jane")
	require.ErrorIs(t, err, profile.ErrContextLost)
	require.Equal(t, StateNetworkSettled, report.State)
	require.Equal(t, 2, b.waitCalls[profile.ConditionSelector])
}

func TestStabilize_ParentCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := newFakeBrowser()
	b.navigate = func(ctx context.Context) error { return ctx.Err() }
	c := New(fastConfig(), zap.NewNop())

	_, err := c.Stabilize(ctx, b, "https://example.com/in/jane")
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, profile.ErrNavigationTimeout)
}

func TestNew_AppliesDefaults(t *testing.T) {
	t.Parallel()

	c := New(Config{}, nil)
	require.Equal(t, DefaultConfig().NavigationTimeout, c.cfg.NavigationTimeout)
	require.Equal(t, 250*time.Millisecond, c.cfg.ContextLostDelay)
	require.Equal(t, DefaultAnchors, c.Anchors())
}
