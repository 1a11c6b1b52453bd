package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-extractor/internal/classifier"
	"github.com/JakeFAU/profile-extractor/internal/extract"
	"github.com/JakeFAU/profile-extractor/internal/id/uuid"
	"github.com/JakeFAU/profile-extractor/internal/profile"
	"github.com/JakeFAU/profile-extractor/internal/session"
	"github.com/JakeFAU/profile-extractor/internal/stabilize"
)

type page struct {
	title string
	html  string
}

type fakeBrowser struct {
	page page
	doc  *goquery.Document
}

func (b *fakeBrowser) Navigate(context.Context, string) error { return nil }

func (b *fakeBrowser) WaitFor(ctx context.Context, cond profile.Condition) error {
	if cond.Kind != profile.ConditionSelector {
		return nil
	}
	if b.doc.Find(cond.Selector).Length() > 0 {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

// Evaluate answers the querySelector text expressions the extractor issues
// against the page's HTML.
func (b *fakeBrowser) Evaluate(_ context.Context, expression string, out any) error {
	m := querySelectorArg.FindStringSubmatch(expression)
	if m == nil {
		return fmt.Errorf("unexpected expression %q", expression)
	}
	var selector string
	if err := json.Unmarshal([]byte(m[1]), &selector); err != nil {
		return err
	}
	text := ""
	if sel := b.doc.Find(selector).First(); sel.Length() > 0 {
		text = sel.Text()
	}
	raw, err := json.Marshal(text)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (b *fakeBrowser) Title(context.Context) (string, error) { return b.page.title, nil }
func (b *fakeBrowser) Close() error                          { return nil }

var querySelectorArg = regexp.MustCompile(`document\.querySelector\(("(?:[^"\\]|\\.)*")\)`)

type fakeFactory struct {
	mu       sync.Mutex
	pages    []page
	opened   []string
	openHook func(ctx context.Context) error
}

func (f *fakeFactory) Open(ctx context.Context, s *profile.Session) (profile.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openHook != nil {
		if err := f.openHook(ctx); err != nil {
			return nil, err
		}
	}
	idx := len(f.opened)
	if idx >= len(f.pages) {
		idx = len(f.pages) - 1
	}
	f.opened = append(f.opened, s.ID)
	p := f.pages[idx]
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.html))
	if err != nil {
		return nil, err
	}
	return &fakeBrowser{page: p, doc: doc}, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	hook   func(ctx context.Context) error
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		return hook(ctx)
	}
	return nil
}

var (
	janePage     = page{title: "Jane Doe | LinkedIn", html: `<html><body><h1>Jane Doe</h1></body></html>`}
	authwallPage = page{title: "Sign In | LinkedIn", html: `<html><body><main><h1>Welcome back</h1></main></body></html>`}
	softPage     = page{title: "LinkedIn", html: `<html><body><p>Something went wrong</p></body></html>`}
	emptyPage    = page{title: "", html: `<html><head></head><body></body></html>`}
)

type harness struct {
	coord   *Coordinator
	pool    *session.Pool
	factory *fakeFactory
	sleeper *sleepRecorder
}

func newHarness(t *testing.T, tiers map[string][]string, order []string, pages ...page) *harness {
	t.Helper()
	snapshot := WithDOM(func(b profile.Browser) extract.DOM {
		dom, err := extract.NewHTMLDOMString(b.(*fakeBrowser).page.html)
		if err != nil {
			panic(err)
		}
		return dom
	})
	return newHarnessWith(t, tiers, order, []Option{snapshot}, pages...)
}

func newHarnessWith(t *testing.T, tiers map[string][]string, order []string, opts []Option, pages ...page) *harness {
	t.Helper()

	pool, err := session.NewPool(
		session.Config{Tiers: order},
		session.NewStaticProvisioner(tiers),
		uuid.NewWithPrefix("sess-"),
		fixedClock{now: time.Unix(1700000000, 0).UTC()},
		zap.NewNop(),
	)
	require.NoError(t, err)

	engine, err := extract.New(nil, zap.NewNop())
	require.NoError(t, err)

	stab := stabilize.New(stabilize.Config{
		NavigationTimeout: time.Second,
		SettleTimeout:     50 * time.Millisecond,
		QuietWindow:       time.Millisecond,
		AnchorTimeout:     20 * time.Millisecond,
		ContextLostDelay:  time.Millisecond,
	}, zap.NewNop())

	factory := &fakeFactory{pages: pages}
	sleeper := &sleepRecorder{}
	coord, err := New(
		Config{MaxRetries: 2, DegradedMaxRetries: 1, BaseBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond},
		pool,
		factory,
		stab,
		classifier.New(nil),
		engine,
		fixedClock{now: time.Unix(1700000000, 0).UTC()},
		zap.NewNop(),
		append([]Option{WithSleep(sleeper.Sleep)}, opts...)...,
	)
	require.NoError(t, err)
	return &harness{coord: coord, pool: pool, factory: factory, sleeper: sleeper}
}

func residential() (map[string][]string, []string) {
	return map[string][]string{"residential": {session.DirectEndpoint}}, []string{"residential"}
}

func request() profile.ProfileRequest {
	return profile.ProfileRequest{TargetURL: "https://www.linkedin.com/in/jane-doe/", RequestID: "req-1"}
}

func TestRun_SingleAttemptSuccess(t *testing.T) {
	t.Parallel()

	tiers, order := residential()
	h := newHarness(t, tiers, order, janePage)

	out := h.coord.Run(context.Background(), request())
	require.True(t, out.Succeeded())
	require.Nil(t, out.Failure)
	require.Equal(t, "Jane Doe", *out.Record.Name)
	require.Equal(t, "req-1", out.Record.RequestID)
	require.Equal(t, 1, out.Record.Attempts)
	require.Equal(t, "h1", out.Record.Provenance[profile.FieldName])
	require.True(t, out.Record.IsPartial)
	require.False(t, out.Record.Degraded)
	require.Empty(t, h.sleeper.delays)

	stats := h.pool.Stats()
	require.Equal(t, 1, stats.Idle)
	require.Zero(t, stats.Burned)
	require.Zero(t, stats.Borrowed)
}

func TestRun_DefaultDOMEvaluatesInBrowser(t *testing.T) {
	t.Parallel()

	tiers, order := residential()
	h := newHarnessWith(t, tiers, order, nil, janePage)

	out := h.coord.Run(context.Background(), request())
	require.True(t, out.Succeeded())
	require.Equal(t, "Jane Doe", *out.Record.Name)
	require.Equal(t, "h1", out.Record.Provenance[profile.FieldName])
	require.Equal(t, 1, out.Record.Attempts)
}

func TestRun_AuthwallExhaustsBudgetAndBurnsSessions(t *testing.T) {
	t.Parallel()

	tiers, order := residential()
	h := newHarness(t, tiers, order, authwallPage)

	out := h.coord.Run(context.Background(), request())
	require.False(t, out.Succeeded())
	require.Equal(t, profile.ReasonAuthwall, out.Failure.Reason)
	require.Equal(t, 3, out.Failure.Attempts)
	require.Len(t, h.sleeper.delays, 2)

	require.Len(t, h.factory.opened, 3)
	seen := map[string]struct{}{}
	for _, id := range h.factory.opened {
		seen[id] = struct{}{}
	}
	require.Len(t, seen, 3, "each retry uses a fresh session")

	stats := h.pool.Stats()
	require.Equal(t, 3, stats.Burned)
	require.Zero(t, stats.Live)
}

func TestRun_RetryThenSucceed(t *testing.T) {
	t.Parallel()

	tiers, order := residential()
	h := newHarness(t, tiers, order, softPage, janePage)

	out := h.coord.Run(context.Background(), request())
	require.True(t, out.Succeeded())
	require.Equal(t, 2, out.Record.Attempts)
	require.Len(t, h.sleeper.delays, 1)
	require.Equal(t, 1, h.pool.Stats().Burned)
}

func TestRun_DegradedBudgetApplies(t *testing.T) {
	t.Parallel()

	tiers := map[string][]string{"residential": {}, "datacenter": {session.DirectEndpoint}}
	h := newHarness(t, tiers, []string{"residential", "datacenter"}, softPage)

	out := h.coord.Run(context.Background(), request())
	require.Equal(t, profile.ReasonSoftBlock, out.Failure.Reason)
	require.Equal(t, 2, out.Failure.Attempts)
	require.True(t, h.pool.Degraded())
}

func TestRun_DegradedSuccessIsFlagged(t *testing.T) {
	t.Parallel()

	tiers := map[string][]string{"residential": {}, "datacenter": {session.DirectEndpoint}}
	h := newHarness(t, tiers, []string{"residential", "datacenter"}, janePage)

	out := h.coord.Run(context.Background(), request())
	require.True(t, out.Succeeded())
	require.True(t, out.Record.Degraded)
}

func TestRun_PoolExhaustedIsTerminal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string][]string{"residential": {}}, []string{"residential"}, janePage)

	out := h.coord.Run(context.Background(), request())
	require.Equal(t, profile.ReasonPoolExhausted, out.Failure.Reason)
	require.Equal(t, 1, out.Failure.Attempts)
	require.Empty(t, h.sleeper.delays)
	require.Empty(t, h.factory.opened)
}

func TestRun_EmptyPageReportedAsSoftBlock(t *testing.T) {
	t.Parallel()

	tiers, order := residential()
	h := newHarness(t, tiers, order, emptyPage)

	out := h.coord.Run(context.Background(), request())
	require.Equal(t, profile.ReasonSoftBlock, out.Failure.Reason)
	require.Equal(t, 3, out.Failure.Attempts)
}

func TestRun_CanceledBeforeFirstAttempt(t *testing.T) {
	t.Parallel()

	tiers, order := residential()
	h := newHarness(t, tiers, order, janePage)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := h.coord.Run(ctx, request())
	require.Equal(t, profile.ReasonCanceled, out.Failure.Reason)
	require.Zero(t, out.Failure.Attempts)
	require.Empty(t, h.factory.opened)
}

func TestRun_CanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	tiers, order := residential()
	h := newHarness(t, tiers, order, authwallPage)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sleeper.hook = func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}

	out := h.coord.Run(ctx, request())
	require.Equal(t, profile.ReasonCanceled, out.Failure.Reason)
	require.Equal(t, 1, out.Failure.Attempts)
	require.Zero(t, h.pool.Stats().Borrowed)
}

func TestRun_CanceledAttemptReleasesSessionAsUsed(t *testing.T) {
	t.Parallel()

	tiers, order := residential()
	h := newHarness(t, tiers, order, janePage)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.factory.openHook = func(context.Context) error {
		cancel()
		return errors.New("browser launch interrupted")
	}

	out := h.coord.Run(ctx, request())
	require.Equal(t, profile.ReasonCanceled, out.Failure.Reason)

	stats := h.pool.Stats()
	require.Zero(t, stats.Burned)
	require.Zero(t, stats.Borrowed)
	require.Equal(t, 1, stats.Idle)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(DefaultConfig(), nil, nil, nil, nil, nil, nil, nil)
	require.ErrorContains(t, err, "session pool")
}
