package profile

import (
	"context"
	"time"
)

// ConditionKind selects what Browser.WaitFor blocks on.
type ConditionKind int

// Wait conditions understood by every Browser adapter.
const (
	// ConditionDOMContentLoaded waits for document.readyState to leave "loading".
	ConditionDOMContentLoaded ConditionKind = iota
	// ConditionNetworkIdle waits for a window of Quiet with no requests in flight.
	ConditionNetworkIdle
	// ConditionSelector waits for Selector to match an element.
	ConditionSelector
)

// Condition describes a browser wait.
type Condition struct {
	Kind     ConditionKind
	Selector string
	Quiet    time.Duration
}

// DOMContentLoaded returns the parse-complete condition.
func DOMContentLoaded() Condition {
	return Condition{Kind: ConditionDOMContentLoaded}
}

// NetworkIdle returns a quiet-network condition.
func NetworkIdle(quiet time.Duration) Condition {
	return Condition{Kind: ConditionNetworkIdle, Quiet: quiet}
}

// Selector returns an element-presence condition.
func Selector(sel string) Condition {
	return Condition{Kind: ConditionSelector, Selector: sel}
}

// Browser is the headless-browser session abstraction the pipeline depends on.
// All blocking methods honor ctx and return ErrContextLost (wrapped) when the
// page's execution context disappeared mid-call.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	WaitFor(ctx context.Context, cond Condition) error
	// Evaluate runs a plain JavaScript expression, not a function, and
	// decodes its JSON value into out.
	Evaluate(ctx context.Context, expression string, out any) error
	Title(ctx context.Context) (string, error)
	Close() error
}

// BrowserFactory opens a browser bound to a session's proxy, cookies, and
// fingerprint.
type BrowserFactory interface {
	Open(ctx context.Context, session *Session) (Browser, error)
}

// Provisioner hands out proxy endpoints for a tier.
type Provisioner interface {
	Provision(ctx context.Context, tier string) (ProxyEndpoint, error)
}

// Sink receives the terminal outcome of each request.
type Sink interface {
	Emit(ctx context.Context, outcome Outcome) error
	Close(ctx context.Context) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request and session IDs.
type IDGenerator interface {
	NewID() (string, error)
}
