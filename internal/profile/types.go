package profile

import (
	"net/http"
	"net/url"
	"time"
)

// Field names produced by the extraction engine.
const (
	FieldName     = "name"
	FieldHeadline = "headline"
	FieldLocation = "location"
	FieldAbout    = "about"
)

// ProfileRequest identifies one extraction job. It is immutable once created.
type ProfileRequest struct {
	TargetURL string
	RequestID string
}

// Health is the lifecycle state of a Session.
type Health string

// Session health values.
const (
	HealthFresh  Health = "FRESH"
	HealthUsed   Health = "USED"
	HealthBurned Health = "BURNED"
)

// ProxyEndpoint is a provisioned egress route. An empty URL means a direct
// connection.
type ProxyEndpoint struct {
	Tier string
	URL  string
}

// Direct reports whether the endpoint routes traffic without a proxy.
func (p ProxyEndpoint) Direct() bool {
	return p.URL == ""
}

// Server returns the proxy address without credentials, suitable for a
// browser's --proxy-server flag.
func (p ProxyEndpoint) Server() string {
	if p.URL == "" {
		return ""
	}
	u, err := url.Parse(p.URL)
	if err != nil || u.Host == "" {
		return p.URL
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + u.Host
}

// Credentials returns the proxy username and password, if any.
func (p ProxyEndpoint) Credentials() (string, string, bool) {
	u, err := url.Parse(p.URL)
	if err != nil || u.User == nil {
		return "", "", false
	}
	pass, _ := u.User.Password()
	return u.User.Username(), pass, true
}

// Fingerprint is the browser identity presented by a session.
type Fingerprint struct {
	UserAgent      string `mapstructure:"user_agent"`
	AcceptLanguage string `mapstructure:"accept_language"`
	Platform       string `mapstructure:"platform"`
	Timezone       string `mapstructure:"timezone"`
	ViewportWidth  int    `mapstructure:"viewport_width"`
	ViewportHeight int    `mapstructure:"viewport_height"`
}

// Session is a reusable network identity. Sessions are owned by the session
// pool; callers borrow one per attempt and must hand it back via Release.
type Session struct {
	ID          string
	Proxy       ProxyEndpoint
	Jar         http.CookieJar
	Fingerprint Fingerprint
	Health      Health
	// Degraded is set when the session came from a non-preferred tier.
	Degraded  bool
	Uses      int
	CreatedAt time.Time
}

// Verdict is the block classifier's judgement of a loaded page.
type Verdict string

// Block verdicts.
const (
	VerdictOK           Verdict = "OK"
	VerdictAuthwall     Verdict = "AUTHWALL"
	VerdictSoftBlock    Verdict = "SOFT_BLOCK"
	VerdictUnknownEmpty Verdict = "UNKNOWN_EMPTY"
)

// Blocked reports whether the verdict means the identity was flagged.
func (v Verdict) Blocked() bool {
	return v == VerdictAuthwall || v == VerdictSoftBlock || v == VerdictUnknownEmpty
}

// FieldValue is one extracted field with the selector that produced it. Both
// are nil when no candidate matched.
type FieldValue struct {
	Value    *string `json:"value"`
	Selector *string `json:"selector"`
}

// ExtractionResult is the structured record produced by a successful attempt.
type ExtractionResult struct {
	URL          string                `json:"url"`
	Fields       map[string]FieldValue `json:"fields"`
	IsPartial    bool                  `json:"isPartial"`
	IsPublicView bool                  `json:"isPublicView"`
}

// Value returns the field's text, or "" when the field is null.
func (r ExtractionResult) Value(field string) string {
	fv, ok := r.Fields[field]
	if !ok || fv.Value == nil {
		return ""
	}
	return *fv.Value
}

// Reason is the terminal failure category surfaced to the result sink.
type Reason string

// Failure reasons.
const (
	ReasonAuthwall         Reason = "AUTHWALL"
	ReasonSoftBlock        Reason = "SOFT_BLOCK"
	ReasonTimeout          Reason = "TIMEOUT"
	ReasonExtractionFailed Reason = "EXTRACTION_FAILED"
	ReasonPoolExhausted    Reason = "POOL_EXHAUSTED"
	ReasonBrowserError     Reason = "BROWSER_ERROR"
	ReasonCanceled         Reason = "CANCELED"
)

// Record is the flattened success payload handed to sinks.
type Record struct {
	RequestID    string            `json:"requestId"`
	URL          string            `json:"url"`
	Name         *string           `json:"name"`
	Headline     *string           `json:"headline"`
	Location     *string           `json:"location"`
	About        *string           `json:"about"`
	IsPublicView bool              `json:"isPublicView"`
	IsPartial    bool              `json:"isPartial"`
	Provenance   map[string]string `json:"provenance"`
	Attempts     int               `json:"attempts"`
	Degraded     bool              `json:"degraded"`
	ExtractedAt  time.Time         `json:"extractedAt"`
}

// Failure is the terminal failure descriptor handed to sinks.
type Failure struct {
	RequestID string    `json:"requestId"`
	URL       string    `json:"url"`
	Reason    Reason    `json:"reason"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	FailedAt  time.Time `json:"failedAt"`
}

// Outcome is the single terminal result of a request: exactly one of Record or
// Failure is set.
type Outcome struct {
	Record  *Record  `json:"record,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
}

// RequestID returns the id of the request that produced the outcome.
func (o Outcome) RequestID() string {
	switch {
	case o.Record != nil:
		return o.Record.RequestID
	case o.Failure != nil:
		return o.Failure.RequestID
	default:
		return ""
	}
}

// Succeeded reports whether the outcome carries a record.
func (o Outcome) Succeeded() bool {
	return o.Record != nil
}

// NewRecord flattens an extraction result into the sink payload.
func NewRecord(req ProfileRequest, res ExtractionResult, attempts int, degraded bool, at time.Time) *Record {
	provenance := make(map[string]string, len(res.Fields))
	for name, fv := range res.Fields {
		if fv.Selector != nil {
			provenance[name] = *fv.Selector
		}
	}
	return &Record{
		RequestID:    req.RequestID,
		URL:          res.URL,
		Name:         res.Fields[FieldName].Value,
		Headline:     res.Fields[FieldHeadline].Value,
		Location:     res.Fields[FieldLocation].Value,
		About:        res.Fields[FieldAbout].Value,
		IsPublicView: res.IsPublicView,
		IsPartial:    res.IsPartial,
		Provenance:   provenance,
		Attempts:     attempts,
		Degraded:     degraded,
		ExtractedAt:  at,
	}
}
