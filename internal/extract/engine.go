// Package extract pulls profile fields out of a page using ordered fallback
// selector chains.
package extract

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-extractor/internal/metrics"
	"github.com/JakeFAU/profile-extractor/internal/profile"
)

// DOM reads text from a page. Text returns "" when nothing matches selector.
type DOM interface {
	Text(ctx context.Context, selector string) (string, error)
}

// Engine evaluates field specs against a DOM.
type Engine struct {
	specs   []FieldSpec
	primary int
	logger  *zap.Logger
}

// New validates specs and returns an engine. Exactly one spec must be primary.
func New(specs []FieldSpec, logger *zap.Logger) (*Engine, error) {
	if len(specs) == 0 {
		specs = DefaultFieldSpecs()
	}
	primary, err := validateSpecs(specs)
	if err != nil {
		return nil, fmt.Errorf("field specs: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{specs: specs, primary: primary, logger: logger}, nil
}

// PrimaryField returns the name of the identity field.
func (e *Engine) PrimaryField() string {
	return e.specs[e.primary].Name
}

// Extract builds a result for url. It fails with ErrExtractionFailed when the
// primary field matches nothing; a result never carries a null primary field.
func (e *Engine) Extract(ctx context.Context, url string, dom DOM, degraded bool) (profile.ExtractionResult, error) {
	res := profile.ExtractionResult{
		URL:       url,
		Fields:    make(map[string]profile.FieldValue, len(e.specs)),
		IsPartial: degraded,
	}
	for i, spec := range e.specs {
		text, cand, ok, err := e.first(ctx, dom, spec)
		if err != nil {
			return profile.ExtractionResult{}, err
		}
		if !ok {
			if i == e.primary {
				return profile.ExtractionResult{}, fmt.Errorf("%w: no candidate matched %q", profile.ErrExtractionFailed, spec.Name)
			}
			res.Fields[spec.Name] = profile.FieldValue{}
			res.IsPartial = true
			continue
		}
		selector := cand.Selector
		res.Fields[spec.Name] = profile.FieldValue{Value: &text, Selector: &selector}
		if i == e.primary {
			res.IsPublicView = cand.Layout == LayoutPublic
		}
		metrics.ObserveFieldMatch(spec.Name, cand.Selector)
	}
	e.logger.Debug("fields extracted",
		zap.String("url", url),
		zap.Bool("is_partial", res.IsPartial),
		zap.Bool("is_public_view", res.IsPublicView))
	return res, nil
}

// HasContent reports whether the primary chain matches, without building a
// record.
func (e *Engine) HasContent(ctx context.Context, dom DOM) (bool, error) {
	_, _, ok, err := e.first(ctx, dom, e.specs[e.primary])
	return ok, err
}

func (e *Engine) first(ctx context.Context, dom DOM, spec FieldSpec) (string, Candidate, bool, error) {
	for _, cand := range spec.Candidates {
		if err := ctx.Err(); err != nil {
			return "", Candidate{}, false, fmt.Errorf("extract %s: %w", spec.Name, err)
		}
		raw, err := dom.Text(ctx, cand.Selector)
		if err != nil {
			return "", Candidate{}, false, fmt.Errorf("extract %s via %q: %w", spec.Name, cand.Selector, err)
		}
		if text := strings.TrimSpace(raw); text != "" {
			return text, cand, true, nil
		}
	}
	return "", Candidate{}, false, nil
}
