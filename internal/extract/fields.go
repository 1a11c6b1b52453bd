package extract

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/profile-extractor/internal/profile"
)

// Layout names the page variant a selector was written against.
type Layout string

// Known layouts.
const (
	// LayoutPublic is the logged-out guest rendering of a profile.
	LayoutPublic Layout = "public"
	// LayoutMember is the signed-in rendering.
	LayoutMember Layout = "member"
)

// Candidate is one selector in a field's fallback chain.
type Candidate struct {
	Selector string `mapstructure:"selector"`
	Layout   Layout `mapstructure:"layout"`
}

// FieldSpec is the ordered fallback chain for one logical field.
type FieldSpec struct {
	Name       string      `mapstructure:"name"`
	Primary    bool        `mapstructure:"primary"`
	Candidates []Candidate `mapstructure:"candidates"`
}

// DefaultFieldSpecs returns the compiled-in selector chains.
func DefaultFieldSpecs() []FieldSpec {
	return []FieldSpec{
		{
			Name:    profile.FieldName,
			Primary: true,
			Candidates: []Candidate{
				{Selector: "h1.top-card-layout__title", Layout: LayoutPublic},
				{Selector: ".top-card-layout h1", Layout: LayoutPublic},
				{Selector: "h1.text-heading-xlarge", Layout: LayoutMember},
				{Selector: ".pv-top-card h1", Layout: LayoutMember},
				{Selector: "h1", Layout: LayoutPublic},
			},
		},
		{
			Name: profile.FieldHeadline,
			Candidates: []Candidate{
				{Selector: "h2.top-card-layout__headline", Layout: LayoutPublic},
				{Selector: ".top-card-layout__headline", Layout: LayoutPublic},
				{Selector: ".pv-top-card .text-body-medium", Layout: LayoutMember},
				{Selector: "div.text-body-medium.break-words", Layout: LayoutMember},
			},
		},
		{
			Name: profile.FieldLocation,
			Candidates: []Candidate{
				{Selector: ".top-card-layout__first-subline .not-first-middot span", Layout: LayoutPublic},
				{Selector: ".top-card__subline-item", Layout: LayoutPublic},
				{Selector: ".pv-top-card span.text-body-small.inline", Layout: LayoutMember},
			},
		},
		{
			Name: profile.FieldAbout,
			Candidates: []Candidate{
				{Selector: "section.summary .core-section-container__content", Layout: LayoutPublic},
				{Selector: "[data-section='summary'] p", Layout: LayoutPublic},
				{Selector: "#about ~ .display-flex .inline-show-more-text", Layout: LayoutMember},
			},
		},
	}
}

// MergeFieldSpecs replaces default chains with overrides of the same name and
// appends overrides for new fields. An override with no Primary flag keeps
// the default's.
func MergeFieldSpecs(defaults, overrides []FieldSpec) []FieldSpec {
	merged := make([]FieldSpec, len(defaults))
	copy(merged, defaults)
	for _, o := range overrides {
		replaced := false
		for i := range merged {
			if merged[i].Name != o.Name {
				continue
			}
			primary := merged[i].Primary || o.Primary
			merged[i] = o
			merged[i].Primary = primary
			replaced = true
			break
		}
		if !replaced {
			merged = append(merged, o)
		}
	}
	return merged
}

func validateSpecs(specs []FieldSpec) (int, error) {
	primary := -1
	seen := make(map[string]struct{}, len(specs))
	for i, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return -1, fmt.Errorf("field %d: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return -1, fmt.Errorf("field %q: duplicate name", name)
		}
		seen[name] = struct{}{}
		if len(spec.Candidates) == 0 {
			return -1, fmt.Errorf("field %q: at least one candidate selector is required", name)
		}
		for j, c := range spec.Candidates {
			if strings.TrimSpace(c.Selector) == "" {
				return -1, fmt.Errorf("field %q candidate %d: selector is required", name, j)
			}
		}
		if spec.Primary {
			if primary >= 0 {
				return -1, fmt.Errorf("field %q: only one primary field is allowed", name)
			}
			primary = i
		}
	}
	if primary < 0 {
		return -1, fmt.Errorf("exactly one primary field is required")
	}
	return primary, nil
}
