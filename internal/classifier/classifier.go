// Package classifier judges whether a loaded page is usable or a block page.
package classifier

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/profile-extractor/internal/profile"
)

// DefaultLoginWallMarkers are title substrings that identify an auth wall.
var DefaultLoginWallMarkers = []string{
	"Sign In",
	"Log In",
	"Sign Up",
	"Authwall",
	"Join",
}

// Signals are the page observations the classifier consumes.
type Signals struct {
	Title string
	// AnchorPresent reports whether the anchor selector family matched.
	AnchorPresent bool
	// FallbackContent reports whether the primary field chain matched anyway.
	FallbackContent bool
	// EmptyPage reports that the document body carried no text at all.
	EmptyPage bool
}

// Classifier implements rule-based block detection. It is safe for
// concurrent use.
type Classifier struct {
	markers []string
}

// New creates a classifier. Markers are matched as case-sensitive literal
// substrings of the title; blank markers are ignored.
func New(markers []string) *Classifier {
	if len(markers) == 0 {
		markers = DefaultLoginWallMarkers
	}
	clean := make([]string, 0, len(markers))
	for _, m := range markers {
		if strings.TrimSpace(m) == "" {
			continue
		}
		clean = append(clean, m)
	}
	return &Classifier{markers: clean}
}

// Classify applies the rules in priority order: login-wall title, empty
// page, missing content, otherwise OK.
func (c *Classifier) Classify(s Signals) profile.Verdict {
	switch {
	case c.titleIsLoginWall(s.Title):
		return profile.VerdictAuthwall
	case s.AnchorPresent || s.FallbackContent:
		return profile.VerdictOK
	case strings.TrimSpace(s.Title) == "" && s.EmptyPage:
		return profile.VerdictUnknownEmpty
	default:
		return profile.VerdictSoftBlock
	}
}

// Marker returns the first login-wall marker found in title, or "".
func (c *Classifier) Marker(title string) string {
	for _, m := range c.markers {
		if strings.Contains(title, m) {
			return m
		}
	}
	return ""
}

func (c *Classifier) titleIsLoginWall(title string) bool {
	return c.Marker(title) != ""
}

// SnapshotSignals derives title, anchor presence, and emptiness from a parsed
// HTML snapshot. FallbackContent is left for the caller to fill.
func SnapshotSignals(doc *goquery.Document, anchors []string) Signals {
	if doc == nil {
		return Signals{EmptyPage: true}
	}
	s := Signals{
		Title:     strings.TrimSpace(doc.Find("title").First().Text()),
		EmptyPage: strings.TrimSpace(doc.Find("body").Text()) == "",
	}
	for _, sel := range anchors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() > 0 {
			s.AnchorPresent = true
			break
		}
	}
	return s
}
