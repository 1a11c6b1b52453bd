package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/profile-extractor/internal/profile"
)

// BrowserDOM reads text from a live page via script evaluation.
type BrowserDOM struct {
	Browser profile.Browser
	// ContextLostDelay is the pause before re-running a query whose execution
	// context vanished.
	ContextLostDelay time.Duration
}

// Text evaluates querySelector(selector).innerText in the page.
func (d BrowserDOM) Text(ctx context.Context, selector string) (string, error) {
	expr, err := textExpression(selector)
	if err != nil {
		return "", err
	}
	var out string
	err = profile.RetryContextLost(ctx, d.ContextLostDelay, func() error {
		return d.Browser.Evaluate(ctx, expr, &out)
	})
	if err != nil {
		return "", fmt.Errorf("evaluate selector: %w", err)
	}
	return out, nil
}

func textExpression(selector string) (string, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return "", fmt.Errorf("quote selector: %w", err)
	}
	return fmt.Sprintf(`(() => {
  try {
    const el = document.querySelector(%s);
    return el ? (el.innerText || el.textContent || "") : "";
  } catch (e) {
    return "";
  }
})()`, quoted), nil
}

// HTMLDOM answers selector queries against a parsed HTML snapshot.
type HTMLDOM struct {
	doc *goquery.Document
}

// NewHTMLDOM parses r as HTML.
func NewHTMLDOM(r io.Reader) (*HTMLDOM, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &HTMLDOM{doc: doc}, nil
}

// NewHTMLDOMString parses an in-memory HTML document.
func NewHTMLDOMString(html string) (*HTMLDOM, error) {
	return NewHTMLDOM(strings.NewReader(html))
}

// Document exposes the parsed snapshot.
func (d *HTMLDOM) Document() *goquery.Document {
	return d.doc
}

// Text returns the text of the first element matching selector.
func (d *HTMLDOM) Text(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("html text: %w", err)
	}
	return d.doc.Find(selector).First().Text(), nil
}
