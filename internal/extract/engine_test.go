package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-extractor/internal/profile"
)

const publicProfileHTML = `<html><head><title>Jane Doe | LinkedIn</title></head><body>
<section class="top-card-layout">
  <h1 class="top-card-layout__title">  Jane Doe
  </h1>
  <h2 class="top-card-layout__headline">Staff Engineer at Example</h2>
  <div class="top-card-layout__first-subline"><span class="not-first-middot"><span>Berlin, Germany</span></span></div>
</section>
<section class="summary"><div class="core-section-container__content">Builds things.</div></section>
</body></html>`

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(DefaultFieldSpecs(), zap.NewNop())
	require.NoError(t, err)
	return e
}

func TestExtract_FullPublicProfile(t *testing.T) {
	t.Parallel()

	dom, err := NewHTMLDOMString(publicProfileHTML)
	require.NoError(t, err)

	res, err := newEngine(t).Extract(context.Background(), "https://example.com/in/jane", dom, false)
	require.NoError(t, err)
	require.Equal(t, "Jane Doe", res.Value(profile.FieldName))
	require.Equal(t, "Staff Engineer at Example", res.Value(profile.FieldHeadline))
	require.Equal(t, "Berlin, Germany", res.Value(profile.FieldLocation))
	require.Equal(t, "Builds things.", res.Value(profile.FieldAbout))
	require.Equal(t, "h1.top-card-layout__title", *res.Fields[profile.FieldName].Selector)
	require.False(t, res.IsPartial)
	require.True(t, res.IsPublicView)
}

func TestExtract_BareHeadingFallsBackAndIsPartial(t *testing.T) {
	t.Parallel()

	dom, err := NewHTMLDOMString(`<html><body><h1>Jane Doe</h1></body></html>`)
	require.NoError(t, err)

	res, err := newEngine(t).Extract(context.Background(), "https://example.com/in/jane", dom, false)
	require.NoError(t, err)
	require.Equal(t, "Jane Doe", res.Value(profile.FieldName))
	require.Equal(t, "h1", *res.Fields[profile.FieldName].Selector)
	require.Nil(t, res.Fields[profile.FieldHeadline].Value)
	require.Nil(t, res.Fields[profile.FieldHeadline].Selector)
	require.True(t, res.IsPartial)
}

func TestExtract_MemberLayoutIsNotPublicView(t *testing.T) {
	t.Parallel()

	dom, err := NewHTMLDOMString(`<html><body><main class="pv-top-card">
		<h1 class="text-heading-xlarge">Jane Doe</h1></main></body></html>`)
	require.NoError(t, err)

	res, err := newEngine(t).Extract(context.Background(), "u", dom, false)
	require.NoError(t, err)
	require.False(t, res.IsPublicView)
	require.Equal(t, "h1.text-heading-xlarge", *res.Fields[profile.FieldName].Selector)
}

func TestExtract_DegradedIsPartial(t *testing.T) {
	t.Parallel()

	dom, err := NewHTMLDOMString(publicProfileHTML)
	require.NoError(t, err)

	res, err := newEngine(t).Extract(context.Background(), "u", dom, true)
	require.NoError(t, err)
	require.True(t, res.IsPartial)
}

func TestExtract_MissingNameFails(t *testing.T) {
	t.Parallel()

	dom, err := NewHTMLDOMString(`<html><body><h2 class="top-card-layout__headline">Engineer</h2><h1>   </h1></body></html>`)
	require.NoError(t, err)

	e := newEngine(t)
	_, err = e.Extract(context.Background(), "u", dom, false)
	require.ErrorIs(t, err, profile.ErrExtractionFailed)

	ok, err := e.HasContent(context.Background(), dom)
	require.NoError(t, err)
	require.False(t, ok)
}

type errDOM struct{ err error }

func (d errDOM) Text(context.Context, string) (string, error) { return "", d.err }

func TestExtract_DOMErrorsPropagate(t *testing.T) {
	t.Parallel()

	boom := errors.New("target closed")
	_, err := newEngine(t).Extract(context.Background(), "u", errDOM{err: boom}, false)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, profile.ErrExtractionFailed)
}

func TestNew_ValidatesSpecs(t *testing.T) {
	t.Parallel()

	_, err := New([]FieldSpec{{Name: "name", Candidates: []Candidate{{Selector: "h1"}}}}, nil)
	require.ErrorContains(t, err, "primary")

	_, err = New([]FieldSpec{{Name: "name", Primary: true}}, nil)
	require.ErrorContains(t, err, "candidate")

	_, err = New([]FieldSpec{
		{Name: "name", Primary: true, Candidates: []Candidate{{Selector: "h1"}}},
		{Name: "name", Candidates: []Candidate{{Selector: "h2"}}},
	}, nil)
	require.ErrorContains(t, err, "duplicate")

	e, err := New(nil, nil)
	require.NoError(t, err)
	require.Equal(t, profile.FieldName, e.PrimaryField())
}

func TestMergeFieldSpecs(t *testing.T) {
	t.Parallel()

	merged := MergeFieldSpecs(DefaultFieldSpecs(), []FieldSpec{
		{Name: profile.FieldName, Candidates: []Candidate{{Selector: "#custom-name", Layout: LayoutPublic}}},
		{Name: "company", Candidates: []Candidate{{Selector: ".company"}}},
	})
	require.Len(t, merged, len(DefaultFieldSpecs())+1)
	require.True(t, merged[0].Primary)
	require.Equal(t, "#custom-name", merged[0].Candidates[0].Selector)
	require.Equal(t, "company", merged[len(merged)-1].Name)

	_, err := New(merged, nil)
	require.NoError(t, err)
}

type evalBrowser struct {
	exprs []string
	text  string
}

func (b *evalBrowser) Navigate(context.Context, string) error           { return nil }
func (b *evalBrowser) WaitFor(context.Context, profile.Condition) error { return nil }
func (b *evalBrowser) Title(context.Context) (string, error)            { return "", nil }
func (b *evalBrowser) Close() error                                     { return nil }
func (b *evalBrowser) Evaluate(_ context.Context, expr string, out any) error {
	b.exprs = append(b.exprs, expr)
	*(out.(*string)) = b.text
	return nil
}

func TestBrowserDOM_QuotesSelector(t *testing.T) {
	t.Parallel()

	b := &evalBrowser{text: " Jane "}
	got, err := BrowserDOM{Browser: b}.Text(context.Background(), `[data-section='summary'] "p"`)
	require.NoError(t, err)
	require.Equal(t, " Jane ", got)
	require.Len(t, b.exprs, 1)
	require.True(t, strings.Contains(b.exprs[0], `document.querySelector("[data-section='summary'] \"p\"")`))
}

func TestTextExpressionIsInvokedExpression(t *testing.T) {
	t.Parallel()

	expr, err := textExpression("h1")
	require.NoError(t, err)
	// Adapters receive a value-producing expression, never a bare function.
	require.True(t, strings.HasPrefix(expr, "(() => {"))
	require.True(t, strings.HasSuffix(expr, "})()"))
	require.False(t, strings.HasPrefix(strings.TrimSpace(expr), "function"))
}
