package classifier

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/profile-extractor/internal/profile"
)

func TestClassify_AuthwallWinsRegardlessOfAnchor(t *testing.T) {
	t.Parallel()

	c := New(nil)
	for _, anchor := range []bool{true, false} {
		got := c.Classify(Signals{Title: "LinkedIn Authwall", AnchorPresent: anchor, FallbackContent: anchor})
		require.Equal(t, profile.VerdictAuthwall, got)
	}
}

func TestClassify_Rules(t *testing.T) {
	t.Parallel()

	c := New(nil)
	cases := []struct {
		name string
		in   Signals
		want profile.Verdict
	}{
		{"sign in title", Signals{Title: "Sign In | LinkedIn"}, profile.VerdictAuthwall},
		{"join title", Signals{Title: "Join LinkedIn", AnchorPresent: true}, profile.VerdictAuthwall},
		{"markers are case sensitive", Signals{Title: "how to sign in", AnchorPresent: true}, profile.VerdictOK},
		{"anchor present", Signals{Title: "Jane Doe | LinkedIn", AnchorPresent: true}, profile.VerdictOK},
		{"fallback content only", Signals{Title: "Jane Doe", FallbackContent: true}, profile.VerdictOK},
		{"nothing found", Signals{Title: "LinkedIn"}, profile.VerdictSoftBlock},
		{"blank page", Signals{EmptyPage: true}, profile.VerdictUnknownEmpty},
		{"blank body with title", Signals{Title: "LinkedIn", EmptyPage: true}, profile.VerdictSoftBlock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, c.Classify(tc.in))
		})
	}
}

func TestNew_CustomMarkersReplaceDefaults(t *testing.T) {
	t.Parallel()

	c := New([]string{"Checkpoint", "  "})
	require.Equal(t, profile.VerdictAuthwall, c.Classify(Signals{Title: "Security Checkpoint"}))
	require.Equal(t, profile.VerdictOK, c.Classify(Signals{Title: "Sign In", AnchorPresent: true}))
	require.Equal(t, "Checkpoint", c.Marker("Security Checkpoint"))
	require.Empty(t, c.Marker("Jane Doe"))
}

func TestSnapshotSignals(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><head><title> Jane Doe | LinkedIn </title></head>
		<body><section class="top-card-layout"><h1>Jane Doe</h1></section></body></html>`))
	require.NoError(t, err)

	s := SnapshotSignals(doc, []string{".missing", ".top-card-layout"})
	require.Equal(t, "Jane Doe | LinkedIn", s.Title)
	require.True(t, s.AnchorPresent)
	require.False(t, s.EmptyPage)

	empty, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><body>  </body></html>`))
	require.NoError(t, err)
	s = SnapshotSignals(empty, []string{".top-card-layout"})
	require.True(t, s.EmptyPage)
	require.False(t, s.AnchorPresent)
	require.Equal(t, profile.VerdictUnknownEmpty, New(nil).Classify(s))
}
