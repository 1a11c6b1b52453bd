package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/profile-extractor/internal/profile"
)

func record() profile.Outcome {
	name := "Jane Doe"
	return profile.Outcome{Record: &profile.Record{
		RequestID:   "req-1",
		URL:         "https://example.com/in/jane",
		Name:        &name,
		Provenance:  map[string]string{"name": "h1"},
		Attempts:    1,
		ExtractedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
}

func failure() profile.Outcome {
	return profile.Outcome{Failure: &profile.Failure{
		RequestID: "req-2",
		URL:       "https://example.com/in/john",
		Reason:    profile.ReasonAuthwall,
		Attempts:  3,
		Error:     "classify: blocked by authwall",
	}}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	kind, data, err := Encode(record())
	require.NoError(t, err)
	require.Equal(t, KindRecord, kind)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(data, &rec))
	require.Equal(t, "Jane Doe", rec["name"])
	require.Nil(t, rec["headline"])
	require.Contains(t, rec, "headline", "null fields are emitted explicitly")

	kind, data, err = Encode(failure())
	require.NoError(t, err)
	require.Equal(t, KindFailure, kind)
	require.Contains(t, string(data), `"reason":"AUTHWALL"`)

	_, _, err = Encode(profile.Outcome{})
	require.ErrorIs(t, err, ErrEmptyOutcome)

	both := record()
	both.Failure = failure().Failure
	_, _, err = Encode(both)
	require.Error(t, err)
}

func TestWriter_EmitsJSONLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Emit(context.Background(), record()))
	require.NoError(t, w.Emit(context.Background(), failure()))
	require.NoError(t, w.Close(context.Background()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"requestId":"req-1"`)
	require.Contains(t, lines[1], `"requestId":"req-2"`)
}

type failingSink struct{ err error }

func (f failingSink) Emit(context.Context, profile.Outcome) error { return f.err }
func (f failingSink) Close(context.Context) error                 { return f.err }

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	boom := errors.New("boom")
	m := NewMulti(NewWriter(&buf), nil, failingSink{err: boom})

	err := m.Emit(context.Background(), record())
	require.ErrorIs(t, err, boom)
	require.Contains(t, buf.String(), "req-1", "healthy sinks still receive the outcome")
	require.ErrorIs(t, m.Close(context.Background()), boom)
}
