package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSessionID(t *testing.T) {
	cases := []struct {
		name string
		line string
		want string
	}{
		{"claude init", `{"type":"system","subtype":"init","session_id":"abc-123"}`, "abc-123"},
		{"codex init", `{"type":"thread.started","thread_id":"thr_9"}`, "thr_9"},
		{"gemini init", `{"type":"init","session_id":"g-42"}`, "g-42"},
		{"system non-init", `{"type":"system","subtype":"status","session_id":"x"}`, ""},
		{"assistant line", `{"type":"assistant","message":{}}`, ""},
		{"not json", `plain text output`, ""},
		{"empty", ``, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractSessionID(tc.line))
		})
	}
}

func TestLineStreamPreservesBoundaries(t *testing.T) {
	input := "one\ntwo\nthree"
	var got []string
	err := lineStream(strings.NewReader(input), func(line string) {
		got = append(got, line)
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestLineStreamTruncatesOversizedLine(t *testing.T) {
	long := strings.Repeat("x", MaxLineBytes+500)
	input := "before\n" + long + "\nafter\n"

	var got []string
	err := lineStream(strings.NewReader(input), func(line string) {
		got = append(got, line)
	})
	assert.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, "before", got[0])
	assert.Equal(t, MaxLineBytes+len(TruncationMarker), len(got[1]))
	assert.True(t, strings.HasSuffix(got[1], TruncationMarker))
	assert.Equal(t, "after", got[2])
}

func TestLineStreamEmptyInput(t *testing.T) {
	calls := 0
	err := lineStream(strings.NewReader(""), func(string) { calls++ })
	assert.NoError(t, err)
	assert.Zero(t, calls)
}
