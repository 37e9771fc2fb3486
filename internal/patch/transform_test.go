package patch

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmad-assist/bmad-assist/internal/provider"
)

// scriptedProvider returns canned stdout per invocation.
type scriptedProvider struct {
	outputs []string
	calls   int
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Invoke(_ context.Context, _ provider.Request) (*provider.Result, error) {
	if s.calls >= len(s.outputs) {
		return nil, fmt.Errorf("no more scripted outputs")
	}
	out := s.outputs[s.calls]
	s.calls++
	return &provider.Result{Stdout: out, Status: provider.ExitSuccess}, nil
}

func wrap(doc, results string) string {
	out := "<transformed-document>\n" + doc + "\n</transformed-document>"
	if results != "" {
		out += "\n<transform-results>\n" + results + "\n</transform-results>"
	}
	return out
}

func twoTransforms() *Patch {
	return &Patch{
		Config:     PatchInfo{Name: "strip-asks", Version: "1"},
		Transforms: []string{"remove ask elements", "tighten wording"},
	}
}

func TestExtractTransformed(t *testing.T) {
	doc, err := extractTransformed(wrap("<step>ok</step>", ""))
	require.NoError(t, err)
	assert.Equal(t, "<step>ok</step>", doc)

	_, err = extractTransformed("no wrapper here")
	assert.Error(t, err)
}

func TestExtractAutoFixesUnescapedLT(t *testing.T) {
	doc, err := extractTransformed(wrap("<step>count < 5 is fine</step>", ""))
	require.NoError(t, err)
	assert.Contains(t, doc, "count &lt; 5")

	// "<!" and "<tag" stay untouched.
	doc, err = extractTransformed(wrap("<!-- note --><step>x</step>", ""))
	require.NoError(t, err)
	assert.Contains(t, doc, "<!-- note -->")
}

func TestApplyPostProcessFlags(t *testing.T) {
	doc, err := applyPostProcess("Hello WORLD\nhello world\n\n\n\nrest", []PostProcess{
		{Pattern: "^hello", Replacement: "goodbye", Flags: "IGNORECASE|MULTILINE"},
	})
	require.NoError(t, err)
	assert.Contains(t, doc, "goodbye WORLD")
	assert.Contains(t, doc, "goodbye world")
	assert.NotContains(t, doc, "\n\n\n")

	_, err = applyPostProcess("x", []PostProcess{{Pattern: "(", Replacement: ""}})
	assert.Error(t, err)

	_, err = applyPostProcess("x", []PostProcess{{Pattern: "x", Flags: "GLOBAL"}})
	assert.Error(t, err)
}

func TestValidateRegexAndSubstring(t *testing.T) {
	v := &Validation{
		MustContain:    []string{"<step>", `/^\d+\./`},
		MustNotContain: []string{"<ask"},
	}
	assert.NoError(t, validate("<step>1. go</step>\n2. done", v))
	assert.Error(t, validate("<step>no numbering</step>", v))
	assert.Error(t, validate("<step>1. go</step><ask>hm</ask>", v))
}

func TestRunTransformSuccess(t *testing.T) {
	p := twoTransforms()
	sp := &scriptedProvider{outputs: []string{
		wrap("<step>clean</step>", "1: applied\n2: applied"),
	}}
	doc, err := runTransform(context.Background(), sp, provider.Request{}, "<raw/>", p, 3)
	require.NoError(t, err)
	assert.Equal(t, "<step>clean</step>", doc)
	assert.Equal(t, 1, sp.calls)
}

func TestRunTransformRetriesThenFails(t *testing.T) {
	p := twoTransforms()
	sp := &scriptedProvider{outputs: []string{
		"garbage with no wrapper",
		"still garbage",
		"more garbage",
	}}
	_, err := runTransform(context.Background(), sp, provider.Request{}, "<raw/>", p, 3)
	require.Error(t, err)
	assert.Equal(t, 3, sp.calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRunTransformEnforcesSuccessFloor(t *testing.T) {
	// 4 transforms, floor(4*0.75) = 3 required; only 2 applied.
	p := &Patch{
		Config:     PatchInfo{Name: "big"},
		Transforms: []string{"a", "b", "c", "d"},
	}
	sp := &scriptedProvider{outputs: []string{
		wrap("<step>x</step>", "1: applied\n2: applied\n3: skipped\n4: skipped"),
	}}
	_, err := runTransform(context.Background(), sp, provider.Request{}, "<raw/>", p, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transform failed")
}

func TestCountAppliedDefaultsToTotal(t *testing.T) {
	assert.Equal(t, 5, countApplied("no results block", 5))
	assert.Equal(t, 1, countApplied("1: applied\n2: skipped", 2))
}
