package phase

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmad-assist/bmad-assist/internal/config"
	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
)

func fanoutConfig() *config.Config {
	cfg := config.Default()
	cfg.Providers.Master = config.ProviderRef{Provider: "claude"}
	cfg.Providers.Evaluators = []config.ProviderRef{
		{Provider: "claude", Model: "opus"},
		{Provider: "codex"},
		{Provider: "gemini"},
	}
	cfg.Providers.MinReviews = 2
	return cfg
}

func TestFanoutSurvivesOneEvaluatorFailure(t *testing.T) {
	providers := map[string]*fakeProvider{
		"claude": {name: "claude", stdout: "- [CRITICAL] broken lock\n- [LOW] typo\n"},
		"codex":  {name: "codex", stdout: "Severity: High - missing test\n"},
		"gemini": {name: "gemini", err: errors.New("binary not found")},
	}
	rt := testRuntime(t, fanoutConfig(), providers)
	st := storyState(t, "1", "1.2")

	h, err := rt.HandlerFor(CodeReview)
	require.NoError(t, err)
	result := h.Execute(context.Background(), st)
	require.True(t, result.Success, "message: %s", result.Message())
	assert.Equal(t, "2", result.Outputs["evaluators_ok"])
	assert.Contains(t, result.Outputs["metrics_header"], "| claude-opus | 1 | 0 | 0 | 1 | 2 |")

	content, err := os.ReadFile(rt.Project.CodeReviewFile("1", "2", "claude-opus"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "broken lock")

	_, err = os.Stat(rt.Project.CodeReviewFile("1", "2", "gemini"))
	assert.True(t, os.IsNotExist(err), "failed evaluator must not leave an artifact")
}

func TestFanoutMinReviewsGate(t *testing.T) {
	providers := map[string]*fakeProvider{
		"claude": {name: "claude", stdout: "fine"},
		"codex":  {name: "codex", err: errors.New("timeout")},
		"gemini": {name: "gemini", err: errors.New("timeout")},
	}
	rt := testRuntime(t, fanoutConfig(), providers)
	st := storyState(t, "1", "1.2")

	h, _ := rt.HandlerFor(ValidateStory)
	result := h.Execute(context.Background(), st)
	require.False(t, result.Success)
	var perr *bmaderrors.Error
	require.ErrorAs(t, result.Err, &perr)
	assert.Equal(t, bmaderrors.CodeInsufficientReviews, perr.Code)
}

func TestFanoutFallsBackToMaster(t *testing.T) {
	cfg := fanoutConfig()
	cfg.Providers.Evaluators = nil
	providers := map[string]*fakeProvider{
		"claude": {name: "claude", stdout: "looks good"},
	}
	rt := testRuntime(t, cfg, providers)
	st := storyState(t, "1", "1.1")

	h, _ := rt.HandlerFor(ValidateStory)
	result := h.Execute(context.Background(), st)
	require.True(t, result.Success, "message: %s", result.Message())
	assert.Equal(t, 1, providers["claude"].count())

	_, err := os.Stat(rt.Project.ValidationFile("1", "1", "claude"))
	assert.NoError(t, err)
}

func TestFanoutRequiresStoryCursor(t *testing.T) {
	rt := testRuntime(t, fanoutConfig(), nil)
	h, _ := rt.HandlerFor(CodeReview)

	result := h.Execute(context.Background(), storyState(t, "1", ""))
	require.False(t, result.Success)
	assert.Contains(t, result.Message(), "CREATE_STORY")
}
