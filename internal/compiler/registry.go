package compiler

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
)

// workflowSpec is the compile-time registration for one workflow. Dispatch is
// a static table keyed by normalized name; there is no dynamic lookup.
type workflowSpec struct {
	// dirName is the workflow directory under the workflows root.
	dirName string
	// mission is the one-line task statement placed in <task-context>.
	mission string
	// contextGlobs are doublestar patterns, relative to the project root,
	// ordered general to specific. Discovery preserves this ordering.
	contextGlobs []string
	// wantsSprintStatus embeds the resolved sprint-status path as a variable.
	wantsSprintStatus bool
}

var workflowRegistry = map[string]workflowSpec{
	"create_story": {
		dirName: "create-story",
		mission: "Draft the next story file from its epic definition.",
		contextGlobs: []string{
			"docs/prd*.md",
			"docs/architecture*.md",
			"docs/epics/epic-*.md",
			"_bmad-output/implementation-artifacts/*.md",
		},
		wantsSprintStatus: true,
	},
	"validate_story": {
		dirName: "validate-story",
		mission: "Review a drafted story for completeness, feasibility and scope.",
		contextGlobs: []string{
			"docs/epics/epic-*.md",
			"_bmad-output/implementation-artifacts/*.md",
		},
	},
	"validate_story_synthesis": {
		dirName: "validate-story-synthesis",
		mission: "Synthesize independent story validations into one verdict.",
		contextGlobs: []string{
			"_bmad-output/implementation-artifacts/story-validations/*.md",
		},
	},
	"dev_story": {
		dirName: "dev-story",
		mission: "Implement the story, updating its task checkboxes as you go.",
		contextGlobs: []string{
			"docs/architecture*.md",
			"_bmad-output/implementation-artifacts/*.md",
		},
		wantsSprintStatus: true,
	},
	"code_review": {
		dirName: "code-review",
		mission: "Review the implementation of the story against its acceptance criteria.",
		contextGlobs: []string{
			"_bmad-output/implementation-artifacts/*.md",
		},
	},
	"code_review_synthesis": {
		dirName: "code-review-synthesis",
		mission: "Synthesize independent code reviews into one actionable report.",
		contextGlobs: []string{
			"_bmad-output/implementation-artifacts/code-reviews/*.md",
		},
	},
	"retrospective": {
		dirName: "retrospective",
		mission: "Write the epic retrospective from its stories and reviews.",
		contextGlobs: []string{
			"docs/epics/epic-*.md",
			"_bmad-output/implementation-artifacts/**/*.md",
		},
		wantsSprintStatus: true,
	},
	"atdd": {
		dirName: "atdd",
		mission: "Write failing acceptance tests for the story before implementation.",
		contextGlobs: []string{
			"docs/architecture*.md",
			"_bmad-output/implementation-artifacts/*.md",
		},
	},
	"test_review": {
		dirName: "test-review",
		mission: "Review test coverage and quality for the implemented story.",
		contextGlobs: []string{
			"_bmad-output/implementation-artifacts/*.md",
		},
	},
}

var validWorkflowName = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// NormalizeWorkflowName validates a workflow name and returns the registry
// lookup key (lowercase, hyphens mapped to underscores).
func NormalizeWorkflowName(name string) (string, error) {
	if name == "" || !validWorkflowName.MatchString(name) {
		return "", bmaderrors.ErrCompiler(name, "workflow names may contain only letters, digits and hyphens")
	}
	return strings.ReplaceAll(strings.ToLower(name), "-", "_"), nil
}

// lookupWorkflow resolves a workflow name to its registered spec.
func lookupWorkflow(name string) (string, workflowSpec, error) {
	key, err := NormalizeWorkflowName(name)
	if err != nil {
		return "", workflowSpec{}, err
	}
	spec, ok := workflowRegistry[key]
	if !ok {
		return "", workflowSpec{}, bmaderrors.ErrCompiler(name,
			fmt.Sprintf("no workflow registered under %q (known: %s)", key, strings.Join(RegisteredWorkflows(), ", ")))
	}
	return key, spec, nil
}

// RegisteredWorkflows returns the registry keys, sorted.
func RegisteredWorkflows() []string {
	keys := make([]string, 0, len(workflowRegistry))
	for k := range workflowRegistry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
