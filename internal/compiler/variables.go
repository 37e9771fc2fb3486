package compiler

import (
	"fmt"
	"regexp"
	"strings"

	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
	"github.com/bmad-assist/bmad-assist/internal/paths"
)

var (
	doubleBraceVar = regexp.MustCompile(`\{\{([A-Za-z0-9_.-]+)\}\}`)
	singleBraceVar = regexp.MustCompile(`\{([A-Za-z0-9_.-]+)\}`)
)

// resolveVariables merges the three variable sources in precedence order
// (invocation params over external config over workflow defaults), then
// expands placeholders in every value.
func resolveVariables(ir *WorkflowIR, project *paths.Project, external, params map[string]string) (map[string]string, error) {
	vars := ir.Defaults()
	for k, v := range external {
		vars[k] = v
	}
	for k, v := range params {
		vars[k] = v
	}

	for k, v := range vars {
		vars[k] = expandPlaceholders(v, project, ir)
	}

	if src, ok := ir.RawConfig["config_source"].(string); ok && src != "" {
		resolved := expandPlaceholders(src, project, ir)
		if err := checkConfigSource(project, resolved); err != nil {
			return nil, err
		}
		vars["config_source"] = resolved
	}
	return vars, nil
}

// expandPlaceholders substitutes {project-root} and {installed_path} plus a
// leading "~". Variable tokens are left for substituteVariables.
func expandPlaceholders(s string, project *paths.Project, ir *WorkflowIR) string {
	s = strings.ReplaceAll(s, "{project-root}", project.Root)
	s = strings.ReplaceAll(s, "{installed_path}", ir.InstalledPath())
	return paths.ExpandHome(s)
}

// substituteVariables replaces {{var}} first, then bare {var} tokens.
// Unknown tokens are left untouched so literal braces survive.
func substituteVariables(s string, vars map[string]string) string {
	s = doubleBraceVar.ReplaceAllStringFunc(s, func(m string) string {
		name := doubleBraceVar.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
	s = singleBraceVar.ReplaceAllStringFunc(s, func(m string) string {
		name := singleBraceVar.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
	return s
}

// checkConfigSource rejects config_source paths that escape the project root.
// ".." components are rejected outright before the containment check.
func checkConfigSource(project *paths.Project, path string) error {
	for _, part := range strings.Split(strings.ReplaceAll(path, "\\", "/"), "/") {
		if part == ".." {
			return bmaderrors.ErrVariable("config_source",
				fmt.Sprintf("path %q contains '..'", path))
		}
	}
	inside, err := project.Contains(path)
	if err != nil {
		return bmaderrors.ErrVariable("config_source", "containment check failed").WithCause(err)
	}
	if !inside {
		return bmaderrors.ErrVariable("config_source",
			fmt.Sprintf("path %q resolves outside the project root", path))
	}
	return nil
}
