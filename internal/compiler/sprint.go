package compiler

import (
	"os"

	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
	"github.com/bmad-assist/bmad-assist/internal/paths"
)

// ResolveSprintStatus locates the sprint-status file. Exactly one of the two
// canonical locations may exist; both existing is an ambiguity the user must
// resolve, neither existing yields the literal value "none".
func ResolveSprintStatus(project *paths.Project) (string, error) {
	canonical := project.SprintStatusFile()
	legacy := project.LegacySprintStatusFile()

	canonicalExists := fileExists(canonical)
	legacyExists := fileExists(legacy)

	switch {
	case canonicalExists && legacyExists:
		return "", bmaderrors.ErrAmbiguousFile(paths.SprintStatusFileName, []string{canonical, legacy})
	case canonicalExists:
		return canonical, nil
	case legacyExists:
		return legacy, nil
	default:
		return "none", nil
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
