package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bmad-assist/bmad-assist/internal/paths"
	"github.com/bmad-assist/bmad-assist/internal/util"
)

// gitignoreEntries are appended to the project .gitignore on init.
var gitignoreEntries = []string{
	paths.ToolDirName + "/",
	paths.OutputDirName + "/",
}

const defaultProjectConfig = `# bmad-assist project configuration.
# Layered over ~/.bmad-assist/config.yaml; see 'bmad-assist serve' for the
# dashboard's config editor.
version: "1"
`

// newInitCmd creates the init command
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize bmad-assist in the current project",
		Long: `Initialize bmad-assist in the project directory.

Creates the .bmad-assist/ tool directory, a starter bmad-assist.yaml, and
appends tool paths to .gitignore. Running init again is harmless: existing
files are left alone.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			project := resolveProject()
			created, err := initProject(project)
			if err != nil {
				return err
			}
			if len(created) == 0 {
				fmt.Println("bmad-assist already initialized")
				return nil
			}
			for _, path := range created {
				fmt.Println("created", path)
			}
			return nil
		},
	}
}

// initProject performs the idempotent project setup, returning what it
// actually created.
func initProject(project *paths.Project) ([]string, error) {
	var created []string

	for _, dir := range []string{project.ToolDir(), project.PatchesDir(), project.CacheDir()} {
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
		created = append(created, dir)
	}

	configPath := project.ProjectConfig()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := util.AtomicWriteFileString(configPath, defaultProjectConfig, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", configPath, err)
		}
		created = append(created, configPath)
	}

	changed, err := ensureGitignore(project.Root)
	if err != nil {
		return nil, err
	}
	if changed {
		created = append(created, filepath.Join(project.Root, ".gitignore"))
	}
	return created, nil
}

// ensureGitignore appends the tool's entries to .gitignore, skipping ones
// already present. A missing .gitignore is created.
func ensureGitignore(root string) (bool, error) {
	path := filepath.Join(root, ".gitignore")
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("read .gitignore: %w", err)
	}

	existing := map[string]bool{}
	for _, line := range strings.Split(string(data), "\n") {
		existing[strings.TrimSpace(line)] = true
	}

	var missing []string
	for _, entry := range gitignoreEntries {
		if !existing[entry] {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return false, nil
	}

	content := string(data)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += strings.Join(missing, "\n") + "\n"
	if err := util.AtomicWriteFileString(path, content, 0o644); err != nil {
		return false, fmt.Errorf("write .gitignore: %w", err)
	}
	return true, nil
}
