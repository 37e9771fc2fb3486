package compiler

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/bmad-assist/bmad-assist/internal/paths"
)

// discoverContext finds files matching the workflow's glob patterns and
// returns them in embedding order. Patterns are declared general to specific
// and that ordering is kept; within one pattern, older files come first so
// the most recent material lands closest to the instructions.
func discoverContext(project *paths.Project, globs []string) ([]ContextFile, error) {
	seen := map[string]bool{}
	var files []ContextFile
	for _, pattern := range globs {
		matches, err := doublestar.FilepathGlob(filepath.Join(project.Root, pattern))
		if err != nil {
			// A malformed pattern is a registration bug; skip it rather than
			// failing the compile.
			continue
		}
		type entry struct {
			path string
			mod  int64
		}
		var batch []entry
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			batch = append(batch, entry{path: m, mod: info.ModTime().UnixNano()})
		}
		sort.Slice(batch, func(i, j int) bool {
			if batch[i].mod != batch[j].mod {
				return batch[i].mod < batch[j].mod
			}
			return batch[i].path < batch[j].path
		})
		for _, e := range batch {
			if seen[e.path] {
				continue
			}
			seen[e.path] = true
			data, err := os.ReadFile(e.path)
			if err != nil {
				continue
			}
			rel, err := filepath.Rel(project.Root, e.path)
			if err != nil {
				rel = e.path
			}
			files = append(files, ContextFile{Rel: filepath.ToSlash(rel), Content: string(data)})
		}
	}
	return files, nil
}
