package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// SourceHash hashes every regular file in the workflow directory plus the
// patch file itself. Files are fed in sorted path order so the digest is
// stable across platforms.
func SourceHash(workflowDir, patchPath string) (string, error) {
	d := xxhash.New()

	var files []string
	err := filepath.WalkDir(workflowDir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk workflow dir: %w", err)
	}
	sort.Strings(files)
	if patchPath != "" {
		files = append(files, patchPath)
	}

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", path, err)
		}
		rel, relErr := filepath.Rel(workflowDir, path)
		if relErr != nil {
			rel = filepath.Base(path)
		}
		// Separate name and content so renames invalidate the cache too.
		_, _ = d.WriteString(filepath.ToSlash(rel))
		_, _ = d.Write([]byte{0})
		_, _ = d.Write(data)
		_, _ = d.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", d.Sum64()), nil
}
