package epic

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// StoryStatus is the normalized story lifecycle status.
type StoryStatus string

const (
	StatusBacklog     StoryStatus = "backlog"
	StatusReadyForDev StoryStatus = "ready-for-dev"
	StatusInProgress  StoryStatus = "in-progress"
	StatusReview      StoryStatus = "review"
	StatusDone        StoryStatus = "done"
)

// Valid reports whether the status is one of the known values.
func (s StoryStatus) Valid() bool {
	switch s {
	case StatusBacklog, StatusReadyForDev, StatusInProgress, StatusReview, StatusDone:
		return true
	}
	return false
}

// statusLine matches the "Status:" line of a story file, optionally bolded.
var statusLine = regexp.MustCompile(`(?mi)^\*{0,2}Status:?\*{0,2}\s*:?\s*(.+?)\s*$`)

// NormalizeStatus maps the free-form status text from a story file onto the
// canonical set. Unknown values return ("", false).
func NormalizeStatus(raw string) (StoryStatus, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, "*_` ")
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	switch s {
	case "backlog", "todo":
		return StatusBacklog, true
	case "ready-for-dev", "ready", "approved":
		return StatusReadyForDev, true
	case "in-progress", "inprogress", "wip", "dev":
		return StatusInProgress, true
	case "review", "in-review", "ready-for-review":
		return StatusReview, true
	case "done", "complete", "completed":
		return StatusDone, true
	}
	return "", false
}

// StoryFile is a parsed story file on disk.
type StoryFile struct {
	Path   string
	Epic   ID
	Num    int
	Slug   string
	Status StoryStatus
	// HasStatus reports whether an explicit, recognized Status line exists.
	HasStatus bool
	Content   string
}

// Key returns the sprint-status entry key for this story file.
func (f *StoryFile) Key() string {
	if f.Slug == "" {
		return fmt.Sprintf("%s-%d", f.Epic, f.Num)
	}
	return fmt.Sprintf("%s-%d-%s", f.Epic, f.Num, f.Slug)
}

var storyFilePattern = regexp.MustCompile(`^([A-Za-z0-9]+)-(\d+)-(.+)\.md$`)

// ParseStoryFile reads a story file and extracts its identity and status.
func ParseStoryFile(path string) (*StoryFile, error) {
	m := storyFilePattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return nil, fmt.Errorf("not a story file: %s", filepath.Base(path))
	}
	epicID, err := ParseID(m[1])
	if err != nil {
		return nil, fmt.Errorf("story %s: %w", path, err)
	}
	num := 0
	fmt.Sscanf(m[2], "%d", &num)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read story %s: %w", path, err)
	}

	f := &StoryFile{
		Path:    path,
		Epic:    epicID,
		Num:     num,
		Slug:    m[3],
		Content: string(data),
	}
	if sm := statusLine.FindStringSubmatch(f.Content); sm != nil {
		if status, ok := NormalizeStatus(sm[1]); ok {
			f.Status = status
			f.HasStatus = true
		}
	}
	return f, nil
}

// DiscoverStoryFiles parses every story file in the implementation artifacts
// directory. Files that do not match the story naming scheme are skipped.
func DiscoverStoryFiles(dir string) ([]*StoryFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read implementation dir: %w", err)
	}
	var files []*StoryFile
	for _, entry := range entries {
		if entry.IsDir() || !storyFilePattern.MatchString(entry.Name()) {
			continue
		}
		f, err := ParseStoryFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		files = append(files, f)
	}
	return files, nil
}
