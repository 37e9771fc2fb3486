// Package epic parses epic documents and story files.
//
// Epic docs live at docs/epics/epic-{id}-*.md with YAML frontmatter; story
// files live under the implementation artifacts directory with a Status line.
package epic

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ID identifies an epic: either a positive integer (1, 2, ...) or a stable
// string tag ("testarch"). The zero value is invalid.
type ID struct {
	Num int    // > 0 when numeric
	Tag string // non-empty when tagged
}

// ParseID parses an epic identifier from its string form.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ID{}, fmt.Errorf("empty epic id")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return ID{}, fmt.Errorf("epic number must be positive, got %d", n)
		}
		return ID{Num: n}, nil
	}
	return ID{Tag: s}, nil
}

// IsNumeric reports whether the ID is a numeric epic.
func (id ID) IsNumeric() bool { return id.Num > 0 }

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool { return id.Num == 0 && id.Tag == "" }

// String returns the canonical string form.
func (id ID) String() string {
	if id.IsNumeric() {
		return strconv.Itoa(id.Num)
	}
	return id.Tag
}

// Less orders IDs: numerics ascend first, then tags alphabetically.
func (id ID) Less(other ID) bool {
	if id.IsNumeric() != other.IsNumeric() {
		return id.IsNumeric()
	}
	if id.IsNumeric() {
		return id.Num < other.Num
	}
	return id.Tag < other.Tag
}

// MarshalYAML serializes numeric IDs as ints and tags as strings.
func (id ID) MarshalYAML() (any, error) {
	if id.IsNumeric() {
		return id.Num, nil
	}
	return id.Tag, nil
}

// UnmarshalYAML accepts either form.
func (id *ID) UnmarshalYAML(value *yaml.Node) error {
	var n int
	if err := value.Decode(&n); err == nil {
		parsed, err := ParseID(strconv.Itoa(n))
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("epic id must be int or string")
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// SortIDs sorts in canonical order: numerics ascending, then tags.
func SortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

// Frontmatter is the YAML header of an epic document.
type Frontmatter struct {
	EpicNum ID     `yaml:"epic_num"`
	Title   string `yaml:"title"`
	Status  string `yaml:"status"`
}

// Epic is a parsed epic document.
type Epic struct {
	ID      ID
	Title   string
	Status  string
	Path    string
	Stories []Story
	Body    string
}

// Story is one story declared inside an epic document.
type Story struct {
	Epic  ID
	Num   int
	Title string
	Slug  string
}

// Key returns the sprint-status entry key, e.g. "3-2-user-login".
func (s Story) Key() string {
	if s.Slug == "" {
		return fmt.Sprintf("%s-%d", s.Epic, s.Num)
	}
	return fmt.Sprintf("%s-%d-%s", s.Epic, s.Num, s.Slug)
}

// Ref returns the "E.S" cursor form used in loop state.
func (s Story) Ref() string {
	return fmt.Sprintf("%s.%d", s.Epic, s.Num)
}

var (
	epicFilePattern = regexp.MustCompile(`^epic-([A-Za-z0-9]+)-.*\.md$`)
	// storyHeading matches story declarations like "### Story 3.2: User login".
	storyHeading  = regexp.MustCompile(`(?m)^#{2,4}\s+Story\s+([A-Za-z0-9]+)\.(\d+):?\s*(.*)$`)
	nonSlugChars  = regexp.MustCompile(`[^a-z0-9]+`)
	trailingDash  = regexp.MustCompile(`^-+|-+$`)
	frontmatterRe = regexp.MustCompile(`(?s)\A---\n(.*?)\n---\n?`)
)

// DiscoverEpics parses every epic document under dir, sorted by ID.
func DiscoverEpics(dir string) ([]*Epic, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read epics dir: %w", err)
	}

	var epics []*Epic
	for _, entry := range entries {
		if entry.IsDir() || !epicFilePattern.MatchString(entry.Name()) {
			continue
		}
		e, err := ParseEpicFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		epics = append(epics, e)
	}
	sort.Slice(epics, func(i, j int) bool { return epics[i].ID.Less(epics[j].ID) })
	return epics, nil
}

// FindEpic returns the epic with the given ID from dir.
func FindEpic(dir string, id ID) (*Epic, error) {
	epics, err := DiscoverEpics(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range epics {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, fmt.Errorf("epic %s not found under %s", id, dir)
}

// ParseEpicFile parses a single epic document.
func ParseEpicFile(path string) (*Epic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read epic %s: %w", path, err)
	}

	e := &Epic{Path: path}

	body := string(data)
	if m := frontmatterRe.FindStringSubmatch(body); m != nil {
		var fm Frontmatter
		if err := yaml.Unmarshal([]byte(m[1]), &fm); err != nil {
			return nil, fmt.Errorf("parse epic frontmatter %s: %w", path, err)
		}
		e.ID = fm.EpicNum
		e.Title = fm.Title
		e.Status = fm.Status
		body = body[len(m[0]):]
	}
	e.Body = body

	// Fall back to the filename when frontmatter omits epic_num.
	if e.ID.IsZero() {
		if m := epicFilePattern.FindStringSubmatch(filepath.Base(path)); m != nil {
			id, err := ParseID(m[1])
			if err != nil {
				return nil, fmt.Errorf("epic %s: %w", path, err)
			}
			e.ID = id
		}
	}

	for _, m := range storyHeading.FindAllStringSubmatch(body, -1) {
		epicID, err := ParseID(m[1])
		if err != nil || epicID != e.ID {
			continue
		}
		num, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		title := strings.TrimSpace(m[3])
		e.Stories = append(e.Stories, Story{
			Epic:  e.ID,
			Num:   num,
			Title: title,
			Slug:  Slugify(title),
		})
	}
	sort.Slice(e.Stories, func(i, j int) bool { return e.Stories[i].Num < e.Stories[j].Num })
	return e, nil
}

// Slugify converts a story title into a filename-safe slug.
func Slugify(title string) string {
	s := strings.ToLower(title)
	s = nonSlugChars.ReplaceAllString(s, "-")
	s = trailingDash.ReplaceAllString(s, "")
	return s
}
