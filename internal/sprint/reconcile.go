package sprint

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmad-assist/bmad-assist/internal/compiler"
	"github.com/bmad-assist/bmad-assist/internal/epic"
	"github.com/bmad-assist/bmad-assist/internal/paths"
	"github.com/bmad-assist/bmad-assist/internal/state"
	"github.com/bmad-assist/bmad-assist/internal/util"
)

// Discrepancy records one difference the merge found or applied.
type Discrepancy struct {
	Type        string `yaml:"type"`
	Expected    string `yaml:"expected"`
	Actual      string `yaml:"actual"`
	StoryNumber int    `yaml:"story_number,omitempty"`
	FilePath    string `yaml:"file_path,omitempty"`
	Description string `yaml:"description"`
}

// sortDiscrepancies orders deterministically by (type, story_number).
func sortDiscrepancies(ds []Discrepancy) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Type != ds[j].Type {
			return ds[i].Type < ds[j].Type
		}
		return ds[i].StoryNumber < ds[j].StoryNumber
	})
}

// Evidence is what the artifact scan concluded about one story.
type Evidence struct {
	Status epic.StoryStatus
	// Explicit marks a story file Status line, which beats everything.
	Explicit bool
	// Source names the artifact the conclusion came from.
	Source string
}

// Result summarizes one reconciliation run. Changed counts modified
// pre-existing entries; Added counts new ones. Only Diverged entries feed
// the divergence ratio: modifications that move a story backward or off the
// known lifecycle. Forward transitions are the loop's own routine progress
// and additions cannot destroy operator state, so neither trips the gate.
type Result struct {
	Path          string
	Changed       int
	Added         int
	Diverged      int
	Total         int
	Divergence    float64
	Applied       bool
	Discrepancies []Discrepancy
}

// Reconciler merges the existing ledger, the expectation generated from epic
// docs plus loop state, and artifact-inferred evidence.
type Reconciler struct {
	project   *paths.Project
	threshold float64
	confirm   Confirmer
}

// Confirmer decides whether a high-divergence merge may be applied.
type Confirmer interface {
	ConfirmRepair(res *Result) bool
}

// NewReconciler creates a reconciler. threshold is the divergence ratio above
// which confirmation is required; confirm may be nil (auto-cancel).
func NewReconciler(project *paths.Project, threshold float64, confirm Confirmer) *Reconciler {
	return &Reconciler{project: project, threshold: threshold, confirm: confirm}
}

// Reconcile performs the three-way merge and writes the ledger when allowed.
func (r *Reconciler) Reconcile(st *state.State) (*Result, error) {
	path, err := compiler.ResolveSprintStatus(r.project)
	if err != nil {
		return nil, err
	}
	var doc *Document
	existed := path != "none"
	if !existed {
		path = r.project.SprintStatusFile()
		doc = NewDocument()
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read sprint-status: %w", err)
		}
		doc, err = ParseDocument(data)
		if err != nil {
			return nil, err
		}
	}

	epics, err := epic.DiscoverEpics(r.project.EpicsDir())
	if err != nil {
		return nil, err
	}

	res := r.merge(doc, epics, st)
	res.Path = path

	if existed && r.threshold > 0 && res.Divergence >= r.threshold {
		if r.confirm == nil || !r.confirm.ConfirmRepair(res) {
			slog.Warn("sprint-status repair cancelled",
				"divergence", res.Divergence, "changed", res.Changed, "total", res.Total)
			res.Applied = false
			return res, nil
		}
	}

	data, err := doc.Marshal()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create sprint-status dir: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("write sprint-status: %w", err)
	}
	res.Applied = true
	return res, nil
}

// merge mutates doc in place and returns the run summary. Non-EPIC_STORY
// entries are never touched.
func (r *Reconciler) merge(doc *Document, epics []*epic.Epic, st *state.State) *Result {
	existing := doc.Entries()
	res := &Result{}

	expectedKeys := map[string]bool{}
	for _, e := range epics {
		for _, story := range e.Stories {
			key := story.Key()
			expectedKeys[key] = true

			final := r.resolveStory(e, story, existing[key], st)
			if existing[key] != final {
				res.Discrepancies = append(res.Discrepancies, Discrepancy{
					Type:        string(EntryEpicStory),
					Expected:    final,
					Actual:      existing[key],
					StoryNumber: story.Num,
					FilePath:    r.project.StoryFile(e.ID.String(), fmt.Sprint(story.Num), story.Slug),
					Description: fmt.Sprintf("story %s: %q -> %q", key, existing[key], final),
				})
				if existing[key] == "" {
					res.Added++
				} else {
					res.Changed++
					if !forwardTransition(existing[key], final) {
						res.Diverged++
					}
				}
			}
			doc.Set(key, final)
		}
		r.recalcEpicMeta(doc, e)
	}

	// Stories present in the ledger but gone from the epic docs are flagged,
	// never deleted.
	for key, status := range existing {
		if Classify(key) != EntryEpicStory || expectedKeys[key] {
			continue
		}
		res.Discrepancies = append(res.Discrepancies, Discrepancy{
			Type:        "REMOVED_STORY",
			Expected:    "",
			Actual:      status,
			StoryNumber: StoryNumber(key),
			Description: fmt.Sprintf("story %s no longer appears in any epic doc", key),
		})
	}

	res.Total = len(doc.Entries())
	if res.Total > 0 {
		res.Divergence = float64(res.Diverged) / float64(res.Total)
	}
	sortDiscrepancies(res.Discrepancies)
	return res
}

// statusRank orders the story lifecycle for divergence accounting.
var statusRank = map[string]int{
	string(epic.StatusBacklog):     0,
	string(epic.StatusReadyForDev): 1,
	string(epic.StatusInProgress):  2,
	string(epic.StatusReview):      3,
	string(epic.StatusDone):        4,
}

// forwardTransition reports whether a status change advances a story along
// the normal lifecycle. Anything else, a downgrade or a value outside the
// lifecycle, is real divergence worth gating on.
func forwardTransition(old, new string) bool {
	or, ok := statusRank[old]
	if !ok {
		return false
	}
	nr, ok := statusRank[new]
	if !ok {
		return false
	}
	return nr > or
}

// resolveStory applies the inference hierarchy for one story.
func (r *Reconciler) resolveStory(e *epic.Epic, story epic.Story, existing string, st *state.State) string {
	ev := r.inferEvidence(e.ID.String(), story)
	if ev.Explicit {
		return string(ev.Status)
	}
	if st != nil && st.IsStoryCompleted(story.Ref()) {
		return string(epic.StatusDone)
	}
	if ev.Status != "" {
		return string(ev.Status)
	}
	if existing != "" {
		return existing
	}
	return string(epic.StatusBacklog)
}

// inferEvidence scans artifacts for one story, highest authority first:
// explicit story Status line, then master/synthesis code review (done), then
// any code review (review), then a validation report (ready-for-dev), then a
// bare story file (in-progress).
func (r *Reconciler) inferEvidence(epicID string, story epic.Story) Evidence {
	storyNum := fmt.Sprint(story.Num)

	storyPath := r.project.StoryFile(epicID, storyNum, story.Slug)
	if f, err := epic.ParseStoryFile(storyPath); err == nil {
		if f.HasStatus {
			return Evidence{Status: f.Status, Explicit: true, Source: storyPath}
		}
	}

	reviews := globArtifacts(r.project.CodeReviewsDir(), fmt.Sprintf("code-review-%s-%s-*.md", epicID, storyNum))
	for _, path := range reviews {
		base := filepath.Base(path)
		if base == fmt.Sprintf("code-review-%s-%s-master.md", epicID, storyNum) ||
			base == fmt.Sprintf("code-review-%s-%s-synthesis.md", epicID, storyNum) {
			return Evidence{Status: epic.StatusDone, Source: path}
		}
	}
	if len(reviews) > 0 {
		return Evidence{Status: epic.StatusReview, Source: reviews[0]}
	}

	validations := globArtifacts(r.project.ValidationsDir(), fmt.Sprintf("validation-%s-%s-*.md", epicID, storyNum))
	if len(validations) > 0 {
		return Evidence{Status: epic.StatusReadyForDev, Source: validations[0]}
	}

	if _, err := os.Stat(storyPath); err == nil {
		return Evidence{Status: epic.StatusInProgress, Source: storyPath}
	}
	return Evidence{}
}

// recalcEpicMeta derives the epic_meta entry from the final story statuses.
func (r *Reconciler) recalcEpicMeta(doc *Document, e *epic.Epic) {
	if len(e.Stories) == 0 {
		return
	}
	entries := doc.Entries()
	allDone := true
	anyStarted := false
	for _, story := range e.Stories {
		status := entries[story.Key()]
		if status != string(epic.StatusDone) {
			allDone = false
		}
		if status != "" && status != string(epic.StatusBacklog) {
			anyStarted = true
		}
	}
	meta := string(epic.StatusBacklog)
	switch {
	case allDone:
		meta = string(epic.StatusDone)
	case anyStarted:
		meta = string(epic.StatusInProgress)
	}
	doc.SetMeta("epic-"+e.ID.String(), meta)
}

func globArtifacts(dir, pattern string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	return matches
}
