package dashboard

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmad-assist/bmad-assist/internal/config"
	"github.com/bmad-assist/bmad-assist/internal/epic"
	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
	"github.com/bmad-assist/bmad-assist/internal/lock"
	"github.com/bmad-assist/bmad-assist/internal/phase"
	"github.com/bmad-assist/bmad-assist/internal/sprint"
	"github.com/bmad-assist/bmad-assist/internal/state"
	"github.com/bmad-assist/bmad-assist/internal/util"
)

// statusResponse is the GET /api/status payload.
type statusResponse struct {
	Running          bool     `json:"running"`
	Paused           bool     `json:"paused"`
	Owner            string   `json:"owner,omitempty"`
	CurrentEpic      string   `json:"current_epic,omitempty"`
	CurrentStory     string   `json:"current_story,omitempty"`
	CurrentPhase     string   `json:"current_phase,omitempty"`
	CompletedStories []string `json:"completed_stories,omitempty"`
	CompletedEpics   []string `json:"completed_epics,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{}

	if holder, err := lock.New(s.project, "").Holder(); err == nil && holder != nil {
		resp.Running = true
		resp.Owner = holder.Owner
	}
	if _, err := os.Stat(s.project.PauseFlag()); err == nil {
		resp.Paused = true
	}

	st, err := state.Load(s.project)
	if err != nil {
		HandleError(w, err)
		return
	}
	if st != nil {
		if st.CurrentEpic != nil {
			resp.CurrentEpic = st.CurrentEpic.String()
		}
		resp.CurrentStory = st.CurrentStory
		resp.CurrentPhase = st.CurrentPhase
		resp.CompletedStories = st.CompletedStories
		for _, id := range st.CompletedEpics {
			resp.CompletedEpics = append(resp.CompletedEpics, id.String())
		}
	}
	JSONResponse(w, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, map[string]string{"version": config.Version})
}

// storyEntry is one row of GET /api/stories, merging the epic documents with
// the sprint-status ledger.
type storyEntry struct {
	Key    string `json:"key"`
	Ref    string `json:"ref"`
	Epic   string `json:"epic"`
	Num    int    `json:"num"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

func (s *Server) handleListStories(w http.ResponseWriter, r *http.Request) {
	epics, err := epic.DiscoverEpics(s.project.EpicsDir())
	if err != nil {
		HandleError(w, err)
		return
	}
	statuses := s.sprintEntries()

	var stories []storyEntry
	for _, e := range epics {
		for _, st := range e.Stories {
			status := statuses[st.Key()]
			if status == "" {
				status = "backlog"
			}
			stories = append(stories, storyEntry{
				Key:    st.Key(),
				Ref:    st.Ref(),
				Epic:   e.ID.String(),
				Num:    st.Num,
				Title:  st.Title,
				Status: status,
			})
		}
	}
	JSONResponse(w, map[string]any{"stories": stories})
}

// sprintEntries reads the sprint-status ledger, tolerating a missing file.
func (s *Server) sprintEntries() map[string]string {
	data, err := os.ReadFile(s.project.SprintStatusFile())
	if err != nil {
		return map[string]string{}
	}
	doc, err := sprint.ParseDocument(data)
	if err != nil {
		s.logger.Warn("sprint-status unreadable", "error", err)
		return map[string]string{}
	}
	return doc.Entries()
}

type epicResponse struct {
	ID      string       `json:"id"`
	Title   string       `json:"title"`
	Status  string       `json:"status"`
	Stories []storyEntry `json:"stories"`
}

func (s *Server) findEpic(w http.ResponseWriter, raw string) *epic.Epic {
	id, err := epic.ParseID(raw)
	if err != nil {
		JSONError(w, err.Error(), http.StatusBadRequest)
		return nil
	}
	e, err := epic.FindEpic(s.project.EpicsDir(), id)
	if err != nil {
		JSONError(w, err.Error(), http.StatusNotFound)
		return nil
	}
	return e
}

func (s *Server) handleGetEpic(w http.ResponseWriter, r *http.Request) {
	e := s.findEpic(w, r.PathValue("id"))
	if e == nil {
		return
	}
	statuses := s.sprintEntries()
	resp := epicResponse{ID: e.ID.String(), Title: e.Title, Status: e.Status}
	for _, st := range e.Stories {
		status := statuses[st.Key()]
		if status == "" {
			status = "backlog"
		}
		resp.Stories = append(resp.Stories, storyEntry{
			Key:    st.Key(),
			Ref:    st.Ref(),
			Epic:   e.ID.String(),
			Num:    st.Num,
			Title:  st.Title,
			Status: status,
		})
	}
	JSONResponse(w, resp)
}

func (s *Server) handleGetStory(w http.ResponseWriter, r *http.Request) {
	e := s.findEpic(w, r.PathValue("id"))
	if e == nil {
		return
	}
	num, err := strconv.Atoi(r.PathValue("sid"))
	if err != nil {
		JSONError(w, "story id must be a number", http.StatusBadRequest)
		return
	}
	for _, st := range e.Stories {
		if st.Num != num {
			continue
		}
		status := s.sprintEntries()[st.Key()]
		if status == "" {
			status = "backlog"
		}
		resp := map[string]any{
			"key":    st.Key(),
			"ref":    st.Ref(),
			"epic":   e.ID.String(),
			"num":    st.Num,
			"title":  st.Title,
			"status": status,
		}
		// The story implementation file exists once CREATE_STORY has run.
		pattern := filepath.Join(s.project.ImplementationDir(),
			e.ID.String()+"-"+strconv.Itoa(st.Num)+"-*.md")
		if matches, _ := filepath.Glob(pattern); len(matches) > 0 {
			sort.Strings(matches)
			if data, err := os.ReadFile(matches[0]); err == nil {
				resp["content"] = string(data)
			}
		}
		JSONResponse(w, resp)
		return
	}
	JSONError(w, "story not found in epic", http.StatusNotFound)
}

// handleGetPrompt compiles the named phase's workflow for a story and returns
// the standalone prompt as plain text.
func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	epicID := r.PathValue("epic")
	story := r.PathValue("story")
	p := phase.Phase(strings.ToUpper(r.PathValue("phase")))

	known := false
	for _, candidate := range phase.Order {
		if candidate == p {
			known = true
			break
		}
	}
	if !known {
		JSONError(w, "unknown phase "+string(p), http.StatusBadRequest)
		return
	}

	params := map[string]string{
		"epic_num":  epicID,
		"story_num": story,
		"story_key": epicID + "." + story,
	}
	_, prompt, err := s.compiler.Compile(r.Context(), p.Workflow(), params)
	if err != nil {
		HandleError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(prompt))
}

// validationArtifact is one evaluator's saved validation report.
type validationArtifact struct {
	Evaluator string `json:"evaluator"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

func (s *Server) handleGetValidations(w http.ResponseWriter, r *http.Request) {
	epicID := r.PathValue("epic")
	story := r.PathValue("story")

	prefix := "validation-" + epicID + "-" + story + "-"
	pattern := filepath.Join(s.project.ValidationsDir(), prefix+"*.md")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		HandleError(w, err)
		return
	}
	sort.Strings(matches)

	artifacts := []validationArtifact{}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("validation artifact unreadable", "path", path, "error", err)
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), prefix), ".md")
		artifacts = append(artifacts, validationArtifact{
			Evaluator: name,
			Path:      path,
			Content:   string(data),
		})
	}
	JSONResponse(w, map[string]any{"validations": artifacts})
}

// handleReportContent serves any text artifact inside the project root. Paths
// outside the root, including symlink escapes, are rejected.
func (s *Server) handleReportContent(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("path")
	if raw == "" {
		JSONError(w, "path query parameter is required", http.StatusBadRequest)
		return
	}
	path := raw
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.project.Root, path)
	}
	inside, err := s.project.Contains(path)
	if err != nil {
		HandleError(w, err)
		return
	}
	if !inside {
		HandleError(w, bmaderrors.ErrDashboard("path escapes the project root"))
		return
	}
	// A symlinked file inside the root may still point outside it.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		HandleError(w, bmaderrors.ErrDashboard("symlinked paths are not served"))
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			JSONError(w, "no such file", http.StatusNotFound)
			return
		}
		HandleError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(data)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := util.AtomicWriteFileString(s.project.PauseFlag(), "", 0o644); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"status": "pause requested"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := os.Remove(s.project.PauseFlag()); err != nil && !os.IsNotExist(err) {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"status": "resume requested"})
}
