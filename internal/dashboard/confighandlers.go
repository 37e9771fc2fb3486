package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bmad-assist/bmad-assist/internal/config"
	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
	"github.com/bmad-assist/bmad-assist/internal/events"
	"github.com/bmad-assist/bmad-assist/internal/util"
)

// configBackupsKept bounds the import backup rotation.
const configBackupsKept = 5

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, config.Redacted(config.LoadOrDefault(s.project.Root)))
}

func (s *Server) handleConfigSchema(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, map[string]any{"fields": config.Schema()})
}

func (s *Server) handleGetConfigValue(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		JSONError(w, "path query parameter is required", http.StatusBadRequest)
		return
	}
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = config.ScopeMerged
	}
	value, found, err := config.GetScoped(s.project.Root, scope, path)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]any{
		"path":  path,
		"scope": scope,
		"found": found,
		"value": value,
		"class": config.ClassOf(path),
	})
}

// putValueRequest is the PUT /api/config/value body.
type putValueRequest struct {
	Scope string `json:"scope,omitempty"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

func (s *Server) handlePutConfigValue(w http.ResponseWriter, r *http.Request) {
	var req putValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		JSONError(w, "path is required", http.StatusBadRequest)
		return
	}
	if req.Scope == "" {
		req.Scope = config.ScopeProject
	}
	if err := config.SetScoped(s.project.Root, req.Scope, req.Path, req.Value); err != nil {
		HandleError(w, err)
		return
	}
	s.broadcastConfigReloaded()
	JSONResponse(w, map[string]any{
		"path":  req.Path,
		"scope": req.Scope,
		"class": config.ClassOf(req.Path),
	})
}

func (s *Server) handleConfigExport(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = config.ScopeMerged
	}
	data, err := config.Export(s.project.Root, scope)
	if err != nil {
		HandleError(w, err)
		return
	}
	filename := fmt.Sprintf("bmad-assist-config-%s-%s.yaml", scope, time.Now().Format("20060102"))
	w.Header().Set("Content-Type", "application/x-yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(data)
}

// importRequest is the POST /api/config/import body. Apply false previews
// only; apply true writes the project config layer.
type importRequest struct {
	Content string `json:"content"`
	Apply   bool   `json:"apply"`
}

// importPreview is returned for both preview and apply.
type importPreview struct {
	Valid       bool                    `json:"valid"`
	Applied     bool                    `json:"applied"`
	Changes     []config.Change         `json:"changes"`
	RiskyFields []string                `json:"risky_fields,omitempty"`
	Errors      []bmaderrors.FieldError `json:"errors,omitempty"`
	BackupPath  string                  `json:"backup_path,omitempty"`
}

func (s *Server) handleConfigImport(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Dashboard.ImportMaxBytes
	if limit <= 0 {
		limit = 256 * 1024
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(limit)))
	if err != nil {
		JSONError(w, fmt.Sprintf("import exceeds the %d byte limit", limit), http.StatusRequestEntityTooLarge)
		return
	}
	var req importRequest
	if err := json.Unmarshal(body, &req); err != nil {
		JSONError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}

	incoming, err := config.ParseLayer([]byte(req.Content))
	if err != nil {
		HandleError(w, err)
		return
	}
	dropRedacted(incoming)

	preview := importPreview{}
	if err := config.ValidateLayer(incoming); err != nil {
		var verr *bmaderrors.ValidationError
		if errors.As(err, &verr) {
			preview.Errors = verr.Errors
		} else {
			preview.Errors = []bmaderrors.FieldError{{Loc: "", Msg: err.Error(), Type: "invalid"}}
		}
		JSONResponseStatus(w, preview, http.StatusUnprocessableEntity)
		return
	}
	preview.Valid = true

	current := s.currentProjectLayer()
	preview.Changes = config.DiffLayers(current, incoming)
	for _, ch := range preview.Changes {
		if config.ClassOf(ch.Path) == config.ClassRisky {
			preview.RiskyFields = append(preview.RiskyFields, ch.Path)
		}
	}

	if !req.Apply {
		JSONResponse(w, preview)
		return
	}

	projectConfig := s.project.ProjectConfig()
	if backup, err := s.rotateConfigBackup(projectConfig); err != nil {
		HandleError(w, err)
		return
	} else {
		preview.BackupPath = backup
	}

	out, err := yaml.Marshal(incoming)
	if err != nil {
		HandleError(w, err)
		return
	}
	if err := util.AtomicWriteFile(projectConfig, out, 0o644); err != nil {
		HandleError(w, err)
		return
	}
	preview.Applied = true
	s.broadcastConfigReloaded()
	JSONResponse(w, preview)
}

// currentProjectLayer reads the existing project config layer, empty when
// none exists yet.
func (s *Server) currentProjectLayer() map[string]any {
	data, err := os.ReadFile(s.project.ProjectConfig())
	if err != nil {
		return map[string]any{}
	}
	raw, err := config.ParseLayer(data)
	if err != nil {
		return map[string]any{}
	}
	return raw
}

// rotateConfigBackup copies the current project config aside and prunes old
// backups. No existing config means no backup.
func (s *Server) rotateConfigBackup(configPath string) (string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	dir := filepath.Join(s.project.ToolDir(), "config-backups")
	name := fmt.Sprintf("config-%s.yaml", time.Now().Format("20060102T150405"))
	backup := filepath.Join(dir, name)
	if err := util.AtomicWriteFile(backup, data, 0o644); err != nil {
		return "", err
	}

	matches, err := filepath.Glob(filepath.Join(dir, "config-*.yaml"))
	if err != nil {
		return backup, nil
	}
	sort.Strings(matches)
	for len(matches) > configBackupsKept {
		if err := os.Remove(matches[0]); err != nil {
			s.logger.Warn("could not prune config backup", "path", matches[0], "error", err)
		}
		matches = matches[1:]
	}
	return backup, nil
}

func (s *Server) broadcastConfigReloaded() {
	s.pub.Publish(events.Event{
		Type: events.EventConfigReloaded,
		Time: time.Now().UTC(),
	})
}

// dropRedacted removes entries whose value is the export redaction marker so
// a round-tripped export never writes the marker into a real config file.
func dropRedacted(m map[string]any) {
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			dropRedacted(sub)
			if len(sub) == 0 {
				delete(m, k)
			}
			continue
		}
		if str, ok := v.(string); ok && str == config.RedactedValue {
			delete(m, k)
		}
	}
}
