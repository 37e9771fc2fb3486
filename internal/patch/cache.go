package patch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bmad-assist/bmad-assist/internal/compiler"
	"github.com/bmad-assist/bmad-assist/internal/config"
	"github.com/bmad-assist/bmad-assist/internal/paths"
	"github.com/bmad-assist/bmad-assist/internal/provider"
	"github.com/bmad-assist/bmad-assist/internal/util"
)

// Meta is the cache sidecar recording what a template was built from.
type Meta struct {
	SourceHash   string    `yaml:"source_hash"`
	PatchName    string    `yaml:"patch_name"`
	PatchVersion string    `yaml:"patch_version"`
	Workflow     string    `yaml:"workflow"`
	CreatedAt    time.Time `yaml:"created_at"`
}

// Cache is the patch-aware workflow preloader. On a cache hit it serves the
// stored template without any LLM call; on a miss it runs the transform and
// stores the result. Any patch failure falls back to the raw workflow with a
// warning; a broken patch never blocks compilation.
type Cache struct {
	project *paths.Project
	cfg     *config.Config
	patcher provider.Provider
}

// NewCache creates the template cache. patcher may be nil, which disables
// transforms entirely (cached templates are still served).
func NewCache(project *paths.Project, cfg *config.Config, patcher provider.Provider) *Cache {
	return &Cache{project: project, cfg: cfg, patcher: patcher}
}

var _ compiler.Preloader = (*Cache)(nil)

// Preload implements compiler.Preloader.
func (c *Cache) Preload(ctx context.Context, workflowName, dir string) (*compiler.WorkflowIR, error) {
	ir, err := compiler.LoadWorkflowIR(dir)
	if err != nil {
		return nil, err
	}
	if !c.cfg.Patch.Enabled {
		return ir, nil
	}

	p, err := Discover(c.project, workflowName)
	if err != nil {
		slog.Warn("patch unusable, compiling raw workflow", "workflow", workflowName, "error", err)
		return ir, nil
	}
	if p == nil {
		return ir, nil
	}

	hash, err := SourceHash(dir, p.Path)
	if err != nil {
		slog.Warn("source hashing failed, compiling raw workflow", "workflow", workflowName, "error", err)
		return ir, nil
	}

	if tpl, ok := c.lookup(workflowName, hash); ok {
		ir.RawInstructions = tpl
		ir.Patched = true
		return ir, nil
	}

	tpl, err := c.compile(ctx, workflowName, ir.RawInstructions, p)
	if err != nil {
		slog.Warn("patch transform failed, compiling raw workflow", "workflow", workflowName, "error", err)
		return ir, nil
	}
	c.store(workflowName, hash, p, tpl)
	ir.RawInstructions = tpl
	ir.Patched = true
	return ir, nil
}

// templatePath and metaPath locate the cache pair for a workflow.
func (c *Cache) templatePath(workflow string) string {
	return filepath.Join(c.project.CacheDir(), workflow+".tpl.xml")
}

func (c *Cache) metaPath(workflow string) string {
	return filepath.Join(c.project.CacheDir(), workflow+".meta.yaml")
}

// lookup serves the cached template when the recorded hash matches.
func (c *Cache) lookup(workflow, hash string) (string, bool) {
	metaData, err := os.ReadFile(c.metaPath(workflow))
	if err != nil {
		return "", false
	}
	var meta Meta
	if err := yaml.Unmarshal(metaData, &meta); err != nil {
		return "", false
	}
	if meta.SourceHash != hash {
		return "", false
	}
	tpl, err := os.ReadFile(c.templatePath(workflow))
	if err != nil {
		return "", false
	}
	slog.Debug("template cache hit", "workflow", workflow, "hash", hash)
	return string(tpl), true
}

// compile runs the LLM transform and appends git intelligence when configured.
func (c *Cache) compile(ctx context.Context, workflow, raw string, p *Patch) (string, error) {
	if c.patcher == nil {
		return "", errNoPatcher
	}
	req := provider.Request{
		Model:   c.cfg.PatcherRef().Model,
		Timeout: time.Duration(c.cfg.Providers.TimeoutSec) * time.Second,
		WorkDir: c.project.Root,
	}
	doc, err := runTransform(ctx, c.patcher, req, raw, p, c.cfg.Patch.MaxRetries)
	if err != nil {
		return "", err
	}
	if git := GitIntelligence(ctx, c.project.Root, c.cfg.Patch.GitCommands, c.cfg.Patch.GitMarkerTag, nil); git != "" {
		doc = doc + "\n\n" + git
	}
	return doc, nil
}

// store persists the template and meta pair atomically. Failure only costs
// the cache, not the compile.
func (c *Cache) store(workflow, hash string, p *Patch, tpl string) {
	if err := util.AtomicWriteFileString(c.templatePath(workflow), tpl, 0644); err != nil {
		slog.Warn("template cache write failed", "workflow", workflow, "error", err)
		return
	}
	meta := Meta{
		SourceHash:   hash,
		PatchName:    p.Config.Name,
		PatchVersion: p.Config.Version,
		Workflow:     workflow,
		CreatedAt:    time.Now().UTC(),
	}
	if err := util.AtomicWriteYAML(c.metaPath(workflow), meta, 0644); err != nil {
		slog.Warn("template meta write failed", "workflow", workflow, "error", err)
	}
}
