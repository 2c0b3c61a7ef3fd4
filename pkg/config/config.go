package config

import (
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

//go:embed bundled
var bundledFS embed.FS

// Dirs are the three precedence tiers the loader reads from, in
// lowest-to-highest precedence order: bundled ships inside the binary,
// user lives under the operator's home directory, project lives under
// the project root being orchestrated. Project overrides user overrides
// bundled, keyed by definition name (spec.md §4.1 "Loading & indexing").
type Dirs struct {
	UserDir    string
	ProjectDir string
}

// DefaultDirs resolves the user/project tiers the way gobbyd does by
// default: ~/.gobby for the user tier, .gobby under the given project
// root; each tier's workflows/, agents/, parties/ and pipelines/
// subdirectories are read from there.
func DefaultDirs(projectRoot string) Dirs {
	home, _ := os.UserHomeDir()
	return Dirs{
		UserDir:    filepath.Join(home, ".gobby"),
		ProjectDir: filepath.Join(projectRoot, ".gobby"),
	}
}

// Config is the umbrella object handed to every component at startup.
// It owns the three definition registries; nothing outside this
// package mutates them after Load returns.
type Config struct {
	Workflows *WorkflowRegistry
	Agents    *AgentDefinitionRegistry
	Parties   *PartyDefinitionRegistry
	Pipelines *PipelineDefinitionRegistry

	log *slog.Logger
}

// Load reads workflow/agent/party definitions from the bundled,
// user and project tiers, merges by name with project-over-user-
// over-bundled precedence, expands ${ENV_VAR} references, validates,
// and builds the trigger index. Every validation problem found across
// every file is collected into a single *LoadError rather than
// stopping at the first one (spec.md §4.B point 3).
func Load(dirs Dirs, log *slog.Logger) (*Config, error) {
	if log == nil {
		log = slog.Default()
	}
	l := &configLoader{dirs: dirs, log: log}
	return l.load()
}

type configLoader struct {
	dirs Dirs
	log  *slog.Logger
}

type tier struct {
	name string
	fsys fileSource
}

func (l *configLoader) load() (*Config, error) {
	cfg := &Config{
		Workflows: newWorkflowRegistry(),
		Agents:    newAgentDefinitionRegistry(),
		Parties:   newPartyDefinitionRegistry(),
		Pipelines: newPipelineDefinitionRegistry(),
		log:       l.log,
	}

	tiers := []tier{
		{name: "bundled", fsys: embedSource{bundledFS, "bundled"}},
		{name: "user", fsys: dirSource{l.dirs.UserDir}},
		{name: "project", fsys: dirSource{l.dirs.ProjectDir}},
	}

	var loadErrs []error
	for _, t := range tiers {
		if err := l.loadTier(cfg, t); err != nil {
			loadErrs = append(loadErrs, err)
		}
	}

	cfg.Workflows.build()

	if errs := validateConfig(cfg); len(errs) > 0 {
		loadErrs = append(loadErrs, errs...)
	}

	if len(loadErrs) > 0 {
		return nil, &LoadError{Path: l.dirs.ProjectDir, Errors: loadErrs}
	}

	l.log.Info("config loaded",
		"workflows", len(cfg.Workflows.All()),
		"agents", len(cfg.Agents.All()),
		"parties", len(cfg.Parties.All()))
	return cfg, nil
}

func (l *configLoader) loadTier(cfg *Config, t tier) error {
	entries, err := t.fsys.listYAML("workflows")
	if err == nil {
		for _, name := range entries {
			if err := l.loadWorkflowFile(cfg, t, name); err != nil {
				return fmt.Errorf("%s tier, workflow file %s: %w", t.name, name, err)
			}
		}
	}

	entries, err = t.fsys.listYAML("agents")
	if err == nil {
		for _, name := range entries {
			if err := l.loadAgentFile(cfg, t, name); err != nil {
				return fmt.Errorf("%s tier, agent file %s: %w", t.name, name, err)
			}
		}
	}

	entries, err = t.fsys.listYAML("parties")
	if err == nil {
		for _, name := range entries {
			if err := l.loadPartyFile(cfg, t, name); err != nil {
				return fmt.Errorf("%s tier, party file %s: %w", t.name, name, err)
			}
		}
	}

	entries, err = t.fsys.listYAML("pipelines")
	if err == nil {
		for _, name := range entries {
			if err := l.loadPipelineFile(cfg, t, name); err != nil {
				return fmt.Errorf("%s tier, pipeline file %s: %w", t.name, name, err)
			}
		}
	}
	return nil
}

func (l *configLoader) loadWorkflowFile(cfg *Config, t tier, name string) error {
	defs, path, err := readYAMLSlice[WorkflowDefinition](t.fsys, "workflows", name)
	if err != nil {
		return err
	}
	for i := range defs {
		defs[i].SourcePath = path
		defs[i].Tier = t.name
		cfg.Workflows.add(&defs[i])
	}
	return nil
}

func (l *configLoader) loadAgentFile(cfg *Config, t tier, name string) error {
	defs, path, err := readYAMLSlice[AgentDefinition](t.fsys, "agents", name)
	if err != nil {
		return err
	}
	for i := range defs {
		defs[i].SourcePath = path
		defs[i].Tier = t.name
		mergeAgentDefaults(&defs[i])
		cfg.Agents.add(&defs[i])
	}
	return nil
}

func (l *configLoader) loadPartyFile(cfg *Config, t tier, name string) error {
	defs, path, err := readYAMLSlice[PartyDefinition](t.fsys, "parties", name)
	if err != nil {
		return err
	}
	for i := range defs {
		defs[i].SourcePath = path
		defs[i].Tier = t.name
		mergePartyRecoveryDefaults(&defs[i])
		cfg.Parties.add(&defs[i])
	}
	return nil
}

func (l *configLoader) loadPipelineFile(cfg *Config, t tier, name string) error {
	defs, path, err := readYAMLSlice[PipelineDefinition](t.fsys, "pipelines", name)
	if err != nil {
		return err
	}
	for i := range defs {
		defs[i].SourcePath = path
		defs[i].Tier = t.name
		cfg.Pipelines.add(&defs[i])
	}
	return nil
}
