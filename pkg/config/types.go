package config

// WorkflowDefinition is the declarative shape loaded from
// workflows/*.yaml: a named set of triggers and optional steps that
// react to hook events (spec.md §3.2).
type WorkflowDefinition struct {
	Name              string                   `yaml:"name"`
	Priority          int                      `yaml:"priority"`
	EnabledDefault    bool                     `yaml:"enabled_default"`
	Sources           []string                 `yaml:"sources,omitempty"`
	WorkflowVariables map[string]any           `yaml:"workflow_variables,omitempty"`
	SessionVariables  map[string]any           `yaml:"session_variables,omitempty"`
	Triggers          map[string][]TriggerRule `yaml:"triggers,omitempty"`
	Steps             []WorkflowStep           `yaml:"steps,omitempty"`
	Observers         []string                 `yaml:"observers,omitempty"`
	ExitCondition     string                   `yaml:"exit_condition,omitempty"`

	// SourcePath records which file this definition was parsed from, and
	// Tier records which precedence layer it came from (bundled/user/
	// project) for diagnostics and for the override-by-name merge.
	SourcePath string `yaml:"-"`
	Tier       string `yaml:"-"`
}

// TriggerRule is one entry in a trigger event's ordered action-block
// list. The first rule whose `when` expression evaluates true (or has
// no `when` at all) wins; the rest of the block for that event is
// skipped (spec.md §4.1, "first-block-wins").
type TriggerRule struct {
	When   string         `yaml:"when,omitempty"`
	Action string         `yaml:"action"`
	With   map[string]any `yaml:"with,omitempty"`
}

// WorkflowStep is one state in a workflow's optional step state
// machine. Steps transition via `next`, bounded to at most eight
// transitions per hook evaluation (spec.md §4.1).
type WorkflowStep struct {
	Name         string           `yaml:"name"`
	OnEnter      []TriggerRule    `yaml:"on_enter,omitempty"`
	OnExit       []TriggerRule    `yaml:"on_exit,omitempty"`
	AllowedTools []string         `yaml:"allowed_tools,omitempty"`
	Rules        []ToolRule       `yaml:"rules,omitempty"`
	Next         []StepTransition `yaml:"next,omitempty"`
}

// ToolRule is an explicit allow/block override for one tool name,
// checked ahead of a step's allowed_tools list (spec.md §4.1 step 3c
// precedence: explicit block > explicit allow > step allowed_tools >
// default allow).
type ToolRule struct {
	Tool     string `yaml:"tool"`
	Decision string `yaml:"decision"` // "allow" or "block"
	When     string `yaml:"when,omitempty"`

	// Schema, when set, is a JSON Schema document the tool's structured
	// input must validate against for this rule to match at all — e.g.
	// blocking write_file only for inputs shaped like a path outside an
	// allowed root, rather than every write_file call.
	Schema map[string]any `yaml:"schema,omitempty"`
}

// StepTransition is one candidate outgoing edge from a step, guarded by
// an optional `when` expression.
type StepTransition struct {
	When string `yaml:"when,omitempty"`
	To   string `yaml:"to"`
}

// AgentDefinition describes how to spawn one kind of agent: which CLI
// source, which spawn mode, and the worktree isolation policy to apply
// when the caller does not supply a worktree (spec.md §4.3).
type AgentDefinition struct {
	Name              string   `yaml:"name"`
	Source            string   `yaml:"source"`     // claude, gemini, codex, claude_sdk, generic
	SpawnMode         string   `yaml:"spawn_mode"` // in_process, headless, terminal, embedded
	Command           string   `yaml:"command,omitempty"`
	Args              []string `yaml:"args,omitempty"`
	WorktreeIsolation string   `yaml:"worktree_isolation,omitempty"` // worktree, clone
	MaxAgentDepth     int      `yaml:"max_agent_depth,omitempty"`

	SourcePath string `yaml:"-"`
	Tier       string `yaml:"-"`
}

// PartyDefinition is the declarative DAG of cooperating agent roles
// (spec.md §4.4): role_name -> role spec, plus a dependency map forming
// a DAG, plus party-wide recovery defaults overridden per-role.
type PartyDefinition struct {
	Name      string               `yaml:"name"`
	Roles     map[string]PartyRole `yaml:"roles"`
	DependsOn map[string][]string  `yaml:"depends_on,omitempty"`
	Recovery  RecoveryPolicy       `yaml:"recovery,omitempty"`

	SourcePath string `yaml:"-"`
	Tier       string `yaml:"-"`
}

// PartyRole is one role_name entry of a PartyDefinition.
type PartyRole struct {
	AgentDefinition string          `yaml:"agent_definition"`
	Workflow        string          `yaml:"workflow,omitempty"`
	Count           int             `yaml:"count,omitempty"`
	OnCrash         string          `yaml:"on_crash,omitempty"` // restart, pause, abort
	RetryAttempts   int             `yaml:"retry_attempts,omitempty"`
	Notify          string          `yaml:"notify,omitempty"` // leader, user, party
	Recovery        *RecoveryPolicy `yaml:"recovery,omitempty"`
}

// RecoveryPolicy is the default on_crash/retry shape merged (via mergo)
// into any per-role override left unset.
type RecoveryPolicy struct {
	OnCrash       string `yaml:"on_crash,omitempty"`
	RetryAttempts int    `yaml:"retry_attempts,omitempty"`
	Notify        string `yaml:"notify,omitempty"`
}

func defaultRecoveryPolicy() RecoveryPolicy {
	return RecoveryPolicy{OnCrash: "pause", RetryAttempts: 1, Notify: "leader"}
}

// PipelineDefinition is the declarative ordered step sequence the
// Pipeline Executor runs (spec.md §4.7): a pipeline's steps are
// deterministic, unlike a workflow's event-triggered rules, and may
// park on an approval gate for the Workflow Engine's run_pipeline
// action to resume later.
type PipelineDefinition struct {
	Name  string         `yaml:"name"`
	Steps []PipelineStep `yaml:"steps"`

	SourcePath string `yaml:"-"`
	Tier       string `yaml:"-"`
}

// PipelineStep is one step of a PipelineDefinition. Kind selects which
// of With's fields apply: exec/prompt/mcp/invoke_pipeline/
// spawn_session/activate_workflow (spec.md §4.7).
type PipelineStep struct {
	Name            string         `yaml:"name"`
	Kind            string         `yaml:"kind"`
	With            map[string]any `yaml:"with,omitempty"`
	RequireApproval bool           `yaml:"require_approval,omitempty"`
}
