package store

import "time"

// Session is a running or completed LLM CLI connection (spec.md §3.1).
type Session struct {
	ID               string
	Source           string
	ProjectID        *string
	Status           string
	ParentSessionID  *string
	SpawnedByAgentID *string
	AgentDepth       int
	TranscriptPath   string
	MachineID        string
	CompactMarkdown  *string
	TerminalContext  map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const (
	SessionStatusActive    = "active"
	SessionStatusPaused    = "paused"
	SessionStatusCompleted = "completed"
	SessionStatusExpired   = "expired"
	SessionStatusArchived  = "archived"
)

// Task is a unit of work in a project (spec.md §3.1).
type Task struct {
	ID                  string
	ProjectID           *string
	SeqNum              int
	Title               string
	Description         string
	Status              string
	Priority            int
	ParentTaskID        *string
	DependsOn           []string
	Category            *string
	ValidationCriteria  *string
	ValidationFailCount int
	ReferenceDoc        *string
	ExpansionContext    *string
	IsEnriched          bool
	IsExpanded          bool
	IsTDDApplied        bool
	CommitSHA           *string
	CreatedInSessionID  *string
	AssignedSessionID   *string
	PendingReviewAt     *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

const (
	TaskStatusPending       = "pending"
	TaskStatusInProgress    = "in_progress"
	TaskStatusPendingReview = "pending_review"
	TaskStatusCompleted     = "completed"
	TaskStatusBlocked       = "blocked"
	TaskStatusEscalated     = "escalated"
	TaskStatusCancelled     = "cancelled"
)

// WorkflowInstance is the runtime per-session projection of a workflow
// definition (spec.md §3.1).
type WorkflowInstance struct {
	ID               string
	SessionID        string
	WorkflowName     string
	Enabled          bool
	Priority         int
	CurrentStep      *string
	StepEnteredAt    *time.Time
	StepActionCount  int
	TotalActionCount int
	Variables        map[string]any
	ContextInjected  bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AgentRun is an outstanding or completed spawn (spec.md §3.1).
type AgentRun struct {
	ID              string
	ParentSessionID string
	ChildSessionID  *string
	WorkflowName    *string
	Provider        string
	Model           *string
	Mode            string
	Prompt          string
	Status          string
	WorktreeID      *string
	Result          map[string]any
	PartyID         *string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const (
	AgentRunStatusPending   = "pending"
	AgentRunStatusRunning   = "running"
	AgentRunStatusCompleted = "completed"
	AgentRunStatusCancelled = "cancelled"
	AgentRunStatusKilled    = "killed"
	AgentRunStatusError     = "error"
	AgentRunStatusTimeout   = "timeout"
)

// Worktree is an isolated filesystem workspace (spec.md §3.1).
type Worktree struct {
	ID             string
	ProjectID      string
	TaskID         *string
	BranchName     string
	FilesystemPath string
	BaseBranch     string
	AgentSessionID *string
	Status         string
	IsolationMode  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	MergedAt       *time.Time
}

const (
	WorktreeStatusActive    = "active"
	WorktreeStatusStale     = "stale"
	WorktreeStatusMerged    = "merged"
	WorktreeStatusAbandoned = "abandoned"
	WorktreeStatusClaimed   = "claimed"
	WorktreeStatusDeleted   = "deleted"
)

// Message is a point-to-point message between sessions (spec.md §3.1).
type Message struct {
	ID          string
	FromSession string
	ToSession   *string
	Content     string
	Priority    string
	MessageType string
	PartyID     *string
	SentAt      time.Time
	ReadAt      *time.Time
}

const (
	MessagePriorityNormal = "normal"
	MessagePriorityUrgent = "urgent"

	MessageTypeDirect         = "direct"
	MessageTypePartyBroadcast = "party_broadcast"
)

// Party is an orchestration of a heterogeneous role DAG (spec.md §3.1).
type Party struct {
	ID                 string
	DefinitionSnapshot map[string]any
	ProjectID          string
	Status             string
	LeaderSessionID    *string
	TaskID             *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

const (
	PartyStatusPending   = "pending"
	PartyStatusRunning   = "running"
	PartyStatusCompleted = "completed"
	PartyStatusFailed    = "failed"
	PartyStatusCancelled = "cancelled"
)

// PartyMember-only statuses, beyond the Party-wide ones above: a member
// can additionally be paused (on_crash: pause, awaiting a notified
// human to resume it) or killed outright (on_crash: abort sweeping the
// rest of the party).
const (
	PartyMemberStatusPaused = "paused"
	PartyMemberStatusKilled = "killed"
)

// PartyMember is one role instance within a Party.
type PartyMember struct {
	ID            string
	PartyID       string
	RoleName      string
	InstanceIndex int
	SessionID     *string
	Status        string
	CrashCount    int
	OnCrash       string
	MaxRetries    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PipelineRun is one in-flight or completed execution of a pipeline
// definition (spec.md §4.7): step_index is the next step to run,
// resume_token is what a parked run's approval event is correlated
// back against.
type PipelineRun struct {
	ID           string
	SessionID    string
	PipelineName string
	StepIndex    int
	Args         map[string]any
	Output       map[string]any
	Status       string
	ResumeToken  string
	Error        *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const (
	PipelineRunStatusRunning   = "running"
	PipelineRunStatusParked    = "parked"
	PipelineRunStatusCompleted = "completed"
	PipelineRunStatusFailed    = "failed"
)

// StopSignal is a thread-safe flag used to halt autonomous loops
// (spec.md §3.1).
type StopSignal struct {
	ID          string
	SessionID   *string // nil = global
	Reason      string
	RequestedAt time.Time
	HandledAt   *time.Time
}
