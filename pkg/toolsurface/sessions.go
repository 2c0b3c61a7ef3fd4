package toolsurface

import (
	"context"
	"fmt"
	"strings"

	"github.com/gobby-dev/gobby/pkg/store"
)

func init() {
	register("sessions.get_session", sessionsGetSession)
	register("sessions.get_current_session", sessionsGetCurrentSession)
	register("sessions.list_sessions", sessionsListSessions)
	register("sessions.create_handoff", sessionsCreateHandoff)
	register("sessions.get_handoff_context", sessionsGetHandoffContext)
	register("sessions.get_session_commits", sessionsGetSessionCommits)
	register("sessions.get_session_messages", sessionsGetSessionMessages)
	register("sessions.search_messages", sessionsSearchMessages)
}

// handoffContextKey mirrors the session-variable key
// engine.extractHandoffContext already writes from a `when` rule
// action, so create_handoff/get_handoff_context read back the exact
// same convention regardless of which path populated it.
const handoffContextKey = "handoff_context"

func sessionToMap(s *store.Session) map[string]any {
	return map[string]any{
		"id":               s.ID,
		"source":           s.Source,
		"project_id":       derefStr(s.ProjectID),
		"status":           s.Status,
		"parent_session_id": derefStr(s.ParentSessionID),
		"agent_depth":      s.AgentDepth,
	}
}

func sessionsGetSession(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	sess, err := t.store.Sessions.Get(ctx, argString(args, "session_id"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: get_session: %w", err)
	}
	return sessionToMap(sess), nil
}

func sessionsGetCurrentSession(ctx context.Context, t *Toolbox, sessionID string, _ map[string]any) (map[string]any, error) {
	sess, err := t.store.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("toolsurface: get_current_session: %w", err)
	}
	return sessionToMap(sess), nil
}

func sessionsListSessions(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	sessions, err := t.store.Sessions.ListByProject(ctx, argString(args, "project_id"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: list_sessions: %w", err)
	}
	out := make([]map[string]any, len(sessions))
	for i, s := range sessions {
		out[i] = sessionToMap(s)
	}
	return map[string]any{"sessions": out}, nil
}

// CreateHandoff implements sessions.create_handoff: stores the
// caller-supplied context map under the caller's handoff_context
// session variable so a freshly spawned agent (which starts with no
// workflow-scoped state of its own) can read it back through
// get_handoff_context.
func (t *Toolbox) CreateHandoff(ctx context.Context, sessionID string, context map[string]any) error {
	vars, err := t.store.SessionVars.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	vars[handoffContextKey] = context
	return t.store.SessionVars.Set(ctx, sessionID, vars)
}

func sessionsCreateHandoff(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	if err := t.CreateHandoff(ctx, sessionID, argMap(args, "context")); err != nil {
		return nil, fmt.Errorf("toolsurface: create_handoff: %w", err)
	}
	return nil, nil
}

func sessionsGetHandoffContext(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	target := sessionID
	if s := argString(args, "session_id"); s != "" {
		target = s
	}
	vars, err := t.store.SessionVars.Get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("toolsurface: get_handoff_context: %w", err)
	}
	handoff, _ := vars[handoffContextKey].(map[string]any)
	return map[string]any{"context": handoff}, nil
}

// get_session_commits aggregates commit_sha across every task the
// session created or was assigned — there is no separate commit-log
// table (DESIGN.md "Tool surface").
func sessionsGetSessionCommits(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	target := sessionID
	if s := argString(args, "session_id"); s != "" {
		target = s
	}
	taskRows, err := t.store.Tasks.ListBySession(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("toolsurface: get_session_commits: %w", err)
	}
	var commits []map[string]any
	for _, task := range taskRows {
		if task.CommitSHA == nil {
			continue
		}
		commits = append(commits, map[string]any{"task_id": task.ID, "commit_sha": *task.CommitSHA})
	}
	return map[string]any{"commits": commits}, nil
}

func sessionsGetSessionMessages(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	target := sessionID
	if s := argString(args, "session_id"); s != "" {
		target = s
	}
	msgs, err := t.store.Messages.Poll(ctx, target, true)
	if err != nil {
		return nil, fmt.Errorf("toolsurface: get_session_messages: %w", err)
	}
	out := make([]map[string]any, len(msgs))
	for i, m := range msgs {
		out[i] = messageToMap(m)
	}
	return map[string]any{"messages": out}, nil
}

// search_messages is a substring scan over Poll(includeRead: true)'s
// results; messages are a small per-session inbox, not a corpus, so no
// full-text search library is wired in here (DESIGN.md "Tool surface").
func sessionsSearchMessages(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	target := sessionID
	if s := argString(args, "session_id"); s != "" {
		target = s
	}
	msgs, err := t.store.Messages.Poll(ctx, target, true)
	if err != nil {
		return nil, fmt.Errorf("toolsurface: search_messages: %w", err)
	}
	query := strings.ToLower(argString(args, "query"))
	var out []map[string]any
	for _, m := range msgs {
		if query == "" || strings.Contains(strings.ToLower(m.Content), query) {
			out = append(out, messageToMap(m))
		}
	}
	return map[string]any{"messages": out}, nil
}
