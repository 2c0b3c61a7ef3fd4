package toolsurface

import (
	"context"
	"fmt"
	"time"

	"github.com/gobby-dev/gobby/pkg/bus"
	"github.com/gobby-dev/gobby/pkg/registry"
	"github.com/gobby-dev/gobby/pkg/spawner"
	"github.com/gobby-dev/gobby/pkg/store"
)

func init() {
	register("agents.start_agent", agentsStartAgent)
	register("agents.kill_agent", agentsKillAgent)
	register("agents.cancel_agent", agentsCancelAgent)
	register("agents.list_agents", agentsListAgents)
	register("agents.get_agent_result", agentsGetAgentResult)
	register("agents.complete", agentsComplete)
	register("agents.send_to_parent", agentsSendToParent)
	register("agents.send_to_child", agentsSendToChild)
	register("agents.broadcast_to_children", agentsBroadcastToChildren)
	register("agents.send_message", agentsSendMessage)
	register("agents.poll_messages", agentsPollMessages)
	register("agents.mark_read", agentsMarkRead)
}

// StartAgent implements agents.start_agent (spec.md §4.3, §6.1).
func (t *Toolbox) StartAgent(ctx context.Context, sessionID string, p registry.SpawnParams) (*registry.SpawnResult, error) {
	if t.registry == nil {
		return nil, fmt.Errorf("toolsurface: no agent registry configured")
	}
	p.ParentSessionID = sessionID
	return t.registry.Spawn(ctx, p)
}

func agentsStartAgent(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	var timeout time.Duration
	if secs := argInt(args, "timeout_seconds"); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	res, err := t.StartAgent(ctx, sessionID, registry.SpawnParams{
		AgentDefinition:   argString(args, "agent_definition"),
		Workflow:          argString(args, "workflow"),
		TaskID:            argStringPtr(args, "task_id"),
		Prompt:            argString(args, "prompt"),
		WorktreeID:        argStringPtr(args, "worktree_id"),
		PartyID:           argStringPtr(args, "party_id"),
		Variables:         argMap(args, "variables"),
		Timeout:           timeout,
		IsolationOverride: argString(args, "isolation"),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"run_id": res.RunID, "session_id": res.SessionID, "child_fd": res.ChildFD}, nil
}

func agentsKillAgent(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	return terminateRun(ctx, t, args, spawner.TerminateForce)
}

func agentsCancelAgent(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	return terminateRun(ctx, t, args, spawner.TerminatePolite)
}

func terminateRun(ctx context.Context, t *Toolbox, args map[string]any, style spawner.TerminateStyle) (map[string]any, error) {
	if t.registry == nil {
		return nil, fmt.Errorf("toolsurface: no agent registry configured")
	}
	var grace time.Duration
	if secs := argInt(args, "grace_seconds"); secs > 0 {
		grace = time.Duration(secs) * time.Second
	}
	res, err := t.registry.Terminate(ctx, argString(args, "run_id"), style, grace)
	if err != nil {
		return nil, err
	}
	return map[string]any{"already_dead": res.AlreadyDead}, nil
}

func agentsListAgents(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	parent := sessionID
	if p := argString(args, "parent_session_id"); p != "" {
		parent = p
	}
	runs, err := t.store.AgentRuns.ListByParentSession(ctx, parent)
	if err != nil {
		return nil, fmt.Errorf("toolsurface: list_agents: %w", err)
	}
	out := make([]map[string]any, len(runs))
	for i, r := range runs {
		out[i] = agentRunToMap(r)
	}
	return map[string]any{"runs": out}, nil
}

func agentsGetAgentResult(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	run, err := t.store.AgentRuns.Get(ctx, argString(args, "run_id"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: get_agent_result: %w", err)
	}
	return agentRunToMap(run), nil
}

// Complete implements agents.complete: a running agent self-reports
// its outcome, transitioning the run to a terminal status.
func (t *Toolbox) Complete(ctx context.Context, runID string, result map[string]any, failed bool) error {
	if t.registry == nil {
		return fmt.Errorf("toolsurface: no agent registry configured")
	}
	status := store.AgentRunStatusCompleted
	if failed {
		status = store.AgentRunStatusError
	}
	return t.registry.Finish(ctx, runID, status, result)
}

func agentsComplete(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	return nil, t.Complete(ctx, argString(args, "run_id"), argMap(args, "result"), argBool(args, "failed"))
}

func agentRunToMap(r *store.AgentRun) map[string]any {
	return map[string]any{
		"id":                r.ID,
		"parent_session_id": r.ParentSessionID,
		"child_session_id":  derefStr(r.ChildSessionID),
		"status":            r.Status,
		"mode":              r.Mode,
		"provider":          r.Provider,
		"result":            r.Result,
	}
}

// --- messaging (spec.md §4.5, exposed under the agents namespace) ---

func (t *Toolbox) sendMessage(ctx context.Context, from string, to *string, content, msgType string, partyID *string) (*store.Message, error) {
	msg, err := t.store.Messages.Send(ctx, &store.Message{
		FromSession: from,
		ToSession:   to,
		Content:     content,
		MessageType: msgType,
		PartyID:     partyID,
	})
	if err != nil {
		return nil, err
	}
	if t.bus != nil && to != nil {
		t.bus.Publish(bus.Event{
			Type:    bus.EventTypeMessageReceived,
			Channel: bus.SessionChannel(*to),
			Data:    map[string]any{"message_id": msg.ID, "from_session": from},
		})
	}
	return msg, nil
}

func agentsSendToParent(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	sess, err := t.store.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("toolsurface: send_to_parent: %w", err)
	}
	if sess.ParentSessionID == nil {
		return nil, fmt.Errorf("toolsurface: send_to_parent: session %s has no parent", sessionID)
	}
	msg, err := t.sendMessage(ctx, sessionID, sess.ParentSessionID, argString(args, "content"), store.MessageTypeDirect, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"message_id": msg.ID}, nil
}

func agentsSendToChild(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	child := argString(args, "child_session_id")
	msg, err := t.sendMessage(ctx, sessionID, &child, argString(args, "content"), store.MessageTypeDirect, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"message_id": msg.ID}, nil
}

// broadcastToChildren fans a message out to every run this session
// spawned, addressing each one's child session individually since
// messages have a single to_session, not a list.
func agentsBroadcastToChildren(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	runs, err := t.store.AgentRuns.ListByParentSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("toolsurface: broadcast_to_children: %w", err)
	}
	content := argString(args, "content")
	sent := 0
	for _, r := range runs {
		if r.ChildSessionID == nil {
			continue
		}
		if _, err := t.sendMessage(ctx, sessionID, r.ChildSessionID, content, store.MessageTypeDirect, nil); err != nil {
			return nil, fmt.Errorf("toolsurface: broadcast_to_children: %w", err)
		}
		sent++
	}
	return map[string]any{"sent": sent}, nil
}

func agentsSendMessage(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	to := argStringPtr(args, "to_session_id")
	msgType := store.MessageTypeDirect
	var partyID *string
	if to == nil {
		msgType = store.MessageTypePartyBroadcast
		partyID = argStringPtr(args, "party_id")
	}
	msg, err := t.sendMessage(ctx, sessionID, to, argString(args, "content"), msgType, partyID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"message_id": msg.ID}, nil
}

func agentsPollMessages(ctx context.Context, t *Toolbox, sessionID string, args map[string]any) (map[string]any, error) {
	msgs, err := t.store.Messages.Poll(ctx, sessionID, argBool(args, "include_read"))
	if err != nil {
		return nil, fmt.Errorf("toolsurface: poll_messages: %w", err)
	}
	out := make([]map[string]any, len(msgs))
	for i, m := range msgs {
		out[i] = messageToMap(m)
	}
	return map[string]any{"messages": out}, nil
}

func agentsMarkRead(ctx context.Context, t *Toolbox, _ string, args map[string]any) (map[string]any, error) {
	return nil, t.store.Messages.MarkRead(ctx, argStringSlice(args, "message_ids"))
}

func messageToMap(m *store.Message) map[string]any {
	return map[string]any{
		"id":           m.ID,
		"from_session": m.FromSession,
		"to_session":   derefStr(m.ToSession),
		"content":      m.Content,
		"priority":     m.Priority,
		"message_type": m.MessageType,
	}
}
