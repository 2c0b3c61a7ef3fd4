package party

import (
	"context"
	"fmt"

	"github.com/gobby-dev/gobby/pkg/store"
)

// PartyStatus is get_party_status's result (spec.md §6.1): the party
// row plus every member's role/instance/status, the same fields a
// dashboard subscribed to bus.EventTypePartyStatus would reconstruct
// from persisted state rather than live memory, since the Scheduler
// keeps no separate in-process party-status cache.
type PartyStatus struct {
	Party   *store.Party
	Members []*store.PartyMember
}

// GetPartyStatus implements get_party_status: current party status and
// its members, read straight from the store rather than the driver
// goroutine (which only exists for the life of one in-flight run and
// is not addressable from outside package party).
func (s *Scheduler) GetPartyStatus(ctx context.Context, partyID string) (*PartyStatus, error) {
	p, err := s.store.Parties.Get(ctx, partyID)
	if err != nil {
		return nil, fmt.Errorf("party: get party status: %w", err)
	}
	members, err := s.store.Parties.ListMembers(ctx, partyID)
	if err != nil {
		return nil, fmt.Errorf("party: get party status: %w", err)
	}
	return &PartyStatus{Party: p, Members: members}, nil
}

// ListParties implements list_parties: every party launched for a
// project, newest first.
func (s *Scheduler) ListParties(ctx context.Context, projectID string) ([]*store.Party, error) {
	return s.store.Parties.ListByProject(ctx, projectID)
}

// SignalRole implements signal_role: delivers message to every current
// member session of roleName within partyID, as a direct Message
// addressed to each member's session — parties have no dedicated
// signal transport, so this reuses the same Messaging Bus path
// broadcast_to_party's party_broadcast message_type takes (spec.md
// §4.5), scoped to one role instead of the whole party. fromSessionID
// is the calling session, required since messages.from_session is a
// NOT NULL foreign key into sessions. Returns the number of members
// signaled.
func (s *Scheduler) SignalRole(ctx context.Context, fromSessionID, partyID, roleName, message string) (int, error) {
	members, err := s.store.Parties.ListMembers(ctx, partyID)
	if err != nil {
		return 0, fmt.Errorf("party: signal role: %w", err)
	}
	sent := 0
	for _, m := range members {
		if m.RoleName != roleName || m.SessionID == nil {
			continue
		}
		_, err := s.store.Messages.Send(ctx, &store.Message{
			FromSession: fromSessionID,
			ToSession:   m.SessionID,
			Content:     message,
			MessageType: store.MessageTypeDirect,
			PartyID:     &partyID,
		})
		if err != nil {
			return sent, fmt.Errorf("party: signal role: send to %s: %w", *m.SessionID, err)
		}
		sent++
	}
	return sent, nil
}
