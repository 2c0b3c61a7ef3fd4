package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MessageManager persists the Messaging Bus's point-to-point inbox
// (spec.md §4.5): send_to_parent/send_to_child/send_message/
// broadcast_to_children and the party scheduler's signal_role all
// funnel through Send; poll_messages/mark_read are Poll/MarkRead.
type MessageManager struct {
	pool *pgxpool.Pool
}

func newMessageManager(pool *pgxpool.Pool) *MessageManager {
	return &MessageManager{pool: pool}
}

const messageSelectCols = `id, from_session, to_session, content, priority, message_type, party_id, sent_at, read_at`

func (m *MessageManager) Send(ctx context.Context, msg *Message) (*Message, error) {
	if msg.ID == "" {
		msg.ID = newID("msg")
	}
	if msg.Priority == "" {
		msg.Priority = MessagePriorityNormal
	}
	if msg.MessageType == "" {
		msg.MessageType = MessageTypeDirect
	}
	row := m.pool.QueryRow(ctx, `
		INSERT INTO messages (id, from_session, to_session, content, priority, message_type, party_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING sent_at`,
		msg.ID, msg.FromSession, msg.ToSession, msg.Content, msg.Priority, msg.MessageType, msg.PartyID)
	if err := row.Scan(&msg.SentAt); err != nil {
		return nil, translateWriteErr(fmt.Errorf("store: send message: %w", err))
	}
	return msg, nil
}

// Poll returns the messages whose to_session is sessionID (only unread
// ones unless includeRead), oldest first. A party_broadcast message
// sent without a to_session is not returned by any session's Poll. The
// round-trip law in spec.md §8 requires byte-equal content and a
// matching from_session on read-back.
func (m *MessageManager) Poll(ctx context.Context, sessionID string, includeRead bool) ([]*Message, error) {
	query := `SELECT ` + messageSelectCols + ` FROM messages WHERE to_session = $1`
	if !includeRead {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY sent_at ASC`

	rows, err := m.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: poll messages: %w", err)
	}
	defer rows.Close()
	var out []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// MarkRead stamps read_at for a set of message ids.
func (m *MessageManager) MarkRead(ctx context.Context, ids []string) error {
	_, err := m.pool.Exec(ctx, `UPDATE messages SET read_at = now() WHERE id = ANY($1) AND read_at IS NULL`, ids)
	if err != nil {
		return fmt.Errorf("store: mark messages read: %w", err)
	}
	return nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	if err := row.Scan(&msg.ID, &msg.FromSession, &msg.ToSession, &msg.Content,
		&msg.Priority, &msg.MessageType, &msg.PartyID, &msg.SentAt, &msg.ReadAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan message: %w", err)
	}
	return &msg, nil
}
