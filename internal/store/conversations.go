package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyConversation is returned by SaveConversation when the conversation
// carries no messages. Callers performing best-effort persistence at cleanup
// time should treat this as non-fatal and swallow it.
var ErrEmptyConversation = errors.New("conversation has no messages")

// conversationRecord is the JSON-serializable shape of a Conversation, stored
// as a single payload column alongside relational start/end time metadata
// used for range queries.
type conversationRecord struct {
	ConversationID   int32              `json:"conversationId"`
	Participant1     ConversationPeer   `json:"participant1"`
	Participant2     ConversationPeer   `json:"participant2"`
	Messages         []Message          `json:"messages"`
	StartTime        time.Time          `json:"startTime"`
	EndTime          time.Time          `json:"endTime"`
	ActiveTopicIndex int                `json:"activeTopicIndex"`
}

// SaveConversation persists a finished conversation. StartTime and EndTime
// are derived from the min/max message timestamps rather than trusted from
// the caller, matching the invariant that a conversation's recorded window
// always brackets its messages. A conversation with zero messages is
// rejected with ErrEmptyConversation rather than written.
func (s *Store) SaveConversation(ctx context.Context, c Conversation) error {
	if len(c.Messages) == 0 {
		return ErrEmptyConversation
	}

	start, end := c.Messages[0].Time, c.Messages[0].Time
	for _, m := range c.Messages[1:] {
		if m.Time.Before(start) {
			start = m.Time
		}
		if m.Time.After(end) {
			end = m.Time
		}
	}
	c.StartTime, c.EndTime = start, end

	rec := conversationRecord{
		ConversationID:   c.ConversationID,
		Participant1:     c.Participant1,
		Participant2:     c.Participant2,
		Messages:         c.Messages,
		StartTime:        c.StartTime,
		EndTime:          c.EndTime,
		ActiveTopicIndex: c.ActiveTopicIndex,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}

	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO conversations (conversation_id, start_time, end_time, payload) VALUES (?, ?, ?, ?)
			ON CONFLICT(conversation_id) DO UPDATE SET start_time = excluded.start_time,
				end_time = excluded.end_time, payload = excluded.payload;
		`, c.ConversationID, c.StartTime, c.EndTime, string(payload))
		if err != nil {
			return fmt.Errorf("save conversation: %w", err)
		}
		return nil
	})
}

// GetConversation loads a previously saved conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id int32) (Conversation, error) {
	var rec conversationRecord
	err := retryOnBusy(ctx, func() error {
		var payload string
		row := s.db.QueryRowContext(ctx, `SELECT payload FROM conversations WHERE conversation_id = ?;`, id)
		if err := row.Scan(&payload); err != nil {
			return fmt.Errorf("get conversation: %w", err)
		}
		return json.Unmarshal([]byte(payload), &rec)
	})
	if err != nil {
		return Conversation{}, err
	}
	return Conversation{
		ConversationID:   rec.ConversationID,
		Participant1:     rec.Participant1,
		Participant2:     rec.Participant2,
		Messages:         rec.Messages,
		StartTime:        rec.StartTime,
		EndTime:          rec.EndTime,
		ActiveTopicIndex: rec.ActiveTopicIndex,
	}, nil
}

// ExistsConversationID reports whether id is already used by a live or
// stored conversation, for collision avoidance during ID generation.
func (s *Store) ExistsConversationID(ctx context.Context, id int32) (bool, error) {
	var exists bool
	err := retryOnBusy(ctx, func() error {
		var count int
		row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE conversation_id = ?;`, id)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("check conversation id: %w", err)
		}
		exists = count > 0
		return nil
	})
	return exists, err
}
