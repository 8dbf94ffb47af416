package store

import (
	"context"
	"fmt"
)

// FileComplaint records that complainer reported complainTo for conversation.
func (s *Store) FileComplaint(ctx context.Context, complainer UserKey, complainTo PeerRef, conversationID int32) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO complaints (complainer_platform, complainer_external_id, complain_to, conversation_id, processed)
			VALUES (?, ?, ?, ?, 0);
		`, string(complainer.Platform), complainer.ExternalID, complainTo.String(), conversationID)
		if err != nil {
			return fmt.Errorf("file complaint: %w", err)
		}
		return nil
	})
}

// ListUnprocessedComplaints returns complaints awaiting moderator review.
func (s *Store) ListUnprocessedComplaints(ctx context.Context) ([]Complaint, error) {
	var complaints []Complaint
	err := retryOnBusy(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, complainer_platform, complainer_external_id, complain_to, conversation_id, processed, created_at
			FROM complaints WHERE processed = 0;
		`)
		if err != nil {
			return fmt.Errorf("list complaints: %w", err)
		}
		defer rows.Close()
		complaints = nil
		for rows.Next() {
			var c Complaint
			var platform, extID, complainTo string
			var processed int
			if err := rows.Scan(&c.ID, &platform, &extID, &complainTo, &c.Conversation, &processed, &c.CreatedAt); err != nil {
				return fmt.Errorf("scan complaint: %w", err)
			}
			c.Complainer = UserKey{Platform: Platform(platform), ExternalID: extID}
			c.ComplainTo = parsePeerRef(complainTo)
			c.Processed = processed != 0
			complaints = append(complaints, c)
		}
		return rows.Err()
	})
	return complaints, err
}

// MarkComplaintProcessed flips a complaint's processed flag.
func (s *Store) MarkComplaintProcessed(ctx context.Context, id int64) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE complaints SET processed = 1 WHERE id = ?;`, id)
		if err != nil {
			return fmt.Errorf("mark complaint processed: %w", err)
		}
		return nil
	})
}

// parsePeerRef reverses PeerRef.String() for the subset of forms this
// package ever writes ("bot:<token>" or "user:<platform>:<externalId>").
func parsePeerRef(s string) PeerRef {
	const botPrefix = "bot:"
	const userPrefix = "user:"
	switch {
	case len(s) > len(botPrefix) && s[:len(botPrefix)] == botPrefix:
		return PeerRef{IsBot: true, BotToken: s[len(botPrefix):]}
	case len(s) > len(userPrefix) && s[:len(userPrefix)] == userPrefix:
		rest := s[len(userPrefix):]
		for i := 0; i < len(rest); i++ {
			if rest[i] == ':' {
				return PeerRef{UserKey: UserKey{Platform: Platform(rest[:i]), ExternalID: rest[i+1:]}}
			}
		}
	}
	return PeerRef{}
}
