package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
)

// ErrBotNotRegistered is returned when a token does not match any known bot.
var ErrBotNotRegistered = errors.New("bot not registered")

// GetBot returns the bot record for token, or ErrBotNotRegistered.
func (s *Store) GetBot(ctx context.Context, token string) (Bot, error) {
	var b Bot
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT token, name, banned, last_update_id FROM bots WHERE token = ?;
		`, token)
		var banned int
		if err := row.Scan(&b.Token, &b.Name, &banned, &b.LastUpdateID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrBotNotRegistered
			}
			return fmt.Errorf("get bot: %w", err)
		}
		b.Banned = banned != 0
		return nil
	})
	return b, err
}

// ListNonBannedBots returns every registered bot that is not banned.
func (s *Store) ListNonBannedBots(ctx context.Context) ([]Bot, error) {
	var bots []Bot
	err := retryOnBusy(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT token, name, banned, last_update_id FROM bots WHERE banned = 0;
		`)
		if err != nil {
			return fmt.Errorf("list bots: %w", err)
		}
		defer rows.Close()
		bots = nil
		for rows.Next() {
			var b Bot
			var banned int
			if err := rows.Scan(&b.Token, &b.Name, &banned, &b.LastUpdateID); err != nil {
				return fmt.Errorf("scan bot: %w", err)
			}
			b.Banned = banned != 0
			bots = append(bots, b)
		}
		return rows.Err()
	})
	return bots, err
}

// SampleBot draws a uniformly random non-banned bot, optionally restricted
// to restrictToken, retrying (by resampling) while the draw is an excluded
// (user, bot) pair. Returns ErrBotNotRegistered when no candidate exists.
func (s *Store) SampleBot(ctx context.Context, user UserKey, restrictToken string) (Bot, error) {
	candidates, err := s.ListNonBannedBots(ctx)
	if err != nil {
		return Bot{}, err
	}
	if restrictToken != "" {
		filtered := candidates[:0]
		for _, b := range candidates {
			if b.Token == restrictToken {
				filtered = append(filtered, b)
			}
		}
		candidates = filtered
	}
	if len(candidates) == 0 {
		return Bot{}, ErrBotNotRegistered
	}

	// Retry uniformly until a bot whose pair with user is not banned is
	// found. With a small candidate set this terminates quickly; if every
	// candidate is banned for this user, fail after bounding attempts by
	// the candidate count times a constant safety factor.
	for attempt := 0; attempt < len(candidates)*4+4; attempt++ {
		b := candidates[rand.IntN(len(candidates))]
		banned, err := s.IsBannedPair(ctx, user, b.Token)
		if err != nil {
			return Bot{}, err
		}
		if !banned {
			return b, nil
		}
	}
	return Bot{}, ErrBotNotRegistered
}

// SetBotLastUpdateID persists the bot's long-poll update counter.
func (s *Store) SetBotLastUpdateID(ctx context.Context, token string, lastUpdateID int64) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE bots SET last_update_id = ? WHERE token = ?;
		`, lastUpdateID, token)
		if err != nil {
			return fmt.Errorf("set bot last_update_id: %w", err)
		}
		return nil
	})
}

// RegisterBot upserts a bot record (used by out-of-scope admin tooling and
// tests; the orchestrator itself never registers bots).
func (s *Store) RegisterBot(ctx context.Context, b Bot) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO bots (token, name, banned, last_update_id) VALUES (?, ?, ?, ?)
			ON CONFLICT(token) DO UPDATE SET name = excluded.name, banned = excluded.banned;
		`, b.Token, b.Name, boolToInt(b.Banned), b.LastUpdateID)
		if err != nil {
			return fmt.Errorf("register bot: %w", err)
		}
		return nil
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
