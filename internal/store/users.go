package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// FindOrCreateUser looks up a user by key, creating a fresh (non-banned)
// record on first contact. The returned user's DisplayName is refreshed
// from displayName when non-empty and different from the stored value.
func (s *Store) FindOrCreateUser(ctx context.Context, key UserKey, displayName string) (User, error) {
	var u User
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT platform, external_id, display_name, banned, assigned_test_bot
			FROM users WHERE platform = ? AND external_id = ?;
		`, string(key.Platform), key.ExternalID)

		var platform, extID, name, assignedBot string
		var banned int
		err := row.Scan(&platform, &extID, &name, &banned, &assignedBot)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, execErr := s.db.ExecContext(ctx, `
				INSERT INTO users (platform, external_id, display_name, banned, assigned_test_bot)
				VALUES (?, ?, ?, 0, '');
			`, string(key.Platform), key.ExternalID, displayName)
			if execErr != nil {
				return fmt.Errorf("create user: %w", execErr)
			}
			u = User{Key: key, DisplayName: displayName}
			return nil
		case err != nil:
			return fmt.Errorf("find user: %w", err)
		}

		if displayName != "" && displayName != name {
			if _, execErr := s.db.ExecContext(ctx, `
				UPDATE users SET display_name = ? WHERE platform = ? AND external_id = ?;
			`, displayName, platform, extID); execErr != nil {
				return fmt.Errorf("refresh display name: %w", execErr)
			}
			name = displayName
		}

		u = User{
			Key:             UserKey{Platform: Platform(platform), ExternalID: extID},
			DisplayName:     name,
			Banned:          banned != 0,
			AssignedTestBot: assignedBot,
		}
		return nil
	})
	return u, err
}

// SetAssignedTestBot pins a user to a single bot token for bot matching.
// An empty token clears the pin.
func (s *Store) SetAssignedTestBot(ctx context.Context, key UserKey, botToken string) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE users SET assigned_test_bot = ? WHERE platform = ? AND external_id = ?;
		`, botToken, string(key.Platform), key.ExternalID)
		if err != nil {
			return fmt.Errorf("set assigned test bot: %w", err)
		}
		return nil
	})
}

// IsBannedPair reports whether (user, bot) has been explicitly excluded
// from future pairing.
func (s *Store) IsBannedPair(ctx context.Context, key UserKey, botToken string) (bool, error) {
	var banned bool
	err := retryOnBusy(ctx, func() error {
		var count int
		row := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM banned_pairs WHERE platform = ? AND external_id = ? AND bot_token = ?;
		`, string(key.Platform), key.ExternalID, botToken)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("check banned pair: %w", err)
		}
		banned = count > 0
		return nil
	})
	return banned, err
}

// BanPair records that user and bot must never be paired again.
func (s *Store) BanPair(ctx context.Context, key UserKey, botToken string) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO banned_pairs (platform, external_id, bot_token) VALUES (?, ?, ?);
		`, string(key.Platform), key.ExternalID, botToken)
		if err != nil {
			return fmt.Errorf("ban pair: %w", err)
		}
		return nil
	})
}
