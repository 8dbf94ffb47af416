package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
)

// ErrNoProfiles is returned when the profile table is empty.
var ErrNoProfiles = errors.New("no profiles available")

// RegisterProfile upserts a profile record (test/seed helper).
func (s *Store) RegisterProfile(ctx context.Context, p PersonProfile) error {
	sentences, err := marshalStrings(p.Sentences)
	if err != nil {
		return err
	}
	topics, err := marshalStrings(p.Topics)
	if err != nil {
		return err
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO profiles (id, sentences, link_group_id, topics, description) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET sentences = excluded.sentences, link_group_id = excluded.link_group_id,
				topics = excluded.topics, description = excluded.description;
		`, p.ID, sentences, p.LinkGroupID, topics, p.Description())
		if err != nil {
			return fmt.Errorf("register profile: %w", err)
		}
		return nil
	})
}

// SampleProfile returns a uniformly random profile.
func (s *Store) SampleProfile(ctx context.Context) (PersonProfile, error) {
	profiles, err := s.allProfiles(ctx)
	if err != nil {
		return PersonProfile{}, err
	}
	if len(profiles) == 0 {
		return PersonProfile{}, ErrNoProfiles
	}
	return profiles[rand.IntN(len(profiles))], nil
}

// SampleProfileDistinctFrom returns a uniformly random profile whose
// sentences differ from exclude's. If none exists, returns ErrNoProfiles.
func (s *Store) SampleProfileDistinctFrom(ctx context.Context, exclude PersonProfile) (PersonProfile, error) {
	profiles, err := s.allProfiles(ctx)
	if err != nil {
		return PersonProfile{}, err
	}
	var candidates []PersonProfile
	for _, p := range profiles {
		if !sameSentences(p.Sentences, exclude.Sentences) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return PersonProfile{}, ErrNoProfiles
	}
	return candidates[rand.IntN(len(candidates))], nil
}

// SampleProfileInLinkGroup returns a uniformly random profile sharing
// linkGroupID, excluding excludeID. Returns ErrNoProfiles if none match.
func (s *Store) SampleProfileInLinkGroup(ctx context.Context, linkGroupID, excludeID string) (PersonProfile, error) {
	if linkGroupID == "" {
		return PersonProfile{}, ErrNoProfiles
	}
	profiles, err := s.allProfiles(ctx)
	if err != nil {
		return PersonProfile{}, err
	}
	var candidates []PersonProfile
	for _, p := range profiles {
		if p.LinkGroupID == linkGroupID && p.ID != excludeID {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return PersonProfile{}, ErrNoProfiles
	}
	return candidates[rand.IntN(len(candidates))], nil
}

// SampleSentenceAtIndex returns a random sentence at position idx drawn
// from any profile long enough to have one. Used by sentence-by-sentence
// profile guessing when a candidate profile is shorter than the true one.
func (s *Store) SampleSentenceAtIndex(ctx context.Context, idx int) (string, error) {
	profiles, err := s.allProfiles(ctx)
	if err != nil {
		return "", err
	}
	var candidates []string
	for _, p := range profiles {
		if len(p.Sentences) > idx {
			candidates = append(candidates, p.Sentences[idx])
		}
	}
	if len(candidates) == 0 {
		return "", ErrNoProfiles
	}
	return candidates[rand.IntN(len(candidates))], nil
}

func (s *Store) allProfiles(ctx context.Context) ([]PersonProfile, error) {
	var profiles []PersonProfile
	err := retryOnBusy(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `SELECT id, sentences, link_group_id, topics FROM profiles;`)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("list profiles: %w", err)
		}
		defer rows.Close()
		profiles = nil
		for rows.Next() {
			var p PersonProfile
			var sentencesJSON, topicsJSON string
			if err := rows.Scan(&p.ID, &sentencesJSON, &p.LinkGroupID, &topicsJSON); err != nil {
				return fmt.Errorf("scan profile: %w", err)
			}
			if p.Sentences, err = unmarshalStrings(sentencesJSON); err != nil {
				return fmt.Errorf("decode sentences: %w", err)
			}
			if p.Topics, err = unmarshalStrings(topicsJSON); err != nil {
				return fmt.Errorf("decode topics: %w", err)
			}
			profiles = append(profiles, p)
		}
		return rows.Err()
	})
	return profiles, err
}

func sameSentences(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

