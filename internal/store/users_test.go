package store_test

import (
	"context"
	"testing"

	"github.com/convai/dialog-router/internal/store"
)

func TestFindOrCreateUser_CreatesOnFirstContact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := store.UserKey{Platform: store.PlatformTelegram, ExternalID: "42"}

	u, err := s.FindOrCreateUser(ctx, key, "Ann")
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	if u.DisplayName != "Ann" || u.Banned || u.AssignedTestBot != "" {
		t.Fatalf("unexpected new user: %+v", u)
	}

	again, err := s.FindOrCreateUser(ctx, key, "Ann")
	if err != nil {
		t.Fatalf("find again: %v", err)
	}
	if again.Key != key {
		t.Fatalf("expected stable key, got %+v", again.Key)
	}
}

func TestFindOrCreateUser_RefreshesDisplayName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := store.UserKey{Platform: store.PlatformTelegram, ExternalID: "42"}

	if _, err := s.FindOrCreateUser(ctx, key, "Ann"); err != nil {
		t.Fatalf("create: %v", err)
	}
	u, err := s.FindOrCreateUser(ctx, key, "Annabelle")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if u.DisplayName != "Annabelle" {
		t.Fatalf("expected refreshed display name, got %q", u.DisplayName)
	}
}

func TestSetAssignedTestBot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := store.UserKey{Platform: store.PlatformTelegram, ExternalID: "7"}
	if _, err := s.FindOrCreateUser(ctx, key, "Bo"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetAssignedTestBot(ctx, key, "tok-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	u, err := s.FindOrCreateUser(ctx, key, "Bo")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if u.AssignedTestBot != "tok-1" {
		t.Fatalf("expected assigned bot tok-1, got %q", u.AssignedTestBot)
	}
}

func TestBanPairAndIsBannedPair(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := store.UserKey{Platform: store.PlatformTelegram, ExternalID: "9"}

	banned, err := s.IsBannedPair(ctx, key, "bot-a")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if banned {
		t.Fatalf("expected not banned before BanPair")
	}

	if err := s.BanPair(ctx, key, "bot-a"); err != nil {
		t.Fatalf("ban: %v", err)
	}
	banned, err = s.IsBannedPair(ctx, key, "bot-a")
	if err != nil {
		t.Fatalf("check after ban: %v", err)
	}
	if !banned {
		t.Fatalf("expected banned after BanPair")
	}

	// Idempotent.
	if err := s.BanPair(ctx, key, "bot-a"); err != nil {
		t.Fatalf("ban again: %v", err)
	}
}
