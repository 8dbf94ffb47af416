package telegram

import (
	"context"
	"testing"

	"github.com/convai/dialog-router/internal/store"
)

type fakeGateway struct {
	texts     []string
	scores    []int
	profiles  []int
	sentences []string
}

func (g *fakeGateway) HandleText(ctx context.Context, key store.UserKey, displayName string, externalMsgID int, text string) {
	g.texts = append(g.texts, text)
}
func (g *fakeGateway) HandleScoreReply(ctx context.Context, key store.UserKey, score int) {
	g.scores = append(g.scores, score)
}
func (g *fakeGateway) HandleProfileSelection(ctx context.Context, key store.UserKey, profileIdx int) {
	g.profiles = append(g.profiles, profileIdx)
}
func (g *fakeGateway) HandleSentenceSelection(ctx context.Context, key store.UserKey, sentenceIdx int, sentence string) {
	g.sentences = append(g.sentences, sentence)
}

func TestNew_DoesNotPanicWithFakeToken(t *testing.T) {
	m := New("fake-token", &fakeGateway{}, nil)
	if m == nil {
		t.Fatal("expected a non-nil Messenger")
	}
}

func TestKeyFor_UsesTelegramPlatform(t *testing.T) {
	m := New("fake-token", &fakeGateway{}, nil)
	key := m.keyFor(42)
	if key.Platform != store.PlatformTelegram {
		t.Fatalf("expected platform telegram, got %q", key.Platform)
	}
	if key.ExternalID != "42" {
		t.Fatalf("expected external id \"42\", got %q", key.ExternalID)
	}
}

func TestTruncate_ShortStringUnchanged(t *testing.T) {
	if got := truncate("short", 40); got != "short" {
		t.Fatalf("expected unchanged string, got %q", got)
	}
}

func TestTruncate_LongStringEllipsized(t *testing.T) {
	got := truncate("this sentence is definitely longer than ten characters", 10)
	if got != "this sente…" {
		t.Fatalf("unexpected truncation: %q", got)
	}
}
