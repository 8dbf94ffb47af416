package humangw_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/convai/dialog-router/internal/bus"
	"github.com/convai/dialog-router/internal/humangw"
	"github.com/convai/dialog-router/internal/orchestrator"
	"github.com/convai/dialog-router/internal/scheduler"
	"github.com/convai/dialog-router/internal/store"
)

// stubBotGateway is a no-op Gateway standing in for internal/botgw,
// sufficient to drive the orchestrator's human-facing half end to end.
type stubBotGateway struct{}

func (stubBotGateway) StartConversation(context.Context, int32, store.PeerRef, store.PersonProfile, string) error {
	return nil
}
func (stubBotGateway) SendMessage(context.Context, int32, int, string, store.PeerRef) error {
	return nil
}
func (stubBotGateway) NotifyTopic(context.Context, int32, store.PeerRef, string) error { return nil }
func (stubBotGateway) StartEvaluation(context.Context, int32, store.PeerRef, []store.PersonProfile, store.PersonProfile, int, int) error {
	return nil
}
func (stubBotGateway) FinishConversation(context.Context, int32, store.PeerRef) error { return nil }

// fakeMessenger records every send so tests can assert on rendered text
// without standing up a real platform adapter.
type fakeMessenger struct {
	mu      sync.Mutex
	sent    []string
	nextID  int
	prompts []evalPromptCall
}

type evalPromptCall struct {
	convID         int32
	options        []store.PersonProfile
	scoreMin       int
	scoreMax       int
	bySentence     bool
	sentenceTuples [][]string
}

func (f *fakeMessenger) Send(ctx context.Context, key store.UserKey, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeMessenger) SendEvaluationPrompt(ctx context.Context, key store.UserKey, convID int32, options []store.PersonProfile, scoreMin, scoreMax int, bySentence bool, sentenceTuples [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, evalPromptCall{convID, options, scoreMin, scoreMax, bySentence, sentenceTuples})
	return nil
}

func (f *fakeMessenger) lastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type harness struct {
	store *store.Store
	msg   *fakeMessenger
	gw    *humangw.Gateway
	orch  *orchestrator.Orchestrator
	key   store.UserKey
}

func newHarness(t *testing.T, cfg humangw.Config) harness {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.RegisterBot(context.Background(), store.Bot{Token: "echo-bot", Name: "Echo"}); err != nil {
		t.Fatalf("register bot: %v", err)
	}

	msg := &fakeMessenger{}
	gw := humangw.New(humangw.Deps{
		Messenger: msg,
		Store:     s,
		Config:    cfg,
	})

	orch := orchestrator.New(orchestrator.Deps{
		Store:        s,
		Scheduler:    scheduler.New(nil),
		Bus:          bus.New(),
		HumanGateway: gw,
		BotGateway:   stubBotGateway{},
		Config: orchestrator.Config{
			HumanBotRatio:     0, // force bot matching
			InactivityTimeout: time.Minute,
			MaxLength:         100,
			EvalMin:           0,
			EvalMax:           1,
			ScoreDialog:       true,
			GuessProfile:      true,
		},
	})
	gw.SetOrchestrator(orch)

	key := store.UserKey{Platform: store.PlatformTelegram, ExternalID: "u1"}
	return harness{store: s, msg: msg, gw: gw, orch: orch, key: key}
}

func TestHandleText_BeginMatchesWithBotAndSendsProfile(t *testing.T) {
	h := newHarness(t, humangw.Config{})
	h.gw.HandleText(context.Background(), h.key, "Alice", 1, "/begin")

	if got := h.msg.lastSent(); got == "" {
		t.Fatalf("expected a message to be sent on successful match")
	}
}

func TestHandleText_EndOutsideDialogIsInvalidState(t *testing.T) {
	h := newHarness(t, humangw.Config{})
	h.gw.HandleText(context.Background(), h.key, "Alice", 1, "/end")

	if got := h.msg.lastSent(); got != "That's not available right now." {
		t.Fatalf("expected invalid-state reply, got %q", got)
	}
}

func TestHandleText_HelpRendersCommandList(t *testing.T) {
	h := newHarness(t, humangw.Config{})
	h.gw.HandleText(context.Background(), h.key, "Alice", 1, "/help")

	if got := h.msg.lastSent(); got == "" {
		t.Fatalf("expected help text to be sent")
	}
}

func TestHandleText_FreeTextInDialogRoutesToOrchestrator(t *testing.T) {
	h := newHarness(t, humangw.Config{})
	h.gw.HandleText(context.Background(), h.key, "Alice", 1, "/begin")
	h.gw.HandleText(context.Background(), h.key, "Alice", 2, "hello there")

	// The bot side is a stub, so no reply text is produced, but the call
	// must not panic or report an invalid-state error.
	if got := h.msg.lastSent(); got == "That's not available right now." {
		t.Fatalf("free text while IN_DIALOG should not be rejected, got %q", got)
	}
}

func TestHandleSetBot_Disabled(t *testing.T) {
	h := newHarness(t, humangw.Config{AllowSetBot: false})
	h.gw.HandleText(context.Background(), h.key, "Alice", 1, "/setbot")

	if got := h.msg.lastSent(); got != "Pinning a test bot isn't available right now." {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestHandleSetBot_PinsKnownToken(t *testing.T) {
	h := newHarness(t, humangw.Config{AllowSetBot: true})
	h.gw.HandleText(context.Background(), h.key, "Alice", 1, "/setbot")
	h.gw.HandleText(context.Background(), h.key, "Alice", 2, "echo-bot")

	user, err := h.store.FindOrCreateUser(context.Background(), h.key, "Alice")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if user.AssignedTestBot != "echo-bot" {
		t.Fatalf("expected assigned bot echo-bot, got %q", user.AssignedTestBot)
	}
}
