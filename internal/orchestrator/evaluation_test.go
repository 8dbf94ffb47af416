package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/convai/dialog-router/internal/bus"
	"github.com/convai/dialog-router/internal/orchestrator"
	"github.com/convai/dialog-router/internal/store"
)

// startHumanVsBotDialog admits alice against a freshly registered bot and
// returns the resulting conversation id.
func startHumanVsBotDialog(t *testing.T, h testHarness, alice store.UserKey) int32 {
	t.Helper()
	registerBot(t, h.store, "echo-bot")
	if err := h.orch.OnHumanInitiatedDialog(context.Background(), alice, "Alice"); err != nil {
		t.Fatalf("initiate dialog: %v", err)
	}
	if len(h.human.startedIDs) != 2 {
		t.Fatalf("expected both participants notified, got %d", len(h.human.startedIDs))
	}
	return h.human.startedIDs[0]
}

func TestOnMessageReceived_RelaysToOtherParticipantAndPublishes(t *testing.T) {
	h := newTestHarness(t, orchestrator.Config{HumanBotRatio: 0, InactivityTimeout: time.Minute, MaxLength: 100})
	alice := store.UserKey{Platform: store.PlatformTelegram, ExternalID: "alice"}
	convID := startHumanVsBotDialog(t, h, alice)

	sub := h.bus.Subscribe(bus.TopicConversationMessage)
	defer h.bus.Unsubscribe(sub)

	msgID, err := h.orch.OnMessageReceived(context.Background(), convID, store.PeerRef{UserKey: alice}, "hello", time.Now())
	if err != nil {
		t.Fatalf("on message received: %v", err)
	}
	if msgID != 0 {
		t.Fatalf("expected first message id 0, got %d", msgID)
	}
	if len(h.human.messages) != 1 || h.human.messages[0] != "hello" {
		t.Fatalf("expected the bot peer to receive the relayed text, got %v", h.human.messages)
	}

	select {
	case ev := <-sub.Ch():
		if ev.Topic != bus.TopicConversationMessage {
			t.Fatalf("unexpected topic %q", ev.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for conversation.message event")
	}
}

func TestOnMessageReceived_LeakingBotMessageNeverReachesHuman(t *testing.T) {
	h := newTestHarness(t, orchestrator.Config{
		HumanBotRatio:       0,
		InactivityTimeout:   time.Minute,
		MaxLength:           100,
		AssignProfile:       true,
		TrigramWindow:       3,
		BadMessageThreshold: 2,
	})
	p := store.PersonProfile{ID: "p1", Sentences: []string{"my cat is red and fluffy"}}
	if err := h.store.RegisterProfile(context.Background(), p); err != nil {
		t.Fatalf("register profile: %v", err)
	}
	alice := store.UserKey{Platform: store.PlatformTelegram, ExternalID: "alice"}
	convID := startHumanVsBotDialog(t, h, alice)

	sub := h.bus.Subscribe(bus.TopicProfileLeakDetected)
	defer h.bus.Unsubscribe(sub)

	bot := store.PeerRef{IsBot: true, BotToken: "echo-bot"}

	// "my cat is" shares a trigram with the assigned profile description.
	_, err := h.orch.OnMessageReceived(context.Background(), convID, bot, "my cat is fine", time.Now())
	if err != orchestrator.ErrProfileLeakDetected {
		t.Fatalf("expected ErrProfileLeakDetected, got %v", err)
	}
	if len(h.human.messages) != 0 {
		t.Fatalf("expected the leaking message to never be forwarded, got %v", h.human.messages)
	}

	select {
	case ev := <-sub.Ch():
		leak, ok := ev.Payload.(bus.ProfileLeakEvent)
		if !ok {
			t.Fatalf("expected ProfileLeakEvent payload, got %T", ev.Payload)
		}
		if leak.BadStreak != 1 {
			t.Fatalf("expected bad streak 1, got %d", leak.BadStreak)
		}
		if leak.ForcedEnd {
			t.Fatal("expected no forced end before the threshold is reached")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for trigram.leak_detected event")
	}

	// A second consecutive leak reaches the threshold and forces the
	// conversation to end, still without ever forwarding the text.
	finishedSub := h.bus.Subscribe(bus.TopicConversationFinished)
	defer h.bus.Unsubscribe(finishedSub)

	_, err = h.orch.OnMessageReceived(context.Background(), convID, bot, "my cat is fine", time.Now())
	if err != orchestrator.ErrProfileLeakDetected {
		t.Fatalf("expected ErrProfileLeakDetected on the second leak, got %v", err)
	}
	if len(h.human.messages) != 0 {
		t.Fatalf("expected the second leaking message to never be forwarded either, got %v", h.human.messages)
	}

	select {
	case <-finishedSub.Ch():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the threshold breach to force the conversation to end")
	}
}

func TestOnMessageReceived_UnknownConversationRejected(t *testing.T) {
	h := newTestHarness(t, orchestrator.Config{HumanBotRatio: 0})
	alice := store.UserKey{Platform: store.PlatformTelegram, ExternalID: "alice"}
	_, err := h.orch.OnMessageReceived(context.Background(), 999, store.PeerRef{UserKey: alice}, "hi", time.Now())
	if err != orchestrator.ErrConversationNotFound {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestTriggerDialogEnd_CompletesThroughTwoSidedEvaluationAndCleansUp(t *testing.T) {
	h := newTestHarness(t, orchestrator.Config{
		HumanBotRatio:     0,
		InactivityTimeout: time.Minute,
		MaxLength:         100,
		EvalMin:           0,
		EvalMax:           1,
		ScoreDialog:       true,
		GuessProfile:      false, // bot side auto-completes; only the human side needs driving
	})
	alice := store.UserKey{Platform: store.PlatformTelegram, ExternalID: "alice"}
	convID := startHumanVsBotDialog(t, h, alice)

	finishedSub := h.bus.Subscribe(bus.TopicConversationFinished)
	defer h.bus.Unsubscribe(finishedSub)
	completedSub := h.bus.Subscribe(bus.TopicEvaluationCompleted)
	defer h.bus.Unsubscribe(completedSub)

	if err := h.orch.TriggerDialogEnd(context.Background(), convID, store.PeerRef{UserKey: alice}); err != nil {
		t.Fatalf("trigger dialog end: %v", err)
	}

	score := 1
	if err := h.orch.EvaluateDialog(context.Background(), convID, store.PeerRef{UserKey: alice}, &score); err != nil {
		t.Fatalf("evaluate dialog: %v", err)
	}

	select {
	case <-completedSub.Ch():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for evaluation.completed event")
	}
	select {
	case <-finishedSub.Ch():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for conversation.finished event")
	}

	if len(h.human.finishes) != 2 {
		t.Fatalf("expected FinishConversation on both peers, got %d", len(h.human.finishes))
	}

	// A second evaluation attempt against the now-cleaned-up conversation
	// must report it gone.
	if err := h.orch.EvaluateDialog(context.Background(), convID, store.PeerRef{UserKey: alice}, &score); err != orchestrator.ErrConversationNotFound {
		t.Fatalf("expected ErrConversationNotFound after cleanup, got %v", err)
	}
}

func TestSelectOtherPeerProfileSentence_CompletesOnlyWhenEveryIndexFilled(t *testing.T) {
	h := newTestHarness(t, orchestrator.Config{
		HumanBotRatio:          0,
		InactivityTimeout:      time.Minute,
		MaxLength:              100,
		AssignProfile:          true,
		GuessProfile:           true,
		GuessProfileBySentence: true,
		EvalMin:                0,
		EvalMax:                1,
	})
	p := store.PersonProfile{ID: "p1", Sentences: []string{"s1", "s2"}}
	if err := h.store.RegisterProfile(context.Background(), p); err != nil {
		t.Fatalf("register profile: %v", err)
	}

	alice := store.UserKey{Platform: store.PlatformTelegram, ExternalID: "alice"}
	convID := startHumanVsBotDialog(t, h, alice)
	aliceRef := store.PeerRef{UserKey: alice}

	if err := h.orch.TriggerDialogEnd(context.Background(), convID, aliceRef); err != nil {
		t.Fatalf("trigger dialog end: %v", err)
	}
	score := 1
	if err := h.orch.EvaluateDialog(context.Background(), convID, aliceRef, &score); err != nil {
		t.Fatalf("evaluate dialog: %v", err)
	}

	finishedSub := h.bus.Subscribe(bus.TopicConversationFinished)
	defer h.bus.Unsubscribe(finishedSub)

	// Select the highest index first, as a client rendering every sentence's
	// inline keyboard at once would allow. Completion must not fire: the
	// lower index is still unfilled.
	if err := h.orch.SelectOtherPeerProfileSentence(context.Background(), convID, aliceRef, 1, "s2"); err != nil {
		t.Fatalf("select sentence 1: %v", err)
	}
	select {
	case ev := <-finishedSub.Ch():
		t.Fatalf("expected no premature conversation.finished, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	// Filling the remaining index completes the guess on every index.
	if err := h.orch.SelectOtherPeerProfileSentence(context.Background(), convID, aliceRef, 0, "s1"); err != nil {
		t.Fatalf("select sentence 0: %v", err)
	}
	select {
	case <-finishedSub.Ch():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for conversation.finished once every index was filled")
	}
}

func TestSwitchToNextTopic_AdvancesUntilTopicsExhausted(t *testing.T) {
	h := newTestHarness(t, orchestrator.Config{
		HumanBotRatio:     0,
		InactivityTimeout: time.Minute,
		MaxLength:         100,
		ShowTopics:        true,
		AssignProfile:     true,
	})
	p := store.PersonProfile{ID: "p1", Sentences: []string{"s1"}, Topics: []string{"topic-a", "topic-b"}}
	if err := h.store.RegisterProfile(context.Background(), p); err != nil {
		t.Fatalf("register profile: %v", err)
	}

	alice := store.UserKey{Platform: store.PlatformTelegram, ExternalID: "alice"}
	convID := startHumanVsBotDialog(t, h, alice)

	advanced, err := h.orch.SwitchToNextTopic(context.Background(), convID, store.PeerRef{UserKey: alice})
	if err != nil {
		t.Fatalf("switch topic: %v", err)
	}
	if !advanced {
		t.Fatal("expected the topic to advance with a second topic available")
	}

	advanced, err = h.orch.SwitchToNextTopic(context.Background(), convID, store.PeerRef{UserKey: alice})
	if err != nil {
		t.Fatalf("switch topic again: %v", err)
	}
	if advanced {
		t.Fatal("expected no further topic to advance to")
	}
}

func TestComplain_RequiresAtLeastOneMessageAndPublishes(t *testing.T) {
	h := newTestHarness(t, orchestrator.Config{HumanBotRatio: 0, InactivityTimeout: time.Minute, MaxLength: 100})
	alice := store.UserKey{Platform: store.PlatformTelegram, ExternalID: "alice"}
	convID := startHumanVsBotDialog(t, h, alice)

	filed, err := h.orch.Complain(context.Background(), convID, alice)
	if err != nil {
		t.Fatalf("complain before any message: %v", err)
	}
	if filed {
		t.Fatal("expected no complaint to be filed before any message was exchanged")
	}

	if _, err := h.orch.OnMessageReceived(context.Background(), convID, store.PeerRef{UserKey: alice}, "hi", time.Now()); err != nil {
		t.Fatalf("send message: %v", err)
	}

	sub := h.bus.Subscribe(bus.TopicComplaintFiled)
	defer h.bus.Unsubscribe(sub)

	filed, err = h.orch.Complain(context.Background(), convID, alice)
	if err != nil {
		t.Fatalf("complain: %v", err)
	}
	if !filed {
		t.Fatal("expected the complaint to be filed")
	}

	select {
	case ev := <-sub.Ch():
		payload, ok := ev.Payload.(bus.ComplaintFiledEvent)
		if !ok {
			t.Fatalf("expected ComplaintFiledEvent payload, got %T", ev.Payload)
		}
		if payload.ConversationID != convID {
			t.Fatalf("expected conversation id %d, got %d", convID, payload.ConversationID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for complaint.filed event")
	}
}
