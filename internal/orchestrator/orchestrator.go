// Package orchestrator is the dialog orchestrator: the state machine and
// concurrency core that admits peers into a matching lobby, pairs them by a
// configurable human/bot ratio with timeout fallback, drives the
// per-conversation state machine through message exchange, topic switching,
// completion and two-sided evaluation, and enforces timers, length bounds
// and the anti-leak guard.
//
// The orchestrator assumes a single-threaded-cooperative execution model:
// handlers never interleave except at explicit await points (store calls,
// gateway calls, timer firing). The in-memory maps below are still guarded
// by a mutex so the implementation is safe even if a caller violates that
// assumption, but the mutex is never held across a blocking call.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convai/dialog-router/internal/bus"
	"github.com/convai/dialog-router/internal/scheduler"
	"github.com/convai/dialog-router/internal/store"
	"github.com/convai/dialog-router/internal/trigram"
)

// EvalState is a bitmask describing one participant's progress through
// two-sided dialog evaluation.
type EvalState int

const (
	EvalNone            EvalState = 0
	EvalScoreGiven      EvalState = 1 << 0
	EvalProfileSelected EvalState = 1 << 1
)

func (e EvalState) complete() bool {
	return e&(EvalScoreGiven|EvalProfileSelected) == EvalScoreGiven|EvalProfileSelected
}

// liveConversation wraps a Conversation with the per-conversation state the
// orchestrator needs while it is live but not yet persisted: whether it has
// entered evaluation, and the trigram guards watching any bot participant.
type liveConversation struct {
	conv       *store.Conversation
	evaluating bool
	guards     map[string]*trigram.Guard // keyed by bot token
}

// Orchestrator is the Dialog Orchestrator.
type Orchestrator struct {
	store        *store.Store
	scheduler    *scheduler.Scheduler
	bus          *bus.Bus
	logger       *slog.Logger
	cfg          Config
	humanGateway Gateway
	botGateway   Gateway

	mu            sync.Mutex
	lobby         map[store.UserKey]struct{}
	activeDialogs map[int32]*liveConversation
	evaluations   map[int32][2]EvalState
	peerConv      map[string]int32 // PeerRef.String() -> conversationId
}

// Deps bundles the Orchestrator's collaborators.
type Deps struct {
	Store        *store.Store
	Scheduler    *scheduler.Scheduler
	Bus          *bus.Bus
	Logger       *slog.Logger
	HumanGateway Gateway
	BotGateway   Gateway
	Config       Config
}

// New constructs an Orchestrator. All Deps fields except Logger are required.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:         deps.Store,
		scheduler:     deps.Scheduler,
		bus:           deps.Bus,
		logger:        logger,
		cfg:           deps.Config,
		humanGateway:  deps.HumanGateway,
		botGateway:    deps.BotGateway,
		lobby:         make(map[store.UserKey]struct{}),
		activeDialogs: make(map[int32]*liveConversation),
		evaluations:   make(map[int32][2]EvalState),
		peerConv:      make(map[string]int32),
	}
}

func (o *Orchestrator) gatewayFor(peer store.PeerRef) Gateway {
	if peer.IsBot {
		return o.botGateway
	}
	return o.humanGateway
}

func lobbyTimerKey(user store.UserKey) string {
	return "lobby:" + string(user.Platform) + ":" + user.ExternalID
}

func inactivityTimerKey(convID int32) string {
	return fmt.Sprintf("inactivity:%d", convID)
}

// OnMessageReceived appends a message authored by sender to the
// conversation, forwards it to the other participant, and returns the
// assigned msgId. If the conversation reaches maxLength, dialog end is
// triggered with sender as the notional initiator.
//
// A bot message that leaks n-grams of its own assigned profile is never
// appended or forwarded: the guard is consulted before the message joins
// the conversation, exactly as the trigram validation gates on_message_received
// in the reference implementation, so the leaking text never reaches the
// human partner it would give the role-play away to.
func (o *Orchestrator) OnMessageReceived(ctx context.Context, convID int32, sender store.PeerRef, text string, at time.Time) (int, error) {
	o.mu.Lock()
	live, ok := o.activeDialogs[convID]
	if !ok {
		o.mu.Unlock()
		return 0, ErrConversationNotFound
	}
	if live.conv.PeerConversationPeer(sender) == nil {
		o.mu.Unlock()
		return 0, ErrNotParticipant
	}
	if live.evaluating {
		o.mu.Unlock()
		return 0, ErrInvalidState
	}

	var leaked, forcedEnd bool
	var badStreak int
	if sender.IsBot {
		if guard, ok := live.guards[sender.BotToken]; ok {
			if guard.Check(text) == trigram.Leak {
				leaked = true
				badStreak = guard.BadStreak()
				forcedEnd = guard.ShouldEndDialog()
			}
		}
	}

	if leaked {
		o.mu.Unlock()
		o.bus.Publish(bus.TopicProfileLeakDetected, bus.ProfileLeakEvent{
			ConversationID: convID,
			BotToken:       sender.BotToken,
			BadStreak:      badStreak,
			ForcedEnd:      forcedEnd,
		})
		if forcedEnd {
			_ = o.TriggerDialogEnd(ctx, convID, sender)
		}
		return 0, ErrProfileLeakDetected
	}

	msgID := len(live.conv.Messages)
	live.conv.Messages = append(live.conv.Messages, store.Message{
		MsgID:  msgID,
		Text:   text,
		Sender: sender,
		Time:   at,
	})
	other := live.conv.Other(sender)
	atMaxLength := o.cfg.MaxLength > 0 && len(live.conv.Messages) >= o.cfg.MaxLength
	o.mu.Unlock()

	if other != nil {
		gw := o.gatewayFor(other.Peer)
		if err := gw.SendMessage(ctx, convID, msgID, text, other.Peer); err != nil {
			o.logger.Warn("send message to peer failed", "conversation_id", convID, "error", err)
		}
	}

	o.bus.Publish(bus.TopicConversationMessage, bus.MessageEvent{ConversationID: convID, Sender: sender.String(), MsgID: msgID})

	if atMaxLength {
		_ = o.TriggerDialogEnd(ctx, convID, sender)
	} else {
		o.armInactivityTimer(convID)
	}
	return msgID, nil
}

// OnMessageEvaluated records an in-line 0/1 evaluation of a prior message
// authored by the evaluator's conversation partner. If msgID is nil, the
// most recent message not authored by evaluator is targeted.
func (o *Orchestrator) OnMessageEvaluated(ctx context.Context, convID int32, evaluator store.PeerRef, score int, msgID *int) error {
	if score != 0 && score != 1 {
		return ErrValidation
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	live, ok := o.activeDialogs[convID]
	if !ok {
		return ErrConversationNotFound
	}
	if live.conv.PeerConversationPeer(evaluator) == nil {
		return ErrNotParticipant
	}

	idx := -1
	if msgID != nil {
		if *msgID < 0 || *msgID >= len(live.conv.Messages) {
			return ErrValidation
		}
		idx = *msgID
	} else {
		for i := len(live.conv.Messages) - 1; i >= 0; i-- {
			if live.conv.Messages[i].Sender != evaluator {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return ErrValidation
	}
	if live.conv.Messages[idx].Sender == evaluator {
		return ErrValidation
	}

	s := score
	live.conv.Messages[idx].EvaluationScore = &s
	return nil
}

// SwitchToNextTopic advances the active topic index by one if both
// participants' profiles define a topic at the new index, emitting a system
// message and notifying both gateways. Reports whether the switch happened.
func (o *Orchestrator) SwitchToNextTopic(ctx context.Context, convID int32, requester store.PeerRef) (bool, error) {
	o.mu.Lock()
	live, ok := o.activeDialogs[convID]
	if !ok {
		o.mu.Unlock()
		return false, ErrConversationNotFound
	}
	if live.conv.PeerConversationPeer(requester) == nil {
		o.mu.Unlock()
		return false, ErrNotParticipant
	}

	next := live.conv.ActiveTopicIndex + 1
	p1Topics := live.conv.Participant1.AssignedProfile.Topics
	p2Topics := live.conv.Participant2.AssignedProfile.Topics
	if next >= len(p1Topics) || next >= len(p2Topics) {
		o.mu.Unlock()
		return false, nil
	}
	live.conv.ActiveTopicIndex = next
	topic := p1Topics[next]
	msgID := len(live.conv.Messages)
	live.conv.Messages = append(live.conv.Messages, store.Message{
		MsgID:  msgID,
		Text:   topic,
		Sender: requester,
		Time:   time.Now(),
		System: true,
	})
	p1, p2 := live.conv.Participant1.Peer, live.conv.Participant2.Peer
	o.mu.Unlock()

	gw1, gw2 := o.gatewayFor(p1), o.gatewayFor(p2)
	if err := gw1.NotifyTopic(ctx, convID, p1, topic); err != nil {
		o.logger.Warn("notify topic failed", "conversation_id", convID, "peer", p1.String(), "error", err)
	}
	if err := gw2.NotifyTopic(ctx, convID, p2, topic); err != nil {
		o.logger.Warn("notify topic failed", "conversation_id", convID, "peer", p2.String(), "error", err)
	}
	o.bus.Publish(bus.TopicConversationTopicSwitch, bus.MessageEvent{ConversationID: convID, Sender: requester.String(), MsgID: msgID, System: true})
	return true, nil
}

// Complain records a complaint by complainer against their dialog partner.
// Reports whether the conversation had at least one message (the only
// precondition for filing).
func (o *Orchestrator) Complain(ctx context.Context, convID int32, complainer store.UserKey) (bool, error) {
	o.mu.Lock()
	live, ok := o.activeDialogs[convID]
	if !ok {
		o.mu.Unlock()
		return false, ErrConversationNotFound
	}
	peer := store.PeerRef{UserKey: complainer}
	other := live.conv.Other(peer)
	hasMessages := len(live.conv.Messages) > 0
	o.mu.Unlock()

	if other == nil || !hasMessages {
		return false, nil
	}
	if err := o.store.FileComplaint(ctx, complainer, other.Peer, convID); err != nil {
		return false, fmt.Errorf("file complaint: %w", err)
	}
	o.bus.Publish(bus.TopicComplaintFiled, bus.ComplaintFiledEvent{
		ConversationID: convID,
		Complainer:     peer.String(),
		ComplainTo:     other.Peer.String(),
	})
	return true, nil
}

func (o *Orchestrator) armInactivityTimer(convID int32) {
	o.scheduler.After(inactivityTimerKey(convID), o.cfg.InactivityTimeout, func() {
		o.onInactivityFired(convID)
	})
}

func (o *Orchestrator) onInactivityFired(convID int32) {
	ctx := context.Background()
	o.mu.Lock()
	live, ok := o.activeDialogs[convID]
	if !ok {
		o.mu.Unlock()
		return
	}
	evaluating := live.evaluating
	o.mu.Unlock()

	if evaluating {
		o.cleanup(ctx, convID)
		return
	}
	_ = o.TriggerDialogEnd(ctx, convID, store.PeerRef{})
}

// generateConversationID draws a 31-bit random id that collides with
// neither a live in-memory conversation nor a previously stored one,
// retrying uniformly on collision.
func (o *Orchestrator) generateConversationID(ctx context.Context) (int32, error) {
	const maxAttempts = 64
	for i := 0; i < maxAttempts; i++ {
		id := int32(rand.Uint32N(1 << 31))

		o.mu.Lock()
		_, inMemory := o.activeDialogs[id]
		o.mu.Unlock()
		if inMemory {
			continue
		}

		exists, err := o.store.ExistsConversationID(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("check conversation id: %w", err)
		}
		if !exists {
			return id, nil
		}
	}
	return 0, fmt.Errorf("exhausted attempts generating a unique conversation id")
}

// newPeerConversationGUID assigns each conversation participant a stable,
// unguessable identifier distinct from the conversation id itself.
func newPeerConversationGUID() string {
	return uuid.NewString()
}
