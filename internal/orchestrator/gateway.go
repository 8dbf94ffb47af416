package orchestrator

import (
	"context"
	"time"

	"github.com/convai/dialog-router/internal/store"
)

// Gateway is the contract the orchestrator consumes from both the human-
// facing and bot-facing sides. HumanGateway and BotGateway are distinct
// implementations of the same interface, selected per-peer by PeerRef.IsBot.
type Gateway interface {
	// StartConversation notifies peer that a conversation has begun with the
	// given assigned profile and peer-scoped conversation GUID.
	StartConversation(ctx context.Context, convID int32, peer store.PeerRef, profile store.PersonProfile, guid string) error

	// SendMessage forwards a message authored by the other participant to
	// receiver, tagged with the orchestrator-assigned msgID.
	SendMessage(ctx context.Context, convID int32, msgID int, text string, receiver store.PeerRef) error

	// NotifyTopic informs peer that the active topic has changed.
	NotifyTopic(ctx context.Context, convID int32, peer store.PeerRef, topic string) error

	// StartEvaluation asks peer to score the dialog in [scoreMin, scoreMax]
	// and to pick which of options is correct's true profile.
	StartEvaluation(ctx context.Context, convID int32, peer store.PeerRef, options []store.PersonProfile, correct store.PersonProfile, scoreMin, scoreMax int) error

	// FinishConversation tells peer the conversation has ended and all
	// transient per-conversation state can be released. Errors are
	// best-effort and swallowed by the orchestrator.
	FinishConversation(ctx context.Context, convID int32, peer store.PeerRef) error
}

// Config holds the tunables that govern matching, timers, length bounds and
// evaluation behavior.
type Config struct {
	HumanBotRatio          float64
	MaxTimeInLobby         time.Duration
	InactivityTimeout      time.Duration
	MaxLength              int
	EvalMin                int
	EvalMax                int
	GuessProfile           bool
	GuessProfileBySentence bool
	AssignProfile          bool
	ScoreDialog            bool
	ShowTopics             bool
	BadMessageThreshold    int
	TrigramWindow          int
}

// DefaultConfig returns sane defaults grounded in the reference deployment.
func DefaultConfig() Config {
	return Config{
		HumanBotRatio:       0.5,
		MaxTimeInLobby:      30 * time.Second,
		InactivityTimeout:   5 * time.Minute,
		MaxLength:           10,
		EvalMin:             0,
		EvalMax:             1,
		GuessProfile:        true,
		AssignProfile:       true,
		ScoreDialog:         true,
		ShowTopics:          false,
		BadMessageThreshold: 0,
		TrigramWindow:       3,
	}
}
