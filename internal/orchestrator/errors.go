package orchestrator

import "errors"

var (
	// ErrUserBanned is returned when a banned user attempts to begin a dialog.
	ErrUserBanned = errors.New("user is banned")

	// ErrSimultaneousDialogs is returned when a user already in the lobby or
	// an active dialog attempts to begin another one.
	ErrSimultaneousDialogs = errors.New("simultaneous dialogs not allowed")

	// ErrPeerNotFound is returned when bot matching cannot find any eligible,
	// non-banned-pair bot.
	ErrPeerNotFound = errors.New("no available peer")

	// ErrInvalidState is returned when an operation is attempted against a
	// conversation that is not in the state the operation requires (e.g.
	// sending a message on a conversation already in evaluation, or
	// submitting an evaluation on one that is not).
	ErrInvalidState = errors.New("invalid conversation state")

	// ErrValidation is returned for well-formed-but-out-of-range inputs, such
	// as an evaluation score outside the configured range.
	ErrValidation = errors.New("validation error")

	// ErrConversationNotFound is returned when a conversationId does not
	// refer to a live conversation.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrNotParticipant is returned when a peer is not a participant of the
	// conversation they are acting against.
	ErrNotParticipant = errors.New("peer is not a participant of this conversation")

	// ErrProfileLeakDetected is returned when a bot message is rejected by
	// the trigram guard; the message is never appended to the conversation
	// or forwarded to the human partner.
	ErrProfileLeakDetected = errors.New("message rejected: profile leak detected")
)
