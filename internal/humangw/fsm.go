// Package humangw is the human-facing Gateway: it owns one finite-state
// machine per human user, maps messenger commands (/begin, /end, /help,
// /complain, /setbot, free text, inline score/profile replies) onto
// orchestrator calls, and renders orchestrator-initiated events back
// through a Messenger.
package humangw

import (
	"fmt"

	"github.com/convai/dialog-router/internal/store"
)

// State is one of the per-user FSM states the spec defines for HumanGateway.
type State int

const (
	StateIdle State = iota
	StateInLobby
	StateInDialog
	StateEvaluating
	StateWaitingForPartnerEvaluation
	StateWaitingForBotToken
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateInLobby:
		return "IN_LOBBY"
	case StateInDialog:
		return "IN_DIALOG"
	case StateEvaluating:
		return "EVALUATING"
	case StateWaitingForPartnerEvaluation:
		return "WAITING_FOR_PARTNER_EVALUATION"
	case StateWaitingForBotToken:
		return "WAITING_FOR_BOT_TOKEN"
	default:
		return "UNKNOWN"
	}
}

// evalProgress tracks one user's progress through two-sided evaluation:
// whether they've submitted a score, and which profile-guess indices (whole
// or sentence-by-sentence) they've answered.
type evalProgress struct {
	scoreGiven       bool
	bySentence       bool
	sentenceTotal    int
	sentencesAnswered map[int]struct{}
	profileSelected  bool
}

func (p *evalProgress) profileComplete() bool {
	if p.profileSelected {
		return true
	}
	if !p.bySentence {
		return false
	}
	return len(p.sentencesAnswered) >= p.sentenceTotal && p.sentenceTotal > 0
}

// session is the per-user conversational state the gateway tracks between
// messenger events. extToMsgID mirrors messenger-assigned external message
// IDs to the orchestrator's internal msgId, so inline evaluations of a
// specific prior message can be targeted correctly.
type session struct {
	state        State
	conversation int32
	guid         string
	extToMsgID   map[int]int
	eval         evalProgress
	setBotBuf    string
}

func newSession() *session {
	return &session{state: StateIdle, extToMsgID: make(map[int]int)}
}

// transitionError reports an FSM transition attempted from a state that
// forbids it, matching the spec's InvalidState error kind: the gateway
// informs the user and does not propagate the error further up.
type transitionError struct {
	from  State
	event string
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("cannot handle %q while in state %s", e.event, e.from)
}

func newTransitionError(from State, event string) error {
	return &transitionError{from: from, event: event}
}

// peerKeyFor builds the PeerRef the orchestrator expects for a human user.
func peerKeyFor(key store.UserKey) store.PeerRef {
	return store.PeerRef{UserKey: key}
}
