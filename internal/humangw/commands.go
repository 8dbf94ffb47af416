package humangw

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/convai/dialog-router/internal/store"
)

const helpText = `Commands:
/begin - look for a conversation partner
/end - end the current conversation and move to evaluation
/complain - report your current partner
/setbot <token> - pin yourself to a specific test bot
/help - show this message`

// HandleText dispatches one inbound text message from key through the
// user's FSM. It is the counterpart to botgw.Server's HTTP handlers: where
// that package turns HTTP requests into orchestrator calls, this turns
// messenger-delivered text into the same calls, gated by FSM state.
func (g *Gateway) HandleText(ctx context.Context, key store.UserKey, displayName string, externalMsgID int, text string) {
	s := g.sessionFor(key)

	switch {
	case text == "/help":
		g.reply(ctx, key, helpText)
	case text == "/begin":
		g.handleBegin(ctx, key, displayName, s)
	case text == "/end":
		g.handleEnd(ctx, key, s)
	case text == "/complain":
		g.handleComplain(ctx, key, s)
	case strings.HasPrefix(text, "/setbot"):
		g.handleSetBot(ctx, key, s, strings.TrimSpace(strings.TrimPrefix(text, "/setbot")))
	default:
		g.handleFreeText(ctx, key, displayName, s, externalMsgID, text)
	}
}

func (g *Gateway) handleBegin(ctx context.Context, key store.UserKey, displayName string, s *session) {
	g.mu.Lock()
	state := s.state
	g.mu.Unlock()
	if state != StateIdle {
		g.reportInvalidState(ctx, key, state, "/begin")
		return
	}
	if err := g.orchestrator.OnHumanInitiatedDialog(ctx, key, displayName); err != nil {
		g.logger.Warn("begin failed", "user", key, "error", err)
		g.reply(ctx, key, "Could not start a conversation right now: "+err.Error())
		return
	}
	g.mu.Lock()
	if s.state == StateIdle {
		s.state = StateInLobby
	}
	g.mu.Unlock()
}

func (g *Gateway) handleEnd(ctx context.Context, key store.UserKey, s *session) {
	g.mu.Lock()
	state, convID := s.state, s.conversation
	g.mu.Unlock()
	if state != StateInDialog {
		g.reportInvalidState(ctx, key, state, "/end")
		return
	}
	if err := g.orchestrator.TriggerDialogEnd(ctx, convID, peerKeyFor(key)); err != nil {
		g.logger.Warn("trigger dialog end failed", "user", key, "error", err)
	}
}

func (g *Gateway) handleComplain(ctx context.Context, key store.UserKey, s *session) {
	g.mu.Lock()
	state, convID := s.state, s.conversation
	g.mu.Unlock()
	if state != StateInDialog && state != StateEvaluating {
		g.reportInvalidState(ctx, key, state, "/complain")
		return
	}
	filed, err := g.orchestrator.Complain(ctx, convID, key)
	if err != nil {
		g.logger.Warn("complain failed", "user", key, "error", err)
		g.reply(ctx, key, "Could not file complaint: "+err.Error())
		return
	}
	if filed {
		g.reply(ctx, key, "Thanks, we've recorded your complaint.")
	} else {
		g.reply(ctx, key, "Nothing to report yet: this conversation has no messages.")
	}
}

func (g *Gateway) handleSetBot(ctx context.Context, key store.UserKey, s *session, arg string) {
	if !g.cfg.AllowSetBot {
		g.reply(ctx, key, "Pinning a test bot isn't available right now.")
		return
	}
	g.mu.Lock()
	state := s.state
	g.mu.Unlock()

	switch {
	case arg == "" && state == StateIdle:
		g.mu.Lock()
		s.state = StateWaitingForBotToken
		g.mu.Unlock()
		g.reply(ctx, key, "Send the bot token to pin, \"list\" to see available bots, or \"cancel\".")
	case state == StateIdle || state == StateWaitingForBotToken:
		g.resolveBotToken(ctx, key, s, arg)
	default:
		g.reportInvalidState(ctx, key, state, "/setbot")
	}
}

func (g *Gateway) resolveBotToken(ctx context.Context, key store.UserKey, s *session, arg string) {
	switch arg {
	case "cancel":
		g.mu.Lock()
		s.state = StateIdle
		g.mu.Unlock()
		g.reply(ctx, key, "Cancelled.")
	case "list":
		bots, err := g.store.ListNonBannedBots(ctx)
		if err != nil {
			g.reply(ctx, key, "Could not list bots: "+err.Error())
			return
		}
		if len(bots) == 0 {
			g.reply(ctx, key, "No bots are registered.")
			return
		}
		var names []string
		for _, b := range bots {
			names = append(names, b.Name)
		}
		g.reply(ctx, key, "Available bots: "+strings.Join(names, ", "))
	case "unset":
		if err := g.store.SetAssignedTestBot(ctx, key, ""); err != nil {
			g.reply(ctx, key, "Could not unset bot: "+err.Error())
			return
		}
		g.mu.Lock()
		s.state = StateIdle
		g.mu.Unlock()
		g.reply(ctx, key, "Cleared your pinned bot.")
	default:
		if _, err := g.store.GetBot(ctx, arg); err != nil {
			g.reply(ctx, key, "Unknown bot token.")
			return
		}
		if err := g.store.SetAssignedTestBot(ctx, key, arg); err != nil {
			g.reply(ctx, key, "Could not pin bot: "+err.Error())
			return
		}
		g.mu.Lock()
		s.state = StateIdle
		g.mu.Unlock()
		g.reply(ctx, key, fmt.Sprintf("Pinned to bot %q.", arg))
	}
}

func (g *Gateway) handleFreeText(ctx context.Context, key store.UserKey, displayName string, s *session, externalMsgID int, text string) {
	g.mu.Lock()
	state, convID := s.state, s.conversation
	g.mu.Unlock()

	switch state {
	case StateInDialog:
		internalID, err := g.orchestrator.OnMessageReceived(ctx, convID, peerKeyFor(key), text, time.Now())
		if err != nil {
			g.logger.Warn("message received failed", "user", key, "error", err)
			return
		}
		g.mu.Lock()
		s.extToMsgID[externalMsgID] = internalID
		g.mu.Unlock()
	case StateEvaluating:
		g.handleEvaluationReply(ctx, key, s, externalMsgID, text)
	case StateWaitingForBotToken:
		g.handleSetBot(ctx, key, s, strings.TrimSpace(text))
	default:
		g.reportInvalidState(ctx, key, state, "message")
	}
}

// HandleScoreReply processes an inline or typed evaluation score reply.
func (g *Gateway) HandleScoreReply(ctx context.Context, key store.UserKey, score int) {
	s := g.sessionFor(key)
	g.mu.Lock()
	state, convID := s.state, s.conversation
	g.mu.Unlock()
	if state != StateEvaluating {
		g.reportInvalidState(ctx, key, state, "score")
		return
	}
	if err := g.orchestrator.EvaluateDialog(ctx, convID, peerKeyFor(key), &score); err != nil {
		g.logger.Warn("evaluate dialog failed", "user", key, "error", err)
		return
	}
	g.mu.Lock()
	s.eval.scoreGiven = true
	g.advanceIfEvalDoneLocked(key, s)
	g.mu.Unlock()
}

// HandleProfileSelection processes a whole-profile guess (profileIdx among
// the options rendered by StartEvaluation).
func (g *Gateway) HandleProfileSelection(ctx context.Context, key store.UserKey, profileIdx int) {
	s := g.sessionFor(key)
	g.mu.Lock()
	state, convID := s.state, s.conversation
	g.mu.Unlock()
	if state != StateEvaluating {
		g.reportInvalidState(ctx, key, state, "profile selection")
		return
	}
	if err := g.orchestrator.SelectOtherPeerProfile(ctx, convID, peerKeyFor(key), profileIdx); err != nil {
		g.logger.Warn("select profile failed", "user", key, "error", err)
		return
	}
	g.mu.Lock()
	s.eval.profileSelected = true
	g.advanceIfEvalDoneLocked(key, s)
	g.mu.Unlock()
}

// HandleSentenceSelection processes one sentence-by-sentence guess.
// Re-selecting an already-answered index updates the stored guess but does
// not, by itself, advance the session.
func (g *Gateway) HandleSentenceSelection(ctx context.Context, key store.UserKey, sentenceIdx int, sentence string) {
	s := g.sessionFor(key)
	g.mu.Lock()
	state, convID := s.state, s.conversation
	g.mu.Unlock()
	if state != StateEvaluating {
		g.reportInvalidState(ctx, key, state, "sentence selection")
		return
	}
	if err := g.orchestrator.SelectOtherPeerProfileSentence(ctx, convID, peerKeyFor(key), sentenceIdx, sentence); err != nil {
		g.logger.Warn("select sentence failed", "user", key, "error", err)
		return
	}
	g.mu.Lock()
	s.eval.sentencesAnswered[sentenceIdx] = struct{}{}
	g.advanceIfEvalDoneLocked(key, s)
	g.mu.Unlock()
}

func (g *Gateway) handleEvaluationReply(ctx context.Context, key store.UserKey, s *session, externalMsgID int, text string) {
	if score, err := strconv.Atoi(strings.TrimSpace(text)); err == nil {
		g.HandleScoreReply(ctx, key, score)
		return
	}
	g.reply(ctx, key, "Please respond using the evaluation buttons.")
}

// advanceIfEvalDoneLocked moves a fully-evaluated session to
// WAITING_FOR_PARTNER_EVALUATION. Caller must hold g.mu.
func (g *Gateway) advanceIfEvalDoneLocked(key store.UserKey, s *session) {
	if s.eval.scoreGiven && s.eval.profileComplete() {
		s.state = StateWaitingForPartnerEvaluation
	}
}

func (g *Gateway) reportInvalidState(ctx context.Context, key store.UserKey, state State, event string) {
	err := newTransitionError(state, event)
	g.logger.Debug("invalid state transition", "user", key, "error", err)
	g.reply(ctx, key, "That's not available right now.")
}

func (g *Gateway) reply(ctx context.Context, key store.UserKey, text string) {
	if _, err := g.messenger.Send(ctx, key, text); err != nil {
		g.logger.Warn("reply send failed", "user", key, "error", err)
	}
}
