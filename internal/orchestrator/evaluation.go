package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/convai/dialog-router/internal/bus"
	"github.com/convai/dialog-router/internal/store"
)

// TriggerDialogEnd marks that a conversation should end. It is idempotent:
// a second call against a conversation already in evaluation, or already
// torn down, is a no-op. initiator is recorded on whichever side triggered
// it (the zero PeerRef when the inactivity timer itself is the cause).
func (o *Orchestrator) TriggerDialogEnd(ctx context.Context, convID int32, initiator store.PeerRef) error {
	o.mu.Lock()
	live, ok := o.activeDialogs[convID]
	if !ok {
		o.mu.Unlock()
		return nil
	}
	if live.evaluating {
		o.mu.Unlock()
		return nil
	}
	live.evaluating = true
	if side := live.conv.PeerConversationPeer(initiator); side != nil {
		side.TriggeredDialogEnd = true
	}
	o.scheduler.Cancel(inactivityTimerKey(convID))
	o.bus.Publish(bus.TopicConversationEndTriggered, bus.MessageEvent{ConversationID: convID, Sender: initiator.String()})

	if !o.cfg.ScoreDialog && !o.cfg.GuessProfile {
		o.mu.Unlock()
		o.cleanup(ctx, convID)
		return nil
	}

	o.evaluations[convID] = [2]EvalState{EvalNone, EvalNone}
	p1, p2 := live.conv.Participant1.Peer, live.conv.Participant2.Peer
	o.mu.Unlock()

	if err := o.beginEvaluation(ctx, convID, p1); err != nil {
		o.logger.Warn("begin evaluation failed", "conversation_id", convID, "peer", p1.String(), "error", err)
	}
	if err := o.beginEvaluation(ctx, convID, p2); err != nil {
		o.logger.Warn("begin evaluation failed", "conversation_id", convID, "peer", p2.String(), "error", err)
	}
	o.bus.Publish(bus.TopicEvaluationStarted, bus.EvaluationStartedEvent{ConversationID: convID})
	o.maybeCleanup(ctx, convID)

	o.armInactivityTimer(convID)
	return nil
}

// beginEvaluation selects the options peer will be shown when guessing the
// other participant's profile (their true profile plus one distractor, in
// random order) and invokes StartEvaluation on the appropriate gateway. A
// bot peer still receives the evaluation prompt, but its side is marked
// complete on both axes immediately, so cleanup never waits on a bot.
func (o *Orchestrator) beginEvaluation(ctx context.Context, convID int32, peer store.PeerRef) error {
	o.mu.Lock()
	if peer.IsBot {
		o.setEvalBitLocked(convID, peer, EvalScoreGiven|EvalProfileSelected)
	}
	live, ok := o.activeDialogs[convID]
	if !ok {
		o.mu.Unlock()
		return ErrConversationNotFound
	}
	self := live.conv.PeerConversationPeer(peer)
	other := live.conv.Other(peer)
	if self == nil || other == nil {
		o.mu.Unlock()
		return ErrNotParticipant
	}
	trueProfile := other.AssignedProfile
	o.mu.Unlock()

	var options []store.PersonProfile
	if o.cfg.GuessProfile {
		distractor, err := o.store.SampleProfileDistinctFrom(ctx, trueProfile)
		if err != nil && !errors.Is(err, store.ErrNoProfiles) {
			return fmt.Errorf("sample distractor profile: %w", err)
		}
		options = []store.PersonProfile{trueProfile}
		if err == nil {
			options = append(options, distractor)
			if rand.IntN(2) == 1 {
				options[0], options[1] = options[1], options[0]
			}
		}
	}
	o.mu.Lock()
	self.OtherPeerProfileOptions = options
	o.mu.Unlock()

	gw := o.gatewayFor(peer)
	return gw.StartEvaluation(ctx, convID, peer, options, trueProfile, o.cfg.EvalMin, o.cfg.EvalMax)
}

// EvaluateDialog records evaluator's dialog score, in [EvalMin, EvalMax]
// inclusive, for their partner's side of convID. score may be nil when
// dialog scoring is globally disabled and the caller is only advancing
// past that step. If profile guessing is also globally disabled, this
// call alone completes evaluator's side.
func (o *Orchestrator) EvaluateDialog(ctx context.Context, convID int32, evaluator store.PeerRef, score *int) error {
	if score != nil && (*score < o.cfg.EvalMin || *score > o.cfg.EvalMax) {
		return ErrValidation
	}

	o.mu.Lock()
	live, ok := o.activeDialogs[convID]
	if !ok {
		o.mu.Unlock()
		return ErrConversationNotFound
	}
	self := live.conv.PeerConversationPeer(evaluator)
	if self == nil {
		o.mu.Unlock()
		return ErrNotParticipant
	}
	if !live.evaluating {
		o.mu.Unlock()
		return ErrInvalidState
	}
	if score != nil {
		self.DialogScore = score
	}
	bits := EvalScoreGiven
	if !o.cfg.GuessProfile {
		bits |= EvalProfileSelected
	}
	o.setEvalBitLocked(convID, evaluator, bits)
	o.mu.Unlock()

	o.maybeCleanup(ctx, convID)
	return nil
}

// SelectOtherPeerProfile records evaluator's whole-profile guess by index
// into the options they were shown.
func (o *Orchestrator) SelectOtherPeerProfile(ctx context.Context, convID int32, evaluator store.PeerRef, profileIdx int) error {
	o.mu.Lock()
	live, ok := o.activeDialogs[convID]
	if !ok {
		o.mu.Unlock()
		return ErrConversationNotFound
	}
	self := live.conv.PeerConversationPeer(evaluator)
	if self == nil {
		o.mu.Unlock()
		return ErrNotParticipant
	}
	if !live.evaluating {
		o.mu.Unlock()
		return ErrInvalidState
	}
	if profileIdx < 0 || profileIdx >= len(self.OtherPeerProfileOptions) {
		o.mu.Unlock()
		return ErrValidation
	}
	selected := self.OtherPeerProfileOptions[profileIdx]
	self.OtherPeerProfileSelected = &selected
	o.setEvalBitLocked(convID, evaluator, EvalProfileSelected)
	o.mu.Unlock()

	o.maybeCleanup(ctx, convID)
	return nil
}

// SelectOtherPeerProfileSentence records evaluator's guess of the sentence
// at sentenceIdx in the other participant's profile, for sentence-by-
// sentence guessing mode.
func (o *Orchestrator) SelectOtherPeerProfileSentence(ctx context.Context, convID int32, evaluator store.PeerRef, sentenceIdx int, sentence string) error {
	o.mu.Lock()
	live, ok := o.activeDialogs[convID]
	if !ok {
		o.mu.Unlock()
		return ErrConversationNotFound
	}
	self := live.conv.PeerConversationPeer(evaluator)
	other := live.conv.Other(evaluator)
	if self == nil || other == nil {
		o.mu.Unlock()
		return ErrNotParticipant
	}
	if !live.evaluating {
		o.mu.Unlock()
		return ErrInvalidState
	}
	for len(self.OtherPeerProfileSelectedSentence) <= sentenceIdx {
		self.OtherPeerProfileSelectedSentence = append(self.OtherPeerProfileSelectedSentence, nil)
	}
	s := sentence
	self.OtherPeerProfileSelectedSentence[sentenceIdx] = &s

	filled := 0
	for _, selected := range self.OtherPeerProfileSelectedSentence {
		if selected != nil {
			filled++
		}
	}
	complete := filled >= len(other.AssignedProfile.Sentences)
	if complete {
		o.setEvalBitLocked(convID, evaluator, EvalProfileSelected)
	}
	o.mu.Unlock()

	if complete {
		o.maybeCleanup(ctx, convID)
	}
	return nil
}

// setEvalBitLocked sets bit on evaluator's EvalState for convID. Must be
// called with o.mu held.
func (o *Orchestrator) setEvalBitLocked(convID int32, evaluator store.PeerRef, bit EvalState) {
	live, ok := o.activeDialogs[convID]
	if !ok {
		return
	}
	sides, ok := o.evaluations[convID]
	if !ok {
		return
	}
	idx := 0
	if live.conv.Participant2.Peer == evaluator {
		idx = 1
	}
	sides[idx] |= bit
	o.evaluations[convID] = sides
}

// maybeCleanup tears the conversation down once both sides have completed
// evaluation on every configured axis.
func (o *Orchestrator) maybeCleanup(ctx context.Context, convID int32) {
	o.mu.Lock()
	sides, ok := o.evaluations[convID]
	if !ok {
		o.mu.Unlock()
		return
	}
	done := sides[0].complete() && sides[1].complete()
	o.mu.Unlock()
	if done {
		o.bus.Publish(bus.TopicEvaluationCompleted, bus.EvaluationStartedEvent{ConversationID: convID})
		o.cleanup(ctx, convID)
	}
}

// cleanup notifies both gateways the conversation is over, persists it
// (best-effort; an empty conversation is not an error), cancels any
// outstanding timer and releases all in-memory state.
func (o *Orchestrator) cleanup(ctx context.Context, convID int32) {
	o.mu.Lock()
	live, ok := o.activeDialogs[convID]
	if !ok {
		o.mu.Unlock()
		return
	}
	delete(o.activeDialogs, convID)
	delete(o.evaluations, convID)
	delete(o.peerConv, live.conv.Participant1.Peer.String())
	delete(o.peerConv, live.conv.Participant2.Peer.String())
	conv := *live.conv
	p1, p2 := conv.Participant1.Peer, conv.Participant2.Peer
	o.mu.Unlock()

	o.scheduler.Cancel(inactivityTimerKey(convID))

	if err := o.gatewayFor(p1).FinishConversation(ctx, convID, p1); err != nil {
		o.logger.Warn("finish conversation notify failed", "conversation_id", convID, "peer", p1.String(), "error", err)
	}
	if err := o.gatewayFor(p2).FinishConversation(ctx, convID, p2); err != nil {
		o.logger.Warn("finish conversation notify failed", "conversation_id", convID, "peer", p2.String(), "error", err)
	}

	if err := o.store.SaveConversation(ctx, conv); err != nil && !errors.Is(err, store.ErrEmptyConversation) {
		o.logger.Warn("save conversation failed", "conversation_id", convID, "error", err)
	}

	o.bus.Publish(bus.TopicConversationFinished, bus.ConversationFinishedEvent{ConversationID: convID, MessageCount: len(conv.Messages)})
}
