package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/convai/dialog-router/internal/bus"
	"github.com/convai/dialog-router/internal/store"
	"github.com/convai/dialog-router/internal/trigram"
)

// OnHumanInitiatedDialog admits user into matching: a banned user or one
// already in the lobby or an active dialog is rejected. Otherwise a biased
// coin decides between trying to pair with another lobbied human and
// drawing a bot, with the human path falling back to bot matching after
// maxTimeInLobby.
func (o *Orchestrator) OnHumanInitiatedDialog(ctx context.Context, key store.UserKey, displayName string) error {
	user, err := o.store.FindOrCreateUser(ctx, key, displayName)
	if err != nil {
		return fmt.Errorf("find or create user: %w", err)
	}
	if user.Banned {
		return ErrUserBanned
	}

	o.mu.Lock()
	_, inLobby := o.lobby[key]
	_, inDialog := o.peerConv[store.PeerRef{UserKey: key}.String()]
	o.mu.Unlock()
	if inLobby || inDialog {
		return ErrSimultaneousDialogs
	}

	if rand.Float64() >= o.cfg.HumanBotRatio {
		return o.matchWithBot(ctx, key, user)
	}
	return o.matchWithHuman(ctx, key, user)
}

func (o *Orchestrator) matchWithHuman(ctx context.Context, key store.UserKey, user store.User) error {
	o.mu.Lock()
	if len(o.lobby) > 0 {
		peerKey := randomLobbyKey(o.lobby)
		delete(o.lobby, peerKey)
		o.mu.Unlock()

		o.scheduler.Cancel(lobbyTimerKey(peerKey))
		return o.instantiateDialog(ctx, store.PeerRef{UserKey: peerKey}, store.PeerRef{UserKey: key})
	}
	o.lobby[key] = struct{}{}
	o.mu.Unlock()

	o.bus.Publish(bus.TopicLobbyJoined, bus.MessageEvent{Sender: store.PeerRef{UserKey: key}.String()})

	o.scheduler.After(lobbyTimerKey(key), o.cfg.MaxTimeInLobby, func() {
		o.mu.Lock()
		_, stillWaiting := o.lobby[key]
		delete(o.lobby, key)
		o.mu.Unlock()
		if !stillWaiting {
			return
		}
		o.bus.Publish(bus.TopicLobbyTimeout, bus.MessageEvent{Sender: store.PeerRef{UserKey: key}.String()})
		if err := o.matchWithBot(context.Background(), key, user); err != nil {
			o.logger.Warn("lobby timeout bot match failed", "user", key, "error", err)
		}
	})
	return nil
}

func randomLobbyKey(lobby map[store.UserKey]struct{}) store.UserKey {
	n := rand.IntN(len(lobby))
	i := 0
	for k := range lobby {
		if i == n {
			return k
		}
		i++
	}
	panic("unreachable: lobby non-empty")
}

func (o *Orchestrator) matchWithBot(ctx context.Context, key store.UserKey, user store.User) error {
	bot, err := o.store.SampleBot(ctx, key, user.AssignedTestBot)
	if err != nil {
		if errors.Is(err, store.ErrBotNotRegistered) {
			return ErrPeerNotFound
		}
		return fmt.Errorf("sample bot: %w", err)
	}
	return o.instantiateDialog(ctx, store.PeerRef{UserKey: key}, store.PeerRef{IsBot: true, BotToken: bot.Token})
}

// instantiateDialog creates an in-memory Conversation for (peer1, peer2),
// assigns profiles per the preference order (shared linkGroupId, else
// distinct sentences, else the same profile), notifies both gateways, and
// arms the inactivity timer.
func (o *Orchestrator) instantiateDialog(ctx context.Context, peer1, peer2 store.PeerRef) error {
	var p1, p2 store.PersonProfile
	if o.cfg.AssignProfile {
		var err error
		p1, err = o.store.SampleProfile(ctx)
		if err != nil && !errors.Is(err, store.ErrNoProfiles) {
			return fmt.Errorf("sample profile: %w", err)
		}
		p2 = o.secondProfile(ctx, p1)
	}

	convID, err := o.generateConversationID(ctx)
	if err != nil {
		return err
	}

	conv := &store.Conversation{
		ConversationID: convID,
		Participant1: store.ConversationPeer{
			Peer:                 peer1,
			AssignedProfile:      p1,
			PeerConversationGUID: newPeerConversationGUID(),
		},
		Participant2: store.ConversationPeer{
			Peer:                 peer2,
			AssignedProfile:      p2,
			PeerConversationGUID: newPeerConversationGUID(),
		},
	}

	live := &liveConversation{conv: conv, guards: make(map[string]*trigram.Guard)}
	if peer1.IsBot {
		live.guards[peer1.BotToken] = trigram.New(p1.Description(), o.cfg.TrigramWindow, o.cfg.BadMessageThreshold)
	}
	if peer2.IsBot {
		live.guards[peer2.BotToken] = trigram.New(p2.Description(), o.cfg.TrigramWindow, o.cfg.BadMessageThreshold)
	}

	o.mu.Lock()
	o.activeDialogs[convID] = live
	o.peerConv[peer1.String()] = convID
	o.peerConv[peer2.String()] = convID
	o.mu.Unlock()

	gw1, gw2 := o.gatewayFor(peer1), o.gatewayFor(peer2)
	if err := gw1.StartConversation(ctx, convID, peer1, p1, conv.Participant1.PeerConversationGUID); err != nil {
		o.logger.Warn("start conversation notify failed", "conversation_id", convID, "peer", peer1.String(), "error", err)
	}
	if err := gw2.StartConversation(ctx, convID, peer2, p2, conv.Participant2.PeerConversationGUID); err != nil {
		o.logger.Warn("start conversation notify failed", "conversation_id", convID, "peer", peer2.String(), "error", err)
	}

	if o.cfg.ShowTopics && len(p1.Topics) > 0 {
		topic := p1.Topics[0]
		if err := gw1.NotifyTopic(ctx, convID, peer1, topic); err != nil {
			o.logger.Warn("notify topic failed", "conversation_id", convID, "error", err)
		}
		if err := gw2.NotifyTopic(ctx, convID, peer2, topic); err != nil {
			o.logger.Warn("notify topic failed", "conversation_id", convID, "error", err)
		}
	}

	o.armInactivityTimer(convID)
	o.bus.Publish(bus.TopicConversationStarted, bus.ConversationStartedEvent{
		ConversationID: convID,
		Participant1:   peer1.String(),
		Participant2:   peer2.String(),
	})
	return nil
}

func (o *Orchestrator) secondProfile(ctx context.Context, p1 store.PersonProfile) store.PersonProfile {
	if p1.LinkGroupID != "" {
		if p2, err := o.store.SampleProfileInLinkGroup(ctx, p1.LinkGroupID, p1.ID); err == nil {
			return p2
		}
	}
	if p2, err := o.store.SampleProfileDistinctFrom(ctx, p1); err == nil {
		return p2
	}
	return p1
}
