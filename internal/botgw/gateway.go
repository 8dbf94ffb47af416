// Package botgw is the bot-facing Gateway: it translates the orchestrator's
// abstract StartConversation/SendMessage/NotifyTopic/StartEvaluation/
// FinishConversation calls into envelopes enqueued on a per-bot mailbox, and
// exposes the bot HTTP API (getUpdates, sendMessage, healthz) that bots
// long-poll and post to.
package botgw

import (
	"context"
	"time"

	"github.com/convai/dialog-router/internal/mailbox"
	"github.com/convai/dialog-router/internal/store"
)

// Gateway implements orchestrator.Gateway for bot peers, fanning outbound
// notifications into the shared Mailbox keyed by bot token.
type Gateway struct {
	mailbox *mailbox.Mailbox
}

// NewGateway builds a bot Gateway backed by mb.
func NewGateway(mb *mailbox.Mailbox) *Gateway {
	return &Gateway{mailbox: mb}
}

func (g *Gateway) StartConversation(ctx context.Context, convID int32, peer store.PeerRef, profile store.PersonProfile, guid string) error {
	g.mailbox.Enqueue(peer.BotToken, startEnvelope(convID, profile.Description(), time.Now()))
	return nil
}

func (g *Gateway) SendMessage(ctx context.Context, convID int32, msgID int, text string, receiver store.PeerRef) error {
	g.mailbox.Enqueue(receiver.BotToken, buildEnvelope(convID, msgID, text, time.Now()))
	return nil
}

func (g *Gateway) NotifyTopic(ctx context.Context, convID int32, peer store.PeerRef, topic string) error {
	g.mailbox.Enqueue(peer.BotToken, topicEnvelope(convID, topic, time.Now()))
	return nil
}

func (g *Gateway) StartEvaluation(ctx context.Context, convID int32, peer store.PeerRef, options []store.PersonProfile, correct store.PersonProfile, scoreMin, scoreMax int) error {
	var p0, p1 string
	if len(options) > 0 {
		p0 = options[0].Description()
	}
	if len(options) > 1 {
		p1 = options[1].Description()
	}
	g.mailbox.Enqueue(peer.BotToken, evaluationEnvelope(convID, scoreMin, scoreMax, p0, p1, time.Now()))
	return nil
}

func (g *Gateway) FinishConversation(ctx context.Context, convID int32, peer store.PeerRef) error {
	g.mailbox.Enqueue(peer.BotToken, buildEnvelope(convID, outOfBandMsgID, "/finish", time.Now()))
	return nil
}
