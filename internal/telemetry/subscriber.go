package telemetry

import (
	"context"
	"time"

	"github.com/convai/dialog-router/internal/bus"
)

// RunMetricsSubscriber subscribes to every conversation lifecycle event on
// b and records it into m, decoupling the orchestrator from telemetry the
// same way the bus decouples it from every other observer: nothing in
// internal/orchestrator imports this package or knows it is running.
func RunMetricsSubscriber(ctx context.Context, b *bus.Bus, m *Metrics) {
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	started := make(map[int32]time.Time)
	lobbyJoinedAt := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			switch ev.Topic {
			case bus.TopicLobbyJoined:
				if e, ok := ev.Payload.(bus.MessageEvent); ok {
					lobbyJoinedAt[e.Sender] = time.Now()
				}
			case bus.TopicConversationStarted:
				if e, ok := ev.Payload.(bus.ConversationStartedEvent); ok {
					started[e.ConversationID] = time.Now()
					m.ConversationsStarted.Add(ctx, 1)
					m.ActiveConversations.Add(ctx, 1)
					for _, participant := range []string{e.Participant1, e.Participant2} {
						if joinedAt, ok := lobbyJoinedAt[participant]; ok {
							m.LobbyWaitDuration.Record(ctx, time.Since(joinedAt).Seconds())
							delete(lobbyJoinedAt, participant)
						}
					}
				}
			case bus.TopicConversationMessage:
				m.MessagesRouted.Add(ctx, 1)
			case bus.TopicEvaluationCompleted:
				m.EvaluationsCompleted.Add(ctx, 1)
			case bus.TopicProfileLeakDetected:
				m.ProfileLeaksDetected.Add(ctx, 1)
			case bus.TopicComplaintFiled:
				m.ComplaintsFiled.Add(ctx, 1)
			case bus.TopicConversationFinished:
				if e, ok := ev.Payload.(bus.ConversationFinishedEvent); ok {
					m.ActiveConversations.Add(ctx, -1)
					if startedAt, ok := started[e.ConversationID]; ok {
						m.ConversationDuration.Record(ctx, time.Since(startedAt).Seconds())
						delete(started, e.ConversationID)
					}
				}
			}
		}
	}
}
