package telemetry

import "go.opentelemetry.io/otel/metric"

// Metrics holds the dialog router's metric instruments.
type Metrics struct {
	ConversationsStarted metric.Int64Counter
	ConversationDuration metric.Float64Histogram
	LobbyWaitDuration    metric.Float64Histogram
	MessagesRouted       metric.Int64Counter
	EvaluationsCompleted metric.Int64Counter
	ProfileLeaksDetected metric.Int64Counter
	ComplaintsFiled      metric.Int64Counter
	RateLimitRejects     metric.Int64Counter
	ActiveConversations  metric.Int64UpDownCounter
}

// NewMetrics creates every metric instrument from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ConversationsStarted, err = meter.Int64Counter("dialogrouter.conversations.started",
		metric.WithDescription("Conversations instantiated between two peers"),
	)
	if err != nil {
		return nil, err
	}

	m.ConversationDuration, err = meter.Float64Histogram("dialogrouter.conversations.duration",
		metric.WithDescription("Wall-clock duration of a conversation from start to cleanup"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LobbyWaitDuration, err = meter.Float64Histogram("dialogrouter.lobby.wait_duration",
		metric.WithDescription("Time a human spent in the lobby before being matched"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.MessagesRouted, err = meter.Int64Counter("dialogrouter.messages.routed",
		metric.WithDescription("Messages routed between conversation peers"),
	)
	if err != nil {
		return nil, err
	}

	m.EvaluationsCompleted, err = meter.Int64Counter("dialogrouter.evaluations.completed",
		metric.WithDescription("Two-sided evaluations completed by both participants"),
	)
	if err != nil {
		return nil, err
	}

	m.ProfileLeaksDetected, err = meter.Int64Counter("dialogrouter.leaks.detected",
		metric.WithDescription("Bot messages flagged by the anti-leak guard"),
	)
	if err != nil {
		return nil, err
	}

	m.ComplaintsFiled, err = meter.Int64Counter("dialogrouter.complaints.filed",
		metric.WithDescription("Complaints filed against a conversation partner"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("dialogrouter.ratelimit.rejects",
		metric.WithDescription("Bot HTTP API requests rejected by the rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveConversations, err = meter.Int64UpDownCounter("dialogrouter.conversations.active",
		metric.WithDescription("Conversations currently live"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
