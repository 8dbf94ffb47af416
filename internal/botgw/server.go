package botgw

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/convai/dialog-router/internal/mailbox"
	"github.com/convai/dialog-router/internal/orchestrator"
	"github.com/convai/dialog-router/internal/store"
)

// Server exposes the bot HTTP API: long-poll getUpdates, sendMessage, and a
// liveness probe. It is the inbound half of the bot gateway; Gateway (in
// gateway.go) is the outbound half the orchestrator calls into.
type Server struct {
	store        *store.Store
	mailbox      *mailbox.Mailbox
	orchestrator *orchestrator.Orchestrator
	logger       *slog.Logger
	longPollMax  time.Duration
	auth         *AuthMiddleware
	rateLimit    *RateLimiter
}

// Deps bundles Server's collaborators.
type Deps struct {
	Store        *store.Store
	Mailbox      *mailbox.Mailbox
	Orchestrator *orchestrator.Orchestrator
	Logger       *slog.Logger
	LongPollMax  time.Duration
	RateLimit    *RateLimiter
}

// NewServer builds a Server from deps.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	longPollMax := deps.LongPollMax
	if longPollMax <= 0 {
		longPollMax = 30 * time.Second
	}
	return &Server{
		store:        deps.Store,
		mailbox:      deps.Mailbox,
		orchestrator: deps.Orchestrator,
		logger:       logger,
		longPollMax:  longPollMax,
		auth:         NewAuthMiddleware(deps.Store),
		rateLimit:    deps.RateLimit,
	}
}

// Handler builds the complete, middleware-wrapped bot HTTP API mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/bot") {
			s.handleBot(w, r)
			return
		}
		http.NotFound(w, r)
	})

	var h http.Handler = mux
	h = s.auth.Wrap(h)
	if s.rateLimit != nil {
		h = s.rateLimit.Wrap(h)
	}
	return h
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleBot dispatches "/bot{token}/getUpdates" and "/bot{token}/sendMessage"
// requests. AuthMiddleware has already validated the token and injected the
// resolved store.Bot into the request context.
func (s *Server) handleBot(w http.ResponseWriter, r *http.Request) {
	bot, ok := BotFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "BotNotRegistered")
		return
	}

	action := actionFromPath(r.URL.Path)
	switch action {
	case "getUpdates":
		s.handleGetUpdates(w, r, bot)
	case "sendMessage":
		s.handleSendMessage(w, r, bot)
	default:
		writeError(w, http.StatusBadRequest, "UnknownAction")
	}
}

func actionFromPath(path string) string {
	rest := path
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == '/' {
			return rest[i+1:]
		}
	}
	return rest
}

func (s *Server) handleGetUpdates(w http.ResponseWriter, r *http.Request, bot store.Bot) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	timeout := formInt(r, "timeout", 0)
	limit := formInt(r, "limit", mailbox.DefaultLimit)

	timeoutDur := time.Duration(timeout) * time.Second
	if timeoutDur > s.longPollMax {
		timeoutDur = s.longPollMax
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeoutDur+5*time.Second)
	defer cancel()

	updates, nextID, err := s.mailbox.GetUpdates(ctx, bot.Token, timeoutDur, limit, bot.LastUpdateID)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if nextID != bot.LastUpdateID {
		if err := s.store.SetBotLastUpdateID(r.Context(), bot.Token, nextID); err != nil {
			s.logger.Warn("persist bot last_update_id failed", "bot", bot.Token, "error", err)
		}
	}

	result := make([]map[string]any, len(updates))
	for i, u := range updates {
		result[i] = map[string]any{"update_id": u.UpdateID, "message": u.Message}
	}
	writeOK(w, result)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, bot store.Bot) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	chatID := formInt64(r, "chat_id", 0)
	if chatID == 0 {
		writeError(w, http.StatusBadRequest, "missing chat_id")
		return
	}
	convID := int32(chatID)

	env := parseInboundEnvelope(r.FormValue("text"))
	sender := store.PeerRef{IsBot: true, BotToken: bot.Token}
	ctx := r.Context()

	if env.Text == "/end" {
		s.handleEnd(ctx, w, convID, sender, env)
		return
	}

	if len(env.MsgEvaluation) > 0 {
		s.handleMsgEvaluation(ctx, w, convID, sender, env.MsgEvaluation)
		return
	}

	msgID, err := s.orchestrator.OnMessageReceived(ctx, convID, sender, env.Text, time.Now())
	if err != nil {
		s.writeOrchestratorError(w, err)
		return
	}
	writeOK(w, buildEnvelope(convID, msgID, env.Text, time.Now()))
}

func (s *Server) handleEnd(ctx context.Context, w http.ResponseWriter, convID int32, sender store.PeerRef, env inboundEnvelope) {
	if err := s.orchestrator.TriggerDialogEnd(ctx, convID, sender); err != nil {
		s.writeOrchestratorError(w, err)
		return
	}
	if env.Evaluation != nil {
		if env.Evaluation.Score != nil {
			if err := s.orchestrator.EvaluateDialog(ctx, convID, sender, env.Evaluation.Score); err != nil {
				s.writeOrchestratorError(w, err)
				return
			}
		}
		if env.Evaluation.ProfileIdx != nil {
			if err := s.orchestrator.SelectOtherPeerProfile(ctx, convID, sender, *env.Evaluation.ProfileIdx); err != nil {
				s.writeOrchestratorError(w, err)
				return
			}
		}
	}
	writeOK(w, buildEnvelope(convID, evaluationMsgID, env.Text, time.Now()))
}

func (s *Server) handleMsgEvaluation(ctx context.Context, w http.ResponseWriter, convID int32, sender store.PeerRef, raw json.RawMessage) {
	ev, err := parseMsgEvaluation(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.orchestrator.OnMessageEvaluated(ctx, convID, sender, ev.Score, ev.MsgID); err != nil {
		s.writeOrchestratorError(w, err)
		return
	}
	writeOK(w, map[string]any{"ok": true})
}

// writeOrchestratorError maps orchestrator error kinds onto the bot HTTP
// API's error envelope. InvalidState is a graceful no-op per the spec's
// error-handling design: it is not propagated as an HTTP failure.
func (s *Server) writeOrchestratorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidState):
		writeOK(w, map[string]any{"ok": true, "notice": "invalid state"})
	case errors.Is(err, orchestrator.ErrProfileLeakDetected):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrValidation),
		errors.Is(err, orchestrator.ErrConversationNotFound),
		errors.Is(err, orchestrator.ErrNotParticipant):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func formInt(r *http.Request, key string, def int) int {
	raw := r.FormValue(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func formInt64(r *http.Request, key string, def int64) int64 {
	raw := r.FormValue(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}

func writeOK(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func writeError(w http.ResponseWriter, status int, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": status, "description": description})
}
