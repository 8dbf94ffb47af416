// Package telegram implements humangw.Messenger over the Telegram Bot API,
// and drives the reconnect-and-poll loop that turns inbound Telegram
// updates into calls against a humangw.Gateway.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/convai/dialog-router/internal/humangw"
	"github.com/convai/dialog-router/internal/store"
)

// Gateway is the subset of humangw.Gateway the Messenger drives inbound
// events into. Declared locally so this package depends only on the calls
// it actually makes.
type Gateway interface {
	HandleText(ctx context.Context, key store.UserKey, displayName string, externalMsgID int, text string)
	HandleScoreReply(ctx context.Context, key store.UserKey, score int)
	HandleProfileSelection(ctx context.Context, key store.UserKey, profileIdx int)
	HandleSentenceSelection(ctx context.Context, key store.UserKey, sentenceIdx int, sentence string)
}

// Messenger implements humangw.Messenger over Telegram, and polls for
// inbound updates to drive a Gateway.
type Messenger struct {
	token   string
	gateway Gateway
	logger  *slog.Logger
	bot     *tgbotapi.BotAPI

	mu         sync.Mutex
	tuples     map[store.UserKey][][]string // cached sentence tuples for the in-flight evaluation
}

var _ humangw.Messenger = (*Messenger)(nil)

// New builds a Telegram Messenger. Call Start to begin polling; Send and
// SendEvaluationPrompt are safe to call only after Start has initialized
// the underlying bot client.
func New(token string, gateway Gateway, logger *slog.Logger) *Messenger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Messenger{
		token:   token,
		gateway: gateway,
		logger:  logger,
		tuples:  make(map[store.UserKey][][]string),
	}
}

// Start initializes the bot client and runs the reconnect-with-backoff
// long-poll loop until ctx is cancelled.
func (m *Messenger) Start(ctx context.Context) error {
	var err error
	m.bot, err = tgbotapi.NewBotAPI(m.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	m.logger.Info("telegram messenger started", "user", m.bot.Self.UserName)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := m.bot.GetUpdatesChan(u)

		pollErr := m.pollUpdates(ctx, updates)
		m.bot.StopReceivingUpdates()

		if pollErr == nil {
			return nil
		}
		m.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// pollUpdates reads from the update channel until ctx is done, the channel
// closes, or no update arrives within 2.5x the long-poll timeout.
func (m *Messenger) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	const stallTimeout = 150 * time.Second
	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message != nil {
				m.handleMessage(ctx, update.Message)
				continue
			}
			if update.CallbackQuery != nil {
				m.handleCallbackQuery(ctx, update.CallbackQuery)
				continue
			}
		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (m *Messenger) keyFor(userID int64) store.UserKey {
	return store.UserKey{Platform: store.PlatformTelegram, ExternalID: strconv.FormatInt(userID, 10)}
}

func (m *Messenger) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	key := m.keyFor(msg.From.ID)
	displayName := msg.From.FirstName
	if msg.From.UserName != "" {
		displayName = msg.From.UserName
	}
	m.gateway.HandleText(ctx, key, displayName, msg.MessageID, text)
}

// handleCallbackQuery dispatches inline-keyboard presses from the
// evaluation prompt: "score:<n>", "profile:<idx>", "sentence:<idx>:<candidate>".
func (m *Messenger) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	ack := tgbotapi.NewCallback(query.ID, "")
	if _, err := m.bot.Request(ack); err != nil {
		m.logger.Warn("failed to ack callback", "error", err)
	}

	key := m.keyFor(query.From.ID)
	parts := strings.Split(query.Data, ":")
	if len(parts) < 2 {
		return
	}

	switch parts[0] {
	case "score":
		score, err := strconv.Atoi(parts[1])
		if err != nil {
			return
		}
		m.gateway.HandleScoreReply(ctx, key, score)
	case "profile":
		idx, err := strconv.Atoi(parts[1])
		if err != nil {
			return
		}
		m.gateway.HandleProfileSelection(ctx, key, idx)
	case "sentence":
		if len(parts) < 3 {
			return
		}
		sentenceIdx, err := strconv.Atoi(parts[1])
		if err != nil {
			return
		}
		candidateIdx, err := strconv.Atoi(parts[2])
		if err != nil {
			return
		}
		m.mu.Lock()
		tuples := m.tuples[key]
		m.mu.Unlock()
		if sentenceIdx < 0 || sentenceIdx >= len(tuples) || candidateIdx < 0 || candidateIdx >= len(tuples[sentenceIdx]) {
			return
		}
		m.gateway.HandleSentenceSelection(ctx, key, sentenceIdx, tuples[sentenceIdx][candidateIdx])
	}
}

// Send implements humangw.Messenger.
func (m *Messenger) Send(ctx context.Context, key store.UserKey, text string) (int, error) {
	chatID, err := strconv.ParseInt(key.ExternalID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram send: invalid chat id %q: %w", key.ExternalID, err)
	}
	sent, err := m.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, fmt.Errorf("telegram send: %w", err)
	}
	return sent.MessageID, nil
}

// SendEvaluationPrompt implements humangw.Messenger, rendering a score
// keyboard and, when applicable, a whole-profile or sentence-by-sentence
// guessing keyboard.
func (m *Messenger) SendEvaluationPrompt(ctx context.Context, key store.UserKey, convID int32, options []store.PersonProfile, scoreMin, scoreMax int, bySentence bool, sentenceTuples [][]string) error {
	chatID, err := strconv.ParseInt(key.ExternalID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram evaluation prompt: invalid chat id %q: %w", key.ExternalID, err)
	}

	scoreRow := make([]tgbotapi.InlineKeyboardButton, 0, scoreMax-scoreMin+1)
	for n := scoreMin; n <= scoreMax; n++ {
		scoreRow = append(scoreRow, tgbotapi.NewInlineKeyboardButtonData(strconv.Itoa(n), fmt.Sprintf("score:%d", n)))
	}
	scoreMsg := tgbotapi.NewMessage(chatID, "The conversation has ended. How would you score it?")
	scoreMsg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(scoreRow)
	if _, err := m.bot.Send(scoreMsg); err != nil {
		return fmt.Errorf("telegram send score prompt: %w", err)
	}

	if len(options) == 0 {
		return nil
	}

	if !bySentence {
		rows := make([][]tgbotapi.InlineKeyboardButton, len(options))
		for i, opt := range options {
			label := fmt.Sprintf("Profile %d", i)
			rows[i] = []tgbotapi.InlineKeyboardButton{
				tgbotapi.NewInlineKeyboardButtonData(label+": "+truncate(opt.Description(), 40), fmt.Sprintf("profile:%d", i)),
			}
		}
		guessMsg := tgbotapi.NewMessage(chatID, "Which profile described your partner?")
		guessMsg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
		if _, err := m.bot.Send(guessMsg); err != nil {
			return fmt.Errorf("telegram send profile prompt: %w", err)
		}
		return nil
	}

	m.mu.Lock()
	m.tuples[key] = sentenceTuples
	m.mu.Unlock()

	for idx, tuple := range sentenceTuples {
		row := make([]tgbotapi.InlineKeyboardButton, len(tuple))
		for c, sentence := range tuple {
			row[c] = tgbotapi.NewInlineKeyboardButtonData(truncate(sentence, 30), fmt.Sprintf("sentence:%d:%d", idx, c))
		}
		sentenceMsg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Sentence %d — which candidate wrote it?", idx+1))
		sentenceMsg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
		if _, err := m.bot.Send(sentenceMsg); err != nil {
			return fmt.Errorf("telegram send sentence prompt %d: %w", idx, err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
