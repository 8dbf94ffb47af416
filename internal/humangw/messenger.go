package humangw

import (
	"context"

	"github.com/convai/dialog-router/internal/store"
)

// Messenger is the capability a platform adapter (Telegram, Facebook) gives
// the gateway: rendering text and structured prompts to a human user, and
// reporting back the platform's own message id for each send so the
// gateway can mirror it to the orchestrator's msgId sequence.
type Messenger interface {
	// Send delivers plain text to key, returning the platform's message id.
	Send(ctx context.Context, key store.UserKey, text string) (externalMsgID int, err error)

	// SendEvaluationPrompt renders the end-of-dialog evaluation surface:
	// a score request in [scoreMin, scoreMax] and, when options is
	// non-empty, a profile guess among options (or, when bySentence is
	// true, a sentence-by-sentence guess built from sentenceTuples).
	SendEvaluationPrompt(ctx context.Context, key store.UserKey, convID int32, options []store.PersonProfile, scoreMin, scoreMax int, bySentence bool, sentenceTuples [][]string) error
}
