package humangw

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/convai/dialog-router/internal/orchestrator"
	"github.com/convai/dialog-router/internal/store"
)

// Config governs the parts of HumanGateway behavior the spec exposes as
// configuration keys: whether users may pin a specific test bot, and
// whether the dialog id is ever revealed to them.
type Config struct {
	AllowSetBot            bool
	RevealDialogID         bool
	GuessProfileBySentence bool
}

// Gateway implements orchestrator.Gateway for human peers, owning one FSM
// session per user and rendering orchestrator events through a Messenger.
type Gateway struct {
	mu           sync.Mutex
	sessions     map[store.UserKey]*session
	messenger    Messenger
	orchestrator *orchestrator.Orchestrator
	store        *store.Store
	cfg          Config
	logger       *slog.Logger
}

// Deps bundles Gateway's collaborators.
type Deps struct {
	Messenger    Messenger
	Orchestrator *orchestrator.Orchestrator
	Store        *store.Store
	Config       Config
	Logger       *slog.Logger
}

// New builds a human Gateway.
func New(deps Deps) *Gateway {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		sessions:     make(map[store.UserKey]*session),
		messenger:    deps.Messenger,
		orchestrator: deps.Orchestrator,
		store:        deps.Store,
		cfg:          deps.Config,
		logger:       logger,
	}
}

// SetOrchestrator wires the orchestrator this gateway dispatches commands
// to. Orchestrator and Gateway construction are mutually referential (the
// orchestrator needs a Gateway, the Gateway needs the orchestrator to
// dispatch inbound commands), so callers build the Gateway first with a nil
// Orchestrator and call SetOrchestrator once the orchestrator exists.
func (g *Gateway) SetOrchestrator(o *orchestrator.Orchestrator) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orchestrator = o
}

// SetMessenger wires the platform adapter this gateway renders outbound
// messages through. Messenger construction is mutually referential with
// the Gateway for platforms that route callbacks back through it (e.g. the
// Telegram adapter), so callers build the Gateway first with a nil
// Messenger and call SetMessenger once the adapter exists.
func (g *Gateway) SetMessenger(m Messenger) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messenger = m
}

func (g *Gateway) sessionFor(key store.UserKey) *session {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[key]
	if !ok {
		s = newSession()
		g.sessions[key] = s
	}
	return s
}

// --- orchestrator.Gateway ---

func (g *Gateway) StartConversation(ctx context.Context, convID int32, peer store.PeerRef, profile store.PersonProfile, guid string) error {
	s := g.sessionFor(peer.UserKey)
	g.mu.Lock()
	s.state = StateInDialog
	s.conversation = convID
	s.guid = guid
	s.extToMsgID = make(map[int]int)
	s.eval = evalProgress{}
	g.mu.Unlock()

	text := "A conversation has begun."
	if g.cfg.RevealDialogID {
		text = fmt.Sprintf("A conversation has begun (id %d).", convID)
	}
	if len(profile.Sentences) > 0 {
		text += "\nYour character: " + profile.Description()
	}
	_, err := g.messenger.Send(ctx, peer.UserKey, text)
	return err
}

func (g *Gateway) SendMessage(ctx context.Context, convID int32, msgID int, text string, receiver store.PeerRef) error {
	extID, err := g.messenger.Send(ctx, receiver.UserKey, text)
	if err != nil {
		return err
	}
	s := g.sessionFor(receiver.UserKey)
	g.mu.Lock()
	s.extToMsgID[extID] = msgID
	g.mu.Unlock()
	return nil
}

func (g *Gateway) NotifyTopic(ctx context.Context, convID int32, peer store.PeerRef, topic string) error {
	_, err := g.messenger.Send(ctx, peer.UserKey, "New topic: "+topic)
	return err
}

func (g *Gateway) StartEvaluation(ctx context.Context, convID int32, peer store.PeerRef, options []store.PersonProfile, correct store.PersonProfile, scoreMin, scoreMax int) error {
	s := g.sessionFor(peer.UserKey)
	g.mu.Lock()
	s.state = StateEvaluating
	s.eval = evalProgress{bySentence: g.cfg.GuessProfileBySentence && len(options) > 0}
	if s.eval.bySentence {
		s.eval.sentenceTotal = len(correct.Sentences)
		s.eval.sentencesAnswered = make(map[int]struct{})
	}
	g.mu.Unlock()

	var tuples [][]string
	if s.eval.bySentence {
		var err error
		tuples, err = g.buildSentenceTuples(ctx, options, correct)
		if err != nil {
			return err
		}
	}
	return g.messenger.SendEvaluationPrompt(ctx, peer.UserKey, convID, options, scoreMin, scoreMax, s.eval.bySentence, tuples)
}

// buildSentenceTuples prepares one shuffled tuple per sentence index, per
// the spec's sentence-by-sentence guessing mode: each candidate profile
// contributes its i-th sentence, falling back to a randomly sampled stored
// sentence at that index when a profile is shorter than the correct one.
func (g *Gateway) buildSentenceTuples(ctx context.Context, options []store.PersonProfile, correct store.PersonProfile) ([][]string, error) {
	tuples := make([][]string, len(correct.Sentences))
	for i := range correct.Sentences {
		tuple := make([]string, len(options))
		for j, opt := range options {
			if i < len(opt.Sentences) {
				tuple[j] = opt.Sentences[i]
				continue
			}
			sentence, err := g.store.SampleSentenceAtIndex(ctx, i)
			if err != nil {
				return nil, fmt.Errorf("sample fallback sentence at index %d: %w", i, err)
			}
			tuple[j] = sentence
		}
		rand.Shuffle(len(tuple), func(a, b int) { tuple[a], tuple[b] = tuple[b], tuple[a] })
		tuples[i] = tuple
	}
	return tuples, nil
}

func (g *Gateway) FinishConversation(ctx context.Context, convID int32, peer store.PeerRef) error {
	s := g.sessionFor(peer.UserKey)
	g.mu.Lock()
	s.state = StateIdle
	s.conversation = 0
	s.guid = ""
	s.extToMsgID = make(map[int]int)
	s.eval = evalProgress{}
	g.mu.Unlock()

	_, err := g.messenger.Send(ctx, peer.UserKey, "Conversation ended. Thanks for participating!")
	return err
}
