package humangw

import "testing"

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateIdle:                       "IDLE",
		StateInLobby:                    "IN_LOBBY",
		StateInDialog:                   "IN_DIALOG",
		StateEvaluating:                 "EVALUATING",
		StateWaitingForPartnerEvaluation: "WAITING_FOR_PARTNER_EVALUATION",
		StateWaitingForBotToken:         "WAITING_FOR_BOT_TOKEN",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestEvalProgress_ProfileComplete_WholeProfile(t *testing.T) {
	p := &evalProgress{bySentence: false}
	if p.profileComplete() {
		t.Fatalf("expected incomplete before selection")
	}
	p.profileSelected = true
	if !p.profileComplete() {
		t.Fatalf("expected complete after whole-profile selection")
	}
}

func TestEvalProgress_ProfileComplete_BySentence(t *testing.T) {
	p := &evalProgress{bySentence: true, sentenceTotal: 3, sentencesAnswered: make(map[int]struct{})}
	if p.profileComplete() {
		t.Fatalf("expected incomplete with no answers")
	}
	p.sentencesAnswered[0] = struct{}{}
	p.sentencesAnswered[1] = struct{}{}
	if p.profileComplete() {
		t.Fatalf("expected incomplete with partial answers")
	}
	p.sentencesAnswered[2] = struct{}{}
	if !p.profileComplete() {
		t.Fatalf("expected complete once every index is answered")
	}
}

func TestEvalProgress_ProfileComplete_BySentence_Reselection(t *testing.T) {
	p := &evalProgress{bySentence: true, sentenceTotal: 2, sentencesAnswered: make(map[int]struct{})}
	p.sentencesAnswered[0] = struct{}{}
	p.sentencesAnswered[0] = struct{}{} // re-answering the same index must not double count
	if p.profileComplete() {
		t.Fatalf("expected incomplete, only one distinct index answered")
	}
	if len(p.sentencesAnswered) != 1 {
		t.Fatalf("expected 1 distinct index, got %d", len(p.sentencesAnswered))
	}
}

func TestNewSession_StartsIdle(t *testing.T) {
	s := newSession()
	if s.state != StateIdle {
		t.Fatalf("expected new session to start IDLE, got %s", s.state)
	}
	if s.extToMsgID == nil {
		t.Fatalf("expected extToMsgID to be initialized")
	}
}

func TestTransitionError_Message(t *testing.T) {
	err := newTransitionError(StateIdle, "/end")
	want := `cannot handle "/end" while in state IDLE`
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}
