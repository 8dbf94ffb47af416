package botgw

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBuildEnvelope_FieldsMirrorSpecShape(t *testing.T) {
	at := time.Unix(1700000000, 0)
	env := buildEnvelope(42, 3, "hello", at)

	if env.MessageID != 3 || env.Text != "hello" || env.Date != 1700000000 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.From.ID != 42 || !env.From.IsBot || env.From.FirstName != "3" {
		t.Fatalf("unexpected from: %+v", env.From)
	}
	if env.Chat.ID != 42 || env.Chat.Type != "private" || env.Chat.FirstName != "3" {
		t.Fatalf("unexpected chat: %+v", env.Chat)
	}
}

func TestStartEnvelope_MsgIDZero(t *testing.T) {
	env := startEnvelope(1, "a curious traveler\nloves chess", time.Now())
	if env.MessageID != 0 {
		t.Fatalf("expected /start envelope to carry msgId 0, got %d", env.MessageID)
	}
	if env.Text != "/start\na curious traveler\nloves chess" {
		t.Fatalf("unexpected start text: %q", env.Text)
	}
}

func TestEvaluationEnvelope_MsgIDIsOneMillion(t *testing.T) {
	env := evaluationEnvelope(1, 0, 1, "desc0", "desc1", time.Now())
	if env.MessageID != evaluationMsgID {
		t.Fatalf("expected msgId %d, got %d", evaluationMsgID, env.MessageID)
	}
	want := "/end 0 1\n/profile_0\ndesc0\n/profile_1\ndesc1"
	if env.Text != want {
		t.Fatalf("unexpected evaluation text: %q", env.Text)
	}
}

func TestParseInboundEnvelope_JSONEnvelope(t *testing.T) {
	raw := `{"text":"/end","evaluation":{"score":1,"profile_idx":0}}`
	env := parseInboundEnvelope(raw)
	if env.Text != "/end" || env.Evaluation == nil {
		t.Fatalf("expected parsed evaluation envelope, got %+v", env)
	}
	if *env.Evaluation.Score != 1 || *env.Evaluation.ProfileIdx != 0 {
		t.Fatalf("unexpected evaluation fields: %+v", env.Evaluation)
	}
}

func TestParseInboundEnvelope_BareTextFallsBack(t *testing.T) {
	env := parseInboundEnvelope("hi there")
	if env.Text != "hi there" || env.Evaluation != nil {
		t.Fatalf("expected bare text fallback, got %+v", env)
	}
}

func TestParseMsgEvaluation_BareInt(t *testing.T) {
	ev, err := parseMsgEvaluation(json.RawMessage("1"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Score != 1 || ev.MsgID != nil {
		t.Fatalf("unexpected msg evaluation: %+v", ev)
	}
}

func TestParseMsgEvaluation_Object(t *testing.T) {
	ev, err := parseMsgEvaluation(json.RawMessage(`{"score":0,"message_id":5}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Score != 0 || ev.MsgID == nil || *ev.MsgID != 5 {
		t.Fatalf("unexpected msg evaluation: %+v", ev)
	}
}
