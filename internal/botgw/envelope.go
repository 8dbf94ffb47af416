package botgw

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// evaluationMsgID is the sentinel message_id carried by the evaluation
// envelope, fixed by the spec at 10^6.
const evaluationMsgID = 1_000_000

// outOfBandMsgID marks notifications that carry no conversation msgId of
// their own (topic switches, end-of-conversation), so bots see them outside
// the regular 0,1,2,... sequence.
const outOfBandMsgID = -1

// peer mirrors the from/chat shape of the outbound bot envelope: a single
// struct reused for both, since both describe the conversation, not a real
// messenger identity.
type peer struct {
	ID        int32  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	FirstName string `json:"first_name"`
	Type      string `json:"type,omitempty"`
}

// outboundMessage is what getUpdates returns inside "message".
type outboundMessage struct {
	MessageID int   `json:"message_id"`
	From      peer  `json:"from"`
	Chat      peer  `json:"chat"`
	Date      int64 `json:"date"`
	Text      string `json:"text"`
}

func buildEnvelope(convID int32, msgID int, text string, at time.Time) outboundMessage {
	label := strconv.Itoa(msgID)
	return outboundMessage{
		MessageID: msgID,
		From:      peer{ID: convID, IsBot: true, FirstName: label},
		Chat:      peer{ID: convID, FirstName: label, Type: "private"},
		Date:      at.Unix(),
		Text:      text,
	}
}

func startEnvelope(convID int32, profileDescription string, at time.Time) outboundMessage {
	return buildEnvelope(convID, 0, "/start\n"+profileDescription, at)
}

func topicEnvelope(convID int32, topic string, at time.Time) outboundMessage {
	return buildEnvelope(convID, outOfBandMsgID, topic, at)
}

func evaluationEnvelope(convID int32, evalMin, evalMax int, profile0, profile1 string, at time.Time) outboundMessage {
	text := fmt.Sprintf("/end %d %d\n/profile_0\n%s\n/profile_1\n%s", evalMin, evalMax, profile0, profile1)
	return buildEnvelope(convID, evaluationMsgID, text, at)
}

// inboundEvaluation carries the end-of-dialog score and profile guess a bot
// submits alongside a "/end" text in sendMessage.
type inboundEvaluation struct {
	Score      *int `json:"score"`
	ProfileIdx *int `json:"profile_idx"`
}

// inboundEnvelope is the JSON-encoded payload a bot passes as the "text"
// form/query param to sendMessage.
type inboundEnvelope struct {
	Text          string             `json:"text"`
	Evaluation    *inboundEvaluation `json:"evaluation,omitempty"`
	MsgEvaluation json.RawMessage    `json:"msg_evaluation,omitempty"`
}

// parseInboundEnvelope decodes the sendMessage "text" param. A bare string
// (not valid JSON object) is treated as plain message text for backward
// compatibility with simple bots that skip the envelope entirely.
func parseInboundEnvelope(raw string) inboundEnvelope {
	var env inboundEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || env.Text == "" && len(env.MsgEvaluation) == 0 && env.Evaluation == nil {
		return inboundEnvelope{Text: raw}
	}
	return env
}

// msgEvaluation is the decoded form of the msg_evaluation field, which the
// bot may send either as a bare 0/1 int or as {score, message_id}.
type msgEvaluation struct {
	Score int
	MsgID *int
}

func parseMsgEvaluation(raw json.RawMessage) (msgEvaluation, error) {
	var asInt int
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return msgEvaluation{Score: asInt}, nil
	}
	var obj struct {
		Score     int  `json:"score"`
		MessageID *int `json:"message_id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return msgEvaluation{}, fmt.Errorf("parse msg_evaluation: %w", err)
	}
	return msgEvaluation{Score: obj.Score, MsgID: obj.MessageID}, nil
}
