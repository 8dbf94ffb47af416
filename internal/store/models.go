package store

import "time"

// Platform identifies the external messenger a human user was reached on.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformFacebook Platform = "facebook"
)

// UserKey uniquely identifies a human user across platforms.
type UserKey struct {
	Platform   Platform
	ExternalID string
}

// User is a human participant reached through a messenger platform.
type User struct {
	Key             UserKey
	DisplayName     string
	Banned          bool
	AssignedTestBot string // bot token, empty if unset
}

// Bot is a registered automated peer.
type Bot struct {
	Token        string
	Name         string
	Banned       bool
	LastUpdateID int64
}

// BannedPair marks a (user, bot) pair that must never be paired again.
type BannedPair struct {
	UserKey  UserKey
	BotToken string
}

// PersonProfile is a role-play persona assigned to a conversation participant.
type PersonProfile struct {
	ID          string
	Sentences   []string
	LinkGroupID string
	Topics      []string
}

// Description joins the profile's sentences the way a human would read them.
func (p PersonProfile) Description() string {
	out := ""
	for i, s := range p.Sentences {
		if i > 0 {
			out += "\n"
		}
		out += s
	}
	return out
}

// PeerRef is a tagged union over the two kinds of conversation participant.
// Exactly one of User/BotToken is meaningful, selected by IsBot.
type PeerRef struct {
	IsBot    bool
	UserKey  UserKey
	BotToken string
}

// String renders a stable identifier for logging and map keys.
func (p PeerRef) String() string {
	if p.IsBot {
		return "bot:" + p.BotToken
	}
	return "user:" + string(p.UserKey.Platform) + ":" + p.UserKey.ExternalID
}

// ConversationPeer is one side of a live or persisted conversation.
type ConversationPeer struct {
	Peer                             PeerRef
	AssignedProfile                  PersonProfile
	DialogScore                      *int
	OtherPeerProfileOptions          []PersonProfile
	OtherPeerProfileSelected         *PersonProfile
	OtherPeerProfileSelectedSentence []*string
	TriggeredDialogEnd               bool
	PeerConversationGUID             string
}

// Message is a single turn of a conversation.
type Message struct {
	MsgID           int
	Text            string
	Sender          PeerRef
	Time            time.Time
	EvaluationScore *int
	System          bool
}

// Conversation is the full record of a paired dialog. It lives in memory
// for the duration of the dialog and is handed to the store for durable
// persistence exactly once, at cleanup.
type Conversation struct {
	ConversationID    int32
	Participant1      ConversationPeer
	Participant2      ConversationPeer
	Messages          []Message
	StartTime         time.Time
	EndTime           time.Time
	ActiveTopicIndex  int
}

// Participants returns both sides as a 2-element slice for iteration.
func (c *Conversation) Participants() [2]*ConversationPeer {
	return [2]*ConversationPeer{&c.Participant1, &c.Participant2}
}

// PeerConversationPeer finds the ConversationPeer matching the given peer ref.
func (c *Conversation) PeerConversationPeer(p PeerRef) *ConversationPeer {
	if c.Participant1.Peer == p {
		return &c.Participant1
	}
	if c.Participant2.Peer == p {
		return &c.Participant2
	}
	return nil
}

// Other returns the conversation peer on the other side from p, or nil if p
// is not a participant.
func (c *Conversation) Other(p PeerRef) *ConversationPeer {
	if c.Participant1.Peer == p {
		return &c.Participant2
	}
	if c.Participant2.Peer == p {
		return &c.Participant1
	}
	return nil
}

// Complaint records that complainer reported complainTo for a conversation.
type Complaint struct {
	ID          int64
	Complainer  UserKey
	ComplainTo  PeerRef
	Conversation int32
	Processed   bool
	CreatedAt   time.Time
}
