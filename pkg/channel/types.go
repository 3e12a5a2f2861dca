package channel

import (
	"strings"
)

// Conversation ids of the two singleton pseudo-conversations.
const (
	StatusConversationID = "status"
	CallConversationID   = "call"
)

const groupPrefix = "group_"

// ConversationKind classifies a conversation id.
type ConversationKind string

const (
	KindIndividual ConversationKind = "individual"
	KindGroup      ConversationKind = "group"
	KindStatus     ConversationKind = "status"
	KindCall       ConversationKind = "call"
)

// Conversation is one routable WhatsApp entity. ID is the bare contact number,
// group_<groupId> for groups, or one of the singleton ids. Name is the contact
// name or the group label shown on the topic.
type Conversation struct {
	ID   string
	Name string
}

// Kind classifies the conversation by its id.
func (c Conversation) Kind() ConversationKind {
	return ClassifyConversation(c.ID)
}

// ClassifyConversation derives the conversation kind from its id.
func ClassifyConversation(id string) ConversationKind {
	switch {
	case id == StatusConversationID:
		return KindStatus
	case id == CallConversationID:
		return KindCall
	case strings.HasPrefix(id, groupPrefix):
		return KindGroup
	default:
		return KindIndividual
	}
}

// GroupConversationID namespaces a raw group id so it cannot collide with a contact number.
func GroupConversationID(groupID string) string {
	return groupPrefix + groupID
}

// GroupID strips the group namespace from a conversation id.
func GroupID(conversationID string) string {
	return strings.TrimPrefix(conversationID, groupPrefix)
}

// NormalizeNumber keeps the digits of a phone number or user id.
func NormalizeNumber(raw string) string {
	if at := strings.IndexByte(raw, '@'); at >= 0 {
		raw = raw[:at]
	}
	if colon := strings.IndexByte(raw, ':'); colon >= 0 {
		raw = raw[:colon]
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EventKind is the type of a source event.
type EventKind string

const (
	EventMessage EventKind = "message"
	EventStatus  EventKind = "status"
	EventCall    EventKind = "call"
)

// MediaKind is the platform-neutral media category used in both directions.
type MediaKind string

const (
	MediaImage     MediaKind = "image"
	MediaVideo     MediaKind = "video"
	MediaAnimation MediaKind = "animation"
	MediaVideoNote MediaKind = "video_note"
	MediaAudio     MediaKind = "audio"
	MediaVoice     MediaKind = "voice"
	MediaDocument  MediaKind = "document"
	MediaSticker   MediaKind = "sticker"
)

// MediaRef points at downloadable media on either platform.
type MediaRef struct {
	Ref      string    `json:"ref"`
	Kind     MediaKind `json:"kind"`
	MimeType string    `json:"mime_type,omitempty"`
	FileName string    `json:"file_name,omitempty"`
	Animated bool      `json:"animated,omitempty"`
	// Fallback is an alternate still image for media that may fail to convert.
	Fallback string `json:"fallback,omitempty"`
}

// SharedContact is a contact card.
type SharedContact struct {
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone,omitempty"`
	VCard       string `json:"vcard,omitempty"`
}

// Location is a shared map point.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// CallInfo describes an incoming call.
type CallInfo struct {
	IsVideo bool   `json:"is_video"`
	Status  string `json:"status,omitempty"`
}

// SourceEvent is one decoded WhatsApp event.
type SourceEvent struct {
	Kind      EventKind `json:"kind"`
	MessageID string    `json:"message_id,omitempty"`
	// ChatID is the contact number or raw group id.
	ChatID   string `json:"chat_id"`
	IsGroup  bool   `json:"is_group,omitempty"`
	ChatName string `json:"chat_name,omitempty"`

	SenderID   string `json:"sender_id,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	FromMe     bool   `json:"from_me,omitempty"`

	Text string `json:"text,omitempty"`
	// Timestamp is unix milliseconds.
	Timestamp       int64  `json:"timestamp"`
	QuotedMessageID string `json:"quoted_message_id,omitempty"`

	Media    *MediaRef       `json:"media,omitempty"`
	Contacts []SharedContact `json:"contacts,omitempty"`
	Location *Location       `json:"location,omitempty"`
	Call     *CallInfo       `json:"call,omitempty"`
}

// Conversation maps the event onto its bridge conversation. Status and call
// events map onto their singleton conversations.
func (e SourceEvent) Conversation() Conversation {
	switch e.Kind {
	case EventStatus:
		return Conversation{ID: StatusConversationID}
	case EventCall:
		return Conversation{ID: CallConversationID}
	}

	if e.IsGroup {
		name := strings.TrimSpace(e.ChatName)
		if name == "" {
			name = "Group " + truncate(e.ChatID, 8)
		}
		return Conversation{ID: GroupConversationID(e.ChatID), Name: "🏷️ " + name}
	}

	number := NormalizeNumber(e.ChatID)
	name := strings.TrimSpace(e.ChatName)
	if name == "" || name == "undefined" {
		name = "Contact " + number
	}
	return Conversation{ID: number, Name: name}
}

// Sender returns the best display name for the author of the event.
func (e SourceEvent) Sender() string {
	if name := strings.TrimSpace(e.SenderName); name != "" {
		return name
	}
	if number := NormalizeNumber(e.SenderID); number != "" {
		return number
	}
	return NormalizeNumber(e.ChatID)
}

// DestinationMessage is one Telegram message posted inside the bridge chat.
type DestinationMessage struct {
	MessageID int
	TopicID   int
	SenderID  int64
	Text      string
	Caption   string
	ReplyToID int
	ReplyText string
	Media     *MediaRef
	Contact   *SharedContact
	Location  *Location
}

// Body returns the text content of the message, falling back to the caption.
func (m DestinationMessage) Body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// OutboundMedia is media bytes ready to be sent to either platform. URL may
// replace Data for destinations that fetch remote files themselves.
type OutboundMedia struct {
	Kind     MediaKind `json:"kind"`
	Data     []byte    `json:"data,omitempty"`
	URL      string    `json:"url,omitempty"`
	MimeType string    `json:"mime_type,omitempty"`
	FileName string    `json:"file_name,omitempty"`
	Caption  string    `json:"caption,omitempty"`
	// PushToTalk marks audio as a voice note.
	PushToTalk bool `json:"ptt,omitempty"`
	// RoundVideo marks video as a video note.
	RoundVideo  bool `json:"ptv,omitempty"`
	GIFPlayback bool `json:"gif_playback,omitempty"`
}

// Quote references a WhatsApp message being replied to.
type Quote struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text,omitempty"`
}

// Reaction targets a WhatsApp message, including synthetic status keys.
type Reaction struct {
	Emoji        string `json:"emoji"`
	TargetID     string `json:"target_id"`
	TargetSender string `json:"target_sender"`
}

// SourcePayload is one message sent to WhatsApp. Exactly one of the content
// fields is expected to be set.
type SourcePayload struct {
	Text     string         `json:"text,omitempty"`
	Quote    *Quote         `json:"quote,omitempty"`
	Media    *OutboundMedia `json:"media,omitempty"`
	Contact  *SharedContact `json:"contact,omitempty"`
	Location *Location      `json:"location,omitempty"`
	Reaction *Reaction      `json:"reaction,omitempty"`
}

// ConversationInfo carries details shown on topic info cards.
type ConversationInfo struct {
	About        string `json:"about,omitempty"`
	Description  string `json:"description,omitempty"`
	Participants int    `json:"participants,omitempty"`
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
