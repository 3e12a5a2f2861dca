package types

import (
	"time"
)

// TopicMapping links one conversation to its forum topic.
type TopicMapping struct {
	ConversationID string    `json:"conversation_id" bson:"conversation_id"`
	TopicID        int       `json:"topic_id" bson:"topic_id"`
	DisplayName    string    `json:"display_name" bson:"display_name"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}

// SpecialKind names a singleton topic.
type SpecialKind string

const (
	SpecialStatus SpecialKind = "status"
	SpecialCall   SpecialKind = "call"
)

// Valid reports whether k is one of the known singleton kinds.
func (k SpecialKind) Valid() bool {
	return k == SpecialStatus || k == SpecialCall
}

// SpecialTopics maps each singleton kind to its topic id. Missing kinds have no topic yet.
type SpecialTopics map[SpecialKind]int

// ProfileSnapshot is the last observed profile picture of a subject.
type ProfileSnapshot struct {
	SubjectID string    `json:"subject_id" bson:"subject_id"`
	ImageURL  string    `json:"image_url" bson:"image_url"`
	ImageHash string    `json:"image_hash" bson:"image_hash"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// User is the last known identity of a relayed conversation, upserted by SourceID.
type User struct {
	SourceID string    `json:"source_id" bson:"source_id"`
	Name     string    `json:"name" bson:"name"`
	Phone    string    `json:"phone" bson:"phone"`
	LastSeen time.Time `json:"last_seen" bson:"last_seen"`
}

// MessageRecord is one row of the relay log. Rows are only appended.
type MessageRecord struct {
	MessageID      string    `json:"message_id" bson:"message_id"`
	ConversationID string    `json:"conversation_id" bson:"conversation_id"`
	Sender         string    `json:"sender" bson:"sender"`
	Content        string    `json:"content" bson:"content"`
	Kind           string    `json:"kind" bson:"kind"`
	At             time.Time `json:"at" bson:"at"`
}

// MaxLocalMessages caps the relay log of the file store.
const MaxLocalMessages = 1000

// Stats summarizes stored rows for operator tooling.
type Stats struct {
	Topics    int `json:"topics"`
	Special   int `json:"special"`
	Snapshots int `json:"snapshots"`
	Users     int `json:"users"`
	Messages  int `json:"messages"`
}
