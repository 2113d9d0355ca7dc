package domain

import "time"

// Session is a one-shot correlation context bracketing a command and its
// response.
type Session struct {
	ID          string    `json:"session_id"`
	MessageID   string    `json:"message_id"`
	TopicPrefix string    `json:"topic_prefix"`
	TaskID      string    `json:"task_id"`
	Asset       AssetKey  `json:"asset"`
	OpenedAt    time.Time `json:"opened_at"`
}

// Command is the outbound message sent to one target asset.
type Command struct {
	Operation   OperationKind `json:"operation"`
	Asset       AssetKey      `json:"asset"`
	SessionID   string        `json:"session_id"`
	MessageID   string        `json:"message_id"`
	TopicPrefix string        `json:"-"`
	Payload     JSONB         `json:"payload,omitempty"`
	SentAt      time.Time     `json:"sent_at"`
}

// InboundMessage is a raw message handed over by a transport subscriber.
type InboundMessage struct {
	Topic    string
	Payload  []byte
	Retained bool
}
