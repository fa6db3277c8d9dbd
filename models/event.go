package models

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event is one inbound webhook delivery for a conversation key.
// It is created by the front door and never mutated afterwards.
type Event struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	ArrivedAt time.Time       `json:"arrived_at"`
	// Seq orders events in the order NewEvent was called. Mailboxes drain by
	// it, so appends that land out of order still batch in arrival order.
	Seq       int64           `json:"seq"`
}

// eventSeq starts at the boot time in nanoseconds so sequences of a restarted
// process sort after rows left by the previous one.
var eventSeq atomic.Int64

func init() {
	eventSeq.Store(time.Now().UnixNano())
}

// NewEvent stamps a payload with an id, arrival time and sequence. Call it on
// the goroutine that received the message. The payload bytes are copied so
// later writes by the caller cannot reach the stored event.
func NewEvent(key string, payload []byte) Event {
	raw := make([]byte, len(payload))
	copy(raw, payload)
	return Event{
		ID:        uuid.NewString(),
		Key:       key,
		Payload:   raw,
		ArrivedAt: time.Now(),
		Seq:       eventSeq.Add(1),
	}
}

// MailboxEvent is the row layout of the mailbox table.
// Rows of one key are read back ordered by Seq, then ID.
type MailboxEvent struct {
	ID              int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	ConversationKey string     `gorm:"not null;index" json:"conversation_key"`
	EventID         string     `gorm:"not null" json:"event_id"`
	Payload         string     `gorm:"type:text" json:"payload"`
	ArrivedAt       time.Time  `json:"arrived_at"`
	Seq             int64      `gorm:"not null;default:0" json:"seq"`
	ExpiresAt       time.Time  `gorm:"index" json:"expires_at"`
	CreatedAt       *time.Time `json:"created_at"`
}

// ToEvent converts a stored row back into the domain event.
func (m MailboxEvent) ToEvent() Event {
	return Event{
		ID:        m.EventID,
		Key:       m.ConversationKey,
		Payload:   json.RawMessage(m.Payload),
		ArrivedAt: m.ArrivedAt,
		Seq:       m.Seq,
	}
}
