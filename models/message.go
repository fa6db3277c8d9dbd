package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const ROLE_USER = "user"
const ROLE_ASSISTANT = "assistant"

// Record is one turn of a conversation as kept in the history store.
type Record struct {
	Role      string    `json:"role"`
	Content   []Content `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUserRecord groups the units of one batch into a user turn.
// When the batch carries an image or a file but does not open with text, a
// short leading text is inserted so the model knows what the media refers to.
func NewUserRecord(units []Content) (Record, error) {
	if len(units) == 0 {
		return Record{}, fmt.Errorf("user record needs at least one content unit")
	}
	for _, u := range units {
		if err := u.Validate(); err != nil {
			return Record{}, err
		}
	}

	content := make([]Content, 0, len(units)+1)
	if units[0].Type != CONTENT_INPUT_TEXT {
		if lead := leadingTextFor(units); lead != "" {
			content = append(content, Content{Type: CONTENT_INPUT_TEXT, Text: lead})
		}
	}
	content = append(content, units...)

	return Record{Role: ROLE_USER, Content: content, CreatedAt: time.Now()}, nil
}

func leadingTextFor(units []Content) string {
	var hasImage, hasFile bool
	for _, u := range units {
		switch u.Type {
		case CONTENT_INPUT_IMAGE:
			hasImage = true
		case CONTENT_INPUT_FILE:
			hasFile = true
		}
	}
	switch {
	case hasImage:
		return "Com base na imagem"
	case hasFile:
		return "Com base no arquivo"
	}
	return ""
}

// NewAssistantRecord wraps a model reply.
func NewAssistantRecord(text string) (Record, error) {
	c, err := NewReply(text)
	if err != nil {
		return Record{}, err
	}
	return Record{Role: ROLE_ASSISTANT, Content: []Content{c}, CreatedAt: time.Now()}, nil
}

// Text joins the text units of the record, one per line.
func (r Record) Text() string {
	var parts []string
	for _, c := range r.Content {
		if !c.IsMedia() && strings.TrimSpace(c.Text) != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ConversationMessage is the row layout of the history table.
// Content holds the JSON encoded unit list.
type ConversationMessage struct {
	ID              int64     `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	ConversationKey string    `gorm:"not null;index" json:"conversation_key"`
	Role            string    `gorm:"not null" json:"role"`
	Content         string    `gorm:"type:text" json:"content"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `gorm:"index" json:"expires_at"`
}

// NewConversationMessage encodes a record for storage.
func NewConversationMessage(key string, rec Record, ttl time.Duration) (ConversationMessage, error) {
	b, err := json.Marshal(rec.Content)
	if err != nil {
		return ConversationMessage{}, fmt.Errorf("encode content: %w", err)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return ConversationMessage{
		ConversationKey: key,
		Role:            rec.Role,
		Content:         string(b),
		CreatedAt:       created,
		ExpiresAt:       created.Add(ttl),
	}, nil
}

// ToRecord decodes a stored row.
func (m ConversationMessage) ToRecord() (Record, error) {
	var content []Content
	if err := json.Unmarshal([]byte(m.Content), &content); err != nil {
		return Record{}, fmt.Errorf("decode content of message %d: %w", m.ID, err)
	}
	return Record{Role: m.Role, Content: content, CreatedAt: m.CreatedAt}, nil
}
