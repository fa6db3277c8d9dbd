package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

/************************************************
/**** MARK: EVOLUTION MESSAGE TYPES ****/
/************************************************/
const MESSAGE_TYPE_CONVERSATION = "conversation"
const MESSAGE_TYPE_EXTENDED_TEXT = "extendedTextMessage"
const MESSAGE_TYPE_AUDIO = "audioMessage"
const MESSAGE_TYPE_IMAGE = "imageMessage"
const MESSAGE_TYPE_DOCUMENT = "documentMessage"

// WebhookPayload is the subset of an Evolution API "messages.upsert" webhook
// this service reads.
type WebhookPayload struct {
	Event    string      `json:"event"`
	Instance string      `json:"instance"`
	Data     WebhookData `json:"data"`
}

type WebhookData struct {
	Key struct {
		RemoteJid string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName    string         `json:"pushName"`
	MessageType string         `json:"messageType"`
	Message     WebhookMessage `json:"message"`
}

type WebhookMessage struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage,omitempty"`
	AudioMessage    *WebhookMedia `json:"audioMessage,omitempty"`
	ImageMessage    *WebhookMedia `json:"imageMessage,omitempty"`
	DocumentMessage *WebhookMedia `json:"documentMessage,omitempty"`
}

// WebhookMedia is an encrypted WhatsApp media reference.
type WebhookMedia struct {
	URL      string `json:"url"`
	MediaKey string `json:"mediaKey"`
	Mimetype string `json:"mimetype"`
	Caption  string `json:"caption"`
}

// ParseWebhookPayload decodes a raw webhook body.
func ParseWebhookPayload(raw []byte) (WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return WebhookPayload{}, fmt.Errorf("invalid webhook json: %w", err)
	}
	return p, nil
}

// Contents normalizes the message into content units, in the order they
// should be read. A media caption comes before the media it describes.
// An empty text message yields no units and no error.
func (p WebhookPayload) Contents() ([]Content, error) {
	msgType := strings.TrimSpace(p.Data.MessageType)
	if msgType == "" {
		msgType = MESSAGE_TYPE_CONVERSATION
	}
	msg := p.Data.Message

	switch msgType {
	case MESSAGE_TYPE_CONVERSATION:
		return textUnits(msg.Conversation)
	case MESSAGE_TYPE_EXTENDED_TEXT:
		if msg.ExtendedTextMessage == nil {
			return nil, nil
		}
		return textUnits(msg.ExtendedTextMessage.Text)
	case MESSAGE_TYPE_AUDIO:
		return mediaUnits(CONTENT_INPUT_AUDIO, msg.AudioMessage)
	case MESSAGE_TYPE_IMAGE:
		return mediaUnits(CONTENT_INPUT_IMAGE, msg.ImageMessage)
	case MESSAGE_TYPE_DOCUMENT:
		return mediaUnits(CONTENT_INPUT_FILE, msg.DocumentMessage)
	}
	return nil, fmt.Errorf("unsupported message type %q", msgType)
}

func textUnits(text string) ([]Content, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	c, err := NewText(text)
	if err != nil {
		return nil, err
	}
	return []Content{c}, nil
}

func mediaUnits(contentType string, media *WebhookMedia) ([]Content, error) {
	if media == nil || strings.TrimSpace(media.URL) == "" || strings.TrimSpace(media.MediaKey) == "" {
		return nil, fmt.Errorf("url or mediaKey missing for %s", contentType)
	}

	var out []Content
	if strings.TrimSpace(media.Caption) != "" {
		caption, err := NewText(media.Caption)
		if err != nil {
			return nil, err
		}
		out = append(out, caption)
	}

	m, err := NewMedia(contentType, media.URL, media.MediaKey, media.Mimetype)
	if err != nil {
		return nil, err
	}
	return append(out, m), nil
}
