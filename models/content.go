package models

import (
	"fmt"
	"strings"
)

/************************************************
/**** MARK: CONTENT TYPES ****/
/************************************************/
const CONTENT_INPUT_TEXT = "input_text"
const CONTENT_OUTPUT_TEXT = "output_text"
const CONTENT_INPUT_AUDIO = "input_audio"
const CONTENT_INPUT_IMAGE = "input_image"
const CONTENT_INPUT_FILE = "input_file"

// Content is one unit of a conversation turn. Text units carry Text; media
// units carry a still-encrypted URL plus the key needed to open it later.
// Build values through NewText, NewReply and NewMedia so the required fields
// of each variant are checked.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	MediaKey string `json:"media_key,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
}

// NewText builds a user text unit.
func NewText(text string) (Content, error) {
	c := Content{Type: CONTENT_INPUT_TEXT, Text: text}
	return c, c.Validate()
}

// NewReply builds an assistant text unit.
func NewReply(text string) (Content, error) {
	c := Content{Type: CONTENT_OUTPUT_TEXT, Text: text}
	return c, c.Validate()
}

// NewMedia builds a media reference unit of the given media type.
func NewMedia(contentType, url, mediaKey, mimetype string) (Content, error) {
	c := Content{Type: contentType, URL: url, MediaKey: mediaKey, Mimetype: mimetype}
	if !c.IsMedia() {
		return Content{}, fmt.Errorf("content type %q is not a media type", contentType)
	}
	return c, c.Validate()
}

// IsMedia reports whether the unit references media instead of text.
func (c Content) IsMedia() bool {
	switch c.Type {
	case CONTENT_INPUT_AUDIO, CONTENT_INPUT_IMAGE, CONTENT_INPUT_FILE:
		return true
	}
	return false
}

// Validate checks the fields required by the unit's type.
func (c Content) Validate() error {
	switch c.Type {
	case CONTENT_INPUT_TEXT, CONTENT_OUTPUT_TEXT:
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("'text' is required for type %q", c.Type)
		}
	case CONTENT_INPUT_AUDIO, CONTENT_INPUT_IMAGE, CONTENT_INPUT_FILE:
		if strings.TrimSpace(c.URL) == "" {
			return fmt.Errorf("'url' is required for type %q", c.Type)
		}
	default:
		return fmt.Errorf("unknown content type %q", c.Type)
	}
	return nil
}
