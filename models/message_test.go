package models

import (
	"testing"
	"time"
)

func TestContentValidation(t *testing.T) {
	if _, err := NewText("  "); err == nil {
		t.Error("NewText accepted blank text")
	}
	if _, err := NewMedia(CONTENT_INPUT_TEXT, "https://x", "k", ""); err == nil {
		t.Error("NewMedia accepted a text type")
	}
	if _, err := NewMedia(CONTENT_INPUT_IMAGE, "", "k", "image/jpeg"); err == nil {
		t.Error("NewMedia accepted an empty url")
	}
	if err := (Content{Type: "video"}).Validate(); err == nil {
		t.Error("Validate accepted an unknown type")
	}

	m, err := NewMedia(CONTENT_INPUT_AUDIO, "https://mmg.whatsapp.net/a.enc", "a2V5", "audio/ogg")
	if err != nil {
		t.Fatalf("NewMedia: %v", err)
	}
	if !m.IsMedia() {
		t.Error("audio unit not reported as media")
	}
}

func TestNewUserRecordLeadingText(t *testing.T) {
	img, _ := NewMedia(CONTENT_INPUT_IMAGE, "https://x/img.enc", "k", "image/jpeg")
	doc, _ := NewMedia(CONTENT_INPUT_FILE, "https://x/doc.enc", "k", "application/pdf")
	audio, _ := NewMedia(CONTENT_INPUT_AUDIO, "https://x/a.enc", "k", "audio/ogg")
	txt, _ := NewText("oi")

	cases := []struct {
		name  string
		units []Content
		lead  string
	}{
		{"image first", []Content{img, doc}, "Com base na imagem"},
		{"file first", []Content{doc}, "Com base no arquivo"},
		{"audio only", []Content{audio}, ""},
		{"text first", []Content{txt, img}, ""},
	}
	for _, tc := range cases {
		rec, err := NewUserRecord(tc.units)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if tc.lead == "" {
			if len(rec.Content) != len(tc.units) {
				t.Errorf("%s: got %d units, want %d", tc.name, len(rec.Content), len(tc.units))
			}
			continue
		}
		if rec.Content[0].Text != tc.lead || len(rec.Content) != len(tc.units)+1 {
			t.Errorf("%s: got lead %q (%d units)", tc.name, rec.Content[0].Text, len(rec.Content))
		}
	}

	if _, err := NewUserRecord(nil); err == nil {
		t.Error("NewUserRecord accepted an empty batch")
	}
}

func TestConversationMessageRoundTrip(t *testing.T) {
	txt, _ := NewText("primeira")
	audio, _ := NewMedia(CONTENT_INPUT_AUDIO, "https://x/a.enc", "k", "audio/ogg")
	rec, _ := NewUserRecord([]Content{txt, audio})

	row, err := NewConversationMessage("5511999", rec, time.Hour)
	if err != nil {
		t.Fatalf("NewConversationMessage: %v", err)
	}
	if !row.ExpiresAt.After(row.CreatedAt) {
		t.Errorf("expires_at %v not after created_at %v", row.ExpiresAt, row.CreatedAt)
	}

	back, err := row.ToRecord()
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	if back.Role != ROLE_USER || len(back.Content) != 2 || back.Content[1].MediaKey != "k" {
		t.Errorf("unexpected record %+v", back)
	}
	if back.Text() != "primeira" {
		t.Errorf("Text() = %q", back.Text())
	}
}

func TestWebhookContents(t *testing.T) {
	raw := []byte(`{"event":"messages.upsert","data":{"key":{"remoteJid":"5511999999999@s.whatsapp.net","fromMe":false},
		"messageType":"imageMessage","message":{"imageMessage":{"url":"https://mmg/x.enc","mediaKey":"a2V5","mimetype":"image/jpeg","caption":"olha isso"}}}}`)
	p, err := ParseWebhookPayload(raw)
	if err != nil {
		t.Fatalf("ParseWebhookPayload: %v", err)
	}
	units, err := p.Contents()
	if err != nil {
		t.Fatalf("Contents: %v", err)
	}
	if len(units) != 2 || units[0].Type != CONTENT_INPUT_TEXT || units[1].Type != CONTENT_INPUT_IMAGE {
		t.Fatalf("unexpected units %+v", units)
	}

	p.Data.MessageType = "stickerMessage"
	if _, err := p.Contents(); err == nil {
		t.Error("sticker accepted")
	}

	p.Data.MessageType = MESSAGE_TYPE_AUDIO
	p.Data.Message.AudioMessage = &WebhookMedia{URL: "https://mmg/a.enc"}
	if _, err := p.Contents(); err == nil {
		t.Error("audio without mediaKey accepted")
	}

	p.Data.MessageType = ""
	p.Data.Message.Conversation = "   "
	units, err = p.Contents()
	if err != nil || len(units) != 0 {
		t.Errorf("blank conversation: units=%v err=%v", units, err)
	}
}
