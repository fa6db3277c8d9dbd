package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"penelope-batcher/models"
)

// OpenAIResponder asks the OpenAI Responses API for the next assistant turn.
// With PromptID set the stored prompt drives the model; otherwise Model and
// Instructions are sent.
type OpenAIResponder struct {
	ApiKey          string
	BaseURL         string
	Model           string
	Instructions    string
	PromptID        string
	PromptVersion   string
	MaxOutputTokens int
	Client          *http.Client
}

type responsesContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesMessage struct {
	Role    string             `json:"role"`
	Content []responsesContent `json:"content"`
}

func (o *OpenAIResponder) Respond(ctx context.Context, key string, conversation []models.Record) (string, error) {
	if strings.TrimSpace(o.ApiKey) == "" {
		return "", fmt.Errorf("OPENAI_API_KEY not set")
	}

	reqBody := map[string]any{
		"input": buildResponsesInput(conversation),
		"store": true,
	}
	if o.MaxOutputTokens > 0 {
		reqBody["max_output_tokens"] = o.MaxOutputTokens
	}
	if o.PromptID != "" {
		prompt := map[string]any{"id": o.PromptID}
		if o.PromptVersion != "" {
			prompt["version"] = o.PromptVersion
		}
		reqBody["prompt"] = prompt
	} else {
		reqBody["model"] = o.Model
		reqBody["instructions"] = o.Instructions
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	base := strings.TrimRight(o.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/responses", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+o.ApiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("openai error %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Output []struct {
			Type    string `json:"type"`
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, item := range parsed.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" && strings.TrimSpace(c.Text) != "" {
				if sb.Len() > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString(c.Text)
			}
		}
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("empty response from model (no output_text items found)")
	}
	return out, nil
}

func (o *OpenAIResponder) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// buildResponsesInput maps history records to Responses API messages. Media
// is still encrypted at this point, so it travels as a text placeholder.
func buildResponsesInput(conversation []models.Record) []responsesMessage {
	msgs := make([]responsesMessage, 0, len(conversation))
	for _, rec := range conversation {
		textType := models.CONTENT_INPUT_TEXT
		if rec.Role == models.ROLE_ASSISTANT {
			textType = models.CONTENT_OUTPUT_TEXT
		}

		var content []responsesContent
		for _, c := range rec.Content {
			text := c.Text
			if c.IsMedia() {
				text = mediaPlaceholder(c)
			}
			if strings.TrimSpace(text) == "" {
				continue
			}
			content = append(content, responsesContent{Type: textType, Text: text})
		}
		if len(content) == 0 {
			continue
		}
		msgs = append(msgs, responsesMessage{Role: rec.Role, Content: content})
	}
	return msgs
}

func mediaPlaceholder(c models.Content) string {
	kind := "arquivo"
	switch c.Type {
	case models.CONTENT_INPUT_AUDIO:
		kind = "áudio"
	case models.CONTENT_INPUT_IMAGE:
		kind = "imagem"
	}
	if c.Mimetype != "" {
		return fmt.Sprintf("[%s anexado (%s)]", kind, c.Mimetype)
	}
	return fmt.Sprintf("[%s anexado]", kind)
}
