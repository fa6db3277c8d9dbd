package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// EvolutionClient sends WhatsApp text messages through an Evolution API
// instance.
type EvolutionClient struct {
	ServerURL string
	Instance  string
	ApiKey    string
	Client    *http.Client
}

func (e *EvolutionClient) Send(ctx context.Context, to string, text string) error {
	if strings.TrimSpace(e.ServerURL) == "" || strings.TrimSpace(e.Instance) == "" {
		return fmt.Errorf("evolution server_url or instance not set")
	}

	endpoint := fmt.Sprintf("%s/message/sendText/%s",
		strings.TrimRight(e.ServerURL, "/"), url.PathEscape(e.Instance))

	reqBody := map[string]any{
		"number": to,
		"text":   text,
	}
	b, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("apikey", e.ApiKey)
	req.Header.Set("Content-Type", "application/json")

	client := e.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("evolution api error: status=%d body=%s", resp.StatusCode, string(body))
	}
	return nil
}

// LogGateway only logs replies. Used when POC_NO_WHATSAPP is on.
type LogGateway struct {
	Logger *slog.Logger
}

func (g LogGateway) Send(_ context.Context, to string, text string) error {
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("reply not sent (dry run)", "to", to, "reply", text)
	return nil
}
