package controllers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"penelope-batcher/models"
	"penelope-batcher/tools"

	"github.com/gin-gonic/gin"
)

// WebhookSettings decides which Evolution webhooks are accepted.
type WebhookSettings struct {
	// AuthorizedNumbers lists who gets answered. Empty allows everyone.
	AuthorizedNumbers []string
	// Secret, when set, requires a valid X-Hub-Signature-256 on every call.
	Secret string
	Logger *slog.Logger
}

func (s WebhookSettings) authorizer() func(phone string) bool {
	if len(s.AuthorizedNumbers) == 0 {
		return func(string) bool { return true }
	}
	allowed := make(map[string]bool, len(s.AuthorizedNumbers))
	for _, n := range s.AuthorizedNumbers {
		if phone, err := tools.NormalizeWhatsAppTo(n); err == nil {
			allowed[phone] = true
		}
	}
	return func(phone string) bool { return allowed[phone] }
}

// POST /v1/webhook/whatsapp
//
// Validates an Evolution "messages.upsert" call and hands it to the batching
// service. Skipped messages still answer 200 so Evolution does not retry them.
func WhatsAppWebhook(settings WebhookSettings) gin.HandlerFunc {
	logger := settings.Logger
	if logger == nil {
		logger = slog.Default()
	}
	isAuthorized := settings.authorizer()

	return func(c *gin.Context) {
		svc := ServiceInstance(c)
		if svc == nil {
			RespondError(c, "serviço não configurado no contexto", http.StatusInternalServerError)
			return
		}

		raw, err := c.GetRawData()
		if err != nil || len(strings.TrimSpace(string(raw))) == 0 {
			RespondError(c, "no payload", http.StatusBadRequest)
			return
		}

		if settings.Secret != "" {
			if ok, reason := tools.VerifySignature(settings.Secret, c.GetHeader(tools.SIGNATURE_HEADER), raw); !ok {
				logger.Warn("webhook signature rejected", "reason", reason)
				RespondError(c, "forbidden", http.StatusForbidden)
				return
			}
		}

		payload, err := models.ParseWebhookPayload(raw)
		if err != nil {
			RespondError(c, "invalid json", http.StatusBadRequest)
			return
		}

		jid := strings.TrimSpace(payload.Data.Key.RemoteJid)
		if jid == "" {
			logger.Warn("webhook without remoteJid")
			RespondError(c, "phone not found", http.StatusBadRequest)
			return
		}

		phone, err := tools.ExtractPhone(jid)
		if errors.Is(err, tools.ErrNotPrivateChat) {
			c.JSON(http.StatusOK, gin.H{"status": "skipped", "message": "Número não é do privado"})
			return
		}
		if err != nil {
			RespondError(c, "phone not found", http.StatusBadRequest)
			return
		}

		if payload.Data.Key.FromMe || !isAuthorized(phone) {
			logger.Info("webhook skipped", "phone", phone, "from_me", payload.Data.Key.FromMe)
			c.JSON(http.StatusOK, gin.H{"status": "skipped", "message": "Número não autorizado"})
			return
		}

		if err := svc.Enqueue(phone, raw); err != nil {
			logger.Error("enqueue failed", "key", phone, "error", err)
			RespondError(c, "processing start failed", http.StatusServiceUnavailable)
			return
		}

		logger.Debug("webhook queued", "key", phone, "message_id", payload.Data.Key.ID)
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "phone": phone})
	}
}
