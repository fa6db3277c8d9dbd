package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"penelope-batcher/models"
	"penelope-batcher/scheduler"

	"github.com/gin-gonic/gin"
)

// Batcher is what the HTTP layer needs from the batching service.
type Batcher interface {
	Enqueue(key string, payload []byte) error
	State(key string) scheduler.State
	Pending(ctx context.Context, key string) (int, error)
	History(ctx context.Context, key string, limit int) ([]models.Record, error)
}

const serviceKey = "batcher"

// SetServiceToContext exposes the batching service to handlers.
func SetServiceToContext(svc Batcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(serviceKey, svc)
		c.Next()
	}
}

func ServiceInstance(c *gin.Context) Batcher {
	v, ok := c.Get(serviceKey)
	if !ok {
		return nil
	}
	svc, _ := v.(Batcher)
	return svc
}

func RespondError(c *gin.Context, msg string, code int) {
	c.JSON(code, gin.H{"error": msg})
}

func RespondSuccess(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// ParamKey reads a conversation key from the path.
func ParamKey(c *gin.Context, name string) (string, bool) {
	v := strings.TrimSpace(c.Param(name))
	if v == "" {
		RespondError(c, name+" é obrigatório", http.StatusBadRequest)
		return "", false
	}
	return v, true
}

// QueryLimit reads an optional positive "limit" query value.
func QueryLimit(c *gin.Context, def, max int) (int, bool) {
	v := strings.TrimSpace(c.Query("limit"))
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		RespondError(c, "limit inválido", http.StatusBadRequest)
		return 0, false
	}
	if n > max {
		n = max
	}
	return n, true
}
