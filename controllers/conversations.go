package controllers

import (
	"net/http"

	dbpkg "penelope-batcher/db"
	"penelope-batcher/history"

	"github.com/gin-gonic/gin"
)

// GET /health
func Health(c *gin.Context) {
	status := gin.H{"status": "ok"}
	if db := dbpkg.DBInstance(c); db != nil {
		if err := db.DB().PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
		status["database"] = "ok"
	}
	RespondSuccess(c, status)
}

// GET /v1/conversations/:key/mailbox
func GetConversationMailbox(c *gin.Context) {
	key, ok := ParamKey(c, "key")
	if !ok {
		return
	}
	svc := ServiceInstance(c)
	if svc == nil {
		RespondError(c, "serviço não configurado no contexto", http.StatusInternalServerError)
		return
	}

	n, err := svc.Pending(c.Request.Context(), key)
	if err != nil {
		RespondError(c, err.Error(), http.StatusServiceUnavailable)
		return
	}

	RespondSuccess(c, gin.H{
		"key":     key,
		"exists":  n > 0,
		"pending": n,
		"state":   svc.State(key).String(),
	})
}

// GET /v1/conversations/:key/history?limit=N
func GetConversationHistory(c *gin.Context) {
	key, ok := ParamKey(c, "key")
	if !ok {
		return
	}
	limit, ok := QueryLimit(c, history.DEFAULT_LIMIT, history.DEFAULT_KEEP)
	if !ok {
		return
	}
	svc := ServiceInstance(c)
	if svc == nil {
		RespondError(c, "serviço não configurado no contexto", http.StatusInternalServerError)
		return
	}

	records, err := svc.History(c.Request.Context(), key, limit)
	if err != nil {
		RespondError(c, err.Error(), http.StatusServiceUnavailable)
		return
	}
	RespondSuccess(c, gin.H{"key": key, "records": records})
}
