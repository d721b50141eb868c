package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/usecase"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
)

type webhookHandler struct {
	inbound *usecase.InboundProcessor
}

// handle always answers 200 once the secret check passed: any other status
// makes Telegram redeliver the same update.
func (h *webhookHandler) handle(c *gin.Context) {
	botIdentifier := c.Param("bot_identifier")
	log := logger.FromContext(c.Request.Context()).With(zap.String("bot", botIdentifier))

	var update model.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		log.Warn("Undecodable webhook payload", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"ok": false, "error": "invalid update payload"})
		return
	}

	result, err := h.inbound.HandleUpdate(c.Request.Context(), "webhook", botIdentifier, update)
	if err != nil {
		log.Error("Webhook update failed", zap.Int64("update_id", update.UpdateID), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if result == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "result": result})
}
