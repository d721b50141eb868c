package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/usecase"
	"gitlab.com/timkado/api/leads-router/pkg/utils"
)

type leadHandler struct {
	lifecycle *usecase.LifecycleService
	relay     *usecase.Relay
}

type listLeadsQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

type sendMessageBody struct {
	Text string `json:"text"`
}

func leadID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid lead id %q", apperrors.ErrBadRequest, c.Param("id"))
	}
	return uint(id), nil
}

func (h *leadHandler) list(c *gin.Context) {
	var q listLeadsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err))
		return
	}
	leads, err := h.lifecycle.ListLeads(c.Request.Context(), callerIdentity(c), model.LeadStatus(q.Status), q.Limit, q.Offset)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if leads == nil {
		leads = []model.Lead{}
	}
	c.JSON(http.StatusOK, leads)
}

func (h *leadHandler) get(c *gin.Context) {
	id, err := leadID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	detail, err := h.lifecycle.GetLead(c.Request.Context(), id, callerIdentity(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *leadHandler) messages(c *gin.Context) {
	id, err := leadID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	msgs, err := h.lifecycle.ListMessages(c.Request.Context(), id, callerIdentity(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	views := make([]model.MessageView, 0, len(msgs))
	for i := range msgs {
		views = append(views, model.NewMessageView(&msgs[i]))
	}
	c.JSON(http.StatusOK, views)
}

func (h *leadHandler) markRead(c *gin.Context) {
	id, err := leadID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	lead, err := h.lifecycle.MarkRead(c.Request.Context(), id, callerIdentity(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": lead.Status, "lead_id": lead.ID})
}

func (h *leadHandler) close(c *gin.Context) {
	id, err := leadID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	lead, err := h.lifecycle.Close(c.Request.Context(), id, callerIdentity(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": lead.Status, "lead_id": lead.ID})
}

func (h *leadHandler) send(c *gin.Context) {
	id, err := leadID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	var body sendMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err))
		return
	}

	sent, err := h.relay.OperatorSend(c.Request.Context(), id, callerIdentity(c), body.Text)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent", "message": sentView(sent)})
}

func sentView(m *usecase.SentMessage) model.MessageView {
	return model.MessageView{
		ID:        m.ID,
		LeadID:    m.LeadID,
		Text:      m.Text,
		Sender:    model.SenderRole(m.Sender),
		CreatedAt: utils.FormatISO8601(m.CreatedAt),
	}
}
