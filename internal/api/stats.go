package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/usecase"
)

type statsHandler struct {
	stats *usecase.StatsService
}

type dailyQuery struct {
	Days      int    `form:"days"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
}

func (h *statsHandler) overview(c *gin.Context) {
	out, err := h.stats.Overview(c.Request.Context(), callerIdentity(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *statsHandler) managers(c *gin.Context) {
	out, err := h.stats.Operators(c.Request.Context(), callerIdentity(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if out == nil {
		out = []model.OperatorStats{}
	}
	c.JSON(http.StatusOK, out)
}

func (h *statsHandler) last24Hours(c *gin.Context) {
	out, err := h.stats.Last24Hours(c.Request.Context(), callerIdentity(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *statsHandler) daily(c *gin.Context) {
	var q dailyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err))
		return
	}
	out, err := h.stats.Daily(c.Request.Context(), callerIdentity(c), usecase.DailyRange{
		Days:      q.Days,
		StartDate: q.StartDate,
		EndDate:   q.EndDate,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	if out == nil {
		out = []model.DailyStats{}
	}
	c.JSON(http.StatusOK, out)
}
