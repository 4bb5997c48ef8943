package handlers

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ruby4mag/riskgate-backend/internal/assessment"
	"github.com/ruby4mag/riskgate-backend/internal/auth"
	"github.com/ruby4mag/riskgate-backend/internal/models"
)

func (h *Handlers) CreateAssessment(c *gin.Context) {
	var req assessment.AssessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	engine, ok := h.engine(c)
	if !ok {
		return
	}

	out, err := h.Service.Assess(c.Request.Context(), engine, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"assessment": out, "features": engine.Features()})
}

func (h *Handlers) CreateManualAssessment(c *gin.Context) {
	var req assessment.ManualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	engine, ok := h.engine(c)
	if !ok {
		return
	}

	out, err := h.Service.ManualAssess(c.Request.Context(), engine, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"assessment": out})
}

func (h *Handlers) UpdateRiskStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	status, err := models.ParseStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	engine, ok := h.engine(c)
	if !ok {
		return
	}

	change, err := h.Service.ChangeStatus(c.Request.Context(), engine, c.Param("id"), status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"change": change})
}

func (h *Handlers) UndoRiskStatus(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}
	change, err := h.Service.Undo(c.Request.Context(), engine, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"change": change})
}

func (h *Handlers) ExportCSV(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.Service.ExportCSV(engine, &buf); err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+assessment.CSVFilename(time.Now())+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *Handlers) ExportReport(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}
	report, err := h.Service.ExportReport(engine)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(report))
}

// RecurringCategories lists risk categories seen across the caller's
// assessments. Query: min (default 2), limit (default 10).
func (h *Handlers) RecurringCategories(c *gin.Context) {
	if h.Lineage == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Lineage graph is not configured"})
		return
	}
	minCount, err := strconv.Atoi(c.DefaultQuery("min", "2"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid min"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}

	categories, err := h.Lineage.RecurringCategories(c.Request.Context(), auth.UserID(c), minCount, limit)
	if err != nil {
		h.Logger.Error("failed to query lineage", "userId", auth.UserID(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load category history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}
