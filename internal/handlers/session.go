package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) Healthz(c *gin.Context) {
	if err := h.Store.Ping(c.Request.Context()); err != nil {
		h.Logger.Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetSession returns the caller's role, plan, register and feature states.
func (h *Handlers) GetSession(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}
	session, ok := engine.Snapshot()
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "You must be logged in to do that."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":  session,
		"profile":  engine.Profile(),
		"features": engine.Features(),
	})
}

func (h *Handlers) GetFeatures(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, engine.Features())
}

func (h *Handlers) Upgrade(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}
	plan, err := h.Service.Upgrade(c.Request.Context(), engine)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan, "features": engine.Features()})
}
