// Package handlers exposes the dashboard API over gin.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ruby4mag/riskgate-backend/internal/ai"
	"github.com/ruby4mag/riskgate-backend/internal/assessment"
	"github.com/ruby4mag/riskgate-backend/internal/auth"
	"github.com/ruby4mag/riskgate-backend/internal/graph"
	"github.com/ruby4mag/riskgate-backend/internal/policy"
	"github.com/ruby4mag/riskgate-backend/internal/store"
)

// Lineage answers history questions from the lineage graph.
type Lineage interface {
	RecurringCategories(ctx context.Context, userID string, minAssessments, limit int) ([]graph.CategoryCount, error)
}

// Deps are the collaborators of the HTTP layer. Lineage may be nil.
type Deps struct {
	Store        store.Store
	Registry     *policy.Registry
	Service      *assessment.Service
	Issuer       *auth.Issuer
	Tokens       auth.TokenStore
	Lineage      Lineage
	DefaultLimit int
	Logger       *slog.Logger
}

type Handlers struct {
	Deps
}

func New(deps Deps) *Handlers {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handlers{Deps: deps}
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)
	r.POST("/register", h.SignUp)
	r.POST("/login", h.Login)
	r.POST("/refresh", h.RefreshToken)

	protected := r.Group("/api")
	protected.Use(auth.Middleware(h.Issuer))
	{
		protected.POST("/logout", h.Logout)

		protected.GET("/session", h.GetSession)
		protected.GET("/permissions", h.GetPermissions)
		protected.GET("/features", h.GetFeatures)
		protected.POST("/plan/upgrade", h.Upgrade)

		protected.POST("/assessments", h.CreateAssessment)
		protected.POST("/assessments/manual", h.CreateManualAssessment)

		protected.PUT("/risks/:id/status", h.UpdateRiskStatus)
		protected.POST("/risks/:id/status/undo", h.UndoRiskStatus)

		protected.GET("/export/csv", h.ExportCSV)
		protected.GET("/export/report", h.ExportReport)

		protected.GET("/lineage/categories", h.RecurringCategories)
	}
}

// engine returns the policy engine of the authenticated user, loading the
// session on first use. It writes the error response itself.
func (h *Handlers) engine(c *gin.Context) (*policy.Engine, bool) {
	e, err := h.Registry.Get(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.Logger.Error("failed to load session", "userId", auth.UserID(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load your account"})
		return nil, false
	}
	// Actions that depend on the plan stay gated until this succeeds.
	if err := e.EnsureFresh(c.Request.Context()); err != nil {
		h.Logger.Warn("stale plan not refreshed", "userId", auth.UserID(c), "error", err)
	}
	return e, true
}

// fail writes err as a JSON error with a status code matching its kind.
func (h *Handlers) fail(c *gin.Context, err error) {
	msg := assessment.UserMessage(err)

	var gate *assessment.GateError
	if errors.As(err, &gate) {
		c.JSON(http.StatusForbidden, gin.H{"error": msg, "reason": gate.Reason})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, assessment.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, policy.ErrNoSession):
		status = http.StatusUnauthorized
	case errors.Is(err, assessment.ErrRiskNotFound),
		errors.Is(err, assessment.ErrNothingToExport),
		errors.Is(err, assessment.ErrNoReport),
		errors.Is(err, assessment.ErrNothingToUndo):
		status = http.StatusNotFound
	case errors.Is(err, assessment.ErrAssessmentInFlight),
		errors.Is(err, assessment.ErrStatusChangeInFlight):
		status = http.StatusConflict
	case errors.Is(err, ai.ErrRateLimited):
		status = http.StatusServiceUnavailable
	case errors.Is(err, assessment.ErrAnalysisFailed):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": msg})
}
