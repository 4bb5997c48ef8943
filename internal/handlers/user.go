package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ruby4mag/riskgate-backend/internal/auth"
	"github.com/ruby4mag/riskgate-backend/internal/models"
	"github.com/ruby4mag/riskgate-backend/internal/policy"
	"github.com/ruby4mag/riskgate-backend/internal/store"
)

// SignUp creates an account with the default role and an empty usage record.
func (h *Handlers) SignUp(c *gin.Context) {
	var request struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := c.BindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	request.Username = strings.TrimSpace(request.Username)
	if request.Username == "" || request.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
		return
	}

	ctx := c.Request.Context()
	existingUser, err := h.Store.FindUserByUsername(ctx, request.Username)
	if err != nil {
		h.Logger.Error("failed to look up user", "username", request.Username, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}
	if existingUser != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Username already taken"})
		return
	}

	user := models.User{
		Username: request.Username,
		Email:    request.Email,
	}
	if err := user.HashPassword(request.Password); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	if err := h.Store.CreateUser(ctx, &user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "Username already taken"})
			return
		}
		h.Logger.Error("failed to create user", "username", request.Username, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}
	if err := h.Store.CreateUserRecords(ctx, user.ID, h.DefaultLimit); err != nil {
		h.Logger.Error("failed to create user records", "userId", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "User created successfully"})
}

func (h *Handlers) Login(c *gin.Context) {
	var credentials struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := c.BindJSON(&credentials); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ctx := c.Request.Context()
	user, err := h.Store.FindUserByUsername(ctx, credentials.Username)
	if err != nil {
		h.Logger.Error("failed to look up user", "username", credentials.Username, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err := user.CheckPassword(credentials.Password); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	jwtToken, err := h.Issuer.GenerateJWT(user.ID, user.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	refreshToken, err := h.Issuer.GenerateRefreshToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate refresh token"})
		return
	}
	identity := auth.Identity{UserID: user.ID, Username: user.Username}
	if err := h.Tokens.Save(ctx, refreshToken, identity, h.Issuer.RefreshTTL()); err != nil {
		h.Logger.Error("failed to store refresh token", "userId", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate refresh token"})
		return
	}

	// A new login always starts from freshly read role and plan.
	h.Registry.Drop(user.ID)
	h.Service.ForgetUser(user.ID)
	engine, err := h.Registry.Get(ctx, user.ID)
	if err != nil {
		h.Logger.Error("failed to load session", "userId", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load your account"})
		return
	}
	profile := engine.Profile()

	c.JSON(http.StatusOK, gin.H{
		"token":         jwtToken,
		"refresh_token": refreshToken,
		"username":      user.Username,
		"role":          profile.Role,
	})
}

func (h *Handlers) RefreshToken(c *gin.Context) {
	var request struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := c.BindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	identity, err := h.Tokens.Lookup(c.Request.Context(), request.RefreshToken)
	if err != nil {
		if !errors.Is(err, auth.ErrUnknownRefreshToken) {
			h.Logger.Error("failed to look up refresh token", "error", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
		return
	}

	newToken, err := h.Issuer.GenerateJWT(identity.UserID, identity.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": newToken})
}

// Logout revokes the refresh token and ends the in-memory session.
func (h *Handlers) Logout(c *gin.Context) {
	var request struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = c.ShouldBindJSON(&request)

	if request.RefreshToken != "" {
		if err := h.Tokens.Revoke(c.Request.Context(), request.RefreshToken); err != nil {
			h.Logger.Warn("failed to revoke refresh token", "userId", auth.UserID(c), "error", err)
		}
	}
	h.Registry.Drop(auth.UserID(c))
	h.Service.ForgetUser(auth.UserID(c))
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// GetPermissions reports the caller's role profile and the current decision
// for every gated action.
func (h *Handlers) GetPermissions(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}
	profile := engine.Profile()
	decisions := map[policy.Action]policy.Decision{}
	for _, a := range []policy.Action{
		policy.ActionAssess,
		policy.ActionManualAssess,
		policy.ActionExport,
		policy.ActionExportReport,
		policy.ActionEditStatus,
	} {
		decisions[a] = engine.Gate(a)
	}

	c.JSON(http.StatusOK, gin.H{
		"role":        profile.Role,
		"title":       profile.Title,
		"permissions": profile.Capabilities,
		"decisions":   decisions,
	})
}
