package api

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voice/domain/entities"
	"github.com/satriahrh/arunika/voice/internal/auth"
	"github.com/satriahrh/arunika/voice/internal/metrics"
	"github.com/satriahrh/arunika/voice/internal/websocket"
)

const claimsKey = "claims"

// SessionService is what the API needs from the session controller
type SessionService interface {
	Start(ctx context.Context) error
	Stop() error
	SendText(ctx context.Context, text string) error
	Snapshot() entities.Snapshot
	Messages() []entities.Message
}

// Dependencies wires the routes. Issuer may be nil, which disables
// authentication entirely.
type Dependencies struct {
	Session  SessionService
	Hub      *websocket.Hub
	Metrics  *metrics.Metrics
	Issuer   *auth.Issuer
	UISecret string
	Logger   *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies) {
	h := &handlers{deps: deps, logger: deps.Logger}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "arunika-voice",
		})
	})
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}

	// API v1 routes
	v1 := e.Group("/api/v1")

	var guard []echo.MiddlewareFunc
	if deps.Issuer != nil {
		v1.POST("/auth/token", h.issueToken)
		guard = append(guard, h.requireToken)
	} else {
		deps.Logger.Warn("Authentication disabled, UI_SECRET is not set")
	}

	session := v1.Group("/session", guard...)
	session.GET("", h.getSession)
	session.POST("/start", h.startSession)
	session.POST("/stop", h.stopSession)
	session.POST("/text", h.sendText)

	v1.GET("/messages", h.getMessages, guard...)

	// WebSocket endpoint with JWT validation
	e.GET("/ws", func(c echo.Context) error {
		return websocket.HandleWebSocket(deps.Hub, c)
	}, guard...)
}

type handlers struct {
	deps   Dependencies
	logger *zap.Logger
}

func (h *handlers) issueToken(c echo.Context) error {
	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Error("Failed to bind token request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.Secret == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Secret is required",
		})
	}
	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.deps.UISecret)) != 1 {
		h.logger.Warn("Token request rejected", zap.String("remoteIP", c.RealIP()))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid secret",
		})
	}

	token, expiresAt, err := h.deps.Issuer.GenerateUserToken("ui")
	if err != nil {
		h.logger.Error("Failed to generate token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	h.logger.Info("UI authenticated", zap.String("remoteIP", c.RealIP()))
	return c.JSON(http.StatusOK, TokenResponse{Token: token, ExpiresAt: expiresAt})
}

// requireToken accepts the token from the Authorization header or, for
// browser WebSockets that cannot set headers, the token query parameter.
func (h *handlers) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			token = c.QueryParam("token")
		}
		if token == "" {
			h.logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_token",
				Message: "JWT token is required in Authorization header",
			})
		}

		claims, err := h.deps.Issuer.ValidateToken(token)
		if err != nil {
			h.logger.Warn("Request rejected: invalid token", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired JWT token",
			})
		}
		if claims.Role != auth.RoleUser {
			h.logger.Warn("Request rejected: invalid role", zap.String("role", claims.Role))
			return c.JSON(http.StatusForbidden, ErrorResponse{
				Error:   "invalid_role",
				Message: "Token role is not allowed",
			})
		}

		c.Set(claimsKey, claims)
		return next(c)
	}
}

func (h *handlers) getSession(c echo.Context) error {
	return c.JSON(http.StatusOK, h.deps.Session.Snapshot())
}

func (h *handlers) startSession(c echo.Context) error {
	if err := h.deps.Session.Start(c.Request().Context()); err != nil {
		return h.sessionError(c, "start", err)
	}
	return c.JSON(http.StatusOK, h.deps.Session.Snapshot())
}

func (h *handlers) stopSession(c echo.Context) error {
	if err := h.deps.Session.Stop(); err != nil {
		return h.sessionError(c, "stop", err)
	}
	return c.JSON(http.StatusOK, h.deps.Session.Snapshot())
}

func (h *handlers) sendText(c echo.Context) error {
	var req TextRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if err := h.deps.Session.SendText(c.Request().Context(), req.Text); err != nil {
		return h.sessionError(c, "text", err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *handlers) getMessages(c echo.Context) error {
	messages := h.deps.Session.Messages()
	return c.JSON(http.StatusOK, MessagesResponse{Messages: messages, Count: len(messages)})
}

func (h *handlers) sessionError(c echo.Context, op string, err error) error {
	status := websocket.StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Session operation failed", zap.String("op", op), zap.Error(err))
	} else {
		h.logger.Info("Session operation rejected", zap.String("op", op), zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{
		Error:   websocket.ErrorCode(err),
		Message: err.Error(),
	})
}
