package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/amirphl/yamata-dialer/app/dto"
	"github.com/amirphl/yamata-dialer/app/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// AuthHandlerInterface defines the contract for agent token endpoints
type AuthHandlerInterface interface {
	Refresh(c fiber.Ctx) error
	Logout(c fiber.Ctx) error
}

// AuthHandler rotates and revokes agent tokens. Tokens are first issued by the CRM sharing the signing key.
type AuthHandler struct {
	tokens    services.TokenService
	accessTTL time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

func (h *AuthHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *AuthHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(tokens services.TokenService, accessTTL time.Duration, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		tokens:    tokens,
		accessTTL: accessTTL,
		validator: validator.New(),
		logger:    logger.Named("auth_handler"),
	}
}

// Refresh handles refresh token rotation
// @Summary Refresh Agent Tokens
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body dto.RefreshTokenRequest true "Refresh token"
// @Success 200 {object} dto.APIResponse{data=dto.TokenPairResponse}
// @Failure 400 {object} dto.APIResponse "Invalid request"
// @Failure 401 {object} dto.APIResponse "Refresh token rejected"
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c fiber.Ctx) error {
	var req dto.RefreshTokenRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	access, refresh, err := h.tokens.RefreshAgentToken(req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrTokenExpired):
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Refresh token has expired", "TOKEN_EXPIRED", nil)
		case errors.Is(err, services.ErrTokenRevoked):
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Refresh token has been revoked", "TOKEN_REVOKED", nil)
		case errors.Is(err, services.ErrTokenInvalid):
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid refresh token", "TOKEN_INVALID", nil)
		}
		h.logger.Error("token refresh failed", zap.Error(err))
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Token refresh failed", "REFRESH_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Tokens refreshed", dto.TokenPairResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.accessTTL.Seconds()),
	})
}

// Logout revokes the bearer access token and, when given, the refresh token
// @Summary Logout
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body dto.LogoutRequest false "Refresh token to revoke"
// @Success 200 {object} dto.APIResponse
// @Failure 400 {object} dto.APIResponse "Invalid refresh token"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c fiber.Ctx) error {
	var req dto.LogoutRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
	}

	agentID, _ := agentIDFrom(c)
	if req.RefreshToken != "" {
		claims, err := h.tokens.ValidateAgentToken(req.RefreshToken)
		switch {
		case errors.Is(err, services.ErrTokenExpired), errors.Is(err, services.ErrTokenRevoked):
			// already unusable
		case err != nil, claims.TokenType != "refresh", claims.AgentID != agentID:
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid refresh token", "TOKEN_INVALID", nil)
		default:
			if err := h.tokens.RevokeToken(req.RefreshToken); err != nil {
				return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid refresh token", "TOKEN_INVALID", nil)
			}
		}
	}

	// Authenticate already accepted this header
	access := strings.TrimSpace(strings.TrimPrefix(c.Get("Authorization"), "Bearer "))
	if err := h.tokens.RevokeToken(access); err != nil {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid access token", "TOKEN_INVALID", nil)
	}

	h.logger.Info("agent logged out", zap.Uint("agent_id", agentID))
	return h.SuccessResponse(c, fiber.StatusOK, "Logged out", nil)
}
