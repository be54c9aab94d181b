// Package middleware contains HTTP middleware functions for request processing
package middleware

import (
	"errors"
	"strings"

	"github.com/amirphl/yamata-dialer/app/dto"
	"github.com/amirphl/yamata-dialer/app/services"
	"github.com/amirphl/yamata-dialer/utils"
	"github.com/gofiber/fiber/v3"
)

// AuthMiddleware handles JWT token validation for agent endpoints
type AuthMiddleware struct {
	tokenService services.TokenService
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokenService services.TokenService) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
	}
}

func unauthorized(c fiber.Ctx, message, code string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error:   dto.ErrorDetail{Code: code},
	})
}

// Authenticate validates the bearer access token and stores the agent on the request
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "Authorization header is required", "MISSING_AUTHORIZATION_HEADER")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return unauthorized(c, "Invalid authorization header format. Expected 'Bearer <token>'", "INVALID_AUTHORIZATION_FORMAT")
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			return unauthorized(c, "Access token is required", "MISSING_ACCESS_TOKEN")
		}

		// Revocation is checked by ValidateAgentToken
		claims, err := m.tokenService.ValidateAgentToken(token)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrTokenExpired):
				return unauthorized(c, "Access token has expired", "TOKEN_EXPIRED")
			case errors.Is(err, services.ErrTokenRevoked):
				return unauthorized(c, "Access token has been revoked", "TOKEN_REVOKED")
			case errors.Is(err, services.ErrTokenInvalid):
				return unauthorized(c, "Invalid access token", "TOKEN_INVALID")
			default:
				return unauthorized(c, "Token validation failed", "TOKEN_VALIDATION_FAILED")
			}
		}
		if claims.TokenType != "" && claims.TokenType != "access" {
			return unauthorized(c, "Refresh tokens cannot access the API", "TOKEN_INVALID")
		}

		c.Locals(string(utils.AgentIDKey), claims.AgentID)
		c.Locals("token_id", claims.TokenID)
		c.Locals("token_claims", claims)

		if requestID := c.Get("X-Request-ID"); requestID != "" {
			c.Locals(string(utils.RequestIDKey), requestID)
		}

		return c.Next()
	}
}

// GetAgentIDFromContext extracts the agent ID from the request context
func GetAgentIDFromContext(c fiber.Ctx) (uint, bool) {
	agentID, ok := c.Locals(string(utils.AgentIDKey)).(uint)
	return agentID, ok
}

// GetTokenClaimsFromContext extracts token claims from the request context
func GetTokenClaimsFromContext(c fiber.Ctx) (*services.AgentTokenClaims, bool) {
	claims, ok := c.Locals("token_claims").(*services.AgentTokenClaims)
	return claims, ok
}
