package handlers

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/treasury-vault/backend/internal/auth"
	"github.com/treasury-vault/backend/internal/config"
	"github.com/treasury-vault/backend/internal/http/dto"
	"go.uber.org/zap"
)

type AuthHandler struct {
	cfg *config.Config
	log *zap.Logger
}

func NewAuthHandler(cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, log: log}
}

// Login exchanges the admin API key for a short-lived JWT.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	if h.cfg.AdminAPIKey == "" ||
		subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(h.cfg.AdminAPIKey)) != 1 {
		h.log.Warn("rejected admin login attempt", zap.String("ip", c.IP()))
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid api key"})
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, auth.RoleAdmin, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("failed to issue token", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.AuthResponse{Token: token})
}
