package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/treasury-vault/backend/internal/http/dto"
	"github.com/treasury-vault/backend/internal/lifecycle"
	"github.com/treasury-vault/backend/internal/services"
	"go.uber.org/zap"
)

type VaultHandler struct {
	vaultService *services.VaultService
	log          *zap.Logger
}

func NewVaultHandler(vaultService *services.VaultService, log *zap.Logger) *VaultHandler {
	return &VaultHandler{vaultService: vaultService, log: log}
}

func vaultID(c *fiber.Ctx) (uuid.UUID, error) {
	return uuid.Parse(c.Params("id"))
}

func (h *VaultHandler) CreateVault(c *fiber.Ctx) error {
	var req dto.CreateVaultRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	vault, err := h.vaultService.Create(c.Context(), services.CreateVaultInput{
		Name:               req.Name,
		Status:             req.Status,
		TreasuryWallet:     req.TreasuryWallet,
		TokenMint:          req.TokenMint,
		DistributionWallet: req.DistributionWallet,
		TimerDuration:      req.TimerDuration,
		StartDate:          req.StartDate,
		EndgameDate:        req.EndgameDate,
		ICOStartTime:       req.ICOStartTime,
		ICOEndTime:         req.ICOEndTime,
		ICOThresholdUSD:    req.ICOThresholdUSD,
	})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: vault})
}

func (h *VaultHandler) ListVaults(c *fiber.Ctx) error {
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	var status *string
	if v := c.Query("status"); v != "" {
		status = &v
	}

	vaults, err := h.vaultService.List(c.Context(), status, limit, offset)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: vaults})
}

func (h *VaultHandler) GetVault(c *fiber.Ctx) error {
	id, err := vaultID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid vault id"})
	}

	vault, err := h.vaultService.Get(c.Context(), id)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: vault})
}

func (h *VaultHandler) DeleteVault(c *fiber.Ctx) error {
	id, err := vaultID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid vault id"})
	}

	if err := h.vaultService.Delete(c.Context(), id); err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *VaultHandler) Transition(c *fiber.Ctx) error {
	id, err := vaultID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid vault id"})
	}

	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.Status == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "target_status is required"})
	}

	vault, err := h.vaultService.Transition(c.Context(), id, req.Status, req.Reason)
	if err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		return h.serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: vault})
}

func (h *VaultHandler) RecordVolume(c *fiber.Ctx) error {
	id, err := vaultID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid vault id"})
	}

	var req dto.RecordVolumeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	vault, err := h.vaultService.RecordVolume(c.Context(), id, req.TotalVolumeUSD)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: vault})
}

func (h *VaultHandler) ClaimWinner(c *fiber.Ctx) error {
	id, err := vaultID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid vault id"})
	}

	var req dto.ClaimWinnerRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	vault, err := h.vaultService.ClaimWinner(c.Context(), id, req.Address)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: vault})
}

func (h *VaultHandler) CompleteStage2(c *fiber.Ctx) error {
	id, err := vaultID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid vault id"})
	}

	var req dto.CompleteStage2Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.TokenAddress == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "token_address is required"})
	}

	vault, err := h.vaultService.CompleteStage2(c.Context(), id, services.Stage2Input{
		TokenAddress:       req.TokenAddress,
		DistributionWallet: req.DistributionWallet,
		VaultLaunchDate:    req.VaultLaunchDate,
	})
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: vault})
}

func (h *VaultHandler) MarkEndgameProcessed(c *fiber.Ctx) error {
	id, err := vaultID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid vault id"})
	}

	vault, err := h.vaultService.MarkEndgameProcessed(c.Context(), id)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: vault})
}

func (h *VaultHandler) MarkRefundProcessed(c *fiber.Ctx) error {
	id, err := vaultID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid vault id"})
	}

	var req dto.RefundProcessedRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	vault, err := h.vaultService.MarkRefundProcessed(c.Context(), id, req.TxSignature, req.AmountUSD)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: vault})
}

func (h *VaultHandler) GetICOStatus(c *fiber.Ctx) error {
	id, err := vaultID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid vault id"})
	}

	status, err := h.vaultService.GetICOStatus(c.Context(), id)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: status})
}

func (h *VaultHandler) GetTimerStatus(c *fiber.Ctx) error {
	id, err := vaultID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid vault id"})
	}

	status, err := h.vaultService.GetTimerStatus(c.Context(), id)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: status})
}

func (h *VaultHandler) AddWhitelistAddress(c *fiber.Ctx) error {
	id, err := vaultID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid vault id"})
	}

	var req dto.WhitelistAddressRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	if err := h.vaultService.AddWhitelistAddress(c.Context(), id, req.Address); err != nil {
		return h.serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true})
}

func (h *VaultHandler) RemoveWhitelistAddress(c *fiber.Ctx) error {
	id, err := vaultID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid vault id"})
	}

	address := c.Params("address")
	if address == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "address is required"})
	}

	if err := h.vaultService.RemoveWhitelistAddress(c.Context(), id, address); err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *VaultHandler) ListWhitelist(c *fiber.Ctx) error {
	id, err := vaultID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid vault id"})
	}

	entries, err := h.vaultService.ListWhitelist(c.Context(), id)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

func (h *VaultHandler) GetEvents(c *fiber.Ctx) error {
	id, err := vaultID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid vault id"})
	}

	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	logs, err := h.vaultService.GetEvents(c.Context(), id, limit, offset)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

func (h *VaultHandler) serviceError(c *fiber.Ctx, err error) error {
	if errors.Is(err, services.ErrVaultNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "vault not found"})
	}
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
}
