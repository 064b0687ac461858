package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/escrow-desk/backend/internal/http/dto"
	"github.com/escrow-desk/backend/internal/middleware"
	"github.com/escrow-desk/backend/internal/models"
	"github.com/escrow-desk/backend/internal/repositories"
	"github.com/escrow-desk/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// DealHandler is the admin panel's REST surface over the lifecycle engine.
type DealHandler struct {
	dealService *services.DealService
	log         *zap.Logger
}

func NewDealHandler(dealService *services.DealService, log *zap.Logger) *DealHandler {
	return &DealHandler{dealService: dealService, log: log}
}

func (h *DealHandler) ListDeals(c *fiber.Ctx) error {
	filter := repositories.DealFilter{
		Limit:  20,
		Offset: 0,
	}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}
	if v := c.Query("creator_id"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.CreatorID = &n
		}
	}

	deals, err := h.dealService.List(c.Context(), filter)
	if err != nil {
		h.log.Error("list deals failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deals})
}

func (h *DealHandler) GetDeal(c *fiber.Ctx) error {
	deal, err := h.dealService.Get(c.Context(), c.Params("id"), 0)
	if err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) GetDealEvents(c *fiber.Ctx) error {
	logs, err := h.dealService.GetDealEvents(c.Context(), c.Params("id"))
	if err != nil {
		h.log.Error("get deal events failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

func (h *DealHandler) ConfirmReceived(c *fiber.Ctx) error {
	return h.adminAction(c, h.dealService.ConfirmReceived)
}

func (h *DealHandler) Release(c *fiber.Ctx) error {
	return h.adminAction(c, h.dealService.Release)
}

func (h *DealHandler) Refund(c *fiber.Ctx) error {
	return h.adminAction(c, h.dealService.Refund)
}

func (h *DealHandler) Cancel(c *fiber.Ctx) error {
	return h.adminAction(c, h.dealService.Cancel)
}

func (h *DealHandler) adminAction(c *fiber.Ctx, op func(ctx context.Context, id string, actor int64) (*models.Deal, error)) error {
	actorID := middleware.GetTelegramUserID(c)
	deal, err := op(c.Context(), c.Params("id"), actorID)
	if err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) renderError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "deal not found"})
	case errors.Is(err, models.ErrUnauthorized):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "admin access required"})
	case errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrAlreadyBound),
		errors.Is(err, models.ErrChatHasActiveDeal),
		errors.Is(err, models.ErrValidation):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
	default:
		h.log.Error("deal operation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
}
