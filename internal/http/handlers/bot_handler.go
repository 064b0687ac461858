package handlers

import (
	"github.com/escrow-desk/backend/internal/bot"
	"github.com/escrow-desk/backend/internal/http/dto"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// BotHandler receives commands from the bot connector and hands them to the
// dispatcher. One request, one rendered reply.
type BotHandler struct {
	dispatcher *bot.Dispatcher
	log        *zap.Logger
}

func NewBotHandler(dispatcher *bot.Dispatcher, log *zap.Logger) *BotHandler {
	return &BotHandler{dispatcher: dispatcher, log: log}
}

func (h *BotHandler) HandleUpdate(c *fiber.Ctx) error {
	var req dto.BotUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid update"})
	}
	if req.Verb == "" || req.SenderID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "verb and sender_id are required"})
	}

	reply := h.dispatcher.Dispatch(c.Context(), bot.Command{
		Verb:         req.Verb,
		Args:         req.Args,
		SenderID:     req.SenderID,
		SenderName:   req.SenderName,
		ChatID:       req.ChatID,
		ChatType:     req.ChatType,
		ChatTitle:    req.ChatTitle,
		ChatUsername: req.ChatUsername,
		InviteLink:   req.InviteLink,
	})

	return c.JSON(dto.BotUpdateResponse{Reply: reply})
}
