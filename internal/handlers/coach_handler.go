package handlers

import (
	"errors"

	"github.com/Parnets19/QuickChat-aws-sub001/internal/repository"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
)

type CoachHandler struct {
	coachProfileRepo *repository.CoachProfileRepository
}

func NewCoachHandler(coachProfileRepo *repository.CoachProfileRepository) *CoachHandler {
	return &CoachHandler{coachProfileRepo: coachProfileRepo}
}

func (h *CoachHandler) ListOnlineCoaches(c *fiber.Ctx) error {
	coaches, err := h.coachProfileRepo.ListOnline(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list coaches"})
	}
	return c.JSON(fiber.Map{"coaches": coaches})
}

type updateRatesRequest struct {
	FullName  string   `json:"full_name"`
	Bio       *string  `json:"bio"`
	ChatRate  *float64 `json:"chat_rate"`
	AudioRate *float64 `json:"audio_rate"`
	VideoRate *float64 `json:"video_rate"`
}

func (h *CoachHandler) UpdateRates(c *fiber.Ctx) error {
	role, _ := c.Locals("role").(string)
	if role != "coach" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}
	actor, err := parseActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req updateRatesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.FullName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "full_name is required"})
	}
	for _, rate := range []*float64{req.ChatRate, req.AudioRate, req.VideoRate} {
		if rate != nil && *rate <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "rates must be greater than 0"})
		}
	}

	profile, err := h.coachProfileRepo.UpdateRates(c.Context(), actor.ID, repository.CoachRatesInput{
		FullName:  req.FullName,
		Bio:       req.Bio,
		ChatRate:  req.ChatRate,
		AudioRate: req.AudioRate,
		VideoRate: req.VideoRate,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Coach profile not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update rates"})
	}

	return c.JSON(fiber.Map{"profile": profile})
}

type setOnlineRequest struct {
	Online bool `json:"online"`
}

func (h *CoachHandler) SetOnline(c *fiber.Ctx) error {
	role, _ := c.Locals("role").(string)
	if role != "coach" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}
	actor, err := parseActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req setOnlineRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if err := h.coachProfileRepo.SetOnline(c.Context(), actor.ID, req.Online); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update status"})
	}

	return c.JSON(fiber.Map{"online": req.Online})
}
