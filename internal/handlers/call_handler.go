package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/Parnets19/QuickChat-aws-sub001/internal/models"
	"github.com/Parnets19/QuickChat-aws-sub001/internal/services"
	callws "github.com/Parnets19/QuickChat-aws-sub001/internal/websocket"
	"github.com/Parnets19/QuickChat-aws-sub001/pkg/utils"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
)

type callApplicationService interface {
	CheckAffordability(ctx context.Context, actor services.Actor, coachID int64, callType string) (*services.Affordability, error)
	Start(ctx context.Context, actor services.Actor, coachID int64, callType string) (*models.Call, error)
	Accept(ctx context.Context, actor services.Actor, callID int64) (*models.Call, error)
	Get(ctx context.Context, actor services.Actor, callID int64) (*models.Call, error)
	ListOngoing(ctx context.Context, actor services.Actor) ([]models.Call, error)
}

type billingApplicationService interface {
	Tick(ctx context.Context, actor services.Actor, callID int64) (*services.TickResult, error)
	End(ctx context.Context, actor services.Actor, callID int64) (*services.TerminationResult, error)
}

type CallHandler struct {
	calls     callApplicationService
	billing   billingApplicationService
	hub       *callws.Hub
	jwtSecret string
}

func NewCallHandler(
	calls *services.CallService,
	billing *services.BillingService,
	hub *callws.Hub,
	jwtSecret string,
) *CallHandler {
	return &CallHandler{
		calls:     calls,
		billing:   billing,
		hub:       hub,
		jwtSecret: jwtSecret,
	}
}

type startCallRequest struct {
	CoachID  int64  `json:"coach_id"`
	CallType string `json:"call_type"`
}

func (h *CallHandler) CheckAffordability(c *fiber.Ctx) error {
	actor, err := parseActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	coachID, err := strconv.ParseInt(strings.TrimSpace(c.Query("coach_id")), 10, 64)
	if err != nil || coachID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "coach_id must be a positive integer"})
	}
	callType := strings.TrimSpace(c.Query("type"))

	result, err := h.calls.CheckAffordability(c.Context(), actor, coachID, callType)
	if err != nil {
		return mapCallError(c, err)
	}

	return c.JSON(result)
}

func (h *CallHandler) StartCall(c *fiber.Ctx) error {
	actor, err := parseActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	if role, _ := c.Locals("role").(string); role == "coach" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	var req startCallRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	call, err := h.calls.Start(c.Context(), actor, req.CoachID, strings.TrimSpace(req.CallType))
	if err != nil {
		return mapCallError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"call_id":         call.ID,
		"rate_per_minute": call.RatePerMinute,
		"start_time":      call.BothAcceptedAt,
	})
}

func (h *CallHandler) AcceptCall(c *fiber.Ctx) error {
	actor, err := parseActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	callID, err := parseCallID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid call id"})
	}

	call, err := h.calls.Accept(c.Context(), actor, callID)
	if err != nil {
		return mapCallError(c, err)
	}

	return c.JSON(fiber.Map{
		"billing_started": call.BillingStarted,
		"start_time":      call.BothAcceptedAt,
	})
}

func (h *CallHandler) Tick(c *fiber.Ctx) error {
	actor, err := parseActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	callID, err := parseCallID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid call id"})
	}

	result, err := h.billing.Tick(c.Context(), actor, callID)
	if err != nil {
		return mapCallError(c, err)
	}

	return c.JSON(result)
}

func (h *CallHandler) EndCall(c *fiber.Ctx) error {
	actor, err := parseActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	callID, err := parseCallID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid call id"})
	}

	result, err := h.billing.End(c.Context(), actor, callID)
	if err != nil {
		return mapCallError(c, err)
	}

	return c.JSON(fiber.Map{
		"duration_minutes": result.DurationMinutes,
		"total_amount":     result.TotalAmount,
		"end_time":         result.EndTime,
	})
}

func (h *CallHandler) GetCall(c *fiber.Ctx) error {
	actor, err := parseActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	callID, err := parseCallID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid call id"})
	}

	call, err := h.calls.Get(c.Context(), actor, callID)
	if err != nil {
		return mapCallError(c, err)
	}

	return c.JSON(fiber.Map{"call": call})
}

func (h *CallHandler) ListOngoingCalls(c *fiber.Ctx) error {
	actor, err := parseActor(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	calls, err := h.calls.ListOngoing(c.Context(), actor)
	if err != nil {
		return mapCallError(c, err)
	}

	return c.JSON(fiber.Map{"calls": calls})
}

// WebSocketAuth guards the event stream upgrade; the token may ride in the
// query string because browsers cannot set headers on websocket dials.
func (h *CallHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *CallHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	role, _ := conn.Locals("role").(string)
	actor, err := actorFrom(userID, role)
	if err != nil {
		_ = conn.Close()
		return
	}

	client := callws.NewClient(h.hub, conn, actor.Key())
	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump()
}

func (h *CallHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

func parseCallID(c *fiber.Ctx) (int64, error) {
	callID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || callID <= 0 {
		return 0, errors.New("invalid call id")
	}
	return callID, nil
}

// parseActor resolves the authenticated caller into the account-kind tagged
// identity the services operate on.
func parseActor(c *fiber.Ctx) (services.Actor, error) {
	userID, _ := c.Locals("user_id").(string)
	role, _ := c.Locals("role").(string)
	return actorFrom(userID, role)
}

func actorFrom(userID, role string) (services.Actor, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil || id <= 0 {
		return services.Actor{}, errors.New("invalid token subject")
	}
	kind := models.AccountKindRegistered
	if role == "guest" {
		kind = models.AccountKindGuest
	}
	return services.Actor{Kind: kind, ID: id}, nil
}

func mapCallError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrInsufficientFunds):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Insufficient funds"})
	case errors.Is(err, services.ErrInvalidState), errors.Is(err, services.ErrAlreadyAccepted):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrCallNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Call not found"})
	case errors.Is(err, services.ErrCoachNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Coach not found"})
	case errors.Is(err, services.ErrRateUnavailable):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Coach does not offer this call type"})
	case errors.Is(err, services.ErrBillingUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Billing temporarily unavailable, retry"})
	case errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Call not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process call request"})
	}
}
