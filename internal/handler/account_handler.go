package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/newswire-engine/internal/domain"
)

type AccountHandler struct {
	service AccountService
}

type createUserRequest struct {
	Email    string `json:"email"`
	Timezone string `json:"timezone"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Tier      string    `json:"tier"`
	Timezone  string    `json:"timezone"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *AccountHandler) CreateUser(c *fiber.Ctx) error {
	var req createUserRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	user, err := h.service.CreateUser(c.UserContext(), req.Email, req.Timezone)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toUserResponse(user))
}

func (h *AccountHandler) Me(c *fiber.Ctx) error {
	user, err := h.service.GetUser(c.UserContext(), currentUserID(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toUserResponse(user))
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Tier:      u.SubscriptionTier.String(),
		Timezone:  u.Timezone,
		CreatedAt: u.CreatedAt,
	}
}
