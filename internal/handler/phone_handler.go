package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/newswire-engine/internal/domain"
	"github.com/kursadbilgin/newswire-engine/internal/service"
)

type PhoneNumberHandler struct {
	service PhoneNumberService
}

type registerNumberRequest struct {
	Phone string `json:"phone"`
}

type verifyNumberRequest struct {
	Code string `json:"code"`
}

type phoneNumberResponse struct {
	ID            string     `json:"id"`
	Phone         string     `json:"phone"`
	State         string     `json:"state"`
	AttemptCount  int        `json:"attemptCount"`
	CodeExpiresAt *time.Time `json:"codeExpiresAt,omitempty"`
	VerifiedAt    *time.Time `json:"verifiedAt,omitempty"`
	RevokedAt     *time.Time `json:"revokedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type registrationResponse struct {
	phoneNumberResponse
	CodeSent bool `json:"codeSent"`
}

// RegisterNumber answers 201 even when the code could not be dispatched; codeSent tells the caller to resend.
func (h *PhoneNumberHandler) RegisterNumber(c *fiber.Ctx) error {
	var req registerNumberRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	reg, err := h.service.Register(c.UserContext(), currentUserID(c), req.Phone)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toRegistrationResponse(reg))
}

func (h *PhoneNumberHandler) ListNumbers(c *fiber.Ctx) error {
	numbers, err := h.service.List(c.UserContext(), currentUserID(c))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]phoneNumberResponse, 0, len(numbers))
	for i := range numbers {
		data = append(data, toPhoneNumberResponse(&numbers[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *PhoneNumberHandler) VerifyNumber(c *fiber.Ctx) error {
	var req verifyNumberRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	number, err := h.service.SubmitCode(c.UserContext(), currentUserID(c), strings.TrimSpace(c.Params("id")), req.Code)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toPhoneNumberResponse(number))
}

func (h *PhoneNumberHandler) ResendCode(c *fiber.Ctx) error {
	reg, err := h.service.ResendCode(c.UserContext(), currentUserID(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toRegistrationResponse(reg))
}

func (h *PhoneNumberHandler) RevokeNumber(c *fiber.Ctx) error {
	if err := h.service.Revoke(c.UserContext(), currentUserID(c), strings.TrimSpace(c.Params("id"))); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func toRegistrationResponse(reg *service.Registration) registrationResponse {
	return registrationResponse{
		phoneNumberResponse: toPhoneNumberResponse(reg.Number),
		CodeSent:            reg.CodeSent,
	}
}

// The verification code itself is never rendered.
func toPhoneNumberResponse(p *domain.PhoneNumber) phoneNumberResponse {
	return phoneNumberResponse{
		ID:            p.ID,
		Phone:         p.E164,
		State:         p.State.String(),
		AttemptCount:  p.AttemptCount,
		CodeExpiresAt: p.CodeExpiresAt,
		VerifiedAt:    p.VerifiedAt,
		RevokedAt:     p.RevokedAt,
		CreatedAt:     p.CreatedAt,
	}
}
