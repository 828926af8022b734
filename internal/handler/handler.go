package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/newswire-engine/internal/domain"
	"github.com/kursadbilgin/newswire-engine/internal/service"
)

// UserIDHeader identifies the caller. Authentication happens in front of this service.
const UserIDHeader = "X-User-ID"

const userIDLocal = "userId"

type AccountService interface {
	CreateUser(ctx context.Context, email, timezone string) (*domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	ApplyTierChange(ctx context.Context, change domain.TierChange, source string) (bool, error)
}

type TopicService interface {
	Create(ctx context.Context, ownerID string, in service.CreateTopicInput) (*domain.Topic, error)
	List(ctx context.Context, ownerID string) ([]domain.Topic, error)
	Delete(ctx context.Context, ownerID, topicID string) error
}

type PhoneNumberService interface {
	Register(ctx context.Context, ownerID, rawPhone string) (*service.Registration, error)
	SubmitCode(ctx context.Context, ownerID, phoneID, code string) (*domain.PhoneNumber, error)
	ResendCode(ctx context.Context, ownerID, phoneID string) (*service.Registration, error)
	Revoke(ctx context.Context, ownerID, phoneID string) error
	List(ctx context.Context, ownerID string) ([]domain.PhoneNumber, error)
}

type ScheduleService interface {
	Create(ctx context.Context, ownerID string, in service.CreateScheduleInput) (*domain.Schedule, error)
	List(ctx context.Context, ownerID string) ([]domain.Schedule, error)
	Get(ctx context.Context, ownerID, scheduleID string) (*domain.Schedule, error)
	Patch(ctx context.Context, ownerID, scheduleID string, in service.PatchScheduleInput) (*domain.Schedule, error)
	ListRuns(ctx context.Context, ownerID, scheduleID string, limit int) ([]domain.DeliveryRun, error)
	TriggerNow(ctx context.Context, ownerID, scheduleID string) (*domain.DeliveryRun, error)
}

// Services bundles everything the /v1 routes call into.
type Services struct {
	Accounts  AccountService
	Topics    TopicService
	Phones    PhoneNumberService
	Schedules ScheduleService
}

func (s Services) validate() error {
	switch {
	case s.Accounts == nil:
		return fmt.Errorf("account service is required")
	case s.Topics == nil:
		return fmt.Errorf("topic service is required")
	case s.Phones == nil:
		return fmt.Errorf("phone number service is required")
	case s.Schedules == nil:
		return fmt.Errorf("schedule service is required")
	}
	return nil
}

// RegisterRoutes mounts the /v1 API. User creation and the signed tier webhook need no X-User-ID.
func RegisterRoutes(router fiber.Router, services Services, webhookSecret string) error {
	if err := services.validate(); err != nil {
		return err
	}
	webhook, err := NewTierWebhookHandler(services.Accounts, webhookSecret)
	if err != nil {
		return err
	}

	accounts := &AccountHandler{service: services.Accounts}
	topics := &TopicHandler{service: services.Topics}
	phones := &PhoneNumberHandler{service: services.Phones}
	schedules := &ScheduleHandler{service: services.Schedules}

	v1 := router.Group("/v1")
	v1.Post("/webhooks/tier-changed", webhook.TierChanged)
	v1.Post("/users", accounts.CreateUser)

	user := RequireUser()
	v1.Get("/me", user, accounts.Me)

	v1.Post("/topics", user, topics.CreateTopic)
	v1.Get("/topics", user, topics.ListTopics)
	v1.Delete("/topics/:id", user, topics.DeleteTopic)

	v1.Post("/phone-numbers", user, phones.RegisterNumber)
	v1.Get("/phone-numbers", user, phones.ListNumbers)
	v1.Post("/phone-numbers/:id/verify", user, phones.VerifyNumber)
	v1.Post("/phone-numbers/:id/resend", user, phones.ResendCode)
	v1.Delete("/phone-numbers/:id", user, phones.RevokeNumber)

	v1.Post("/schedules", user, schedules.CreateSchedule)
	v1.Get("/schedules", user, schedules.ListSchedules)
	v1.Get("/schedules/:id", user, schedules.GetSchedule)
	v1.Patch("/schedules/:id", user, schedules.PatchSchedule)
	v1.Post("/schedules/:id/trigger", user, schedules.TriggerSchedule)
	v1.Get("/schedules/:id/runs", user, schedules.ListRuns)

	return nil
}

// RequireUser rejects requests without an X-User-ID header.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get(UserIDHeader))
		if userID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing "+UserIDHeader+" header")
		}
		c.Locals(userIDLocal, userID)
		return c.Next()
	}
}

func currentUserID(c *fiber.Ctx) string {
	userID, _ := c.Locals(userIDLocal).(string)
	return userID
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
