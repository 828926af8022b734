package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/newswire-engine/internal/domain"
	"github.com/kursadbilgin/newswire-engine/internal/service"
)

type ScheduleHandler struct {
	service ScheduleService
}

type createScheduleRequest struct {
	TopicID   string `json:"topicId"`
	Frequency string `json:"frequency"`
	TimeOfDay string `json:"timeOfDay"`
	Active    *bool  `json:"active"`
}

type patchScheduleRequest struct {
	Active    *bool   `json:"active"`
	Frequency *string `json:"frequency"`
	TimeOfDay *string `json:"timeOfDay"`
}

type scheduleResponse struct {
	ID         string     `json:"id"`
	TopicID    string     `json:"topicId"`
	Frequency  string     `json:"frequency"`
	TimeOfDay  string     `json:"timeOfDay,omitempty"`
	Active     bool       `json:"active"`
	OrphanedAt *time.Time `json:"orphanedAt,omitempty"`
	LastRunAt  *time.Time `json:"lastRunAt,omitempty"`
	NextDueAt  time.Time  `json:"nextDueAt"`
	Running    bool       `json:"running"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type runResponse struct {
	ID           string                   `json:"id"`
	ScheduleID   string                   `json:"scheduleId"`
	Trigger      string                   `json:"trigger"`
	Status       string                   `json:"status"`
	DueAt        *time.Time               `json:"dueAt,omitempty"`
	TriggeredAt  time.Time                `json:"triggeredAt"`
	CompletedAt  time.Time                `json:"completedAt"`
	AttemptCount int                      `json:"attemptCount"`
	Content      string                   `json:"content,omitempty"`
	Error        string                   `json:"error,omitempty"`
	Recipients   []domain.RecipientResult `json:"recipients"`
}

func (h *ScheduleHandler) CreateSchedule(c *fiber.Ctx) error {
	var req createScheduleRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	schedule, err := h.service.Create(c.UserContext(), currentUserID(c), service.CreateScheduleInput{
		TopicID:   req.TopicID,
		Frequency: req.Frequency,
		TimeOfDay: req.TimeOfDay,
		Active:    req.Active,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toScheduleResponse(schedule))
}

func (h *ScheduleHandler) ListSchedules(c *fiber.Ctx) error {
	schedules, err := h.service.List(c.UserContext(), currentUserID(c))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]scheduleResponse, 0, len(schedules))
	for i := range schedules {
		data = append(data, toScheduleResponse(&schedules[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *ScheduleHandler) GetSchedule(c *fiber.Ctx) error {
	schedule, err := h.service.Get(c.UserContext(), currentUserID(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toScheduleResponse(schedule))
}

func (h *ScheduleHandler) PatchSchedule(c *fiber.Ctx) error {
	var req patchScheduleRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Active == nil && req.Frequency == nil && req.TimeOfDay == nil {
		return toHTTPError(fmt.Errorf("%w: nothing to update", domain.ErrValidation))
	}

	schedule, err := h.service.Patch(c.UserContext(), currentUserID(c), strings.TrimSpace(c.Params("id")), service.PatchScheduleInput{
		Active:    req.Active,
		Frequency: req.Frequency,
		TimeOfDay: req.TimeOfDay,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toScheduleResponse(schedule))
}

// TriggerSchedule runs the schedule now and answers with the finished DeliveryRun.
func (h *ScheduleHandler) TriggerSchedule(c *fiber.Ctx) error {
	run, err := h.service.TriggerNow(c.UserContext(), currentUserID(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toRunResponse(run))
}

func (h *ScheduleHandler) ListRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return toHTTPError(fmt.Errorf("%w: limit must be positive", domain.ErrValidation))
	}

	runs, err := h.service.ListRuns(c.UserContext(), currentUserID(c), strings.TrimSpace(c.Params("id")), limit)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]runResponse, 0, len(runs))
	for i := range runs {
		data = append(data, toRunResponse(&runs[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func toScheduleResponse(s *domain.Schedule) scheduleResponse {
	return scheduleResponse{
		ID:         s.ID,
		TopicID:    s.TopicID,
		Frequency:  s.Frequency.String(),
		TimeOfDay:  s.TimeOfDay,
		Active:     s.Active,
		OrphanedAt: s.OrphanedAt,
		LastRunAt:  s.LastRunAt,
		NextDueAt:  s.NextDueAt,
		Running:    s.Running,
		CreatedAt:  s.CreatedAt,
	}
}

func toRunResponse(r *domain.DeliveryRun) runResponse {
	recipients := r.Recipients
	if recipients == nil {
		recipients = []domain.RecipientResult{}
	}
	return runResponse{
		ID:           r.ID,
		ScheduleID:   r.ScheduleID,
		Trigger:      string(r.Trigger),
		Status:       r.Status.String(),
		DueAt:        r.DueAt,
		TriggeredAt:  r.TriggeredAt,
		CompletedAt:  r.CompletedAt,
		AttemptCount: r.AttemptCount,
		Content:      r.Content,
		Error:        r.Error,
		Recipients:   recipients,
	}
}
