package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/newswire-engine/internal/domain"
	"github.com/kursadbilgin/newswire-engine/internal/service"
)

type TopicHandler struct {
	service TopicService
}

type createTopicRequest struct {
	Name        string   `json:"name"`
	Keywords    []string `json:"keywords"`
	CountryCode string   `json:"countryCode"`
	Language    string   `json:"language"`
}

type topicResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Keywords    []string  `json:"keywords"`
	CountryCode string    `json:"countryCode"`
	Language    string    `json:"language"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (h *TopicHandler) CreateTopic(c *fiber.Ctx) error {
	var req createTopicRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	topic, err := h.service.Create(c.UserContext(), currentUserID(c), service.CreateTopicInput{
		Name:        req.Name,
		Keywords:    req.Keywords,
		CountryCode: req.CountryCode,
		Language:    req.Language,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toTopicResponse(topic))
}

func (h *TopicHandler) ListTopics(c *fiber.Ctx) error {
	topics, err := h.service.List(c.UserContext(), currentUserID(c))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]topicResponse, 0, len(topics))
	for i := range topics {
		data = append(data, toTopicResponse(&topics[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

// DeleteTopic also orphans the topic's schedules.
func (h *TopicHandler) DeleteTopic(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Delete(c.UserContext(), currentUserID(c), id); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func toTopicResponse(t *domain.Topic) topicResponse {
	return topicResponse{
		ID:          t.ID,
		Name:        t.Name,
		Keywords:    t.Keywords,
		CountryCode: t.CountryCode,
		Language:    t.Language,
		CreatedAt:   t.CreatedAt,
	}
}
