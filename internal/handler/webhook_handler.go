package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/newswire-engine/internal/domain"
	"github.com/kursadbilgin/newswire-engine/internal/queue"
	"github.com/kursadbilgin/newswire-engine/internal/service"
)

const (
	// SignatureHeader carries "sha256=<hex>", an HMAC-SHA256 of the raw body.
	SignatureHeader = "X-Signature"
	signaturePrefix = "sha256="
)

// TierWebhookHandler accepts tier changes pushed by the payment collaborator.
type TierWebhookHandler struct {
	accounts AccountService
	secret   []byte
}

func NewTierWebhookHandler(accounts AccountService, secret string) (*TierWebhookHandler, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account service is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &TierWebhookHandler{accounts: accounts, secret: []byte(secret)}, nil
}

func (h *TierWebhookHandler) TierChanged(c *fiber.Ctx) error {
	body := c.Body()
	if !h.validSignature(body, c.Get(SignatureHeader)) {
		return toHTTPError(fmt.Errorf("%w: invalid webhook signature", domain.ErrForbidden))
	}

	var msg queue.TierChangedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	change, err := msg.ToDomain()
	if err != nil {
		return toHTTPError(err)
	}

	applied, err := h.accounts.ApplyTierChange(c.UserContext(), change, service.TierSourceWebhook)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"eventId": change.EventID,
		"applied": applied,
	})
}

func (h *TierWebhookHandler) validSignature(body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	return hmac.Equal(got, Sign(h.secret, body))
}

// Sign computes the raw HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
