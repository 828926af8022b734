package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	twilioName     = "twilio"
	whatsappPrefix = "whatsapp:"
)

type twilioMessage struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type twilioErrorBody struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

// TwilioWhatsApp sends WhatsApp messages through the Twilio Messages API.
type TwilioWhatsApp struct {
	client     *resty.Client
	accountSID string
	from       string
}

type TwilioConfig struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	FromNumber string
	Timeout    time.Duration
}

func NewTwilioWhatsApp(cfg TwilioConfig) (*TwilioWhatsApp, error) {
	client := resty.New()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	client.SetTimeout(timeout)

	return NewTwilioWhatsAppWithClient(cfg, client)
}

func NewTwilioWhatsAppWithClient(cfg TwilioConfig, client *resty.Client) (*TwilioWhatsApp, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("twilio api url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid twilio api url: %w", err)
	}
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, fmt.Errorf("twilio credentials are required")
	}
	from := strings.TrimPrefix(strings.TrimSpace(cfg.FromNumber), whatsappPrefix)
	if from == "" {
		return nil, fmt.Errorf("whatsapp sender number is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultProviderTimeout)
	}
	client.SetBaseURL(baseURL)
	client.SetBasicAuth(cfg.AccountSID, cfg.AuthToken)
	client.SetRetryCount(0)

	return &TwilioWhatsApp{
		client:     client,
		accountSID: cfg.AccountSID,
		from:       from,
	}, nil
}

func (t *TwilioWhatsApp) Send(ctx context.Context, e164Phone, message string) (*SendResult, error) {
	if t == nil || t.client == nil {
		return nil, fmt.Errorf("twilio transport is not initialized")
	}
	to := strings.TrimSpace(e164Phone)
	if to == "" {
		return nil, &ProviderError{Provider: twilioName, Message: "recipient is required"}
	}
	if strings.TrimSpace(message) == "" {
		return nil, &ProviderError{Provider: twilioName, Message: "message body is required"}
	}

	response, err := t.client.R().
		SetContext(ctx).
		SetPathParam("accountSid", t.accountSID).
		SetFormData(map[string]string{
			"From": whatsappPrefix + t.from,
			"To":   whatsappPrefix + to,
			"Body": message,
		}).
		Post("/2010-04-01/Accounts/{accountSid}/Messages.json")
	if err != nil {
		return nil, requestError(twilioName, err)
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		var msg twilioMessage
		if err := json.Unmarshal(response.Body(), &msg); err != nil {
			return nil, &ProviderError{
				Provider:   twilioName,
				StatusCode: statusCode,
				Message:    "malformed response body",
				Cause:      err,
			}
		}
		if msg.ErrorCode != nil {
			return nil, &ProviderError{
				Provider:   twilioName,
				StatusCode: statusCode,
				Message:    fmt.Sprintf("message rejected with code %d: %s", *msg.ErrorCode, msg.ErrorMessage),
			}
		}
		return &SendResult{StatusCode: statusCode, MessageID: msg.SID}, nil
	}

	detail := response.String()
	var body twilioErrorBody
	if err := json.Unmarshal(response.Body(), &body); err == nil && body.Message != "" {
		detail = fmt.Sprintf("code %d: %s", body.Code, body.Message)
	}

	return nil, &ProviderError{
		Provider:   twilioName,
		StatusCode: statusCode,
		Message:    statusErrorMessage(statusCode, detail),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}
