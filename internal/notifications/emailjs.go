package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/athaight/andrewhaight-blog/internal/model"
)

const (
	// DefaultEmailJSSendURL is the EmailJS REST send endpoint.
	DefaultEmailJSSendURL = "https://api.emailjs.com/api/v1.0/email/send"

	defaultEmailJSTimeout = 10 * time.Second

	emailJSTitleTemplate = "New contact from %s"

	headerNameContentType = "Content-Type"
	contentTypeJSON       = "application/json"

	errorMessageEmailJSNotConfigured = "notifications: emailjs is not configured"
	errorMessageEmailJSEncode        = "notifications: encode emailjs payload"
	errorMessageEmailJSBuildRequest  = "notifications: build emailjs request"
	errorMessageEmailJSSend          = "notifications: send emailjs request"
	errorMessageEmailJSRejected      = "notifications: emailjs rejected request"

	responseDetailMaxLength = 512

	logEventEmailJSSent = "emailjs_sent"
	logFieldMessageID   = "message_id"
)

// ErrEmailJSNotConfigured indicates one or more EmailJS identifiers are absent.
var ErrEmailJSNotConfigured = errors.New(errorMessageEmailJSNotConfigured)

// EmailJSConfig carries the identifiers EmailJS needs to render and route a
// notification; the recipient lives in the template on the EmailJS side.
type EmailJSConfig struct {
	ServiceID  string
	TemplateID string
	PublicKey  string
}

// Configured reports whether all identifiers are present.
func (configuration EmailJSConfig) Configured() bool {
	return strings.TrimSpace(configuration.ServiceID) != "" &&
		strings.TrimSpace(configuration.TemplateID) != "" &&
		strings.TrimSpace(configuration.PublicKey) != ""
}

// EmailJSSender delivers a best-effort email notification for a freshly
// stored contact message. Failures carry a human-readable detail and must be
// treated as warnings by callers, never as submission failures.
type EmailJSSender struct {
	configuration EmailJSConfig
	sendURL       string
	httpClient    *http.Client
	logger        *zap.Logger
}

type emailJSPayload struct {
	ServiceID      string                `json:"service_id"`
	TemplateID     string                `json:"template_id"`
	UserID         string                `json:"user_id"`
	TemplateParams emailJSTemplateParams `json:"template_params"`
}

type emailJSTemplateParams struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// NewEmailJSSender creates an EmailJS-backed contact notifier.
func NewEmailJSSender(configuration EmailJSConfig, logger *zap.Logger) *EmailJSSender {
	return &EmailJSSender{
		configuration: configuration,
		sendURL:       DefaultEmailJSSendURL,
		httpClient:    &http.Client{Timeout: defaultEmailJSTimeout},
		logger:        logger,
	}
}

// WithSendURL overrides the EmailJS endpoint.
func (sender *EmailJSSender) WithSendURL(sendURL string) *EmailJSSender {
	sender.sendURL = sendURL
	return sender
}

// WithHTTPClient overrides the HTTP client used for send calls.
func (sender *EmailJSSender) WithHTTPClient(httpClient *http.Client) *EmailJSSender {
	sender.httpClient = httpClient
	return sender
}

// NotifyContact sends the notification email describing the stored message.
func (sender *EmailJSSender) NotifyContact(ctx context.Context, message model.ContactMessage) error {
	if !sender.configuration.Configured() {
		return ErrEmailJSNotConfigured
	}

	payload := emailJSPayload{
		ServiceID:  sender.configuration.ServiceID,
		TemplateID: sender.configuration.TemplateID,
		UserID:     sender.configuration.PublicKey,
		TemplateParams: emailJSTemplateParams{
			Name:    message.Name,
			Email:   message.Email,
			Title:   fmt.Sprintf(emailJSTitleTemplate, message.Name),
			Message: message.Message,
		},
	}

	encoded, encodeErr := json.Marshal(payload)
	if encodeErr != nil {
		return fmt.Errorf("%s: %w", errorMessageEmailJSEncode, encodeErr)
	}

	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, sender.sendURL, bytes.NewReader(encoded))
	if requestErr != nil {
		return fmt.Errorf("%s: %w", errorMessageEmailJSBuildRequest, requestErr)
	}
	request.Header.Set(headerNameContentType, contentTypeJSON)

	response, responseErr := sender.httpClient.Do(request)
	if responseErr != nil {
		return fmt.Errorf("%s: %w", errorMessageEmailJSSend, responseErr)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		detail := readResponseDetail(response.Body)
		return fmt.Errorf("%s: status %d: %s", errorMessageEmailJSRejected, response.StatusCode, detail)
	}

	if sender.logger != nil {
		sender.logger.Info(logEventEmailJSSent, zap.String(logFieldMessageID, message.ID))
	}
	return nil
}

func readResponseDetail(body io.Reader) string {
	raw, readErr := io.ReadAll(io.LimitReader(body, responseDetailMaxLength))
	if readErr != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
