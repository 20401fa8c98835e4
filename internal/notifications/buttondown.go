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
)

const (
	// DefaultButtondownSubscribersURL is the Buttondown subscriber creation endpoint.
	DefaultButtondownSubscribersURL = "https://api.buttondown.email/v1/subscribers"

	defaultButtondownTimeout = 10 * time.Second

	buttondownSubscriberNotes = "Subscribed via andrewhaight.com"
	buttondownSubscriberTag   = "website"

	headerNameAuthorization    = "Authorization"
	authorizationTokenTemplate = "Token %s"

	duplicateSubscriberFragment = "already"

	errorMessageButtondownNotConfigured = "notifications: buttondown is not configured"
	errorMessageButtondownEncode        = "notifications: encode buttondown payload"
	errorMessageButtondownBuildRequest  = "notifications: build buttondown request"
	errorMessageButtondownSend          = "notifications: send buttondown request"
	errorMessageButtondownRejected      = "notifications: buttondown rejected request"

	logEventSubscriberCreated = "newsletter_subscriber_created"
	logFieldSubscriberEmail   = "email"
)

// ErrNewsletterNotConfigured indicates the Buttondown API key is absent.
var ErrNewsletterNotConfigured = errors.New(errorMessageButtondownNotConfigured)

// SubscribeOutcome describes the result of a newsletter signup attempt.
type SubscribeOutcome int

const (
	// SubscribeOutcomeSubscribed indicates a fresh subscription was created.
	SubscribeOutcomeSubscribed SubscribeOutcome = iota
	// SubscribeOutcomeAlreadySubscribed indicates the address was already on
	// the list; not an error for the caller to escalate.
	SubscribeOutcomeAlreadySubscribed
)

// ButtondownClient creates newsletter subscribers through the Buttondown API.
type ButtondownClient struct {
	apiKey         string
	subscribersURL string
	httpClient     *http.Client
	logger         *zap.Logger
}

type buttondownSubscriberPayload struct {
	EmailAddress string   `json:"email_address"`
	Notes        string   `json:"notes"`
	Tags         []string `json:"tags"`
}

// NewButtondownClient creates a Buttondown-backed newsletter client.
func NewButtondownClient(apiKey string, logger *zap.Logger) *ButtondownClient {
	return &ButtondownClient{
		apiKey:         strings.TrimSpace(apiKey),
		subscribersURL: DefaultButtondownSubscribersURL,
		httpClient:     &http.Client{Timeout: defaultButtondownTimeout},
		logger:         logger,
	}
}

// WithSubscribersURL overrides the Buttondown endpoint.
func (client *ButtondownClient) WithSubscribersURL(subscribersURL string) *ButtondownClient {
	client.subscribersURL = subscribersURL
	return client
}

// WithHTTPClient overrides the HTTP client used for subscription calls.
func (client *ButtondownClient) WithHTTPClient(httpClient *http.Client) *ButtondownClient {
	client.httpClient = httpClient
	return client
}

// Configured reports whether the API key is present.
func (client *ButtondownClient) Configured() bool {
	return client.apiKey != ""
}

// Subscribe creates a subscriber for the address. A duplicate address is
// reported through the outcome, not as an error.
func (client *ButtondownClient) Subscribe(ctx context.Context, email string) (SubscribeOutcome, error) {
	if !client.Configured() {
		return SubscribeOutcomeSubscribed, ErrNewsletterNotConfigured
	}

	payload := buttondownSubscriberPayload{
		EmailAddress: strings.TrimSpace(email),
		Notes:        buttondownSubscriberNotes,
		Tags:         []string{buttondownSubscriberTag},
	}

	encoded, encodeErr := json.Marshal(payload)
	if encodeErr != nil {
		return SubscribeOutcomeSubscribed, fmt.Errorf("%s: %w", errorMessageButtondownEncode, encodeErr)
	}

	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, client.subscribersURL, bytes.NewReader(encoded))
	if requestErr != nil {
		return SubscribeOutcomeSubscribed, fmt.Errorf("%s: %w", errorMessageButtondownBuildRequest, requestErr)
	}
	request.Header.Set(headerNameContentType, contentTypeJSON)
	request.Header.Set(headerNameAuthorization, fmt.Sprintf(authorizationTokenTemplate, client.apiKey))

	response, responseErr := client.httpClient.Do(request)
	if responseErr != nil {
		return SubscribeOutcomeSubscribed, fmt.Errorf("%s: %w", errorMessageButtondownSend, responseErr)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices {
		if client.logger != nil {
			client.logger.Info(logEventSubscriberCreated, zap.String(logFieldSubscriberEmail, payload.EmailAddress))
		}
		return SubscribeOutcomeSubscribed, nil
	}

	detail := readButtondownDetail(response.Body)
	if response.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(detail), duplicateSubscriberFragment) {
		return SubscribeOutcomeAlreadySubscribed, nil
	}

	return SubscribeOutcomeSubscribed, fmt.Errorf("%s: status %d: %s", errorMessageButtondownRejected, response.StatusCode, detail)
}

func readButtondownDetail(body io.Reader) string {
	raw, readErr := io.ReadAll(io.LimitReader(body, responseDetailMaxLength))
	if readErr != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
