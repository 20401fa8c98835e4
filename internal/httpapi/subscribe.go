package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/athaight/andrewhaight-blog/internal/model"
	"github.com/athaight/andrewhaight-blog/internal/notifications"
)

const (
	jsonKeyStatus = "status"

	statusValueOK = "ok"

	errorValueMissingEmail       = "missing_email"
	errorValueInvalidEmail       = "invalid_email"
	errorValueAlreadySubscribed  = "already_subscribed"
	errorValueNewsletterDisabled = "newsletter_disabled"
	errorValueSubscribeFailed    = "subscribe_failed"

	logEventSubscribeFailed = "newsletter_subscribe_failed"
)

// NewsletterClient creates newsletter subscribers with an upstream service.
type NewsletterClient interface {
	Subscribe(ctx context.Context, email string) (notifications.SubscribeOutcome, error)
}

// SubscribeHandlers serves newsletter signups.
type SubscribeHandlers struct {
	newsletter NewsletterClient
	logger     *zap.Logger
}

// NewSubscribeHandlers creates the newsletter signup handlers.
func NewSubscribeHandlers(newsletter NewsletterClient, logger *zap.Logger) *SubscribeHandlers {
	return &SubscribeHandlers{
		newsletter: newsletter,
		logger:     logger,
	}
}

type subscribeRequest struct {
	Email string `json:"email"`
}

// CreateSubscription signs the address up for the newsletter.
func (handlers *SubscribeHandlers) CreateSubscription(requestContext *gin.Context) {
	var payload subscribeRequest
	if bindErr := requestContext.ShouldBindJSON(&payload); bindErr != nil {
		requestContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	email := strings.TrimSpace(payload.Email)
	if email == "" {
		requestContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingEmail})
		return
	}
	if !model.IsValidContactEmail(email) {
		requestContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidEmail})
		return
	}

	outcome, subscribeErr := handlers.newsletter.Subscribe(requestContext.Request.Context(), email)
	if subscribeErr != nil {
		if errors.Is(subscribeErr, notifications.ErrNewsletterNotConfigured) {
			requestContext.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueNewsletterDisabled})
			return
		}
		handlers.logger.Warn(logEventSubscribeFailed, zap.Error(subscribeErr))
		requestContext.JSON(http.StatusBadGateway, gin.H{jsonKeyError: errorValueSubscribeFailed})
		return
	}

	if outcome == notifications.SubscribeOutcomeAlreadySubscribed {
		requestContext.JSON(http.StatusConflict, gin.H{jsonKeyError: errorValueAlreadySubscribed})
		return
	}

	requestContext.JSON(http.StatusOK, gin.H{jsonKeyStatus: statusValueOK})
}
