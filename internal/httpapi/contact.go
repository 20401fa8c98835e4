package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/athaight/andrewhaight-blog/internal/gateway"
)

const (
	jsonKeyOK           = "ok"
	jsonKeyShouldNotify = "should_notify"
	jsonKeyMessageID    = "message_id"
	jsonKeyWarning      = "warning"
	jsonKeyError        = "error"

	errorValueInvalidJSON = "invalid_json"
	errorValueServerError = "server_error"

	warningValueNotificationFailed = "message saved, but email notification failed"

	logEventNotificationFailed = "contact_notification_failed"
	logEventUnmappedRejection  = "unmapped_gateway_error"
	logFieldContactMessageID   = "message_id"
)

// ContactHandlers accepts contact form submissions. The gateway decides the
// outcome; this handler is the caller that dispatches the notification when
// instructed and downgrades a dispatch failure to a warning.
type ContactHandlers struct {
	gateway  *gateway.Gateway
	notifier ContactNotifier
	logger   *zap.Logger
}

// NewContactHandlers creates the contact submission handlers.
func NewContactHandlers(submissionGateway *gateway.Gateway, notifier ContactNotifier, logger *zap.Logger) *ContactHandlers {
	return &ContactHandlers{
		gateway:  submissionGateway,
		notifier: resolveContactNotifier(notifier),
		logger:   logger,
	}
}

type createContactRequest struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	Message           string `json:"message"`
	Company           string `json:"company"`
	VerificationToken string `json:"turnstileToken"`
	SubmissionID      string `json:"submissionId"`
}

// CreateContact handles one contact form submission.
func (handlers *ContactHandlers) CreateContact(requestContext *gin.Context) {
	var payload createContactRequest
	if bindErr := requestContext.ShouldBindJSON(&payload); bindErr != nil {
		requestContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	submission := gateway.SubmissionRequest{
		Name:              payload.Name,
		Email:             payload.Email,
		Message:           payload.Message,
		Honeypot:          payload.Company,
		VerificationToken: payload.VerificationToken,
		SubmissionID:      payload.SubmissionID,
	}

	result, processErr := handlers.gateway.Process(requestContext.Request.Context(), submission, requestContext.ClientIP())
	if processErr != nil {
		var rejection *gateway.Rejection
		if errors.As(processErr, &rejection) {
			requestContext.JSON(rejection.StatusCode, gin.H{jsonKeyError: rejection.Reason})
			return
		}
		handlers.logger.Error(logEventUnmappedRejection, zap.Error(processErr))
		requestContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueServerError})
		return
	}

	switch result.Disposition {
	case gateway.DispositionAbsorbed:
		requestContext.JSON(http.StatusCreated, gin.H{jsonKeyOK: true})
	case gateway.DispositionDuplicate:
		requestContext.JSON(http.StatusOK, gin.H{jsonKeyOK: true, jsonKeyShouldNotify: false})
	case gateway.DispositionAccepted:
		responseBody := gin.H{
			jsonKeyOK:           true,
			jsonKeyShouldNotify: result.ShouldNotify,
			jsonKeyMessageID:    result.Message.ID,
		}
		if result.ShouldNotify {
			if notifyErr := handlers.notifier.NotifyContact(requestContext.Request.Context(), result.Message); notifyErr != nil {
				handlers.logger.Warn(logEventNotificationFailed, zap.Error(notifyErr), zap.String(logFieldContactMessageID, result.Message.ID))
				responseBody[jsonKeyWarning] = warningValueNotificationFailed
			}
		}
		requestContext.JSON(http.StatusCreated, responseBody)
	default:
		requestContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueServerError})
	}
}
