package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/athaight/andrewhaight-blog/internal/storage"
)

const (
	queryParamLimit = "limit"

	errorValueQueryFailed  = "query_failed"
	errorValueInvalidLimit = "invalid_limit"

	logEventListMessagesFailed = "list_messages_failed"
)

// AdminHandlers serves the admin read path over stored contact messages.
type AdminHandlers struct {
	messageStore *storage.MessageStore
	logger       *zap.Logger
}

// NewAdminHandlers creates the admin handlers.
func NewAdminHandlers(messageStore *storage.MessageStore, logger *zap.Logger) *AdminHandlers {
	return &AdminHandlers{
		messageStore: messageStore,
		logger:       logger,
	}
}

type contactMessageResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Message   string    `json:"message"`
	IPHash    string    `json:"ip_hash"`
	CreatedAt time.Time `json:"created_at"`
}

// ListMessages returns stored contact messages newest first.
func (handlers *AdminHandlers) ListMessages(requestContext *gin.Context) {
	limit := 0
	rawLimit := strings.TrimSpace(requestContext.Query(queryParamLimit))
	if rawLimit != "" {
		parsedLimit, parseErr := strconv.Atoi(rawLimit)
		if parseErr != nil || parsedLimit < 0 {
			requestContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidLimit})
			return
		}
		limit = parsedLimit
	}

	messages, listErr := handlers.messageStore.ListRecent(requestContext.Request.Context(), limit)
	if listErr != nil {
		handlers.logger.Warn(logEventListMessagesFailed, zap.Error(listErr))
		requestContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueQueryFailed})
		return
	}

	responseMessages := make([]contactMessageResponse, 0, len(messages))
	for _, storedMessage := range messages {
		responseMessages = append(responseMessages, contactMessageResponse{
			ID:        storedMessage.ID,
			Name:      storedMessage.Name,
			Email:     storedMessage.Email,
			Message:   storedMessage.Message,
			IPHash:    storedMessage.IPHash,
			CreatedAt: storedMessage.CreatedAt,
		})
	}

	requestContext.JSON(http.StatusOK, responseMessages)
}
