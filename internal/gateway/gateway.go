package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/athaight/andrewhaight-blog/internal/model"
	"github.com/athaight/andrewhaight-blog/internal/storage"
)

const (
	// DefaultRateWindow is the trailing duration over which persisted
	// submissions for one hashed address are counted.
	DefaultRateWindow = 10 * time.Minute
	// DefaultRateCeiling is the number of persisted submissions allowed per
	// hashed address within the rate window.
	DefaultRateCeiling = 5

	rejectionValueMissingServerConfig = "missing_server_config"
	rejectionValueMissingToken        = "missing_token"
	rejectionValueMissingSubmissionID = "missing_submission_id"
	rejectionValueSpamCheckFailed     = "spam_check_failed"
	rejectionValueMissingFields       = "missing_fields"
	rejectionValueInvalidEmail        = "invalid_email"
	rejectionValueFieldTooLong        = "field_too_long"
	rejectionValueRateLimited         = "rate_limited"
	rejectionValueSaveFailed          = "save_failed"
	rejectionValueRateCheckFailed     = "rate_check_failed"

	logEventVerificationError = "verification_error"
	logEventRateCheckError    = "rate_check_error"
	logEventSaveError         = "save_message_error"
	logFieldIPHash            = "ip_hash"
)

// TokenVerifier exchanges a single-use challenge token with the external
// verification service.
type TokenVerifier interface {
	Configured() bool
	VerifyToken(ctx context.Context, token string, remoteAddress string) (bool, error)
}

// SubmissionStore persists contact messages and answers rate-window counts.
type SubmissionStore interface {
	Insert(ctx context.Context, message *model.ContactMessage) (storage.InsertOutcome, error)
	CountByIPHashSince(ctx context.Context, ipHash string, since time.Time) (int64, error)
}

// SubmissionRequest is one untrusted contact form submission. It lives only
// for the duration of a single exchange.
type SubmissionRequest struct {
	Name              string
	Email             string
	Message           string
	Honeypot          string
	VerificationToken string
	SubmissionID      string
}

// Disposition classifies an accepted submission.
type Disposition string

const (
	// DispositionAbsorbed marks bot traffic silently absorbed by the
	// honeypot; nothing is persisted and nothing is revealed to the caller.
	DispositionAbsorbed Disposition = "absorbed"
	// DispositionAccepted marks a freshly persisted submission.
	DispositionAccepted Disposition = "accepted"
	// DispositionDuplicate marks a replay of an already persisted
	// submission; notification must not be requested again.
	DispositionDuplicate Disposition = "duplicate"
)

// Result is the gateway's answer for a non-rejected submission. Message is
// populated only for a fresh acceptance, so the caller can hand it to the
// notification dispatcher.
type Result struct {
	Disposition  Disposition
	Message      model.ContactMessage
	ShouldNotify bool
}

// Rejection is a submission refused with a caller-visible reason. Every
// collaborator failure is translated into one of these before leaving the
// gateway.
type Rejection struct {
	StatusCode int
	Reason     string
}

func (rejection *Rejection) Error() string {
	return rejection.Reason
}

var (
	rejectionMissingServerConfig = &Rejection{StatusCode: http.StatusInternalServerError, Reason: rejectionValueMissingServerConfig}
	rejectionMissingToken        = &Rejection{StatusCode: http.StatusBadRequest, Reason: rejectionValueMissingToken}
	rejectionMissingSubmissionID = &Rejection{StatusCode: http.StatusBadRequest, Reason: rejectionValueMissingSubmissionID}
	rejectionSpamCheckFailed     = &Rejection{StatusCode: http.StatusBadRequest, Reason: rejectionValueSpamCheckFailed}
	rejectionMissingFields       = &Rejection{StatusCode: http.StatusBadRequest, Reason: rejectionValueMissingFields}
	rejectionInvalidEmail        = &Rejection{StatusCode: http.StatusBadRequest, Reason: rejectionValueInvalidEmail}
	rejectionFieldTooLong        = &Rejection{StatusCode: http.StatusBadRequest, Reason: rejectionValueFieldTooLong}
	rejectionRateLimited         = &Rejection{StatusCode: http.StatusTooManyRequests, Reason: rejectionValueRateLimited}
	rejectionRateCheckFailed     = &Rejection{StatusCode: http.StatusInternalServerError, Reason: rejectionValueRateCheckFailed}
	rejectionSaveFailed          = &Rejection{StatusCode: http.StatusInternalServerError, Reason: rejectionValueSaveFailed}
)

// Gateway validates, verifies, rate-limits, deduplicates, and persists
// contact submissions. It decides whether a notification should be attempted
// but never dispatches one itself; that is the caller's responsibility.
type Gateway struct {
	store        SubmissionStore
	verifier     TokenVerifier
	logger       *zap.Logger
	ipHashSecret string
	rateWindow   time.Duration
	rateCeiling  int64
	now          func() time.Time
}

// NewGateway creates a Gateway with the default rate window and ceiling.
func NewGateway(store SubmissionStore, verifier TokenVerifier, logger *zap.Logger, ipHashSecret string) *Gateway {
	return &Gateway{
		store:        store,
		verifier:     verifier,
		logger:       logger,
		ipHashSecret: ipHashSecret,
		rateWindow:   DefaultRateWindow,
		rateCeiling:  DefaultRateCeiling,
		now:          time.Now,
	}
}

// WithRateLimit overrides the rate window and ceiling.
func (gateway *Gateway) WithRateLimit(window time.Duration, ceiling int64) *Gateway {
	gateway.rateWindow = window
	gateway.rateCeiling = ceiling
	return gateway
}

// WithClock overrides the time source.
func (gateway *Gateway) WithClock(now func() time.Time) *Gateway {
	gateway.now = now
	return gateway
}

// Process runs one submission through the pipeline. Checks are ordered
// cheapest and most security-sensitive first: honeypot, configuration,
// token presence, external verification, field validation, rate limit,
// idempotent insert. A *Rejection error carries the caller-visible status
// and reason; a nil error carries a Result.
func (gateway *Gateway) Process(ctx context.Context, request SubmissionRequest, clientAddress string) (Result, error) {
	if strings.TrimSpace(request.Honeypot) != "" {
		return Result{Disposition: DispositionAbsorbed}, nil
	}

	if gateway.verifier == nil || !gateway.verifier.Configured() {
		return Result{}, rejectionMissingServerConfig
	}

	verificationToken := strings.TrimSpace(request.VerificationToken)
	if verificationToken == "" {
		return Result{}, rejectionMissingToken
	}
	submissionID := strings.TrimSpace(request.SubmissionID)
	if submissionID == "" {
		return Result{}, rejectionMissingSubmissionID
	}

	verified, verifyErr := gateway.verifier.VerifyToken(ctx, verificationToken, clientAddress)
	if verifyErr != nil {
		gateway.logger.Warn(logEventVerificationError, zap.Error(verifyErr))
		return Result{}, rejectionSpamCheckFailed
	}
	if !verified {
		return Result{}, rejectionSpamCheckFailed
	}

	ipHash := HashClientAddress(gateway.ipHashSecret, clientAddress)

	message, messageErr := model.NewContactMessage(model.ContactMessageInput{
		Name:         request.Name,
		Email:        request.Email,
		Message:      request.Message,
		IPHash:       ipHash,
		SubmissionID: submissionID,
	})
	if messageErr != nil {
		return Result{}, translateModelError(messageErr)
	}

	windowStart := gateway.now().UTC().Add(-gateway.rateWindow)
	recentCount, countErr := gateway.store.CountByIPHashSince(ctx, ipHash, windowStart)
	if countErr != nil {
		gateway.logger.Warn(logEventRateCheckError, zap.Error(countErr), zap.String(logFieldIPHash, ipHash))
		return Result{}, rejectionRateCheckFailed
	}
	if recentCount >= gateway.rateCeiling {
		return Result{}, rejectionRateLimited
	}

	insertOutcome, insertErr := gateway.store.Insert(ctx, &message)
	if insertErr != nil {
		gateway.logger.Warn(logEventSaveError, zap.Error(insertErr))
		return Result{}, rejectionSaveFailed
	}
	if insertOutcome == storage.InsertOutcomeDuplicate {
		return Result{Disposition: DispositionDuplicate, ShouldNotify: false}, nil
	}

	return Result{Disposition: DispositionAccepted, Message: message, ShouldNotify: true}, nil
}

func translateModelError(modelErr error) *Rejection {
	switch {
	case errors.Is(modelErr, model.ErrMissingContactFields):
		return rejectionMissingFields
	case errors.Is(modelErr, model.ErrInvalidContactEmail):
		return rejectionInvalidEmail
	case errors.Is(modelErr, model.ErrContactFieldTooLong):
		return rejectionFieldTooLong
	case errors.Is(modelErr, model.ErrInvalidSubmissionID):
		return rejectionMissingSubmissionID
	default:
		return rejectionMissingFields
	}
}
