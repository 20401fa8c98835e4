package gateway_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/athaight/andrewhaight-blog/internal/gateway"
	"github.com/athaight/andrewhaight-blog/internal/model"
	"github.com/athaight/andrewhaight-blog/internal/storage"
)

type fakeVerifier struct {
	configured  bool
	verdict     bool
	verifyErr   error
	mutex       sync.Mutex
	callCount   int
	lastToken   string
	lastAddress string
}

func (verifier *fakeVerifier) Configured() bool {
	return verifier.configured
}

func (verifier *fakeVerifier) VerifyToken(ctx context.Context, token string, remoteAddress string) (bool, error) {
	verifier.mutex.Lock()
	defer verifier.mutex.Unlock()
	verifier.callCount++
	verifier.lastToken = token
	verifier.lastAddress = remoteAddress
	return verifier.verdict, verifier.verifyErr
}

type fakeStore struct {
	mutex     sync.Mutex
	rows      map[string]model.ContactMessage
	insertErr error
	countErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]model.ContactMessage{}}
}

func (store *fakeStore) Insert(ctx context.Context, message *model.ContactMessage) (storage.InsertOutcome, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.insertErr != nil {
		return storage.InsertOutcomeInserted, store.insertErr
	}
	if _, exists := store.rows[message.SubmissionID]; exists {
		return storage.InsertOutcomeDuplicate, nil
	}
	message.CreatedAt = time.Now().UTC()
	store.rows[message.SubmissionID] = *message
	return storage.InsertOutcomeInserted, nil
}

func (store *fakeStore) CountByIPHashSince(ctx context.Context, ipHash string, since time.Time) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.countErr != nil {
		return 0, store.countErr
	}
	var matchingRows int64
	for _, row := range store.rows {
		if row.IPHash == ipHash && !row.CreatedAt.Before(since) {
			matchingRows++
		}
	}
	return matchingRows, nil
}

func (store *fakeStore) rowCount() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.rows)
}

func validSubmission(submissionID string) gateway.SubmissionRequest {
	return gateway.SubmissionRequest{
		Name:              "Ada",
		Email:             "ada@example.com",
		Message:           "hello",
		VerificationToken: "token-1",
		SubmissionID:      submissionID,
	}
}

func buildGateway(t *testing.T, store gateway.SubmissionStore, verifier gateway.TokenVerifier) *gateway.Gateway {
	t.Helper()

	logger, loggerErr := zap.NewDevelopment()
	require.NoError(t, loggerErr)
	return gateway.NewGateway(store, verifier, logger, "hash-secret")
}

func requireRejection(t *testing.T, processErr error, expectedStatus int, expectedReason string) {
	t.Helper()

	var rejection *gateway.Rejection
	require.ErrorAs(t, processErr, &rejection)
	require.Equal(t, expectedStatus, rejection.StatusCode)
	require.Equal(t, expectedReason, rejection.Reason)
}

func TestProcessAbsorbsHoneypotWithoutPersistence(t *testing.T) {
	store := newFakeStore()
	verifier := &fakeVerifier{configured: true, verdict: true}
	submissionGateway := buildGateway(t, store, verifier)

	submission := validSubmission("submission-bot")
	submission.Honeypot = "Acme Corp"

	result, processErr := submissionGateway.Process(context.Background(), submission, "203.0.113.9")
	require.NoError(t, processErr)
	require.Equal(t, gateway.DispositionAbsorbed, result.Disposition)
	require.False(t, result.ShouldNotify)
	require.Zero(t, store.rowCount())
	require.Zero(t, verifier.callCount)
}

func TestProcessFailsClosedWithoutVerificationSecret(t *testing.T) {
	store := newFakeStore()
	verifier := &fakeVerifier{configured: false}
	submissionGateway := buildGateway(t, store, verifier)

	_, processErr := submissionGateway.Process(context.Background(), validSubmission("submission-1"), "203.0.113.9")
	requireRejection(t, processErr, http.StatusInternalServerError, "missing_server_config")
	require.Zero(t, store.rowCount())
}

func TestProcessRejectsMissingToken(t *testing.T) {
	store := newFakeStore()
	verifier := &fakeVerifier{configured: true, verdict: true}
	submissionGateway := buildGateway(t, store, verifier)

	submission := validSubmission("submission-1")
	submission.VerificationToken = "  "

	_, processErr := submissionGateway.Process(context.Background(), submission, "203.0.113.9")
	requireRejection(t, processErr, http.StatusBadRequest, "missing_token")
	require.Zero(t, verifier.callCount)
}

func TestProcessRejectsMissingSubmissionID(t *testing.T) {
	store := newFakeStore()
	verifier := &fakeVerifier{configured: true, verdict: true}
	submissionGateway := buildGateway(t, store, verifier)

	submission := validSubmission("")

	_, processErr := submissionGateway.Process(context.Background(), submission, "203.0.113.9")
	requireRejection(t, processErr, http.StatusBadRequest, "missing_submission_id")
	require.Zero(t, verifier.callCount)
}

func TestProcessRejectsFailedVerificationWithoutPersistence(t *testing.T) {
	store := newFakeStore()
	verifier := &fakeVerifier{configured: true, verdict: false}
	submissionGateway := buildGateway(t, store, verifier)

	_, processErr := submissionGateway.Process(context.Background(), validSubmission("submission-1"), "203.0.113.9")
	requireRejection(t, processErr, http.StatusBadRequest, "spam_check_failed")
	require.Zero(t, store.rowCount())
	require.Equal(t, 1, verifier.callCount)
}

func TestProcessTranslatesVerifierTransportError(t *testing.T) {
	store := newFakeStore()
	verifier := &fakeVerifier{configured: true, verifyErr: errors.New("connection reset")}
	submissionGateway := buildGateway(t, store, verifier)

	_, processErr := submissionGateway.Process(context.Background(), validSubmission("submission-1"), "203.0.113.9")
	requireRejection(t, processErr, http.StatusBadRequest, "spam_check_failed")
	require.Zero(t, store.rowCount())
}

func TestProcessPassesTokenAndAddressToVerifier(t *testing.T) {
	store := newFakeStore()
	verifier := &fakeVerifier{configured: true, verdict: true}
	submissionGateway := buildGateway(t, store, verifier)

	_, processErr := submissionGateway.Process(context.Background(), validSubmission("submission-1"), "203.0.113.9")
	require.NoError(t, processErr)
	require.Equal(t, "token-1", verifier.lastToken)
	require.Equal(t, "203.0.113.9", verifier.lastAddress)
}

func TestProcessRejectsInvalidFieldsAfterVerification(t *testing.T) {
	testCases := []struct {
		name           string
		mutate         func(*gateway.SubmissionRequest)
		expectedReason string
	}{
		{
			name:           "missing name",
			mutate:         func(submission *gateway.SubmissionRequest) { submission.Name = "" },
			expectedReason: "missing_fields",
		},
		{
			name:           "invalid email",
			mutate:         func(submission *gateway.SubmissionRequest) { submission.Email = "not-an-email" },
			expectedReason: "invalid_email",
		},
		{
			name:           "name too long",
			mutate:         func(submission *gateway.SubmissionRequest) { submission.Name = strings.Repeat("n", 121) },
			expectedReason: "field_too_long",
		},
		{
			name:           "message too long",
			mutate:         func(submission *gateway.SubmissionRequest) { submission.Message = strings.Repeat("m", 4001) },
			expectedReason: "field_too_long",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			store := newFakeStore()
			verifier := &fakeVerifier{configured: true, verdict: true}
			submissionGateway := buildGateway(t, store, verifier)

			submission := validSubmission("submission-1")
			testCase.mutate(&submission)

			_, processErr := submissionGateway.Process(context.Background(), submission, "203.0.113.9")
			requireRejection(t, processErr, http.StatusBadRequest, testCase.expectedReason)
			require.Zero(t, store.rowCount())
			require.Equal(t, 1, verifier.callCount)
		})
	}
}

func TestProcessRejectsSixthSubmissionWithinWindow(t *testing.T) {
	store := newFakeStore()
	verifier := &fakeVerifier{configured: true, verdict: true}
	submissionGateway := buildGateway(t, store, verifier)

	for submissionIndex := 0; submissionIndex < 5; submissionIndex++ {
		submission := validSubmission(fmt.Sprintf("submission-%d", submissionIndex))
		result, processErr := submissionGateway.Process(context.Background(), submission, "203.0.113.9")
		require.NoError(t, processErr)
		require.Equal(t, gateway.DispositionAccepted, result.Disposition)
	}

	_, processErr := submissionGateway.Process(context.Background(), validSubmission("submission-over-limit"), "203.0.113.9")
	requireRejection(t, processErr, http.StatusTooManyRequests, "rate_limited")
	require.Equal(t, 5, store.rowCount())
}

func TestProcessRateLimitIsPerHashedAddress(t *testing.T) {
	store := newFakeStore()
	verifier := &fakeVerifier{configured: true, verdict: true}
	submissionGateway := buildGateway(t, store, verifier)

	for submissionIndex := 0; submissionIndex < 5; submissionIndex++ {
		submission := validSubmission(fmt.Sprintf("submission-a-%d", submissionIndex))
		_, processErr := submissionGateway.Process(context.Background(), submission, "203.0.113.9")
		require.NoError(t, processErr)
	}

	result, processErr := submissionGateway.Process(context.Background(), validSubmission("submission-b-0"), "198.51.100.7")
	require.NoError(t, processErr)
	require.Equal(t, gateway.DispositionAccepted, result.Disposition)
}

func TestProcessReportsDuplicateWithoutNotification(t *testing.T) {
	store := newFakeStore()
	verifier := &fakeVerifier{configured: true, verdict: true}
	submissionGateway := buildGateway(t, store, verifier)

	first, processErr := submissionGateway.Process(context.Background(), validSubmission("submission-replayed"), "203.0.113.9")
	require.NoError(t, processErr)
	require.Equal(t, gateway.DispositionAccepted, first.Disposition)
	require.True(t, first.ShouldNotify)

	replay, processErr := submissionGateway.Process(context.Background(), validSubmission("submission-replayed"), "203.0.113.9")
	require.NoError(t, processErr)
	require.Equal(t, gateway.DispositionDuplicate, replay.Disposition)
	require.False(t, replay.ShouldNotify)
	require.Equal(t, 1, store.rowCount())
}

func TestProcessConcurrentDuplicatesYieldOneRowAndOneNotification(t *testing.T) {
	store := newFakeStore()
	verifier := &fakeVerifier{configured: true, verdict: true}
	submissionGateway := buildGateway(t, store, verifier)

	const concurrentCallers = 2
	results := make([]gateway.Result, concurrentCallers)
	errs := make([]error, concurrentCallers)

	var waitGroup sync.WaitGroup
	for callerIndex := 0; callerIndex < concurrentCallers; callerIndex++ {
		waitGroup.Add(1)
		go func(callerIndex int) {
			defer waitGroup.Done()
			results[callerIndex], errs[callerIndex] = submissionGateway.Process(context.Background(), validSubmission("submission-concurrent"), "203.0.113.9")
		}(callerIndex)
	}
	waitGroup.Wait()

	notifyCount := 0
	for callerIndex := 0; callerIndex < concurrentCallers; callerIndex++ {
		require.NoError(t, errs[callerIndex])
		if results[callerIndex].ShouldNotify {
			notifyCount++
		}
	}
	require.Equal(t, 1, store.rowCount())
	require.LessOrEqual(t, notifyCount, 1)
}

func TestProcessTranslatesStorageFailures(t *testing.T) {
	store := newFakeStore()
	store.insertErr = errors.New("disk full")
	verifier := &fakeVerifier{configured: true, verdict: true}
	submissionGateway := buildGateway(t, store, verifier)

	_, processErr := submissionGateway.Process(context.Background(), validSubmission("submission-1"), "203.0.113.9")
	requireRejection(t, processErr, http.StatusInternalServerError, "save_failed")
}

func TestProcessTranslatesRateCheckFailures(t *testing.T) {
	store := newFakeStore()
	store.countErr = errors.New("query timeout")
	verifier := &fakeVerifier{configured: true, verdict: true}
	submissionGateway := buildGateway(t, store, verifier)

	_, processErr := submissionGateway.Process(context.Background(), validSubmission("submission-1"), "203.0.113.9")
	requireRejection(t, processErr, http.StatusInternalServerError, "rate_check_failed")
	require.Zero(t, store.rowCount())
}

func TestProcessNeverPersistsRawClientAddress(t *testing.T) {
	store := newFakeStore()
	verifier := &fakeVerifier{configured: true, verdict: true}
	submissionGateway := buildGateway(t, store, verifier)

	clientAddress := "203.0.113.9"
	result, processErr := submissionGateway.Process(context.Background(), validSubmission("submission-1"), clientAddress)
	require.NoError(t, processErr)
	require.NotEmpty(t, result.Message.IPHash)
	require.NotEqual(t, clientAddress, result.Message.IPHash)
	require.NotContains(t, result.Message.IPHash, clientAddress)
}
