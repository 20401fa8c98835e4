package notifications_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/athaight/andrewhaight-blog/internal/notifications"
)

func TestSubscribeCreatesSubscriber(t *testing.T) {
	var receivedAuthorization string
	var receivedPayload map[string]any
	subscribersServer := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		receivedAuthorization = request.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(request.Body).Decode(&receivedPayload))
		responseWriter.WriteHeader(http.StatusCreated)
	}))
	defer subscribersServer.Close()

	client := notifications.NewButtondownClient("api-key-1", zap.NewNop()).WithSubscribersURL(subscribersServer.URL)
	outcome, subscribeErr := client.Subscribe(context.Background(), "ada@example.com")
	require.NoError(t, subscribeErr)
	require.Equal(t, notifications.SubscribeOutcomeSubscribed, outcome)
	require.Equal(t, "Token api-key-1", receivedAuthorization)
	require.Equal(t, "ada@example.com", receivedPayload["email_address"])
}

func TestSubscribeReportsExistingSubscriber(t *testing.T) {
	subscribersServer := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		responseWriter.WriteHeader(http.StatusBadRequest)
		_, _ = responseWriter.Write([]byte(`{"detail":"That email address is already subscribed."}`))
	}))
	defer subscribersServer.Close()

	client := notifications.NewButtondownClient("api-key-1", zap.NewNop()).WithSubscribersURL(subscribersServer.URL)
	outcome, subscribeErr := client.Subscribe(context.Background(), "ada@example.com")
	require.NoError(t, subscribeErr)
	require.Equal(t, notifications.SubscribeOutcomeAlreadySubscribed, outcome)
}

func TestSubscribeReportsServiceFailure(t *testing.T) {
	subscribersServer := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		responseWriter.WriteHeader(http.StatusInternalServerError)
		_, _ = responseWriter.Write([]byte("upstream exploded"))
	}))
	defer subscribersServer.Close()

	client := notifications.NewButtondownClient("api-key-1", zap.NewNop()).WithSubscribersURL(subscribersServer.URL)
	_, subscribeErr := client.Subscribe(context.Background(), "ada@example.com")
	require.Error(t, subscribeErr)
	require.Contains(t, subscribeErr.Error(), "500")
}

func TestSubscribeRequiresAPIKey(t *testing.T) {
	client := notifications.NewButtondownClient("  ", zap.NewNop())
	require.False(t, client.Configured())

	_, subscribeErr := client.Subscribe(context.Background(), "ada@example.com")
	require.ErrorIs(t, subscribeErr, notifications.ErrNewsletterNotConfigured)
}
