package challenge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultChallengeTimeout bounds how long one challenge execution may
	// wait for the widget to yield a token.
	DefaultChallengeTimeout = 8 * time.Second

	errorMessageWidgetNotRendered = "challenge: widget not rendered"
	errorMessageExecutionInFlight = "challenge: execution already in flight"
	errorMessageChallengeTimedOut = "challenge: timed out waiting for token"
	errorMessageChallengeFailed   = "challenge: widget reported failure"

	logEventTokenCached   = "challenge_token_cached"
	logEventTokenExpired  = "challenge_token_expired"
	logEventWidgetFailure = "challenge_widget_failure"
)

var (
	// ErrWidgetNotRendered indicates Token was called before Render.
	ErrWidgetNotRendered = errors.New(errorMessageWidgetNotRendered)
	// ErrExecutionInFlight indicates a challenge execution is already
	// pending; at most one may be in flight per client.
	ErrExecutionInFlight = errors.New(errorMessageExecutionInFlight)
	// ErrChallengeTimedOut indicates the widget yielded nothing within the
	// timeout; a subsequent attempt starts a fresh challenge.
	ErrChallengeTimedOut = errors.New(errorMessageChallengeTimedOut)
	// ErrChallengeFailed indicates the widget reported a terminal failure;
	// the widget must be reloaded before another attempt.
	ErrChallengeFailed = errors.New(errorMessageChallengeFailed)
)

// Callbacks carries the widget's completion paths. The widget invokes at
// most one of OnToken and OnFailure per execution; OnExpired may fire later
// to invalidate a previously delivered token.
type Callbacks struct {
	OnToken   func(token string)
	OnFailure func(failure error)
	OnExpired func()
}

// Widget drives an external invisible challenge widget. Implementations
// deliver results exclusively through the callbacks registered at Render.
type Widget interface {
	Render(ctx context.Context, callbacks Callbacks) error
	Execute(ctx context.Context) error
	Reset(ctx context.Context) error
}

type completion struct {
	token   string
	failure error
}

// Client obtains exactly one valid verification token per logical
// submission. A single pending-execution slot guards against concurrent
// challenge rounds, a cached token short-circuits repeat calls, and the
// race between token delivery, widget failure, and the timeout is resolved
// by whichever side fires first.
type Client struct {
	widget  Widget
	logger  *zap.Logger
	timeout time.Duration

	mutex       sync.Mutex
	rendered    bool
	cachedToken string
	pending     chan completion
}

// NewClient creates a challenge client around the widget.
func NewClient(widget Widget, logger *zap.Logger) *Client {
	return &Client{
		widget:  widget,
		logger:  logger,
		timeout: DefaultChallengeTimeout,
	}
}

// WithTimeout overrides the challenge timeout.
func (client *Client) WithTimeout(timeout time.Duration) *Client {
	client.timeout = timeout
	return client
}

// Render instantiates the widget. A second call while the widget is already
// rendered is a no-op.
func (client *Client) Render(ctx context.Context) error {
	client.mutex.Lock()
	if client.rendered {
		client.mutex.Unlock()
		return nil
	}
	client.mutex.Unlock()

	renderErr := client.widget.Render(ctx, Callbacks{
		OnToken:   client.completeWithToken,
		OnFailure: client.completeWithFailure,
		OnExpired: client.expireToken,
	})
	if renderErr != nil {
		return renderErr
	}

	client.mutex.Lock()
	client.rendered = true
	client.mutex.Unlock()
	return nil
}

// Token returns a verification token for the next submission. A cached token
// from a prior callback is reused without a new challenge round-trip;
// otherwise the widget executes and the call waits for the first of token
// delivery, terminal widget failure, timeout, or context cancellation.
func (client *Client) Token(ctx context.Context) (string, error) {
	client.mutex.Lock()
	if !client.rendered {
		client.mutex.Unlock()
		return "", ErrWidgetNotRendered
	}
	if client.cachedToken != "" {
		cached := client.cachedToken
		client.mutex.Unlock()
		return cached, nil
	}
	if client.pending != nil {
		client.mutex.Unlock()
		return "", ErrExecutionInFlight
	}
	pending := make(chan completion, 1)
	client.pending = pending
	client.mutex.Unlock()

	if executeErr := client.widget.Execute(ctx); executeErr != nil {
		client.clearPending(pending)
		return "", fmt.Errorf("%w: %v", ErrChallengeFailed, executeErr)
	}

	timer := time.NewTimer(client.timeout)
	defer timer.Stop()

	select {
	case result := <-pending:
		if result.failure != nil {
			return "", fmt.Errorf("%w: %v", ErrChallengeFailed, result.failure)
		}
		return result.token, nil
	case <-timer.C:
		client.clearPending(pending)
		return "", ErrChallengeTimedOut
	case <-ctx.Done():
		client.clearPending(pending)
		return "", ctx.Err()
	}
}

// MarkSubmitted clears the cached token and resets the widget so the next
// submission performs a fresh challenge. Tokens are single-use; reuse is
// never attempted.
func (client *Client) MarkSubmitted(ctx context.Context) error {
	client.mutex.Lock()
	client.cachedToken = ""
	client.mutex.Unlock()
	return client.widget.Reset(ctx)
}

func (client *Client) completeWithToken(token string) {
	client.mutex.Lock()
	client.cachedToken = token
	pending := client.pending
	client.pending = nil
	client.mutex.Unlock()

	if pending != nil {
		pending <- completion{token: token}
	}
	if client.logger != nil {
		client.logger.Debug(logEventTokenCached)
	}
}

func (client *Client) completeWithFailure(failure error) {
	client.mutex.Lock()
	pending := client.pending
	client.pending = nil
	client.mutex.Unlock()

	if pending != nil {
		pending <- completion{failure: failure}
	}
	if client.logger != nil {
		client.logger.Warn(logEventWidgetFailure, zap.Error(failure))
	}
}

func (client *Client) expireToken() {
	client.mutex.Lock()
	client.cachedToken = ""
	client.mutex.Unlock()

	if client.logger != nil {
		client.logger.Debug(logEventTokenExpired)
	}
}

func (client *Client) clearPending(pending chan completion) {
	client.mutex.Lock()
	if client.pending == pending {
		client.pending = nil
	}
	client.mutex.Unlock()
}
