package challenge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// The hosted widget page exposes a small JavaScript contract around the
// invisible challenge widget:
//
//	window.__challengeReady    true once the widget has rendered
//	window.__challengeExecute  starts a challenge round
//	window.__challengeReset    resets the widget for a fresh round
//	window.__challengeToken    resolved token, empty until delivery
//	window.__challengeFailure  terminal failure description, empty otherwise
const (
	defaultBrowserPollInterval = 250 * time.Millisecond
	defaultRenderWaitTimeout   = 15 * time.Second

	expressionChallengeReady = `window.__challengeReady === true`
	expressionExecute        = `window.__challengeExecute(); ""`
	expressionReset          = `window.__challengeReset(); window.__challengeToken = ""; window.__challengeFailure = ""; ""`
	expressionChallengeState = `({token: window.__challengeToken || "", failure: window.__challengeFailure || ""})`

	errorMessageMissingPageURL  = "challenge: missing widget page url"
	errorMessageNavigateToPage  = "challenge: navigate to widget page"
	errorMessageAwaitWidget     = "challenge: await widget readiness"
	errorMessageExecuteWidget   = "challenge: execute widget"
	errorMessageResetWidget     = "challenge: reset widget"
	errorMessageWidgetNotOpened = "challenge: widget page not opened"

	logEventWidgetPageOpened = "challenge_widget_page_opened"
	logFieldWidgetPageURL    = "page_url"
)

// ErrMissingWidgetPageURL indicates the widget page URL configuration was omitted.
var ErrMissingWidgetPageURL = errors.New(errorMessageMissingPageURL)

type challengeState struct {
	Token   string `json:"token"`
	Failure string `json:"failure"`
}

// BrowserWidget drives the invisible challenge widget inside a headless
// browser tab. Render opens the hosted widget page, Execute starts a
// challenge round and watches the page for its outcome, and Reset prepares
// the widget for the next round.
type BrowserWidget struct {
	pageURL      string
	pollInterval time.Duration
	logger       *zap.Logger

	mutex          sync.Mutex
	browserContext context.Context
	cancelBrowser  context.CancelFunc
	callbacks      Callbacks
	lastToken      string
}

// NewBrowserWidget creates a widget driver for the hosted widget page.
func NewBrowserWidget(pageURL string, logger *zap.Logger) *BrowserWidget {
	return &BrowserWidget{
		pageURL:      pageURL,
		pollInterval: defaultBrowserPollInterval,
		logger:       logger,
	}
}

// WithPollInterval overrides how often the page is polled for an outcome.
func (widget *BrowserWidget) WithPollInterval(pollInterval time.Duration) *BrowserWidget {
	widget.pollInterval = pollInterval
	return widget
}

// Render opens the widget page in a headless browser tab and waits until the
// widget reports readiness.
func (widget *BrowserWidget) Render(ctx context.Context, callbacks Callbacks) error {
	if widget.pageURL == "" {
		return ErrMissingWidgetPageURL
	}

	widget.mutex.Lock()
	if widget.browserContext != nil {
		widget.callbacks = callbacks
		widget.mutex.Unlock()
		return nil
	}
	widget.mutex.Unlock()

	browserContext, cancelBrowser := chromedp.NewContext(ctx)

	if navigateErr := chromedp.Run(browserContext, chromedp.Navigate(widget.pageURL)); navigateErr != nil {
		cancelBrowser()
		return fmt.Errorf("%s: %w", errorMessageNavigateToPage, navigateErr)
	}

	var widgetReady bool
	readinessAction := chromedp.Poll(
		expressionChallengeReady,
		&widgetReady,
		chromedp.WithPollingInterval(widget.pollInterval),
		chromedp.WithPollingTimeout(defaultRenderWaitTimeout),
	)
	if awaitErr := chromedp.Run(browserContext, readinessAction); awaitErr != nil {
		cancelBrowser()
		return fmt.Errorf("%s: %w", errorMessageAwaitWidget, awaitErr)
	}

	widget.mutex.Lock()
	widget.browserContext = browserContext
	widget.cancelBrowser = cancelBrowser
	widget.callbacks = callbacks
	widget.mutex.Unlock()

	if widget.logger != nil {
		widget.logger.Info(logEventWidgetPageOpened, zap.String(logFieldWidgetPageURL, widget.pageURL))
	}
	return nil
}

// Execute starts a challenge round and watches the page until the widget
// yields a token or a terminal failure. The watch stops when the caller's
// context ends; the challenge client owns the timeout.
func (widget *BrowserWidget) Execute(ctx context.Context) error {
	widget.mutex.Lock()
	browserContext := widget.browserContext
	widget.mutex.Unlock()
	if browserContext == nil {
		return errors.New(errorMessageWidgetNotOpened)
	}

	var ignored string
	if executeErr := chromedp.Run(browserContext, chromedp.Evaluate(expressionExecute, &ignored)); executeErr != nil {
		return fmt.Errorf("%s: %w", errorMessageExecuteWidget, executeErr)
	}

	go widget.watchOutcome(ctx, browserContext)
	return nil
}

// Reset clears the page-side challenge state so the next execution performs
// a fresh round.
func (widget *BrowserWidget) Reset(ctx context.Context) error {
	widget.mutex.Lock()
	browserContext := widget.browserContext
	widget.lastToken = ""
	widget.mutex.Unlock()
	if browserContext == nil {
		return errors.New(errorMessageWidgetNotOpened)
	}

	var ignored string
	if resetErr := chromedp.Run(browserContext, chromedp.Evaluate(expressionReset, &ignored)); resetErr != nil {
		return fmt.Errorf("%s: %w", errorMessageResetWidget, resetErr)
	}
	return nil
}

// Close releases the headless browser tab.
func (widget *BrowserWidget) Close() {
	widget.mutex.Lock()
	cancelBrowser := widget.cancelBrowser
	widget.browserContext = nil
	widget.cancelBrowser = nil
	widget.mutex.Unlock()

	if cancelBrowser != nil {
		cancelBrowser()
	}
}

func (widget *BrowserWidget) watchOutcome(ctx context.Context, browserContext context.Context) {
	ticker := time.NewTicker(widget.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-browserContext.Done():
			return
		case <-ticker.C:
		}

		var state challengeState
		if evaluateErr := chromedp.Run(browserContext, chromedp.Evaluate(expressionChallengeState, &state)); evaluateErr != nil {
			widget.deliverFailure(fmt.Errorf("%s: %w", errorMessageExecuteWidget, evaluateErr))
			return
		}

		if state.Failure != "" {
			widget.deliverFailure(errors.New(state.Failure))
			return
		}
		if state.Token != "" {
			widget.deliverToken(state.Token)
			return
		}
	}
}

func (widget *BrowserWidget) deliverToken(token string) {
	widget.mutex.Lock()
	callbacks := widget.callbacks
	alreadyDelivered := widget.lastToken == token
	widget.lastToken = token
	widget.mutex.Unlock()

	if alreadyDelivered {
		return
	}
	if callbacks.OnToken != nil {
		callbacks.OnToken(token)
	}
}

func (widget *BrowserWidget) deliverFailure(failure error) {
	widget.mutex.Lock()
	callbacks := widget.callbacks
	widget.mutex.Unlock()

	if callbacks.OnFailure != nil {
		callbacks.OnFailure(failure)
	}
}
