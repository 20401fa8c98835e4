package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultSiteVerifyURL is the Cloudflare Turnstile verification endpoint.
	DefaultSiteVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

	defaultRequestTimeout = 5 * time.Second

	formFieldSecret   = "secret"
	formFieldResponse = "response"
	formFieldRemoteIP = "remoteip"

	headerNameContentType      = "Content-Type"
	contentTypeFormURLEncoded  = "application/x-www-form-urlencoded"
	errorMessageBuildRequest   = "verification: build request"
	errorMessagePerformRequest = "verification: perform request"
	errorMessageDecodeResponse = "verification: decode response"

	logEventVerdict        = "turnstile_verdict"
	logFieldVerdictSuccess = "success"

	unknownRemoteAddress = "unknown"
)

// TurnstileVerifier exchanges a single-use challenge token with the external
// verification service. Tokens are consumed by the exchange, so results are
// never cached or retried.
type TurnstileVerifier struct {
	secret        string
	siteVerifyURL string
	httpClient    *http.Client
	logger        *zap.Logger
}

type siteVerifyResponse struct {
	Success bool `json:"success"`
}

// NewTurnstileVerifier creates a verifier for the given shared secret. An
// empty secret produces an unconfigured verifier; callers must fail closed
// rather than skip verification.
func NewTurnstileVerifier(secret string, logger *zap.Logger) *TurnstileVerifier {
	return &TurnstileVerifier{
		secret:        strings.TrimSpace(secret),
		siteVerifyURL: DefaultSiteVerifyURL,
		httpClient:    &http.Client{Timeout: defaultRequestTimeout},
		logger:        logger,
	}
}

// WithSiteVerifyURL overrides the verification endpoint.
func (verifier *TurnstileVerifier) WithSiteVerifyURL(siteVerifyURL string) *TurnstileVerifier {
	verifier.siteVerifyURL = siteVerifyURL
	return verifier
}

// WithHTTPClient overrides the HTTP client used for verification calls.
func (verifier *TurnstileVerifier) WithHTTPClient(httpClient *http.Client) *TurnstileVerifier {
	verifier.httpClient = httpClient
	return verifier
}

// Configured reports whether the verification secret is present.
func (verifier *TurnstileVerifier) Configured() bool {
	return verifier.secret != ""
}

// VerifyToken exchanges the token with the verification service, passing the
// caller's network address as context. A non-success verdict returns false
// without an error; transport and decoding failures return an error.
func (verifier *TurnstileVerifier) VerifyToken(ctx context.Context, token string, remoteAddress string) (bool, error) {
	formValues := url.Values{}
	formValues.Set(formFieldSecret, verifier.secret)
	formValues.Set(formFieldResponse, token)
	if remoteAddress != "" && remoteAddress != unknownRemoteAddress {
		formValues.Set(formFieldRemoteIP, remoteAddress)
	}

	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, verifier.siteVerifyURL, strings.NewReader(formValues.Encode()))
	if requestErr != nil {
		return false, fmt.Errorf("%s: %w", errorMessageBuildRequest, requestErr)
	}
	request.Header.Set(headerNameContentType, contentTypeFormURLEncoded)

	response, responseErr := verifier.httpClient.Do(request)
	if responseErr != nil {
		return false, fmt.Errorf("%s: %w", errorMessagePerformRequest, responseErr)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	var verdict siteVerifyResponse
	if decodeErr := json.NewDecoder(response.Body).Decode(&verdict); decodeErr != nil {
		return false, fmt.Errorf("%s: %w", errorMessageDecodeResponse, decodeErr)
	}

	if verifier.logger != nil {
		verifier.logger.Debug(logEventVerdict, zap.Bool(logFieldVerdictSuccess, verdict.Success))
	}

	return verdict.Success, nil
}
