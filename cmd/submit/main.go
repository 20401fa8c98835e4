package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/athaight/andrewhaight-blog/internal/challenge"
)

const (
	commandUseName          = "submit"
	commandShortDescription = "Submit a contact message"
	commandLongDescription  = "Obtain a challenge token and submit a contact message to the gateway"

	flagNameServerURL     = "server-url"
	flagNameWidgetPageURL = "widget-page-url"
	flagNameSenderName    = "name"
	flagNameSenderEmail   = "email"
	flagNameMessageBody   = "message"

	flagUsageServerURL     = "base URL of the contact gateway server"
	flagUsageWidgetPageURL = "URL of the hosted challenge widget page"
	flagUsageSenderName    = "sender name"
	flagUsageSenderEmail   = "sender email address"
	flagUsageMessageBody   = "message body"

	contactRoutePath = "/api/contact"

	headerNameContentType = "Content-Type"
	contentTypeJSON       = "application/json"

	submissionMaxAttempts   = 3
	submissionRetryDelay    = 2 * time.Second
	submissionHTTPTimeout   = 15 * time.Second
	responseBodyReadLimit   = 4096
	loggerCreationErrorText = "logger"

	outputMessageSaved       = "Message saved."
	outputMessageDuplicate   = "Message was already saved; notification skipped."
	outputWarningTemplate    = "Message saved, but notification failed: %s"
	outputRejectionTemplate  = "Submission rejected: %s"
	outputTransportTemplate  = "Submission attempt %d failed: %v"
	commandInitializationErr = "failed to configure command"
)

type submissionPayload struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	Message           string `json:"message"`
	VerificationToken string `json:"turnstileToken"`
	SubmissionID      string `json:"submissionId"`
}

type submissionResponse struct {
	OK           bool   `json:"ok"`
	ShouldNotify bool   `json:"should_notify"`
	MessageID    string `json:"message_id"`
	Warning      string `json:"warning"`
	Error        string `json:"error"`
}

// SubmitApplication constructs and executes the submit command.
type SubmitApplication struct {
	serverURL     string
	widgetPageURL string
	senderName    string
	senderEmail   string
	messageBody   string
}

// Command builds the Cobra command for the submission client.
func (application *SubmitApplication) Command() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		RunE:  application.runCommand,
	}

	commandFlags := rootCommand.Flags()
	commandFlags.StringVar(&application.serverURL, flagNameServerURL, "", flagUsageServerURL)
	commandFlags.StringVar(&application.widgetPageURL, flagNameWidgetPageURL, "", flagUsageWidgetPageURL)
	commandFlags.StringVar(&application.senderName, flagNameSenderName, "", flagUsageSenderName)
	commandFlags.StringVar(&application.senderEmail, flagNameSenderEmail, "", flagUsageSenderEmail)
	commandFlags.StringVar(&application.messageBody, flagNameMessageBody, "", flagUsageMessageBody)

	for _, requiredFlag := range []string{flagNameServerURL, flagNameWidgetPageURL, flagNameSenderName, flagNameSenderEmail, flagNameMessageBody} {
		_ = rootCommand.MarkFlagRequired(requiredFlag)
	}

	return rootCommand
}

func (application *SubmitApplication) runCommand(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewDevelopment()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorText, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := command.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	widget := challenge.NewBrowserWidget(application.widgetPageURL, logger)
	defer widget.Close()

	challengeClient := challenge.NewClient(widget, logger)
	if renderErr := challengeClient.Render(ctx); renderErr != nil {
		return renderErr
	}

	verificationToken, tokenErr := challengeClient.Token(ctx)
	if tokenErr != nil {
		return tokenErr
	}

	// One submission identifier per logical submission: transport retries
	// reuse it so the gateway can collapse duplicates.
	payload := submissionPayload{
		Name:              application.senderName,
		Email:             application.senderEmail,
		Message:           application.messageBody,
		VerificationToken: verificationToken,
		SubmissionID:      uuid.NewString(),
	}

	response, submitErr := application.postSubmission(ctx, command, payload)
	if submitErr != nil {
		return submitErr
	}

	if !response.OK {
		return fmt.Errorf(outputRejectionTemplate, response.Error)
	}

	switch {
	case response.Warning != "":
		command.Printf(outputWarningTemplate+"\n", response.Warning)
	case response.ShouldNotify:
		command.Println(outputMessageSaved)
	default:
		command.Println(outputMessageDuplicate)
	}

	if markErr := challengeClient.MarkSubmitted(ctx); markErr != nil {
		logger.Warn("widget_reset_failed", zap.Error(markErr))
	}
	return nil
}

func (application *SubmitApplication) postSubmission(ctx context.Context, command *cobra.Command, payload submissionPayload) (submissionResponse, error) {
	encoded, encodeErr := json.Marshal(payload)
	if encodeErr != nil {
		return submissionResponse{}, encodeErr
	}

	httpClient := &http.Client{Timeout: submissionHTTPTimeout}
	endpoint := strings.TrimRight(application.serverURL, "/") + contactRoutePath

	var lastErr error
	for attemptIndex := 1; attemptIndex <= submissionMaxAttempts; attemptIndex++ {
		request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
		if requestErr != nil {
			return submissionResponse{}, requestErr
		}
		request.Header.Set(headerNameContentType, contentTypeJSON)

		httpResponse, responseErr := httpClient.Do(request)
		if responseErr != nil {
			lastErr = responseErr
			command.Printf(outputTransportTemplate+"\n", attemptIndex, responseErr)
			select {
			case <-ctx.Done():
				return submissionResponse{}, ctx.Err()
			case <-time.After(submissionRetryDelay):
			}
			continue
		}

		decoded, decodeErr := decodeSubmissionResponse(httpResponse)
		if decodeErr != nil {
			return submissionResponse{}, decodeErr
		}
		return decoded, nil
	}

	return submissionResponse{}, lastErr
}

func decodeSubmissionResponse(httpResponse *http.Response) (submissionResponse, error) {
	defer func() {
		_ = httpResponse.Body.Close()
	}()

	raw, readErr := io.ReadAll(io.LimitReader(httpResponse.Body, responseBodyReadLimit))
	if readErr != nil {
		return submissionResponse{}, readErr
	}

	var decoded submissionResponse
	if unmarshalErr := json.Unmarshal(raw, &decoded); unmarshalErr != nil {
		return submissionResponse{}, unmarshalErr
	}
	return decoded, nil
}

func main() {
	application := &SubmitApplication{}
	rootCommand := application.Command()
	if executeErr := rootCommand.Execute(); executeErr != nil {
		fmt.Fprintln(os.Stderr, executeErr)
		os.Exit(1)
	}
}
