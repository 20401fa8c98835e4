package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/athaight/andrewhaight-blog/internal/model"
)

func validContactMessageInput() model.ContactMessageInput {
	return model.ContactMessageInput{
		Name:         "Ada",
		Email:        "ada@example.com",
		Message:      "hello",
		IPHash:       strings.Repeat("a", 64),
		SubmissionID: "submission-1",
	}
}

func TestNewContactMessagePopulatesFields(t *testing.T) {
	message, messageErr := model.NewContactMessage(validContactMessageInput())
	require.NoError(t, messageErr)
	require.NotEmpty(t, message.ID)
	require.Equal(t, "Ada", message.Name)
	require.Equal(t, "ada@example.com", message.Email)
	require.Equal(t, "hello", message.Message)
	require.Equal(t, "submission-1", message.SubmissionID)
}

func TestNewContactMessageTrimsWhitespace(t *testing.T) {
	input := validContactMessageInput()
	input.Name = "  Ada  "
	input.Email = " ada@example.com "
	input.Message = "\thello\n"

	message, messageErr := model.NewContactMessage(input)
	require.NoError(t, messageErr)
	require.Equal(t, "Ada", message.Name)
	require.Equal(t, "ada@example.com", message.Email)
	require.Equal(t, "hello", message.Message)
}

func TestNewContactMessageValidation(t *testing.T) {
	testCases := []struct {
		name        string
		mutate      func(*model.ContactMessageInput)
		expectedErr error
	}{
		{
			name:        "missing name",
			mutate:      func(input *model.ContactMessageInput) { input.Name = "  " },
			expectedErr: model.ErrMissingContactFields,
		},
		{
			name:        "missing email",
			mutate:      func(input *model.ContactMessageInput) { input.Email = "" },
			expectedErr: model.ErrMissingContactFields,
		},
		{
			name:        "missing message",
			mutate:      func(input *model.ContactMessageInput) { input.Message = "" },
			expectedErr: model.ErrMissingContactFields,
		},
		{
			name:        "email without domain",
			mutate:      func(input *model.ContactMessageInput) { input.Email = "ada@" },
			expectedErr: model.ErrInvalidContactEmail,
		},
		{
			name:        "email with spaces",
			mutate:      func(input *model.ContactMessageInput) { input.Email = "ada smith@example.com" },
			expectedErr: model.ErrInvalidContactEmail,
		},
		{
			name:        "name too long",
			mutate:      func(input *model.ContactMessageInput) { input.Name = strings.Repeat("n", 121) },
			expectedErr: model.ErrContactFieldTooLong,
		},
		{
			name: "email too long",
			mutate: func(input *model.ContactMessageInput) {
				input.Email = strings.Repeat("e", 195) + "@x.com"
			},
			expectedErr: model.ErrContactFieldTooLong,
		},
		{
			name:        "message too long",
			mutate:      func(input *model.ContactMessageInput) { input.Message = strings.Repeat("m", 4001) },
			expectedErr: model.ErrContactFieldTooLong,
		},
		{
			name:        "missing submission id",
			mutate:      func(input *model.ContactMessageInput) { input.SubmissionID = "" },
			expectedErr: model.ErrInvalidSubmissionID,
		},
		{
			name:        "submission id too long",
			mutate:      func(input *model.ContactMessageInput) { input.SubmissionID = strings.Repeat("s", 65) },
			expectedErr: model.ErrInvalidSubmissionID,
		},
		{
			name:        "missing ip hash",
			mutate:      func(input *model.ContactMessageInput) { input.IPHash = "" },
			expectedErr: model.ErrMissingContactIPAddress,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			input := validContactMessageInput()
			testCase.mutate(&input)

			_, messageErr := model.NewContactMessage(input)
			require.ErrorIs(t, messageErr, testCase.expectedErr)
		})
	}
}

func TestNewContactMessageBoundaryLengthsAccepted(t *testing.T) {
	input := validContactMessageInput()
	input.Name = strings.Repeat("n", 120)
	input.Email = strings.Repeat("e", 194) + "@x.com"
	input.Message = strings.Repeat("m", 4000)

	_, messageErr := model.NewContactMessage(input)
	require.NoError(t, messageErr)
}

func TestIsValidContactEmail(t *testing.T) {
	require.True(t, model.IsValidContactEmail("ada@example.com"))
	require.True(t, model.IsValidContactEmail(" ada@example.com "))
	require.False(t, model.IsValidContactEmail("ada@example"))
	require.False(t, model.IsValidContactEmail("adaexample.com"))
	require.False(t, model.IsValidContactEmail(""))
}
