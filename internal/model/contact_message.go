package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	contactNameMaxLength    = 120
	contactEmailMaxLength   = 200
	contactMessageMaxLength = 4000
	contactIPHashMaxLength  = 64

	submissionIDMaxLength = 64
)

var (
	ErrMissingContactFields    = errors.New("missing_fields")
	ErrInvalidContactEmail     = errors.New("invalid_email")
	ErrContactFieldTooLong     = errors.New("field_too_long")
	ErrInvalidSubmissionID     = errors.New("invalid_submission_id")
	ErrMissingContactIPAddress = errors.New("missing_ip_hash")
)

var contactEmailExpression = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ContactMessage is a persisted contact form submission. The submission
// identifier carries a unique constraint so retried requests for the same
// logical submission collapse to a single row at the storage layer.
type ContactMessage struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Name         string    `gorm:"not null;size:120"`
	Email        string    `gorm:"not null;size:200"`
	Message      string    `gorm:"not null;size:4000"`
	IPHash       string    `gorm:"not null;size:64;index"`
	SubmissionID string    `gorm:"not null;size:64;uniqueIndex"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

// ContactMessageInput holds the raw values used to construct a ContactMessage.
type ContactMessageInput struct {
	Name         string
	Email        string
	Message      string
	IPHash       string
	SubmissionID string
}

// NewContactMessage constructs a ContactMessage with validated, normalized fields.
func NewContactMessage(input ContactMessageInput) (ContactMessage, error) {
	name := strings.TrimSpace(input.Name)
	email := strings.TrimSpace(input.Email)
	messageBody := strings.TrimSpace(input.Message)

	if name == "" || email == "" || messageBody == "" {
		return ContactMessage{}, ErrMissingContactFields
	}

	if !contactEmailExpression.MatchString(email) {
		return ContactMessage{}, ErrInvalidContactEmail
	}

	if len(name) > contactNameMaxLength {
		return ContactMessage{}, fmt.Errorf("%w: name", ErrContactFieldTooLong)
	}
	if len(email) > contactEmailMaxLength {
		return ContactMessage{}, fmt.Errorf("%w: email", ErrContactFieldTooLong)
	}
	if len(messageBody) > contactMessageMaxLength {
		return ContactMessage{}, fmt.Errorf("%w: message", ErrContactFieldTooLong)
	}

	submissionID := strings.TrimSpace(input.SubmissionID)
	if submissionID == "" || len(submissionID) > submissionIDMaxLength {
		return ContactMessage{}, ErrInvalidSubmissionID
	}

	ipHash := strings.TrimSpace(input.IPHash)
	if ipHash == "" || len(ipHash) > contactIPHashMaxLength {
		return ContactMessage{}, ErrMissingContactIPAddress
	}

	return ContactMessage{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		Message:      messageBody,
		IPHash:       ipHash,
		SubmissionID: submissionID,
	}, nil
}

// IsValidContactEmail reports whether the address satisfies the structural
// pattern accepted by the contact form.
func IsValidContactEmail(email string) bool {
	return contactEmailExpression.MatchString(strings.TrimSpace(email))
}
