package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/athaight/andrewhaight-blog/internal/model"
)

const (
	errorMessageInsertContactMessage = "storage: insert contact message"
	errorMessageCountContactMessages = "storage: count contact messages"
	errorMessageListContactMessages  = "storage: list contact messages"

	sqliteUniqueViolationFragment = "UNIQUE constraint failed"

	defaultRecentMessagesLimit = 50
	maxRecentMessagesLimit     = 500
)

// InsertOutcome describes the result of an idempotent insert attempt.
type InsertOutcome int

const (
	// InsertOutcomeInserted indicates a fresh row was written.
	InsertOutcomeInserted InsertOutcome = iota
	// InsertOutcomeDuplicate indicates a row with the same submission
	// identifier already exists; the attempt is not an error.
	InsertOutcomeDuplicate
)

// MessageStore wraps contact message persistence. Duplicate submissions are
// resolved by the unique constraint on the submission identifier, so two
// concurrent inserts with the same identifier yield exactly one row; backend
// error translation stays inside this type.
type MessageStore struct {
	database *gorm.DB
}

// NewMessageStore creates a MessageStore backed by the provided database.
func NewMessageStore(database *gorm.DB) *MessageStore {
	return &MessageStore{database: database}
}

// Insert writes the contact message, reporting a duplicate submission
// identifier as InsertOutcomeDuplicate rather than an error.
func (store *MessageStore) Insert(ctx context.Context, message *model.ContactMessage) (InsertOutcome, error) {
	insertErr := store.database.WithContext(ctx).Create(message).Error
	if insertErr == nil {
		return InsertOutcomeInserted, nil
	}
	if isDuplicateKeyError(insertErr) {
		return InsertOutcomeDuplicate, nil
	}
	return InsertOutcomeInserted, fmt.Errorf("%s: %w", errorMessageInsertContactMessage, insertErr)
}

// CountByIPHashSince counts persisted messages for a hashed client address
// created at or after the given instant. The count is recomputed from stored
// rows on every call; no separate counter is maintained.
func (store *MessageStore) CountByIPHashSince(ctx context.Context, ipHash string, since time.Time) (int64, error) {
	var messageCount int64
	countErr := store.database.WithContext(ctx).
		Model(&model.ContactMessage{}).
		Where("ip_hash = ? AND created_at >= ?", ipHash, since).
		Count(&messageCount).Error
	if countErr != nil {
		return 0, fmt.Errorf("%s: %w", errorMessageCountContactMessages, countErr)
	}
	return messageCount, nil
}

// ListRecent returns stored messages ordered newest first.
func (store *MessageStore) ListRecent(ctx context.Context, limit int) ([]model.ContactMessage, error) {
	if limit <= 0 {
		limit = defaultRecentMessagesLimit
	}
	if limit > maxRecentMessagesLimit {
		limit = maxRecentMessagesLimit
	}

	var messages []model.ContactMessage
	listErr := store.database.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	if listErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageListContactMessages, listErr)
	}
	return messages, nil
}

func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), sqliteUniqueViolationFragment)
}
