package httpapi

import (
	"context"

	"github.com/athaight/andrewhaight-blog/internal/model"
)

// ContactNotifier dispatches a best-effort notification for a freshly stored
// contact message. Failures are surfaced to the submitter as a warning next
// to the success response, never as a submission failure.
type ContactNotifier interface {
	NotifyContact(ctx context.Context, message model.ContactMessage) error
}

type noopContactNotifier struct{}

func (noopContactNotifier) NotifyContact(ctx context.Context, message model.ContactMessage) error {
	return nil
}

func resolveContactNotifier(notifier ContactNotifier) ContactNotifier {
	if notifier == nil {
		return noopContactNotifier{}
	}
	return notifier
}
