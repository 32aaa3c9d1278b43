// Package notify sends best-effort completion notifications for
// batches and single projects.
package notify

import (
	"fmt"

	"github.com/clipforge/orchestrator/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title    string
	Message  string
	Type     NotificationType
	BatchID  string // Optional batch reference
	VideoURL string // Optional published video URL
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// BatchFinished builds the summary notification for a terminal batch
func BatchFinished(b *domain.Batch) Notification {
	n := Notification{
		Title:   fmt.Sprintf("Batch %q finished", b.Name),
		Message: fmt.Sprintf("%d completed, %d failed of %d projects", b.CompletedCount, b.FailedCount, b.TotalCount),
		BatchID: b.ID,
		Type:    NotifySuccess,
	}
	if b.Status == domain.BatchFailed {
		n.Type = NotifyError
	} else if b.FailedCount > 0 {
		n.Type = NotifyWarning
	}
	return n
}

// ProjectPublished builds the notification for one published video
func ProjectPublished(p *domain.Project) Notification {
	return Notification{
		Title:    fmt.Sprintf("Video %q published", p.Name),
		Message:  p.Artifacts[domain.ArtifactUpload],
		VideoURL: p.Artifacts[domain.ArtifactUpload],
		Type:     NotifySuccess,
	}
}
