// Package notifier
package notifier

// Notifier interface for sending notifications (e.g., Telegram).
type Notifier interface {
	Send(msg string) error
	SendWithRetry(msg string) error
	RetryWithNotification(action func() error, description string) error
}

// Nop discards all notifications. Used when no Telegram credentials are
// configured.
type Nop struct{}

func (Nop) Send(string) error          { return nil }
func (Nop) SendWithRetry(string) error { return nil }
func (Nop) RetryWithNotification(action func() error, _ string) error {
	return action()
}
