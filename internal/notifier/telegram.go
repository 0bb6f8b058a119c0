package notifier

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
)

type TelegramNotifier struct {
	Token  string
	ChatID string

	apiBase    string
	maxRetries int
	retryDelay time.Duration
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		Token:      token,
		ChatID:     chatID,
		apiBase:    "https://api.telegram.org",
		maxRetries: 3,
		retryDelay: 2 * time.Second,
	}
}

func (t *TelegramNotifier) Send(message string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.Token)
	resp, err := http.PostForm(apiURL, url.Values{
		"chat_id": {t.ChatID},
		"text":    {message},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

// SendWithRetry retries Send with a fixed delay. A notification is best
// effort; the last error is returned but callers usually only log it.
func (t *TelegramNotifier) SendWithRetry(message string) error {
	var lastErr error
	for attempt := 1; attempt <= t.maxRetries; attempt++ {
		if lastErr = t.Send(message); lastErr == nil {
			return nil
		}
		log.Warnf("Notifier | send attempt %d/%d failed: %v", attempt, t.maxRetries, lastErr)
		if attempt < t.maxRetries {
			time.Sleep(t.retryDelay)
		}
	}
	return lastErr
}

// RetryWithNotification retries action and reports the failure over Telegram
// if all attempts fail.
func (t *TelegramNotifier) RetryWithNotification(action func() error, description string) error {
	var lastErr error
	for attempt := 1; attempt <= t.maxRetries; attempt++ {
		if lastErr = action(); lastErr == nil {
			return nil
		}
		log.Warnf("Notifier | %s attempt %d/%d failed: %v", description, attempt, t.maxRetries, lastErr)
		if attempt < t.maxRetries {
			time.Sleep(t.retryDelay)
		}
	}
	if err := t.SendWithRetry(fmt.Sprintf("FAILED: %s: %v", description, lastErr)); err != nil {
		log.Errorf("Notifier | could not report failure of %s: %v", description, err)
	}
	return lastErr
}
