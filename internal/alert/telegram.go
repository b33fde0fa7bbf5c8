package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// TelegramSink sends alerts through the Bot API sendMessage method.
type TelegramSink struct {
	apiURL string
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSink creates a sink. apiURL is normally https://api.telegram.org.
func NewTelegramSink(apiURL, token, chatID string) *TelegramSink {
	return &TelegramSink{
		apiURL: strings.TrimRight(apiURL, "/"),
		token:  token,
		chatID: chatID,
		client: &http.Client{},
	}
}

func (t *TelegramSink) Send(ctx context.Context, a Alert) error {
	payload := map[string]string{
		"chat_id": t.chatID,
		"text":    fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Kind)), a.Message),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// 不要把带 token 的 URL 打进日志
		return fmt.Errorf("telegram request failed: %w", redact(err, t.token))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("telegram returned status: %d", resp.StatusCode)
	}
	return nil
}

type redactedError struct {
	msg string
	err error
}

func (e redactedError) Error() string { return e.msg }
func (e redactedError) Unwrap() error { return e.err }

func redact(err error, secret string) error {
	if secret == "" {
		return err
	}
	return redactedError{msg: strings.ReplaceAll(err.Error(), secret, "***"), err: err}
}
