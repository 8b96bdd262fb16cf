// Package telegram wraps the bot API client. The client is constructed once in
// main and handed to the components that need it; nothing here is global.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const fileDownloadTimeout = 30 * time.Second

type Client struct {
	api *tgbotapi.BotAPI
}

func New(token string) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot api: %w", err)
	}
	return &Client{api: api}, nil
}

// SendText sends a plain text message and returns the transport message id.
func (c *Client) SendText(chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// SendWithActions sends a message with the done/cancel/box inline buttons for
// the given task.
func (c *Client) SendWithActions(chatID int64, text string, taskID int64) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = ActionKeyboard(taskID)
	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (c *Client) EditMessageText(chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	_, err := c.api.Send(edit)
	return err
}

// EditMessageWithActivate rewrites a reminder message after it was boxed,
// leaving a single button that restores the task.
func (c *Client) EditMessageWithActivate(chatID int64, messageID int, text string, taskID int64) error {
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("▶️ Вернуть", fmt.Sprintf("activate:%d", taskID)),
		),
	)
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, markup)
	_, err := c.api.Send(edit)
	return err
}

// AnswerCallback clears the loading state on an inline button tap.
func (c *Client) AnswerCallback(callbackID, text string) error {
	answer := tgbotapi.NewCallback(callbackID, text)
	_, err := c.api.Request(answer)
	return err
}

// DownloadFile fetches a platform file (voice notes) by file id with a bounded
// timeout.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := c.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, fileDownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// ActionKeyboard builds the inline done/cancel/box row attached to reminders.
func ActionKeyboard(taskID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Готово", fmt.Sprintf("done:%d", taskID)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Отмена", fmt.Sprintf("cancel:%d", taskID)),
			tgbotapi.NewInlineKeyboardButtonData("📦 Отложить", fmt.Sprintf("box:%d", taskID)),
		),
	)
}
