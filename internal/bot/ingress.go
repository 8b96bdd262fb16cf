// Package bot processes inbound Telegram updates: dedupe, command routing,
// voice transcription and reminder creation.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"napomnibot/internal/format"
	"napomnibot/internal/models"
	"napomnibot/internal/parser"
)

const helpText = `Я бот-напоминалка. Напишите, о чём и когда напомнить:

  • напомни завтра в 09:30 позвонить маме
  • сегодня в 21:00 выключить плиту
  • в пятницу сдать отчёт
  • 15.03 в 12:00 день рождения
  • завтра в 08:00 зарядка каждый день

Поддерживаются голосовые сообщения.
/list — показать задачи`

type TaskStore interface {
	Create(ctx context.Context, task *models.Task) error
	ListByChat(ctx context.Context, chatID int64) ([]*models.Task, error)
	MarkDone(ctx context.Context, chatID, taskID int64) (bool, error)
	MarkCanceled(ctx context.Context, chatID, taskID int64) (bool, error)
	MarkBoxed(ctx context.Context, chatID, taskID int64) (bool, error)
	MarkActive(ctx context.Context, chatID, taskID int64, now time.Time) (bool, error)
}

type UpdateLedger interface {
	MarkProcessed(ctx context.Context, chatID *int64, updateID int64) (bool, error)
}

type Sender interface {
	SendText(chatID int64, text string) (int, error)
	EditMessageText(chatID int64, messageID int, text string) error
	EditMessageWithActivate(chatID int64, messageID int, text string, taskID int64) error
	AnswerCallback(callbackID, text string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

type Ticker interface {
	Tick(ctx context.Context) (due, sent int, err error)
}

type Ingress struct {
	tasks       TaskStore
	updates     UpdateLedger
	parser      *parser.Parser
	sender      Sender
	transcriber Transcriber // nil when no API key is configured
	ticker      Ticker
	ownerChatID int64
	clock       clock.Clock
	log         *zap.Logger
}

func NewIngress(tasks TaskStore, updates UpdateLedger, p *parser.Parser, sender Sender,
	transcriber Transcriber, ticker Ticker, ownerChatID int64, clk clock.Clock, log *zap.Logger) *Ingress {
	return &Ingress{
		tasks:       tasks,
		updates:     updates,
		parser:      p,
		sender:      sender,
		transcriber: transcriber,
		ticker:      ticker,
		ownerChatID: ownerChatID,
		clock:       clk,
		log:         log,
	}
}

// Process handles one deduplicated update. It runs after the webhook has
// already been acknowledged, so failures here are logged, never surfaced to
// the sender.
func (in *Ingress) Process(ctx context.Context, update tgbotapi.Update) {
	chatID := chatOf(update)

	fresh, err := in.updates.MarkProcessed(ctx, chatID, int64(update.UpdateID))
	if err != nil {
		in.log.Error("update dedupe failed", zap.Int("update", update.UpdateID), zap.Error(err))
		return
	}
	if !fresh {
		in.log.Debug("duplicate update skipped", zap.Int("update", update.UpdateID))
		return
	}

	switch {
	case update.CallbackQuery != nil:
		in.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		in.handleMessage(ctx, update.Message)
	}
}

func chatOf(update tgbotapi.Update) *int64 {
	if update.Message != nil {
		return &update.Message.Chat.ID
	}
	if update.CallbackQuery != nil && update.CallbackQuery.Message != nil {
		return &update.CallbackQuery.Message.Chat.ID
	}
	return nil
}

func (in *Ingress) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		in.handleCommand(ctx, msg)
		return
	}

	text := in.extractText(ctx, msg)
	if text == "" {
		in.reply(msg.Chat.ID, "Отправьте текст задачи, например: «напомни завтра в 09:30 позвонить маме».")
		return
	}

	result, err := in.parser.Parse(text)
	if err != nil {
		var perr *parser.Error
		if errors.As(err, &perr) {
			in.reply(msg.Chat.ID, format.FailureReply(perr.Reason))
		} else {
			in.log.Error("parse failed", zap.Int64("chat", msg.Chat.ID), zap.Error(err))
			in.reply(msg.Chat.ID, "Не смог обработать сообщение, попробуйте ещё раз.")
		}
		return
	}

	task := &models.Task{
		ChatID:    msg.Chat.ID,
		Text:      result.Text,
		Important: result.Important,
		DueAt:     &result.DueAt,
	}
	if result.EveryMinutes > 0 {
		every := result.EveryMinutes
		task.EveryMinutes = &every
	}

	if err := in.tasks.Create(ctx, task); err != nil {
		in.log.Error("task create failed", zap.Int64("chat", msg.Chat.ID), zap.Error(err))
		in.reply(msg.Chat.ID, "Не смог сохранить задачу, попробуйте ещё раз.")
		return
	}

	in.log.Info("task created",
		zap.Int64("chat", msg.Chat.ID), zap.Int64("task", task.ID), zap.Timep("due_at", task.DueAt))
	in.reply(msg.Chat.ID, format.Created(task))
}

// extractText pulls user text out of the message: plain text, caption, or a
// transcribed voice note. Transcription failures degrade to an empty result so
// the caller can ask the user to retype.
func (in *Ingress) extractText(ctx context.Context, msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	if msg.Caption != "" {
		return msg.Caption
	}
	if msg.Voice == nil {
		return ""
	}

	if in.transcriber == nil {
		in.reply(msg.Chat.ID, "Распознавание голоса не настроено, отправьте текстом.")
		return ""
	}

	audio, err := in.sender.DownloadFile(ctx, msg.Voice.FileID)
	if err != nil {
		in.log.Warn("voice download failed", zap.Int64("chat", msg.Chat.ID), zap.Error(err))
		in.reply(msg.Chat.ID, "Не смог получить голосовое сообщение, отправьте текстом.")
		return ""
	}

	text, err := in.transcriber.Transcribe(ctx, audio, "voice.ogg")
	if err != nil {
		in.log.Warn("transcription failed", zap.Int64("chat", msg.Chat.ID), zap.Error(err))
		in.reply(msg.Chat.ID, "Не смог распознать голосовое сообщение, отправьте текстом.")
		return ""
	}
	return text
}

func (in *Ingress) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		in.reply(msg.Chat.ID, helpText)
	case "list":
		tasks, err := in.tasks.ListByChat(ctx, msg.Chat.ID)
		if err != nil {
			in.log.Error("task list failed", zap.Int64("chat", msg.Chat.ID), zap.Error(err))
			in.reply(msg.Chat.ID, "Не смог получить список, попробуйте ещё раз.")
			return
		}
		in.reply(msg.Chat.ID, format.TaskList(tasks))
	case "tick":
		// Manual scheduler run, owner-only debug aid.
		if in.ownerChatID == 0 || msg.Chat.ID != in.ownerChatID {
			in.reply(msg.Chat.ID, "Неизвестная команда, /help покажет примеры.")
			return
		}
		due, sent, err := in.ticker.Tick(ctx)
		if err != nil {
			in.reply(msg.Chat.ID, fmt.Sprintf("Ошибка: %v", err))
			return
		}
		in.reply(msg.Chat.ID, fmt.Sprintf("Готово: %d к отправке, %d отправлено", due, sent))
	default:
		in.reply(msg.Chat.ID, "Неизвестная команда, /help покажет примеры.")
	}
}

func (in *Ingress) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil {
		return
	}
	chatID := callback.Message.Chat.ID

	action, taskID, ok := parseCallbackData(callback.Data)
	if !ok {
		in.answerCallback(callback.ID, "")
		return
	}

	var (
		changed bool
		err     error
		note    string
	)
	switch action {
	case "done":
		changed, err = in.tasks.MarkDone(ctx, chatID, taskID)
		note = "✅ Выполнено"
	case "cancel":
		changed, err = in.tasks.MarkCanceled(ctx, chatID, taskID)
		note = "❌ Отменено"
	case "box":
		changed, err = in.tasks.MarkBoxed(ctx, chatID, taskID)
		note = "📦 Отложено"
	case "activate":
		changed, err = in.tasks.MarkActive(ctx, chatID, taskID, in.clock.Now())
		note = "▶️ Снова активно"
	default:
		in.answerCallback(callback.ID, "")
		return
	}

	if err != nil {
		in.log.Error("status transition failed",
			zap.Int64("chat", chatID), zap.Int64("task", taskID),
			zap.String("action", action), zap.Error(err))
		in.answerCallback(callback.ID, "Ошибка, попробуйте ещё раз")
		return
	}
	if !changed {
		// Duplicate tap: the task is already in the target state.
		in.answerCallback(callback.ID, "Уже сделано")
		return
	}

	in.answerCallback(callback.ID, note)

	text := callback.Message.Text + "\n\n" + note
	if action == "box" {
		if err := in.sender.EditMessageWithActivate(chatID, callback.Message.MessageID, text, taskID); err != nil {
			in.log.Warn("message edit failed", zap.Int64("chat", chatID), zap.Error(err))
		}
		return
	}
	if err := in.sender.EditMessageText(chatID, callback.Message.MessageID, text); err != nil {
		in.log.Warn("message edit failed", zap.Int64("chat", chatID), zap.Error(err))
	}
}

func parseCallbackData(data string) (action string, taskID int64, ok bool) {
	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 {
		return "", 0, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[0], id, true
}

func (in *Ingress) reply(chatID int64, text string) {
	if _, err := in.sender.SendText(chatID, text); err != nil {
		in.log.Error("reply send failed", zap.Int64("chat", chatID), zap.Error(err))
	}
}

func (in *Ingress) answerCallback(callbackID, text string) {
	if err := in.sender.AnswerCallback(callbackID, text); err != nil {
		in.log.Warn("callback answer failed", zap.Error(err))
	}
}
