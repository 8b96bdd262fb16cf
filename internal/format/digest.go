// Package format renders the bot's outbound message texts. Everything here is
// pure string building.
package format

import (
	"fmt"
	"strings"

	"napomnibot/internal/civiltime"
	"napomnibot/internal/models"
	"napomnibot/internal/parser"
)

// Digest builds the daily summary of a chat: today's reminders plus the size
// of the backlog.
func Digest(dueToday []*models.Task, boxedCount int) string {
	var b strings.Builder
	b.WriteString("📅 План на сегодня\n\n")

	if len(dueToday) == 0 {
		b.WriteString("На сегодня напоминаний нет.\n")
	} else {
		for i, task := range dueToday {
			civil := civiltime.FromTime(*task.DueAt)
			fmt.Fprintf(&b, "%d. %02d:%02d — %s", i+1, civil.Hour, civil.Minute, task.Text)
			if task.Important {
				b.WriteString(" ❗")
			}
			b.WriteString("\n")
		}
	}

	if boxedCount > 0 {
		fmt.Fprintf(&b, "\n📦 В отложенных: %d", boxedCount)
	}

	return strings.TrimRight(b.String(), "\n")
}

// Reminder renders the text of a single reminder message.
func Reminder(task *models.Task) string {
	var b strings.Builder
	b.WriteString("⏰ Напоминание")
	if task.Important {
		b.WriteString(" ❗")
	}
	b.WriteString("\n\n")
	b.WriteString(task.Text)
	if task.IsRecurring() {
		fmt.Fprintf(&b, "\n\n🔄 повтор каждые %d мин", *task.EveryMinutes)
	}
	return b.String()
}

// Created confirms a freshly created task back to the user.
func Created(task *models.Task) string {
	civil := civiltime.FromTime(*task.DueAt)
	text := fmt.Sprintf("✅ Напомню %02d.%02d в %02d:%02d: %s",
		civil.Day, civil.Month, civil.Hour, civil.Minute, task.Text)
	if task.IsRecurring() {
		text += fmt.Sprintf("\n🔄 повтор каждые %d мин", *task.EveryMinutes)
	}
	return text
}

// TaskList renders the /list reply.
func TaskList(tasks []*models.Task) string {
	if len(tasks) == 0 {
		return "Список пуст. Напишите, о чём напомнить, например: «напомни завтра в 09:30 позвонить маме»."
	}

	var b strings.Builder
	b.WriteString("📋 Ваши задачи\n\n")
	for i, task := range tasks {
		fmt.Fprintf(&b, "%d. %s", i+1, task.Text)
		switch task.Status {
		case models.StatusBoxed:
			b.WriteString(" (отложено)")
		case models.StatusDone:
			b.WriteString(" (выполнено)")
		case models.StatusCanceled:
			b.WriteString(" (отменено)")
		default:
			if task.NextRemindAt != nil {
				civil := civiltime.FromTime(*task.NextRemindAt)
				fmt.Fprintf(&b, " — %02d.%02d %02d:%02d", civil.Day, civil.Month, civil.Hour, civil.Minute)
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

var failureReplies = map[parser.Reason]string{
	parser.ReasonMissingDate:   "Не понял, когда напомнить. Добавьте дату, например: «завтра в 15:00» или «в пятницу».",
	parser.ReasonInvalidTime:   "Время указано неверно. Используйте формат ЧЧ:ММ, например 09:30.",
	parser.ReasonEmptyText:     "Не понял, о чём напомнить. Добавьте текст задачи.",
	parser.ReasonTimeInPast:    "Это время уже прошло. Укажите время в будущем.",
	parser.ReasonInvalidFormat: "Не смог разобрать дату. Пример: «15.03 в 12:00 встреча».",
}

// FailureReply maps a parse failure to its canned user-facing reply.
func FailureReply(reason parser.Reason) string {
	if reply, ok := failureReplies[reason]; ok {
		return reply
	}
	return "Не смог обработать сообщение, попробуйте ещё раз."
}
