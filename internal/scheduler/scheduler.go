// Package scheduler delivers due reminders. It owns no timer: an external cron
// hits the tick endpoint and the durable next_remind_at field is the only
// source of scheduling truth, because the process may be suspended between
// ticks.
package scheduler

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"napomnibot/internal/format"
	"napomnibot/internal/models"
)

const (
	batchSize             = 100
	completedCapPerChat   = 50
	processedUpdateMaxAge = 7 * 24 * time.Hour
)

type TaskStore interface {
	ListDueBatch(ctx context.Context, now time.Time, limit int) ([]*models.Task, error)
	AdvanceNextRemind(ctx context.Context, task *models.Task) error
	ListDueToday(ctx context.Context, chatID int64, from, to time.Time) ([]*models.Task, error)
	CountBoxed(ctx context.Context, chatID int64) (int, error)
	ChatsWithTasks(ctx context.Context) ([]int64, error)
	CleanupCompletedOverflow(ctx context.Context, capPerChat int) (int64, error)
}

type ReminderLedger interface {
	Claim(ctx context.Context, taskID int64, scheduledAt time.Time) (bool, error)
	SetMessageID(ctx context.Context, taskID int64, scheduledAt time.Time, messageID int) error
}

type UpdateLedger interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type MessageSender interface {
	SendText(chatID int64, text string) (int, error)
	SendWithActions(chatID int64, text string, taskID int64) (int, error)
}

type Scheduler struct {
	tasks   TaskStore
	ledger  ReminderLedger
	updates UpdateLedger
	sender  MessageSender
	clock   clock.Clock
	log     *zap.Logger

	todayRange func(now time.Time) (time.Time, time.Time)
}

func New(tasks TaskStore, ledger ReminderLedger, updates UpdateLedger, sender MessageSender,
	clk clock.Clock, log *zap.Logger, todayRange func(time.Time) (time.Time, time.Time)) *Scheduler {
	return &Scheduler{
		tasks:      tasks,
		ledger:     ledger,
		updates:    updates,
		sender:     sender,
		clock:      clk,
		log:        log,
		todayRange: todayRange,
	}
}

// Tick finds due reminders, claims each occurrence and sends it. The ledger
// insert is the single ownership decision: a lost claim means another tick
// (concurrent or past) already handled the occurrence, and is skipped without
// comment.
//
// The occurrence is consumed at claim time. On a transport failure the claim
// stays and next_remind_at still advances: a reminder may be silently missed,
// but a flaky transport can never produce duplicate spam. The failure is
// logged for the operator.
func (s *Scheduler) Tick(ctx context.Context) (due, sent int, err error) {
	now := s.clock.Now()

	tasks, err := s.tasks.ListDueBatch(ctx, now, batchSize)
	if err != nil {
		return 0, 0, err
	}
	due = len(tasks)

	for _, task := range tasks {
		scheduledAt := *task.NextRemindAt

		claimed, err := s.ledger.Claim(ctx, task.ID, scheduledAt)
		if err != nil {
			s.log.Error("reminder claim failed",
				zap.Int64("task", task.ID), zap.Time("scheduled_at", scheduledAt), zap.Error(err))
			continue
		}
		if !claimed {
			// The occurrence belongs to a concurrent tick, or to a past run
			// that died between claim and advance. Advancing here too keeps an
			// interrupted run from wedging the task: the new value is an
			// absolute instant derived from the same scheduledAt, so owner and
			// loser write the identical next occurrence.
			if err := s.tasks.AdvanceNextRemind(ctx, task); err != nil {
				s.log.Error("failed to advance past claimed occurrence",
					zap.Int64("task", task.ID), zap.Error(err))
			}
			continue
		}

		messageID, sendErr := s.sender.SendWithActions(task.ChatID, format.Reminder(task), task.ID)
		if sendErr != nil {
			s.log.Error("reminder send failed, occurrence skipped",
				zap.Int64("chat", task.ChatID), zap.Int64("task", task.ID),
				zap.Time("scheduled_at", scheduledAt), zap.Error(sendErr))
		} else {
			sent++
			if err := s.ledger.SetMessageID(ctx, task.ID, scheduledAt, messageID); err != nil {
				s.log.Warn("failed to record message id",
					zap.Int64("task", task.ID), zap.Error(err))
			}
		}

		if err := s.tasks.AdvanceNextRemind(ctx, task); err != nil {
			s.log.Error("failed to advance next reminder",
				zap.Int64("task", task.ID), zap.Error(err))
		}
	}

	return due, sent, nil
}

// DailyDigest sends the day's summary to every chat with at least one task,
// then prunes old bookkeeping rows. Returns the number of chats reached.
func (s *Scheduler) DailyDigest(ctx context.Context) (int, error) {
	now := s.clock.Now()

	chats, err := s.tasks.ChatsWithTasks(ctx)
	if err != nil {
		return 0, err
	}

	from, to := s.todayRange(now)

	delivered := 0
	for _, chatID := range chats {
		dueToday, err := s.tasks.ListDueToday(ctx, chatID, from, to)
		if err != nil {
			s.log.Error("failed to list today's tasks", zap.Int64("chat", chatID), zap.Error(err))
			continue
		}
		boxed, err := s.tasks.CountBoxed(ctx, chatID)
		if err != nil {
			s.log.Error("failed to count backlog", zap.Int64("chat", chatID), zap.Error(err))
			continue
		}

		if _, err := s.sender.SendText(chatID, format.Digest(dueToday, boxed)); err != nil {
			s.log.Error("digest send failed", zap.Int64("chat", chatID), zap.Error(err))
			continue
		}
		delivered++
	}

	s.prune(ctx, now)

	return delivered, nil
}

func (s *Scheduler) prune(ctx context.Context, now time.Time) {
	if deleted, err := s.tasks.CleanupCompletedOverflow(ctx, completedCapPerChat); err != nil {
		s.log.Error("completed-task cleanup failed", zap.Error(err))
	} else if deleted > 0 {
		s.log.Info("pruned completed tasks", zap.Int64("deleted", deleted))
	}

	if deleted, err := s.updates.PruneOlderThan(ctx, now.Add(-processedUpdateMaxAge)); err != nil {
		s.log.Error("processed-update cleanup failed", zap.Error(err))
	} else if deleted > 0 {
		s.log.Info("pruned processed updates", zap.Int64("deleted", deleted))
	}
}
