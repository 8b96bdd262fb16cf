package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"napomnibot/internal/database"
	"napomnibot/internal/models"
)

const taskColumns = `id, chat_id, text, important, due_at, every_minutes, next_remind_at, status, created_at, completed_at, canceled_at`

// ErrNotFound is returned when a task does not exist for the given chat.
var ErrNotFound = errors.New("task not found")

type TaskRepository struct {
	db *database.DB
}

func NewTaskRepository(db *database.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create persists a new task. A task with a due instant starts active with its
// first reminder scheduled; one without goes to the backlog.
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	if task.DueAt != nil {
		task.Status = models.StatusActive
		task.NextRemindAt = task.DueAt
	} else {
		task.Status = models.StatusBoxed
		task.NextRemindAt = nil
	}

	return r.db.Pool.QueryRow(ctx,
		`INSERT INTO tasks (chat_id, text, important, due_at, every_minutes, next_remind_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		task.ChatID, task.Text, task.Important, task.DueAt, task.EveryMinutes, task.NextRemindAt, task.Status,
	).Scan(&task.ID, &task.CreatedAt)
}

func (r *TaskRepository) GetByID(ctx context.Context, chatID, taskID int64) (*models.Task, error) {
	task := &models.Task{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND chat_id = $2`,
		taskID, chatID,
	).Scan(&task.ID, &task.ChatID, &task.Text, &task.Important, &task.DueAt, &task.EveryMinutes,
		&task.NextRemindAt, &task.Status, &task.CreatedAt, &task.CompletedAt, &task.CanceledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListDueBatch returns up to limit active tasks whose reminder is due,
// earliest first.
func (r *TaskRepository) ListDueBatch(ctx context.Context, now time.Time, limit int) ([]*models.Task, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status = 'active' AND next_remind_at IS NOT NULL AND next_remind_at <= $1
		 ORDER BY next_remind_at ASC
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// AdvanceNextRemind moves a recurring task's reminder forward by its interval,
// or consumes a one-shot reminder. The status guard keeps a task a user
// finished between claim and advance from getting its reminder re-set.
func (r *TaskRepository) AdvanceNextRemind(ctx context.Context, task *models.Task) error {
	if task.NextRemindAt == nil {
		return nil
	}

	var next *time.Time
	if task.IsRecurring() {
		advanced := task.NextRemindAt.Add(time.Duration(*task.EveryMinutes) * time.Minute)
		next = &advanced
	}

	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE tasks SET next_remind_at = $1 WHERE id = $2 AND status = 'active'`,
		next, task.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		task.NextRemindAt = next
	}
	return nil
}

// MarkDone completes the task. Returns false without side effects when it is
// already done, so duplicate button taps stay harmless.
func (r *TaskRepository) MarkDone(ctx context.Context, chatID, taskID int64) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE tasks SET status = 'done', completed_at = NOW(), next_remind_at = NULL
		 WHERE id = $1 AND chat_id = $2 AND status <> 'done'`,
		taskID, chatID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TaskRepository) MarkCanceled(ctx context.Context, chatID, taskID int64) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE tasks SET status = 'canceled', canceled_at = NOW(), next_remind_at = NULL
		 WHERE id = $1 AND chat_id = $2 AND status <> 'canceled'`,
		taskID, chatID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TaskRepository) MarkBoxed(ctx context.Context, chatID, taskID int64) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE tasks SET status = 'boxed', next_remind_at = NULL
		 WHERE id = $1 AND chat_id = $2 AND status <> 'boxed'`,
		taskID, chatID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkActive restores a task from the backlog. The reminder is rescheduled
// only when the stored due instant is still ahead of now.
func (r *TaskRepository) MarkActive(ctx context.Context, chatID, taskID int64, now time.Time) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE tasks SET status = 'active', completed_at = NULL, canceled_at = NULL,
		        next_remind_at = CASE WHEN due_at > $3 THEN due_at ELSE NULL END
		 WHERE id = $1 AND chat_id = $2 AND status <> 'active'`,
		taskID, chatID, now,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TaskRepository) ListByChat(ctx context.Context, chatID int64) ([]*models.Task, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE chat_id = $1
		 ORDER BY next_remind_at ASC NULLS LAST, created_at DESC`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListDueToday returns the chat's active tasks due within [from, to).
func (r *TaskRepository) ListDueToday(ctx context.Context, chatID int64, from, to time.Time) ([]*models.Task, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE chat_id = $1 AND status = 'active' AND due_at >= $2 AND due_at < $3
		 ORDER BY due_at ASC`,
		chatID, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (r *TaskRepository) CountBoxed(ctx context.Context, chatID int64) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tasks WHERE chat_id = $1 AND status = 'boxed'`,
		chatID,
	).Scan(&count)
	return count, err
}

// ChatsWithTasks returns every chat that has at least one task, for the daily
// digest fan-out.
func (r *TaskRepository) ChatsWithTasks(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT DISTINCT chat_id FROM tasks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []int64
	for rows.Next() {
		var chatID int64
		if err := rows.Scan(&chatID); err != nil {
			return nil, err
		}
		chats = append(chats, chatID)
	}
	return chats, rows.Err()
}

// CleanupCompletedOverflow keeps only the capPerChat most recently finished
// tasks per chat and deletes the rest, bounding history growth.
func (r *TaskRepository) CleanupCompletedOverflow(ctx context.Context, capPerChat int) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM tasks WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY chat_id
					ORDER BY COALESCE(completed_at, canceled_at) DESC
				) AS rn
				FROM tasks
				WHERE status IN ('done', 'canceled')
			) ranked
			WHERE ranked.rn > $1
		)`,
		capPerChat,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanTasks(rows pgx.Rows) ([]*models.Task, error) {
	var tasks []*models.Task
	for rows.Next() {
		task := &models.Task{}
		if err := rows.Scan(&task.ID, &task.ChatID, &task.Text, &task.Important, &task.DueAt,
			&task.EveryMinutes, &task.NextRemindAt, &task.Status, &task.CreatedAt,
			&task.CompletedAt, &task.CanceledAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
