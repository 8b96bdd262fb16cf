package models

import "time"

type TaskStatus string

const (
	StatusActive   TaskStatus = "active"
	StatusBoxed    TaskStatus = "boxed" // backlog, no active reminder
	StatusDone     TaskStatus = "done"
	StatusCanceled TaskStatus = "canceled"
)

type Task struct {
	ID           int64      `json:"id"`
	ChatID       int64      `json:"chat_id"`
	Text         string     `json:"text"`
	Important    bool       `json:"important"`
	DueAt        *time.Time `json:"due_at"`
	EveryMinutes *int       `json:"every_minutes"` // recurrence interval; nil means one-shot
	NextRemindAt *time.Time `json:"next_remind_at"`
	Status       TaskStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	CanceledAt   *time.Time `json:"canceled_at"`
}

// IsRecurring returns true if this task re-reminds on an interval.
func (t *Task) IsRecurring() bool {
	return t.EveryMinutes != nil && *t.EveryMinutes > 0
}
