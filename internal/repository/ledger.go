package repository

import (
	"context"
	"time"

	"napomnibot/internal/database"
)

// UpdateLedger records which inbound webhook updates were already handled.
// Rows are only ever inserted; the primary key collision is the dedupe signal.
type UpdateLedger struct {
	db *database.DB
}

func NewUpdateLedger(db *database.DB) *UpdateLedger {
	return &UpdateLedger{db: db}
}

// MarkProcessed returns false when the update was already seen. Callers must
// then skip all side effects while still acknowledging the sender.
func (l *UpdateLedger) MarkProcessed(ctx context.Context, chatID *int64, updateID int64) (bool, error) {
	tag, err := l.db.Pool.Exec(ctx,
		`INSERT INTO processed_updates (update_id, chat_id) VALUES ($1, $2)
		 ON CONFLICT (update_id) DO NOTHING`,
		updateID, chatID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (l *UpdateLedger) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := l.db.Pool.Exec(ctx,
		`DELETE FROM processed_updates WHERE processed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReminderLedger proves which occurrences were already dispatched. The insert
// in Claim is the only point where a tick may decide it owns a delivery.
type ReminderLedger struct {
	db *database.DB
}

func NewReminderLedger(db *database.DB) *ReminderLedger {
	return &ReminderLedger{db: db}
}

// Claim attempts to own the (task, occurrence) delivery. False means another
// tick already holds it and the caller must skip the send silently.
func (l *ReminderLedger) Claim(ctx context.Context, taskID int64, scheduledAt time.Time) (bool, error) {
	tag, err := l.db.Pool.Exec(ctx,
		`INSERT INTO sent_reminders (task_id, scheduled_at) VALUES ($1, $2)
		 ON CONFLICT (task_id, scheduled_at) DO NOTHING`,
		taskID, scheduledAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetMessageID records the transport message id on a claim, best effort.
func (l *ReminderLedger) SetMessageID(ctx context.Context, taskID int64, scheduledAt time.Time, messageID int) error {
	_, err := l.db.Pool.Exec(ctx,
		`UPDATE sent_reminders SET message_id = $1 WHERE task_id = $2 AND scheduled_at = $3`,
		messageID, taskID, scheduledAt,
	)
	return err
}
