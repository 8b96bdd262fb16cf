package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"napomnibot/internal/civiltime"
	"napomnibot/internal/models"
)

// memStore is an in-memory TaskStore. Mutations go through a mutex and reads
// hand out copies, mirroring how the real store isolates concurrent ticks.
type memStore struct {
	mu    sync.Mutex
	tasks map[int64]*models.Task
}

func newMemStore(tasks ...*models.Task) *memStore {
	s := &memStore{tasks: make(map[int64]*models.Task)}
	for _, task := range tasks {
		s.tasks[task.ID] = task
	}
	return s
}

func (s *memStore) ListDueBatch(_ context.Context, now time.Time, limit int) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.Task
	for _, task := range s.tasks {
		if task.Status == models.StatusActive && task.NextRemindAt != nil && !task.NextRemindAt.After(now) {
			copied := *task
			due = append(due, &copied)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRemindAt.Before(*due[j].NextRemindAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// AdvanceNextRemind mirrors the real store: the new value is computed from the
// instant on the passed task, so two ticks advancing past the same occurrence
// write the identical result, and only active tasks are touched.
func (s *memStore) AdvanceNextRemind(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.NextRemindAt == nil {
		return nil
	}
	var next *time.Time
	if task.IsRecurring() {
		advanced := task.NextRemindAt.Add(time.Duration(*task.EveryMinutes) * time.Minute)
		next = &advanced
	}

	stored, ok := s.tasks[task.ID]
	if !ok || stored.Status != models.StatusActive {
		return nil
	}
	stored.NextRemindAt = next
	task.NextRemindAt = next
	return nil
}

func (s *memStore) ListDueToday(_ context.Context, chatID int64, from, to time.Time) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Task
	for _, task := range s.tasks {
		if task.ChatID == chatID && task.Status == models.StatusActive &&
			task.DueAt != nil && !task.DueAt.Before(from) && task.DueAt.Before(to) {
			copied := *task
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(*out[j].DueAt) })
	return out, nil
}

func (s *memStore) CountBoxed(_ context.Context, chatID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, task := range s.tasks {
		if task.ChatID == chatID && task.Status == models.StatusBoxed {
			count++
		}
	}
	return count, nil
}

func (s *memStore) ChatsWithTasks(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]bool)
	var chats []int64
	for _, task := range s.tasks {
		if !seen[task.ChatID] {
			seen[task.ChatID] = true
			chats = append(chats, task.ChatID)
		}
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i] < chats[j] })
	return chats, nil
}

func (s *memStore) CleanupCompletedOverflow(context.Context, int) (int64, error) { return 0, nil }

func (s *memStore) next(id int64) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id].NextRemindAt
}

func (s *memStore) markDone(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id].Status = models.StatusDone
	s.tasks[id].NextRemindAt = nil
}

// memLedger emulates the sent_reminders primary key with a map insert.
type memLedger struct {
	mu     sync.Mutex
	claims map[string]bool
}

func newMemLedger() *memLedger {
	return &memLedger{claims: make(map[string]bool)}
}

func (l *memLedger) Claim(_ context.Context, taskID int64, scheduledAt time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := fmt.Sprintf("%d|%d", taskID, scheduledAt.UnixNano())
	if l.claims[key] {
		return false, nil
	}
	l.claims[key] = true
	return true, nil
}

func (l *memLedger) SetMessageID(context.Context, int64, time.Time, int) error { return nil }

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.claims)
}

type noopUpdates struct{}

func (noopUpdates) PruneOlderThan(context.Context, time.Time) (int64, error) { return 0, nil }

type sentMessage struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	fail   bool
	msgID  int
	onSend func() // runs inside a successful send, before it is recorded
}

func (s *fakeSender) SendText(chatID int64, text string) (int, error) {
	return s.record(chatID, text)
}

func (s *fakeSender) SendWithActions(chatID int64, text string, _ int64) (int, error) {
	return s.record(chatID, text)
}

func (s *fakeSender) record(chatID int64, text string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, errors.New("transport down")
	}
	if s.onSend != nil {
		s.onSend()
	}
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: text})
	s.msgID++
	return s.msgID, nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func newScheduler(store *memStore, ledger *memLedger, sender *fakeSender, clk clock.Clock) *Scheduler {
	return New(store, ledger, noopUpdates{}, sender, clk, zap.NewNop(), civiltime.TodayRange)
}

func activeTask(id, chatID int64, due time.Time, everyMinutes int) *models.Task {
	task := &models.Task{
		ID:           id,
		ChatID:       chatID,
		Text:         "позвонить маме",
		DueAt:        &due,
		NextRemindAt: &due,
		Status:       models.StatusActive,
	}
	if everyMinutes > 0 {
		task.EveryMinutes = &everyMinutes
	}
	return task
}

func TestTickSendsDueReminder(t *testing.T) {
	now := time.Date(2026, 2, 23, 12, 0, 0, 0, civiltime.Zone)
	mock := clock.NewMock()
	mock.Set(now)

	store := newMemStore(activeTask(1, 100, now, 0))
	sender := &fakeSender{}
	s := newScheduler(store, newMemLedger(), sender, mock)

	due, sent, err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, due)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, sender.count())
	// One-shot reminder is consumed.
	assert.Nil(t, store.next(1))
}

func TestTickExactlyOnceUnderConcurrentTicks(t *testing.T) {
	now := time.Date(2026, 2, 23, 12, 0, 0, 0, civiltime.Zone)
	mock := clock.NewMock()
	mock.Set(now)

	store := newMemStore(activeTask(1, 100, now, 60))
	ledger := newMemLedger()
	sender := &fakeSender{}
	s := newScheduler(store, ledger, sender, mock)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.Tick(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, sender.count(), "exactly one send across concurrent ticks")
	assert.Equal(t, 1, ledger.count(), "exactly one ledger row for the occurrence")
	// next-reminder advanced exactly once.
	require.NotNil(t, store.next(1))
	assert.True(t, store.next(1).Equal(now.Add(60*time.Minute)))
}

func TestTickRecurrenceSchedule(t *testing.T) {
	// A task due at T recurring every 180 minutes: fires at T, is silent at
	// T+90, fires again at T+181.
	start := time.Date(2026, 2, 23, 12, 0, 0, 0, civiltime.Zone)
	mock := clock.NewMock()
	mock.Set(start)

	store := newMemStore(activeTask(1, 100, start, 180))
	sender := &fakeSender{}
	s := newScheduler(store, newMemLedger(), sender, mock)

	_, sent, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.True(t, store.next(1).Equal(start.Add(180*time.Minute)))

	mock.Set(start.Add(90 * time.Minute))
	_, sent, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)

	mock.Set(start.Add(181 * time.Minute))
	_, sent, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 2, sender.count())
	assert.True(t, store.next(1).Equal(start.Add(360*time.Minute)))
}

func TestTickSendFailureKeepsClaim(t *testing.T) {
	now := time.Date(2026, 2, 23, 12, 0, 0, 0, civiltime.Zone)
	mock := clock.NewMock()
	mock.Set(now)

	store := newMemStore(activeTask(1, 100, now, 0))
	ledger := newMemLedger()
	sender := &fakeSender{fail: true}
	s := newScheduler(store, ledger, sender, mock)

	due, sent, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, due)
	assert.Zero(t, sent)

	// The occurrence was consumed: claim kept, reminder advanced, and a later
	// tick does not retry the send.
	assert.Equal(t, 1, ledger.count())
	assert.Nil(t, store.next(1))

	sender.fail = false
	_, sent, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Zero(t, sender.count())
}

func TestTickRecoversAbandonedClaim(t *testing.T) {
	// A previous run claimed the occurrence at T and died before advancing
	// (host suspension mid-send). Later ticks must move past the claimed
	// instant instead of losing the claim forever.
	start := time.Date(2026, 2, 23, 12, 0, 0, 0, civiltime.Zone)
	mock := clock.NewMock()
	mock.Set(start.Add(2 * time.Hour))

	store := newMemStore(activeTask(1, 100, start, 60))
	ledger := newMemLedger()
	claimed, err := ledger.Claim(context.Background(), 1, start)
	require.NoError(t, err)
	require.True(t, claimed)

	sender := &fakeSender{}
	s := newScheduler(store, ledger, sender, mock)

	// The abandoned occurrence is skipped but the schedule moves on.
	_, sent, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	require.NotNil(t, store.next(1))
	assert.True(t, store.next(1).Equal(start.Add(60*time.Minute)))

	// The next occurrence is already due and fires normally.
	_, sent, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.True(t, store.next(1).Equal(start.Add(120*time.Minute)))
}

func TestTickDoesNotResurrectFinishedTask(t *testing.T) {
	// The user taps done while the reminder is being sent: the advance after
	// the send must not re-set next_remind_at on the finished task.
	now := time.Date(2026, 2, 23, 12, 0, 0, 0, civiltime.Zone)
	mock := clock.NewMock()
	mock.Set(now)

	store := newMemStore(activeTask(1, 100, now, 60))
	sender := &fakeSender{}
	sender.onSend = func() { store.markDone(1) }
	s := newScheduler(store, newMemLedger(), sender, mock)

	_, sent, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Nil(t, store.next(1))
}

func TestTickOrdersEarliestFirst(t *testing.T) {
	now := time.Date(2026, 2, 23, 12, 0, 0, 0, civiltime.Zone)
	mock := clock.NewMock()
	mock.Set(now)

	later := activeTask(1, 100, now.Add(-10*time.Minute), 0)
	later.Text = "второе"
	earlier := activeTask(2, 100, now.Add(-30*time.Minute), 0)
	earlier.Text = "первое"

	store := newMemStore(later, earlier)
	sender := &fakeSender{}
	s := newScheduler(store, newMemLedger(), sender, mock)

	_, sent, err := s.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, sent)
	assert.Contains(t, sender.sent[0].text, "первое")
	assert.Contains(t, sender.sent[1].text, "второе")
}

func TestDailyDigest(t *testing.T) {
	now := time.Date(2026, 2, 23, 8, 0, 0, 0, civiltime.Zone)
	mock := clock.NewMock()
	mock.Set(now)

	todayTask := activeTask(1, 100, time.Date(2026, 2, 23, 15, 0, 0, 0, civiltime.Zone), 0)
	boxed := &models.Task{ID: 2, ChatID: 100, Text: "разобрать почту", Status: models.StatusBoxed}
	otherChat := activeTask(3, 200, time.Date(2026, 2, 23, 9, 0, 0, 0, civiltime.Zone), 0)

	store := newMemStore(todayTask, boxed, otherChat)
	sender := &fakeSender{}
	s := newScheduler(store, newMemLedger(), sender, mock)

	chats, err := s.DailyDigest(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, chats)
	require.Equal(t, 2, sender.count())
	assert.Equal(t, int64(100), sender.sent[0].chatID)
	assert.Contains(t, sender.sent[0].text, "15:00")
	assert.Contains(t, sender.sent[0].text, "В отложенных: 1")
	assert.Equal(t, int64(200), sender.sent[1].chatID)
}
