package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"napomnibot/internal/models"
)

type fakeProcessor struct {
	mu      sync.Mutex
	updates []tgbotapi.Update
	done    chan struct{}
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{done: make(chan struct{}, 16)}
}

func (p *fakeProcessor) Process(_ context.Context, update tgbotapi.Update) {
	p.mu.Lock()
	p.updates = append(p.updates, update)
	p.mu.Unlock()
	p.done <- struct{}{}
}

func (p *fakeProcessor) wait(t *testing.T) {
	t.Helper()
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("update was not processed")
	}
}

type fakeCron struct {
	due, sent, chats int
	err              error
}

func (c *fakeCron) Tick(context.Context) (int, int, error) { return c.due, c.sent, c.err }
func (c *fakeCron) DailyDigest(context.Context) (int, error) { return c.chats, c.err }

type fakeLister struct {
	tasks []*models.Task
}

func (l *fakeLister) ListByChat(context.Context, int64) ([]*models.Task, error) {
	return l.tasks, nil
}

func newTestServer(processor UpdateProcessor, cron Cron, lister TaskLister) *Server {
	return New(processor, cron, lister, "topsecret", zap.NewNop())
}

func doRequest(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *strings.Reader
	if body == "" {
		reqBody = strings.NewReader("")
	} else {
		reqBody = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(newFakeProcessor(), &fakeCron{}, &fakeLister{})

	w := doRequest(s, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestWebhookAcceptsAndProcessesAsync(t *testing.T) {
	processor := newFakeProcessor()
	s := newTestServer(processor, &fakeCron{}, &fakeLister{})

	body := `{"update_id":123,"message":{"message_id":1,"chat":{"id":5},"text":"привет"}}`
	w := doRequest(s, http.MethodPost, "/telegram/webhook", body, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	processor.wait(t)
	assert.Equal(t, 123, processor.updates[0].UpdateID)
}

func TestWebhookRejectsMissingUpdateID(t *testing.T) {
	processor := newFakeProcessor()
	s := newTestServer(processor, &fakeCron{}, &fakeLister{})

	tests := []struct {
		name string
		body string
	}{
		{name: "empty object", body: `{}`},
		{name: "not json", body: `nonsense`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(s, http.MethodPost, "/telegram/webhook", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(t, processor.updates)
}

func TestCronTickAuth(t *testing.T) {
	s := newTestServer(newFakeProcessor(), &fakeCron{due: 3, sent: 2}, &fakeLister{})

	w := doRequest(s, http.MethodPost, "/cron/tick", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(s, http.MethodPost, "/cron/tick", "", map[string]string{
		"Authorization": "Bearer wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(s, http.MethodPost, "/cron/tick", "", map[string]string{
		"Authorization": "Bearer topsecret",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"due":3,"sent":2}`, w.Body.String())
}

func TestCronDaily(t *testing.T) {
	s := newTestServer(newFakeProcessor(), &fakeCron{chats: 4}, &fakeLister{})

	w := doRequest(s, http.MethodPost, "/cron/daily", "", map[string]string{
		"Authorization": "Bearer topsecret",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"chats":4}`, w.Body.String())
}

func TestListTasks(t *testing.T) {
	lister := &fakeLister{tasks: []*models.Task{
		{ID: 1, ChatID: 5, Text: "позвонить маме", Status: models.StatusActive},
	}}
	s := newTestServer(newFakeProcessor(), &fakeCron{}, lister)

	w := doRequest(s, http.MethodGet, "/tasks", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(s, http.MethodGet, "/tasks?chatId=5", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		OK    bool           `json:"ok"`
		Tasks []*models.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	require.Len(t, resp.Tasks, 1)
	assert.Equal(t, "позвонить маме", resp.Tasks[0].Text)
}
