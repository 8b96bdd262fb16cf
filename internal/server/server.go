// Package server exposes the HTTP surface: health, the Telegram webhook and
// the operator-driven cron endpoints.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"napomnibot/internal/models"
)

// How long a detached webhook continuation may keep running after the HTTP
// response went out.
const processTimeout = 60 * time.Second

type UpdateProcessor interface {
	Process(ctx context.Context, update tgbotapi.Update)
}

type Cron interface {
	Tick(ctx context.Context) (due, sent int, err error)
	DailyDigest(ctx context.Context) (int, error)
}

type TaskLister interface {
	ListByChat(ctx context.Context, chatID int64) ([]*models.Task, error)
}

type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	ingress    UpdateProcessor
	cron       Cron
	tasks      TaskLister
	cronSecret string
	log        *zap.Logger
}

func New(ingress UpdateProcessor, cron Cron, tasks TaskLister, cronSecret string, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(RequestLogger(log), gin.Recovery())

	s := &Server{
		engine:     engine,
		ingress:    ingress,
		cron:       cron,
		tasks:      tasks,
		cronSecret: cronSecret,
		log:        log,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.engine.POST("/telegram/webhook", s.handleWebhook)

	cron := s.engine.Group("/cron", s.requireCronSecret)
	cron.POST("/tick", s.handleTick)
	cron.POST("/daily", s.handleDaily)

	s.engine.GET("/tasks", s.handleListTasks)
}

// handleWebhook acknowledges structurally valid updates immediately and hands
// the real work to a detached goroutine, so a slow downstream call can never
// make the sender time out and retry.
func (s *Server) handleWebhook(c *gin.Context) {
	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil || update.UpdateID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing numeric update_id"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		s.ingress.Process(ctx, update)
	}()
}

func (s *Server) handleTick(c *gin.Context) {
	due, sent, err := s.cron.Tick(c.Request.Context())
	if err != nil {
		// The caller is an operator-controlled scheduler, raw errors are fine.
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "due": due, "sent": sent})
}

func (s *Server) handleDaily(c *gin.Context) {
	chats, err := s.cron.DailyDigest(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "chats": chats})
}

func (s *Server) handleListTasks(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Query("chatId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "chatId is required"})
		return
	}

	tasks, err := s.tasks.ListByChat(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "tasks": tasks})
}

func (s *Server) requireCronSecret(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	if s.cronSecret == "" || auth != "Bearer "+s.cronSecret {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "unauthorized"})
		return
	}
	c.Next()
}

func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}
	s.log.Info("starting http server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}
