package editor

import (
	"context"
	"log/slog"
	"sync"
)

// ToastType: тип уведомления.
type ToastType string

const (
	ToastSuccess ToastType = "success"
	ToastError   ToastType = "error"
	ToastWarning ToastType = "warning"
	ToastInfo    ToastType = "info"
)

// Toast: уведомление для пользователя.
type Toast struct {
	Type    ToastType `json:"type"`
	Title   string    `json:"title"`
	Message string    `json:"message,omitempty"`
}

// Notifier принимает уведомления редактора.
type Notifier interface {
	Notify(t Toast)
}

// NotifierFunc адаптирует функцию к Notifier.
type NotifierFunc func(Toast)

// Notify реализует Notifier.
func (f NotifierFunc) Notify(t Toast) { f(t) }

// Collector накапливает уведомления (CLI печатает их после команды).
type Collector struct {
	mu     sync.Mutex
	toasts []Toast
}

// Notify реализует Notifier.
func (c *Collector) Notify(t Toast) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toasts = append(c.toasts, t)
}

// Drain возвращает накопленные уведомления и очищает список.
func (c *Collector) Drain() []Toast {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.toasts
	c.toasts = nil
	return out
}

// LogNotifier пишет уведомления в лог.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify реализует Notifier.
func (n LogNotifier) Notify(t Toast) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}

	level := slog.LevelInfo
	switch t.Type {
	case ToastError:
		level = slog.LevelError
	case ToastWarning:
		level = slog.LevelWarn
	}

	logger.Log(context.Background(), level, t.Title, "toast", string(t.Type), "message", t.Message)
}

type discard struct{}

func (discard) Notify(Toast) {}
