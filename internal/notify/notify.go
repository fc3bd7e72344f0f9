// Package notify доставляет уведомления о заказах покупателям и продавцам.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notification описывает одно уведомление пользователю.
type Notification struct {
	ID       string            `json:"id"`
	UserID   string            `json:"userId"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Dispatcher отправляет уведомления.
type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
}

// LogDispatcher пишет уведомления в журнал. Используется, когда внешний сервис не настроен.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher создаёт диспетчер, пишущий в журнал.
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Notify записывает уведомление в журнал.
func (d *LogDispatcher) Notify(ctx context.Context, n Notification) error {
	fields := []zap.Field{
		zap.String("userID", n.UserID),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
	}
	for k, v := range n.Metadata {
		fields = append(fields, zap.String(k, v))
	}
	d.logger.Info("notification", fields...)
	return nil
}
