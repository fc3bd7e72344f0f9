// Package schedule содержит абстракцию часов и периодических фоновых задач.
package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Clock возвращает текущее время. Внедряется во все компоненты, зависящие от времени.
type Clock interface {
	Now() time.Time
}

// SystemClock возвращает реальное время в UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ManualClock описывает часы, которые двигаются только явно. Используются в тестах.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock создаёт часы, остановленные на указанном моменте.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance сдвигает часы вперёд.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set устанавливает часы на указанный момент.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Task описывает единицу периодической работы.
type Task func(ctx context.Context) error

// Runner запускает задачу с заданным интервалом до отмены контекста.
type Runner struct {
	name     string
	interval time.Duration
	task     Task
	logger   *zap.Logger
}

// NewRunner создаёт планировщик для именованной задачи.
func NewRunner(name string, interval time.Duration, task Task, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logger,
	}
}

// Run блокируется, пока контекст не отменён. Ошибки задачи логируются и не прерывают цикл.
func (r *Runner) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("scheduled task stopped", zap.String("task", r.name))
			return nil
		case <-ticker.C:
			if err := r.task(ctx); err != nil {
				r.logger.Error("scheduled task failed", zap.String("task", r.name), zap.Error(err))
			}
		}
	}
}
