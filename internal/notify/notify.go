// Package notify collects user-visible notices raised while serving a request.
package notify

import (
	"context"
	"sync"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Notifier receives notices. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Collector buffers notices for one request.
type Collector struct {
	mu      sync.Mutex
	notices []Notice
}

func (c *Collector) Notify(_ context.Context, n Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, n)
}

// Drain returns buffered notices and resets the buffer.
func (c *Collector) Drain() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.notices
	c.notices = nil
	return out
}

type ctxKey struct{}

func WithCollector(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func FromContext(ctx context.Context) *Collector {
	c, _ := ctx.Value(ctxKey{}).(*Collector)
	return c
}

// ContextNotifier forwards to the collector attached to the context and
// drops notices when there is none.
type ContextNotifier struct{}

func (ContextNotifier) Notify(ctx context.Context, n Notice) {
	if c := FromContext(ctx); c != nil {
		c.Notify(ctx, n)
	}
}

func Success(ctx context.Context, n Notifier, msg string) {
	n.Notify(ctx, Notice{Level: LevelSuccess, Message: msg})
}

func Error(ctx context.Context, n Notifier, msg string) {
	n.Notify(ctx, Notice{Level: LevelError, Message: msg})
}
