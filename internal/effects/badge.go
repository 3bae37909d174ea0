package effects

import (
	"context"
	"log/slog"
	"sync"
)

// LogBadge keeps the current badge text in memory and logs changes. Clients
// read it back through the state view.
type LogBadge struct {
	mu     sync.Mutex
	text   string
	logger *slog.Logger
}

func NewLogBadge(logger *slog.Logger) *LogBadge {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogBadge{logger: logger}
}

func (b *LogBadge) SetBadge(_ context.Context, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.text != text {
		b.logger.Debug("badge updated", "text", text)
	}
	b.text = text
	return nil
}

func (b *LogBadge) ClearBadge(ctx context.Context) error {
	return b.SetBadge(ctx, "")
}

func (b *LogBadge) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}
