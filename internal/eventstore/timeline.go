package eventstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	timelineBuffer       = 256
	timelineWriteTimeout = 2 * time.Second
)

type timelineEntry struct {
	eventType string
	payload   any
	at        time.Time
}

// Timeline writes the events of one run in the background so the voice loop
// never waits on SQLite. Entries that do not fit the buffer are dropped.
type Timeline struct {
	store     *Store
	runID     string
	logger    *slog.Logger
	entries   chan timelineEntry
	done      chan struct{}
	closeOnce sync.Once
}

// NewTimeline registers runID and starts the writer.
func NewTimeline(ctx context.Context, store *Store, runID, runtime string, logger *slog.Logger) (*Timeline, error) {
	if err := store.BeginRun(ctx, runID, runtime); err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	t := &Timeline{
		store:     store,
		runID:     runID,
		logger:    logger.With(slog.String("component", "timeline"), slog.String("run", runID)),
		entries:   make(chan timelineEntry, timelineBuffer),
		done:      make(chan struct{}),
	}
	go t.run()
	return t, nil
}

// RunID identifies this process's events.
func (t *Timeline) RunID() string { return t.runID }

// Record queues an event. It never blocks.
func (t *Timeline) Record(eventType string, payload any) {
	select {
	case t.entries <- timelineEntry{eventType: eventType, payload: payload, at: t.store.clock().UTC()}:
	default:
		t.logger.Warn("timeline full, dropping event", slog.String("type", eventType))
	}
}

// Close flushes queued events and stops the writer. Record must not be called
// after Close.
func (t *Timeline) Close() {
	t.closeOnce.Do(func() {
		close(t.entries)
		<-t.done
	})
}

func (t *Timeline) run() {
	defer close(t.done)
	for e := range t.entries {
		ctx, cancel := context.WithTimeout(context.Background(), timelineWriteTimeout)
		err := t.store.appendAt(ctx, t.runID, e.eventType, e.payload, e.at)
		cancel()
		if err != nil {
			t.logger.Warn("failed to record event", slog.String("type", e.eventType), slogError(err))
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
