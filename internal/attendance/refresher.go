package attendance

import (
	"context"
	"log/slog"
	"strings"

	"classattend/internal/queue"
)

// MessageStatsChanged is the queue message type carrying a Change.
const MessageStatsChanged = "stats.changed"

// Change identifies the (class, day) whose derived stats are stale. An empty
// Date covers every day of the class, as after an enrollment change.
type Change struct {
	ClassID string
	Date    Date
}

func (c Change) encode() []byte { return []byte(c.ClassID + "|" + string(c.Date)) }

func decodeChange(b []byte) (Change, bool) {
	classID, date, ok := strings.Cut(string(b), "|")
	if !ok || classID == "" {
		return Change{}, false
	}
	if date == "" {
		return Change{ClassID: classID}, true
	}
	d, err := ParseDate(date)
	if err != nil {
		return Change{}, false
	}
	return Change{ClassID: classID, Date: d}, true
}

// StatsCache stores DailyStats keyed by class and day.
type StatsCache interface {
	GetDaily(ctx context.Context, classID string, date Date) (DailyStats, bool)
	PutDaily(ctx context.Context, st DailyStats)
	Invalidate(ctx context.Context, classID string, date Date)
	InvalidateClass(ctx context.Context, classID string)
}

// Notifier is told about every change to attendance data.
type Notifier interface {
	Notify(ctx context.Context, c Change) error
}

type noopCache struct{}

func (noopCache) GetDaily(context.Context, string, Date) (DailyStats, bool) { return DailyStats{}, false }
func (noopCache) PutDaily(context.Context, DailyStats)                    {}
func (noopCache) Invalidate(context.Context, string, Date)                {}
func (noopCache) InvalidateClass(context.Context, string)                 {}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Change) error { return nil }

// QueueNotifier publishes changes to a queue.
type QueueNotifier struct {
	Queue queue.Queue
}

// Notify enqueues the change.
func (n QueueNotifier) Notify(ctx context.Context, c Change) error {
	return n.Queue.Publish(ctx, queue.Message{Type: MessageStatsChanged, Body: c.encode()})
}

// Refresher recomputes cached daily stats for every change it consumes.
type Refresher struct {
	store Store
	cache StatsCache
	log   *slog.Logger
}

// NewRefresher creates a refresher writing into cache.
func NewRefresher(store Store, cache StatsCache, log *slog.Logger) *Refresher {
	if log == nil {
		log = slog.Default()
	}
	return &Refresher{store: store, cache: cache, log: log}
}

// Run consumes messages until the channel closes or ctx is done.
func (r *Refresher) Run(ctx context.Context, messages <-chan queue.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			r.Handle(ctx, msg)
		}
	}
}

// Handle processes one message. Unknown or malformed messages are dropped.
func (r *Refresher) Handle(ctx context.Context, msg queue.Message) {
	if msg.Type != MessageStatsChanged {
		return
	}
	c, ok := decodeChange(msg.Body)
	if !ok {
		r.log.Warn("dropping malformed stats message", "body", string(msg.Body))
		return
	}
	if c.Date == "" {
		r.cache.InvalidateClass(ctx, c.ClassID)
		r.log.Debug("class stats invalidated", "class_id", c.ClassID)
		return
	}
	st, err := ComputeDailyStats(ctx, r.store, c.ClassID, c.Date)
	if err != nil {
		if isNotFound(err) {
			r.cache.InvalidateClass(ctx, c.ClassID)
			return
		}
		r.log.Error("recompute daily stats failed", "class_id", c.ClassID, "date", c.Date, "error", err)
		return
	}
	r.cache.PutDaily(ctx, st)
	r.log.Debug("daily stats refreshed", "class_id", c.ClassID, "date", c.Date, "rate", st.Rate)
}
