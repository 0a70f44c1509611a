package notify

import (
	"time"

	"roadmapd/internal/transport"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool

	// Target is where roadmap event notifications land.
	Target transport.ChatTarget
}

type HistoryItem struct {
	At   time.Time
	Text string
}

// DeliveryEvent is emitted on the event bus for pipeline lifecycle events
// (queued, sent, deduped, dropped, failed).
type DeliveryEvent struct {
	Channel  string    `json:"channel"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
