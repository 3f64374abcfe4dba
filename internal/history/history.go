package history

import (
	"context"
	"errors"
	"time"
)

// Kinds of journal entries.
const (
	KindPing       = "ping"
	KindNSLookup   = "nslookup"
	KindTraceroute = "traceroute"
	KindFound      = "found"
	KindLost       = "lost"
)

// ErrUDNRequired is returned when an entry names no device.
var ErrUDNRequired = errors.New("history: udn is required")

// Entry is one journal row.
type Entry struct {
	ID   int64  `json:"id"`
	Kind string `json:"kind"`
	UDN  string `json:"udn"`

	// Path is the bus object path the device was published under.
	Path   string `json:"path"`
	TestID uint32 `json:"test_id"`
	Status string `json:"status"`

	// Summary is the decoded result, stored as JSON.
	Summary map[string]any `json:"summary"`

	CreatedAt time.Time `json:"created_at"`
}

// Recorder is the write side used by the bridge.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Repository reads and maintains the journal.
type Repository interface {
	Recorder

	// List returns the newest entries for udn first. An empty udn lists
	// every device.
	List(ctx context.Context, udn string, limit int) ([]Entry, error)

	// Prune deletes entries older than olderThan and returns how many went.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
