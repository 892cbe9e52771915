// Package progress tracks running imports and reports every change to the
// session's owner.
package progress

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an import session.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusFinalizing Status = "finalizing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// EventType names a notification sent to subscribers.
type EventType string

const (
	EventStarted   EventType = "import_started"
	EventProgress  EventType = "import_progress"
	EventCompleted EventType = "import_completed"
	EventFailed    EventType = "import_failed"
)

// MaxErrorLog bounds the per-session error log. Older entries are evicted first.
const MaxErrorLog = 100

// ErrorEntry is one logged row failure.
type ErrorEntry struct {
	Row     int       `json:"row,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Result is attached to a session when it ends.
type Result struct {
	Success      bool   `json:"success"`
	Imported     int    `json:"imported"`
	Failed       int    `json:"failed"`
	Skipped      int    `json:"skipped"`
	Error        string `json:"error,omitempty"`
	IncomeTotal  string `json:"incomeTotal,omitempty"`
	ExpenseTotal string `json:"expenseTotal,omitempty"`
}

// Counts are the absolute row counters of a session.
type Counts struct {
	Processed  int
	Successful int
	Errors     int
	Skipped    int
}

// Patch is a partial update. Zero fields leave the session unchanged.
type Patch struct {
	Status Status
	Total  int
	Counts *Counts
}

// Snapshot is an immutable copy of a session. Pull status, websocket and SSE
// all serialize this same shape.
type Snapshot struct {
	ID            uuid.UUID    `json:"sessionId"`
	OwnerID       uuid.UUID    `json:"-"`
	Filename      string       `json:"filename"`
	Status        Status       `json:"status"`
	Total         int          `json:"total"`
	Processed     int          `json:"processed"`
	Successful    int          `json:"successful"`
	Errors        int          `json:"errors"`
	Skipped       int          `json:"skipped"`
	Progress      int          `json:"progress"`
	RowsPerSecond int          `json:"rowsPerSecond"`
	ETASeconds    int          `json:"etaSeconds"`
	StartedAt     time.Time    `json:"startedAt"`
	EndedAt       *time.Time   `json:"endedAt,omitempty"`
	DurationMs    int64        `json:"durationMs,omitempty"`
	ErrorLog      []ErrorEntry `json:"errorLog"`
	Result        *Result      `json:"result,omitempty"`
}

// Event is what subscribers receive.
type Event struct {
	Type      EventType `json:"type"`
	SessionID uuid.UUID `json:"sessionId"`
	Session   Snapshot  `json:"session"`
}

// EventFor maps a snapshot to the event that describes its current state.
func EventFor(s Snapshot) Event {
	t := EventProgress
	switch s.Status {
	case StatusCompleted:
		t = EventCompleted
	case StatusFailed:
		t = EventFailed
	}
	return Event{Type: t, SessionID: s.ID, Session: s}
}

type session struct {
	id        uuid.UUID
	ownerID   uuid.UUID
	filename  string
	status    Status
	total     int
	counts    Counts
	progress  int
	speed     int
	eta       int
	startedAt time.Time
	endedAt   time.Time
	errorLog  []ErrorEntry
	result    *Result
}

func (s *session) snapshot() Snapshot {
	snap := Snapshot{
		ID:            s.id,
		OwnerID:       s.ownerID,
		Filename:      s.filename,
		Status:        s.status,
		Total:         s.total,
		Processed:     s.counts.Processed,
		Successful:    s.counts.Successful,
		Errors:        s.counts.Errors,
		Skipped:       s.counts.Skipped,
		Progress:      s.progress,
		RowsPerSecond: s.speed,
		ETASeconds:    s.eta,
		StartedAt:     s.startedAt,
		ErrorLog:      append([]ErrorEntry(nil), s.errorLog...),
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		snap.EndedAt = &ended
		snap.DurationMs = s.endedAt.Sub(s.startedAt).Milliseconds()
	}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
	}
	return snap
}
