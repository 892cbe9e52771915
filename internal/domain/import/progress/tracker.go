package progress

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultGrace is how long a finished session stays readable.
const DefaultGrace = 5 * time.Minute

var (
	ErrSessionNotFound = errors.New("import session not found")
	ErrSessionExists   = errors.New("import session already exists")
)

// Notifier delivers events to the owner of a session.
type Notifier interface {
	Notify(ownerID uuid.UUID, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ownerID uuid.UUID, ev Event)

func (f NotifierFunc) Notify(ownerID uuid.UUID, ev Event) { f(ownerID, ev) }

// Tracker holds the in-memory registry of import sessions. All mutations of
// a session are serialized; notifications are sent after the lock is
// released so a slow subscriber never blocks the pipeline's bookkeeping.
type Tracker struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	grace    time.Duration
}

// NewTracker creates a tracker that reports through notifier.
func NewTracker(notifier Notifier, logger *slog.Logger) *Tracker {
	if notifier == nil {
		notifier = NotifierFunc(func(uuid.UUID, Event) {})
	}
	return &Tracker{
		sessions: make(map[uuid.UUID]*session),
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		grace:    DefaultGrace,
	}
}

// WithClock replaces the time source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// WithGrace sets how long finished sessions are retained.
func (t *Tracker) WithGrace(d time.Duration) *Tracker {
	t.grace = d
	return t
}

// Start registers a new session in the processing state.
func (t *Tracker) Start(id, ownerID uuid.UUID, filename string, total int) (Snapshot, error) {
	t.mu.Lock()
	if _, ok := t.sessions[id]; ok {
		t.mu.Unlock()
		return Snapshot{}, ErrSessionExists
	}
	s := &session{
		id:        id,
		ownerID:   ownerID,
		filename:  filename,
		status:    StatusProcessing,
		total:     max(total, 0),
		startedAt: t.now(),
	}
	t.sessions[id] = s
	snap := s.snapshot()
	t.mu.Unlock()

	t.logger.Info("import session started",
		slog.String("session_id", id.String()),
		slog.String("user_id", ownerID.String()),
		slog.Int("estimated_rows", total),
	)
	t.notifier.Notify(ownerID, Event{Type: EventStarted, SessionID: id, Session: snap})
	return snap, nil
}

// Update applies a patch and recomputes progress, speed and ETA.
func (t *Tracker) Update(id uuid.UUID, p Patch) (Snapshot, error) {
	return t.mutate(id, func(s *session) EventType {
		if p.Status != "" && !s.status.Terminal() {
			s.status = p.Status
		}
		if p.Total > 0 {
			s.total = p.Total
		}
		if p.Counts != nil {
			s.counts = *p.Counts
		}
		t.recompute(s)
		return EventProgress
	})
}

// AddError appends to the session's bounded error log.
func (t *Tracker) AddError(id uuid.UUID, message string, row int) error {
	_, err := t.mutate(id, func(s *session) EventType {
		s.errorLog = append(s.errorLog, ErrorEntry{Row: row, Message: message, At: t.now()})
		if over := len(s.errorLog) - MaxErrorLog; over > 0 {
			s.errorLog = append(s.errorLog[:0], s.errorLog[over:]...)
		}
		return EventProgress
	})
	return err
}

// Complete ends a session. A successful result moves it to completed,
// anything else to failed. The session is deleted after the grace period.
func (t *Tracker) Complete(id uuid.UUID, r Result) (Snapshot, error) {
	snap, err := t.mutate(id, func(s *session) EventType {
		s.endedAt = t.now()
		s.result = &r
		s.eta = 0
		if r.Success {
			s.status = StatusCompleted
			s.progress = 100
			return EventCompleted
		}
		s.status = StatusFailed
		return EventFailed
	})
	if err != nil {
		return snap, err
	}

	time.AfterFunc(t.grace, func() { t.Delete(id) })

	t.logger.Info("import session finished",
		slog.String("session_id", id.String()),
		slog.String("status", string(snap.Status)),
		slog.Int("processed", snap.Processed),
		slog.Int("errors", snap.Errors),
		slog.Int64("duration_ms", snap.DurationMs),
	)
	return snap, nil
}

// GetStatus returns the current snapshot of a session.
func (t *Tracker) GetStatus(id uuid.UUID) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[id]
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}
	return s.snapshot(), nil
}

// Delete forgets a session.
func (t *Tracker) Delete(id uuid.UUID) {
	t.mu.Lock()
	delete(t.sessions, id)
	t.mu.Unlock()
}

// Sweep removes finished sessions whose grace period has elapsed at now. It
// backs up the timers scheduled by Complete.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, s := range t.sessions {
		if s.status.Terminal() && !now.Before(s.endedAt.Add(t.grace)) {
			delete(t.sessions, id)
			removed++
		}
	}
	return removed
}

// Active counts sessions that have not finished.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, s := range t.sessions {
		if !s.status.Terminal() {
			n++
		}
	}
	return n
}

func (t *Tracker) mutate(id uuid.UUID, fn func(s *session) EventType) (Snapshot, error) {
	t.mu.Lock()
	s, ok := t.sessions[id]
	if !ok {
		t.mu.Unlock()
		return Snapshot{}, ErrSessionNotFound
	}
	evType := fn(s)
	snap := s.snapshot()
	owner := s.ownerID
	t.mu.Unlock()

	t.notifier.Notify(owner, Event{Type: evType, SessionID: id, Session: snap})
	return snap, nil
}

// recompute derives progress, speed and ETA. Progress never moves backwards
// and reads 100 once the session is finalizing.
func (t *Tracker) recompute(s *session) {
	progress := 0
	if s.total > 0 {
		progress = int(math.Round(float64(s.counts.Processed) / float64(s.total) * 100))
	}
	if s.status == StatusFinalizing {
		progress = 100
	}
	s.progress = min(max(progress, s.progress), 100)

	elapsed := t.now().Sub(s.startedAt).Seconds()
	s.speed = 0
	if elapsed > 0 {
		s.speed = int(math.Round(float64(s.counts.Processed) / elapsed))
	}

	s.eta = 0
	if s.speed > 0 && s.total > s.counts.Processed {
		s.eta = int(math.Round(float64(s.total-s.counts.Processed) / float64(s.speed)))
	}
}
