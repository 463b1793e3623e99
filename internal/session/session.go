package session

import (
	"time"

	"go-booru-download/internal/models"

	"github.com/google/uuid"
)

// Session is one search-and-download run. It is owned by the goroutine
// executing Orchestrator.Run until Run returns.
type Session struct {
	ID          string
	State       models.SessionState
	Query       models.TagQuery
	Expression  string
	Destination string
	Proxy       *models.Proxy
	Progress    models.SessionProgress
	Outcomes    []models.DownloadOutcome
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time
}

func newSession(req Request) *Session {
	return &Session{
		ID:          uuid.NewString(),
		State:       models.StateIdle,
		Query:       req.Query,
		Expression:  req.Query.Expression(),
		Destination: req.Destination,
	}
}

// Elapsed returns the wall time of the run so far.
func (s *Session) Elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// EventType identifies what changed in an Event.
type EventType int

const (
	EventState EventType = iota
	EventProgress
	EventOutcome
)

// Event is a notification about a running session.
type Event struct {
	Type      EventType
	SessionID string
	State     models.SessionState
	Progress  models.SessionProgress
	Outcome   *models.DownloadOutcome
	Err       error // set with EventState when State is StateError
}
