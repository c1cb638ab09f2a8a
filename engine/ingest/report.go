package ingest

import (
	"time"

	"github.com/lorekeep/lorekeep/engine/domain"
)

// State is a coordinator state.
type State int

const (
	StateIdle State = iota
	StatePreparingStore
	StateChunking
	StateEmbedding
	StateWriting
	StateCompleted
	StateFailed
)

var stateNames = [...]string{"idle", "preparing_store", "chunking", "embedding", "writing", "completed", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// UnitOutcome is what happened to one unit.
type UnitOutcome struct {
	Unit     int
	Chunks   int
	Written  int
	Skipped  bool
	Warning  string
	Err      error
	Duration time.Duration
}

// Report summarizes a run.
type Report struct {
	DocumentID string
	State      State
	// FailedAt is the state the run was in when it failed.
	FailedAt   State
	Collection domain.CollectionStatus
	Total      int
	Units      []UnitOutcome
}

func (r *Report) fail(at State) {
	r.FailedAt = at
	r.State = StateFailed
}

// Warnings returns the warnings of all units.
func (r *Report) Warnings() []string {
	var out []string
	for _, u := range r.Units {
		if u.Warning != "" {
			out = append(out, u.Warning)
		}
	}
	return out
}

// Event is the progress message published after each unit.
type Event struct {
	DocumentID   string `json:"doc_id"`
	DocumentName string `json:"doc_name"`
	Unit         int    `json:"unit"`
	Chunks       int    `json:"chunks"`
	Written      int    `json:"written"`
	Total        int    `json:"total"`
	Skipped      bool   `json:"skipped,omitempty"`
	Warning      string `json:"warning,omitempty"`
	Error        string `json:"error,omitempty"`
}

func newEvent(doc domain.Document, out UnitOutcome, total int) Event {
	ev := Event{
		DocumentID:   doc.ID,
		DocumentName: doc.Name,
		Unit:         out.Unit,
		Chunks:       out.Chunks,
		Written:      out.Written,
		Total:        total,
		Skipped:      out.Skipped,
		Warning:      out.Warning,
	}
	if out.Err != nil {
		ev.Error = out.Err.Error()
	}
	return ev
}
