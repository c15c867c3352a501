// Package task holds the Task Record data model: the critical entity in the design,
// its state machine, and the invariants governing legal transitions between states.
package task

import "time"

// Status is one of the seven legal task states.
type Status string

const (
	Allocated Status = "ALLOCATED"
	Enqueued  Status = "ENQUEUED"
	Running   Status = "RUNNING"
	Completed Status = "COMPLETED"
	Failed    Status = "FAILED"
	Cancelled Status = "CANCELLED"
	Dropped   Status = "DROPPED"
)

// Terminal reports whether a status is one of the four terminal outcomes.
func (s Status) Terminal() bool {
	switch s {
	case Completed, Failed, Cancelled, Dropped:
		return true
	default:
		return false
	}
}

// legalTransitions encodes the authoritative state machine of spec §4.1. The
// reaper's RUNNING -> DROPPED and ALLOCATED -> DROPPED paths are the "timeout"
// edges; every other edge corresponds to an explicit actor (worker, task body, admin) driving the
// transition forward.
var legalTransitions = map[Status]map[Status]bool{
	Allocated: {Enqueued: true, Dropped: true}, // Dropped: reaper, owner never pushed.
	Enqueued:  {Running: true},
	Running: {
		Completed: true,
		Failed:    true,
		Cancelled: true,
		Dropped:   true,
	},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal edge in the
// state machine. Terminal states never transition further except for the
// consumed flag and comments, which are not status transitions at all.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	edges, ok := legalTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Comment is one append-only entry in a task's comment log.
type Comment struct {
	Actor     string // empty for system-generated comments
	Timestamp time.Time
	Body      string
}

// Record is the Task Record entity of spec §3. Token is the primary key: an
// opaque 128-bit random identifier, hex-encoded.
type Record struct {
	Token        string
	Kind         string
	Summary      string
	Actor        string // empty if system-initiated
	Product      string // empty if server-wide
	Status       Status
	CreatedAt    time.Time
	EnqueuedAt   *time.Time
	StartedAt    *time.Time
	LastHeartbeat *time.Time
	FinishedAt   *time.Time
	CancelRequested bool
	OwningServerID  string // set at ENQUEUED, cleared at any terminal transition
	Consumed        bool
	Comments        []Comment
}

// Filter narrows a TM.list query. Zero-value fields are unconstrained.
type Filter struct {
	Statuses []Status
	Kind     string
	Product  string
	Actor    string
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}
