package model

import (
	"fmt"
	"time"
)

// Action is the terminal decision taken on a rejudging.
type Action string

const (
	ActionApply  Action = "apply"
	ActionCancel Action = "cancel"
)

// ParseAction validates an action name.
func ParseAction(name string) (Action, error) {
	switch Action(name) {
	case ActionApply, ActionCancel:
		return Action(name), nil
	default:
		return "", fmt.Errorf("unknown action %q", name)
	}
}

// Rejudging is a named batch re-evaluation request.
// It is open while EndTime is nil. Valid is nil while pending, true once applied
// and false once canceled.
type Rejudging struct {
	ID          int64    `json:"id"`
	Reason      string   `json:"reason"`
	Priority    Priority `json:"priority"`
	AutoApply   bool     `json:"auto_apply"`
	RepeatCount int      `json:"repeat"`
	// RepeatedRejudgingID is the id of the first sibling of a repeat chain.
	// It is nil when RepeatCount is 1.
	RepeatedRejudgingID *int64     `json:"repeated_rejudging_id,omitempty"`
	StartTime           time.Time  `json:"start_time"`
	EndTime             *time.Time `json:"end_time,omitempty"`
	StartUserID         *int64     `json:"start_user_id,omitempty"`
	FinishUserID        *int64     `json:"finish_user_id,omitempty"`
	Valid               *bool      `json:"valid,omitempty"`
}

// IsOpen reports whether the rejudging has not been finalized yet.
func (r *Rejudging) IsOpen() bool {
	return r.EndTime == nil
}

// GroupID returns the repeat chain id, or the rejudging's own id when it is not repeated.
func (r *Rejudging) GroupID() int64 {
	if r.RepeatedRejudgingID != nil {
		return *r.RepeatedRejudgingID
	}
	return r.ID
}

// Repeated reports whether the rejudging is part of a repeat chain.
func (r *Rejudging) Repeated() bool {
	return r.RepeatCount > 1 && r.RepeatedRejudgingID != nil
}

// Todo is the completion state of a rejudging.
type Todo struct {
	Todo int `json:"todo"`
	Done int `json:"done"`
}

// Percent returns the share of finished judgings, 0 when nothing is attached.
func (t Todo) Percent() int {
	total := t.Todo + t.Done
	if total == 0 {
		return 0
	}
	return t.Done * 100 / total
}

// Status labels shown for a rejudging.
const (
	StatusApplied  = "applied"
	StatusCanceled = "canceled"
	StatusReady    = "ready"
)

// Status returns the display label and sort order of a rejudging.
// In-progress rejudgings sort first, then ready ones, then finished ones.
func (r *Rejudging) Status(todo Todo) (string, int) {
	if r.EndTime != nil {
		if r.Valid != nil && *r.Valid {
			return StatusApplied, 2
		}
		return StatusCanceled, 2
	}
	if todo.Todo > 0 {
		return fmt.Sprintf("%d%% done", todo.Percent()), 0
	}
	return StatusReady, 1
}

// FinishedBy describes who closed the rejudging when no user did.
func (r *Rejudging) FinishedBy() string {
	if r.EndTime == nil || r.FinishUserID != nil {
		return ""
	}
	if r.RepeatCount > 1 {
		return "part of repeated rejudging"
	}
	return "automatically applied"
}

// Actor is the user on whose behalf an operation runs.
// A nil UserID means the system itself.
type Actor struct {
	UserID *int64
	Admin  bool
}

// CreateOptions are the per-batch settings of a new rejudging.
type CreateOptions struct {
	Reason    string
	Priority  Priority
	AutoApply bool
	Repeat    int
	Actor     Actor
	// ReturnTo is sent as the terminal message when nothing gets rejudged.
	ReturnTo string
}
