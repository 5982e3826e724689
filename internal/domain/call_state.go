package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CallAction is an event that moves a call between states
type CallAction string

const (
	ActionRequest CallAction = "request"
	ActionClaim   CallAction = "claim"
	ActionStart   CallAction = "start"
	ActionResume  CallAction = "resume"
	ActionEnd     CallAction = "end"
)

// callTransitions maps action -> from -> to. A missing entry is an invalid
// transition. ringing and reconnecting are never produced, only accepted as
// sources.
var callTransitions = map[CallAction]map[CallStatus]CallStatus{
	ActionClaim: {
		CallStatusWaiting: CallStatusAssigned,
	},
	ActionStart: {
		CallStatusWaiting:    CallStatusInProgress,
		CallStatusAssigned:   CallStatusInProgress,
		CallStatusInProgress: CallStatusInProgress,
	},
	ActionResume: {
		CallStatusWaiting:      CallStatusInProgress,
		CallStatusAssigned:     CallStatusInProgress,
		CallStatusRinging:      CallStatusInProgress,
		CallStatusInProgress:   CallStatusInProgress,
		CallStatusReconnecting: CallStatusInProgress,
		CallStatusCancelled:    CallStatusInProgress,
	},
	ActionEnd: {
		CallStatusWaiting:      CallStatusEnded,
		CallStatusAssigned:     CallStatusEnded,
		CallStatusRinging:      CallStatusEnded,
		CallStatusInProgress:   CallStatusEnded,
		CallStatusReconnecting: CallStatusEnded,
		CallStatusEnded:        CallStatusEnded,
		CallStatusCancelled:    CallStatusEnded,
	},
}

// NextStatus returns the state action leads to from the given state
func NextStatus(action CallAction, from CallStatus) (CallStatus, error) {
	to, ok := callTransitions[action][from]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s a call in status %s", ErrInvalidTransition, action, from)
	}
	return to, nil
}

// CanTransition reports whether action is allowed from the given state
func CanTransition(action CallAction, from CallStatus) bool {
	_, err := NextStatus(action, from)
	return err == nil
}

// Claim assigns doctorID to a waiting call
func (c *Call) Claim(doctorID uuid.UUID, now time.Time) error {
	to, err := NextStatus(ActionClaim, c.Status)
	if err != nil {
		return err
	}
	c.Status = to
	c.DoctorID = &doctorID
	c.AssignedAt = &now
	return nil
}

// Start moves the call into in_progress. Repeats are tolerated; the start
// time is only (re)stamped when unset or when the call was still waiting.
func (c *Call) Start(now time.Time) error {
	from := c.Status
	to, err := NextStatus(ActionStart, from)
	if err != nil {
		return err
	}
	if c.StartedAt == nil || from == CallStatusWaiting {
		c.StartedAt = &now
	}
	c.Status = to
	return nil
}

// Resume records an explicit reconnect. A non-empty note is appended to
// Metadata.Resumes.
func (c *Call) Resume(now time.Time, note string) error {
	to, err := NextStatus(ActionResume, c.Status)
	if err != nil {
		return err
	}
	c.Status = to
	c.TotalReconnects++
	c.LastResumeAt = &now
	if note != "" {
		c.Metadata.Resumes = append(c.Metadata.Resumes, ResumeNote{At: now, Note: note})
	}
	return nil
}

// End terminates the call. It reports false, leaving the call untouched,
// when the call had already ended.
func (c *Call) End(now time.Time) (bool, error) {
	if c.Status == CallStatusEnded {
		return false, nil
	}
	to, err := NextStatus(ActionEnd, c.Status)
	if err != nil {
		return false, err
	}
	c.Status = to
	if c.EndedAt == nil {
		c.EndedAt = &now
	}
	c.DurationSeconds = 0
	if c.StartedAt != nil {
		c.DurationSeconds = WholeSeconds(c.EndedAt.Sub(*c.StartedAt))
	}
	return true, nil
}

// WholeSeconds floors d to whole seconds, clamping negatives to zero
func WholeSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}
