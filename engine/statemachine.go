package engine

import (
	"fmt"
	"slices"
)

// State of a project
type State string

const (
	StateNew        State = "new"
	StateExtracting State = "extracting"
	StateReady      State = "ready"
	StateRendering  State = "rendering"
	StateRendered   State = "rendered"
	StateFailed     State = "failed"
)

// Stage records which step a failed project failed in
type Stage string

const (
	StageExtracting Stage = "extracting"
	StageRendering  Stage = "rendering"
)

// Status is a state plus, for failed projects, the stage that failed
type Status struct {
	State State `json:"state"`
	Stage Stage `json:"stage,omitempty"`
}

func (s Status) String() string {
	if s.State == StateFailed {
		return fmt.Sprintf("failed(%s)", s.Stage)
	}
	return string(s.State)
}

// Event drives a transition
type Event string

const (
	EventExtract       Event = "extract"
	EventExtracted     Event = "extracted"
	EventExtractFailed Event = "extract_failed"
	EventAttachAudio   Event = "attach_audio"
	EventRender        Event = "render"
	EventRendered      Event = "rendered"
	EventRenderFailed  Event = "render_failed"
	EventRenderAborted Event = "render_aborted"
)

type transition struct {
	from []Status
	to   Status
	keep bool // leave the state unchanged
}

var (
	statusNew             = Status{State: StateNew}
	statusExtracting      = Status{State: StateExtracting}
	statusReady           = Status{State: StateReady}
	statusRendering       = Status{State: StateRendering}
	statusRendered        = Status{State: StateRendered}
	statusExtractFailed   = Status{State: StateFailed, Stage: StageExtracting}
	statusRenderingFailed = Status{State: StateFailed, Stage: StageRendering}
)

var transitions = map[Event]transition{
	EventExtract:       {from: []Status{statusNew, statusExtractFailed, statusReady, statusRendered}, to: statusExtracting},
	EventExtracted:     {from: []Status{statusExtracting}, to: statusReady},
	EventExtractFailed: {from: []Status{statusExtracting}, to: statusExtractFailed},
	EventAttachAudio:   {from: []Status{statusReady, statusRendered}, keep: true},
	EventRender:        {from: []Status{statusReady, statusRendered, statusRenderingFailed}, to: statusRendering},
	EventRendered:      {from: []Status{statusRendering}, to: statusRendered},
	EventRenderFailed:  {from: []Status{statusRendering}, to: statusReady},
	EventRenderAborted: {from: []Status{statusRendering}, to: statusRenderingFailed},
}

// Next returns the status reached by applying ev, or an error wrapping
// ErrInvalidState when ev is not legal from s.
func (s Status) Next(ev Event) (Status, error) {
	t, ok := transitions[ev]
	if !ok {
		return s, fmt.Errorf("%w: unknown event %q", ErrInvalidState, ev)
	}
	if !slices.Contains(t.from, s) {
		return s, fmt.Errorf("%w: cannot %s while %s", ErrInvalidState, ev, s)
	}
	if t.keep {
		return s, nil
	}
	return t.to, nil
}
