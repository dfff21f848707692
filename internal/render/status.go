package render

import "sync"

// TurnStatus is the lifecycle state of one conversational turn.
type TurnStatus string

const (
	StatusIdle      TurnStatus = "idle"
	StatusSubmitted TurnStatus = "submitted"
	StatusStreaming TurnStatus = "streaming"
	StatusDone      TurnStatus = "done"
	StatusErrored   TurnStatus = "errored"
)

// StatusMachine tracks a turn through idle -> submitted -> streaming ->
// done/errored and decides when aggregator output is final vs provisional.
// Invalid transitions are ignored and reported via the return value.
type StatusMachine struct {
	mu     sync.Mutex
	status TurnStatus
	errMsg string
}

// NewStatusMachine starts in the idle state.
func NewStatusMachine() *StatusMachine {
	return &StatusMachine{status: StatusIdle}
}

// Submit marks a user send. Valid from idle or from a finished turn
// (starting the next one). Clears any previous error.
func (m *StatusMachine) Submit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.status {
	case StatusIdle, StatusDone, StatusErrored:
		m.status = StatusSubmitted
		m.errMsg = ""
		return true
	}
	return false
}

// StreamStarted marks arrival of the first inbound part.
func (m *StatusMachine) StreamStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusSubmitted {
		return false
	}
	m.status = StatusStreaming
	return true
}

// Complete marks transport-signaled turn completion. A turn that produced
// no parts at all completes straight from submitted.
func (m *StatusMachine) Complete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.status {
	case StatusStreaming, StatusSubmitted:
		m.status = StatusDone
		return true
	}
	return false
}

// Fail marks a transport failure with a user-visible message.
func (m *StatusMachine) Fail(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.status {
	case StatusSubmitted, StatusStreaming:
		m.status = StatusErrored
		m.errMsg = msg
		return true
	}
	return false
}

// Status returns the current state.
func (m *StatusMachine) Status() TurnStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Err returns the failure message, set only in the errored state.
func (m *StatusMachine) Err() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errMsg
}

// Busy reports whether a turn is in flight.
func (m *StatusMachine) Busy() bool {
	s := m.Status()
	return s == StatusSubmitted || s == StatusStreaming
}

// ShowLoader reports whether the loader cue should be visible: a turn is
// in flight and nothing has rendered yet. Once any block exists the loader
// is suppressed even while more parts arrive.
func (m *StatusMachine) ShowLoader(model RenderModel) bool {
	return m.Busy() && model.Empty()
}
