package model

// JobState represents the lifecycle state of a Job.
type JobState string

const (
	JobStateCreated    JobState = "CREATED"
	JobStateReady      JobState = "READY"
	JobStateRunning    JobState = "RUNNING"
	JobStateTerminated JobState = "TERMINATED"
)

// String returns the string representation of the job state.
func (s JobState) String() string {
	return string(s)
}

// IsTerminal returns true if the job has been reaped.
func (s JobState) IsTerminal() bool {
	return s == JobStateTerminated
}

// IsLive returns true while the job's process may still run.
func (s JobState) IsLive() bool {
	switch s {
	case JobStateReady, JobStateRunning:
		return true
	}
	return false
}

// ValidJobTransitions defines the allowed state transitions for Jobs.
// READY → TERMINATED covers a queued job that is killed, or one whose
// admit event is still in flight when it exits.
var ValidJobTransitions = map[JobState][]JobState{
	JobStateCreated: {JobStateReady},
	JobStateReady:   {JobStateRunning, JobStateTerminated},
	JobStateRunning: {JobStateReady, JobStateTerminated},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s JobState) CanTransitionTo(next JobState) bool {
	for _, allowed := range ValidJobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// DispatchKind identifies a scheduling decision taken by the scheduler loop.
type DispatchKind string

const (
	DispatchAdmit   DispatchKind = "admit"
	DispatchPreempt DispatchKind = "preempt"
	DispatchDrop    DispatchKind = "drop"
)

// String returns the string representation of the dispatch kind.
func (k DispatchKind) String() string {
	return string(k)
}
