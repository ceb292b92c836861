package model

import (
	"strconv"
	"time"
)

// DurationUnset is the DurationMs value of a job that has not been reaped.
const DurationUnset int64 = -1

// Job is one submitted command: a single OS process plus its bookkeeping.
type Job struct {
	Seq     int      `json:"seq" yaml:"seq"`
	PID     int      `json:"pid" yaml:"pid"`
	Command string   `json:"command" yaml:"command"`
	Args    []string `json:"args" yaml:"args"`
	State   JobState `json:"state" yaml:"state"`

	SubmittedAt time.Time  `json:"submitted_at" yaml:"submitted_at"`
	FirstRunAt  *time.Time `json:"first_run_at,omitempty" yaml:"first_run_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	DurationMs  int64      `json:"duration_ms" yaml:"duration_ms"`
	Completed   bool       `json:"completed" yaml:"completed"`
	Exit        ExitStatus `json:"exit" yaml:"exit"`

	Admissions  int `json:"admissions" yaml:"admissions"`
	Preemptions int `json:"preemptions" yaml:"preemptions"`
}

// ExitStatus describes how a job process terminated.
type ExitStatus struct {
	// Code is the exit code, or -1 when the process was killed by a signal.
	Code int `json:"code" yaml:"code"`
	// Signal names the terminating signal, empty for a normal exit.
	Signal string `json:"signal,omitempty" yaml:"signal,omitempty"`
}

// String renders the status the way a shell would report it.
func (e ExitStatus) String() string {
	if e.Signal != "" {
		return "killed by " + e.Signal
	}
	return "exit " + strconv.Itoa(e.Code)
}

// Success returns true for a normal zero exit.
func (e ExitStatus) Success() bool {
	return e.Signal == "" && e.Code == 0
}

// NewJob creates a job record in the CREATED state.
func NewJob(pid int, command string, args []string, submittedAt time.Time) *Job {
	return &Job{
		PID:         pid,
		Command:     command,
		Args:        args,
		State:       JobStateCreated,
		SubmittedAt: submittedAt,
		DurationMs:  DurationUnset,
	}
}

// Transition moves the job to next if the state machine allows it.
func (j *Job) Transition(next JobState) error {
	if !j.State.CanTransitionTo(next) {
		return &InvalidTransitionError{
			Entity: "Job",
			ID:     strconv.Itoa(j.PID),
			From:   j.State.String(),
			To:     next.String(),
		}
	}
	j.State = next
	return nil
}

// Admit records a resume by the scheduler loop.
func (j *Job) Admit(at time.Time) error {
	if err := j.Transition(JobStateRunning); err != nil {
		return err
	}
	j.NoteAdmission(at)
	return nil
}

// NoteAdmission counts an admission without touching the state. A job that
// exits within its first slice can be reaped before the admit is applied;
// the record still has to show that it ran.
func (j *Job) NoteAdmission(at time.Time) {
	j.Admissions++
	if j.FirstRunAt == nil {
		t := at
		j.FirstRunAt = &t
	}
}

// Preempt records a suspend-and-requeue by the scheduler loop.
func (j *Job) Preempt() error {
	if err := j.Transition(JobStateReady); err != nil {
		return err
	}
	j.Preemptions++
	return nil
}

// Complete records termination. It returns false, leaving the job untouched,
// if the job was already completed.
func (j *Job) Complete(at time.Time, exit ExitStatus) bool {
	if j.Completed {
		return false
	}
	t := at
	j.FinishedAt = &t
	j.DurationMs = at.Sub(j.SubmittedAt).Milliseconds()
	j.Exit = exit
	j.Completed = true
	j.State = JobStateTerminated
	return true
}

// WaitMs is the time spent queued before the first admission, or
// DurationUnset if the job never ran.
func (j *Job) WaitMs() int64 {
	if j.FirstRunAt == nil {
		return DurationUnset
	}
	return j.FirstRunAt.Sub(j.SubmittedAt).Milliseconds()
}

// Clone returns a deep copy safe to hand out of a store.
func (j *Job) Clone() *Job {
	c := *j
	c.Args = append([]string(nil), j.Args...)
	if j.FirstRunAt != nil {
		t := *j.FirstRunAt
		c.FirstRunAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
