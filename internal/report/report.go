// Package report renders the end-of-session job summary.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/rrsched/internal/config"
	"github.com/me/rrsched/pkg/model"
)

// Separator ends every job block in the text report.
const Separator = "------------------------"

// Summary holds aggregate statistics over a session's jobs.
type Summary struct {
	Total         int   `json:"total" yaml:"total"`
	Completed     int   `json:"completed" yaml:"completed"`
	StillRunning  int   `json:"still_running" yaml:"still_running"`
	Failed        int   `json:"failed" yaml:"failed"`
	AvgDurationMs int64 `json:"avg_duration_ms" yaml:"avg_duration_ms"`
	MaxDurationMs int64 `json:"max_duration_ms" yaml:"max_duration_ms"`
	AvgWaitMs     int64 `json:"avg_wait_ms" yaml:"avg_wait_ms"`
	Admissions    int   `json:"admissions" yaml:"admissions"`
	Preemptions   int   `json:"preemptions" yaml:"preemptions"`
}

// Report is the full session dump.
type Report struct {
	SessionID   string       `json:"session_id" yaml:"session_id"`
	NCPU        int          `json:"ncpu" yaml:"ncpu"`
	TSliceMs    int64        `json:"tslice_ms" yaml:"tslice_ms"`
	GeneratedAt time.Time    `json:"generated_at" yaml:"generated_at"`
	Jobs        []*model.Job `json:"jobs" yaml:"jobs"`
	Summary     Summary      `json:"summary" yaml:"summary"`

	// Scheduler holds the loop's own counters when the loop reported them.
	Scheduler *model.LoopStats `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`
}

// Build assembles a report from job records in submission order.
func Build(sessionID string, ncpu int, tslice time.Duration, jobs []*model.Job, now time.Time) *Report {
	if jobs == nil {
		jobs = []*model.Job{}
	}
	return &Report{
		SessionID:   sessionID,
		NCPU:        ncpu,
		TSliceMs:    tslice.Milliseconds(),
		GeneratedAt: now,
		Jobs:        jobs,
		Summary:     Summarize(jobs),
	}
}

// Summarize computes aggregate statistics. Averages cover only the jobs
// they apply to: durations over completed jobs, waits over jobs that ran.
func Summarize(jobs []*model.Job) Summary {
	s := Summary{Total: len(jobs)}
	var totalDuration, totalWait int64
	var ran int
	for _, j := range jobs {
		s.Admissions += j.Admissions
		s.Preemptions += j.Preemptions
		if w := j.WaitMs(); w >= 0 {
			totalWait += w
			ran++
		}
		if !j.Completed {
			s.StillRunning++
			continue
		}
		s.Completed++
		if !j.Exit.Success() {
			s.Failed++
		}
		totalDuration += j.DurationMs
		if j.DurationMs > s.MaxDurationMs {
			s.MaxDurationMs = j.DurationMs
		}
	}
	if s.Completed > 0 {
		s.AvgDurationMs = totalDuration / int64(s.Completed)
	}
	if ran > 0 {
		s.AvgWaitMs = totalWait / int64(ran)
	}
	return s
}

// Write renders r in the given format.
func Write(w io.Writer, r *Report, format string) error {
	switch format {
	case config.ReportText, "":
		return writeText(w, r)
	case config.ReportJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case config.ReportYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func writeText(w io.Writer, r *Report) error {
	var b strings.Builder
	for _, j := range r.Jobs {
		fmt.Fprintf(&b, "Command: %s\n", j.Command)
		fmt.Fprintf(&b, "PID: %d\n", j.PID)
		fmt.Fprintf(&b, "Start time: %s\n", StartTime(j.SubmittedAt))
		if j.Completed {
			if j.FinishedAt != nil {
				fmt.Fprintf(&b, "Completion time: %s\n", StartTime(*j.FinishedAt))
			}
			fmt.Fprintf(&b, "Duration: %d ms\n", j.DurationMs)
			fmt.Fprintf(&b, "Exit status: %s\n", j.Exit)
		} else {
			b.WriteString("Duration: still running\n")
		}
		if wait := j.WaitMs(); wait >= 0 {
			fmt.Fprintf(&b, "Wait time: %d ms\n", wait)
		} else {
			b.WriteString("Wait time: never ran\n")
		}
		fmt.Fprintf(&b, "Admissions: %d, preemptions: %d\n", j.Admissions, j.Preemptions)
		b.WriteString(Separator + "\n")
	}

	s := r.Summary
	fmt.Fprintf(&b, "Jobs: %d total, %d completed, %d still running", s.Total, s.Completed, s.StillRunning)
	if s.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed", s.Failed)
	}
	if s.Completed > 0 {
		fmt.Fprintf(&b, "; average duration %d ms, max %d ms", s.AvgDurationMs, s.MaxDurationMs)
	}
	b.WriteString("\n")
	if r.Scheduler != nil {
		fmt.Fprintf(&b, "Scheduler: %s\n", r.Scheduler)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// StartTime renders t (a start or completion time) as seconds and zero-padded microseconds since the epoch.
func StartTime(t time.Time) string {
	usec := t.UnixMicro()
	return fmt.Sprintf("%d.%06d", usec/1_000_000, usec%1_000_000)
}
