package model

import "fmt"

// LoopStats are the cumulative counters of a scheduler loop.
type LoopStats struct {
	Cycles          int `json:"cycles" yaml:"cycles"`
	Admissions      int `json:"admissions" yaml:"admissions"`
	Preemptions     int `json:"preemptions" yaml:"preemptions"`
	Drops           int `json:"drops" yaml:"drops"`
	PeakConcurrency int `json:"peak_concurrency" yaml:"peak_concurrency"`
}

func (s LoopStats) String() string {
	return fmt.Sprintf("%d cycles, %d admissions, %d preemptions, %d drops, peak concurrency %d",
		s.Cycles, s.Admissions, s.Preemptions, s.Drops, s.PeakConcurrency)
}
