package history

import (
	"sort"
	"time"

	"github.com/goliatone/go-statemachine"
)

// bottleneckRatio flags an originating state whose average outbound
// transition duration exceeds this multiple of the global average.
const bottleneckRatio = 1.5

// Bottleneck names an originating state that is slowing the machine down.
type Bottleneck struct {
	State   string        `json:"state"`
	Average time.Duration `json:"average"`
	Ratio   float64       `json:"ratio"`
	Count   int           `json:"count"`
}

// PerformanceReport is the on-demand aggregate over the ledgers.
type PerformanceReport struct {
	TransitionCount   int                             `json:"transition_count"`
	AverageTransition time.Duration                   `json:"average_transition"`
	Slowest           []statemachine.TransitionRecord `json:"slowest,omitempty"`
	Fastest           []statemachine.TransitionRecord `json:"fastest,omitempty"`
	ErrorRate         float64                         `json:"error_rate"`
	StateDistribution map[string]int                  `json:"state_distribution,omitempty"`
	EventFrequency    map[string]int                  `json:"event_frequency,omitempty"`
	Bottlenecks       []Bottleneck                    `json:"bottlenecks,omitempty"`
}

// AnalyzePerformance computes the performance report over the current
// ledgers. Bottlenecks are originating states whose average outbound
// duration exceeds 1.5x the global average, ranked descending.
func (r *Recorder) AnalyzePerformance() PerformanceReport {
	transitions := r.Transitions()
	events := r.Events()

	report := PerformanceReport{
		TransitionCount:   len(transitions),
		StateDistribution: make(map[string]int),
		EventFrequency:    make(map[string]int),
	}
	if len(transitions) == 0 && len(events) == 0 {
		return report
	}

	var total time.Duration
	failures := 0
	perOrigin := make(map[string]*originStat)
	for _, rec := range transitions {
		total += rec.Duration
		if !rec.Success {
			failures++
		}
		report.StateDistribution[rec.To]++
		stat, ok := perOrigin[rec.From]
		if !ok {
			stat = &originStat{}
			perOrigin[rec.From] = stat
		}
		stat.total += rec.Duration
		stat.count++
	}
	for _, rec := range events {
		report.EventFrequency[rec.Event]++
	}
	if len(transitions) > 0 {
		report.AverageTransition = total / time.Duration(len(transitions))
		report.ErrorRate = float64(failures) / float64(len(transitions))
	}

	sorted := make([]statemachine.TransitionRecord, len(transitions))
	copy(sorted, transitions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Duration > sorted[j].Duration
	})
	report.Slowest = topSlice(sorted, r.topN)
	reversed := make([]statemachine.TransitionRecord, len(sorted))
	for i, rec := range sorted {
		reversed[len(sorted)-1-i] = rec
	}
	report.Fastest = topSlice(reversed, r.topN)

	if report.AverageTransition > 0 {
		for state, stat := range perOrigin {
			avg := stat.total / time.Duration(stat.count)
			ratio := float64(avg) / float64(report.AverageTransition)
			if ratio > bottleneckRatio {
				report.Bottlenecks = append(report.Bottlenecks, Bottleneck{
					State:   state,
					Average: avg,
					Ratio:   ratio,
					Count:   stat.count,
				})
			}
		}
		sort.Slice(report.Bottlenecks, func(i, j int) bool {
			if report.Bottlenecks[i].Average == report.Bottlenecks[j].Average {
				return report.Bottlenecks[i].State < report.Bottlenecks[j].State
			}
			return report.Bottlenecks[i].Average > report.Bottlenecks[j].Average
		})
	}
	return report
}

type originStat struct {
	total time.Duration
	count int
}

func topSlice(records []statemachine.TransitionRecord, n int) []statemachine.TransitionRecord {
	if len(records) == 0 {
		return nil
	}
	if n > len(records) {
		n = len(records)
	}
	out := make([]statemachine.TransitionRecord, n)
	copy(out, records[:n])
	return out
}
