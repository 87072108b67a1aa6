// Package metrics keeps in-process counters for the suggestion pipeline.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/Veraticus/spice-feedback/internal/model"
)

// SourceCounters tracks outcomes for one suggestion source.
type SourceCounters struct {
	Shown    atomic.Int64
	AskAgent atomic.Int64
	Accepted atomic.Int64
	Rejected atomic.Int64
	Errors   atomic.Int64
}

// Recorder is a concurrency-safe set of counters.
// The zero value is not usable; call New.
type Recorder struct {
	sources        map[model.SuggestionSource]*SourceCounters
	shadowCompared atomic.Int64
	shadowAgreed   atomic.Int64
	statsDegraded  atomic.Int64
	feedbackFailed atomic.Int64
	mu             sync.RWMutex
}

// New returns a Recorder with counters for every known source.
func New() *Recorder {
	return &Recorder{
		sources: map[model.SuggestionSource]*SourceCounters{
			model.SourceRule:  {},
			model.SourceModel: {},
		},
	}
}

func (r *Recorder) source(s model.SuggestionSource) *SourceCounters {
	r.mu.RLock()
	c, ok := r.sources[s]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.sources[s]; !ok {
		c = &SourceCounters{}
		r.sources[s] = c
	}
	return c
}

// Shown counts a suggestion returned to the caller.
func (r *Recorder) Shown(s model.SuggestionSource) { r.source(s).Shown.Add(1) }

// AskAgent counts a transaction withheld by the confidence gate.
func (r *Recorder) AskAgent(s model.SuggestionSource) { r.source(s).AskAgent.Add(1) }

// Accepted counts a suggestion's first accept.
func (r *Recorder) Accepted(s model.SuggestionSource) { r.source(s).Accepted.Add(1) }

// Rejected counts a reject signal.
func (r *Recorder) Rejected(s model.SuggestionSource) { r.source(s).Rejected.Add(1) }

// EngineError counts a failed engine call.
func (r *Recorder) EngineError(s model.SuggestionSource) { r.source(s).Errors.Add(1) }

// ShadowCompared counts one shadow comparison and whether the engines agreed.
func (r *Recorder) ShadowCompared(agreed bool) {
	r.shadowCompared.Add(1)
	if agreed {
		r.shadowAgreed.Add(1)
	}
}

// StatsDegraded counts a batch scored without feedback adjustment.
func (r *Recorder) StatsDegraded() { r.statsDegraded.Add(1) }

// FeedbackFailed counts a swallowed feedback write failure.
func (r *Recorder) FeedbackFailed() { r.feedbackFailed.Add(1) }

// SourceSnapshot is a point-in-time copy of SourceCounters.
type SourceSnapshot struct {
	Shown    int64 `json:"shown" yaml:"shown"`
	AskAgent int64 `json:"ask_agent" yaml:"ask_agent"`
	Accepted int64 `json:"accepted" yaml:"accepted"`
	Rejected int64 `json:"rejected" yaml:"rejected"`
	Errors   int64 `json:"errors" yaml:"errors"`
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Sources        map[model.SuggestionSource]SourceSnapshot `json:"sources" yaml:"sources"`
	ShadowCompared int64                                     `json:"shadow_compared" yaml:"shadow_compared"`
	ShadowAgreed   int64                                     `json:"shadow_agreed" yaml:"shadow_agreed"`
	StatsDegraded  int64                                     `json:"stats_degraded" yaml:"stats_degraded"`
	FeedbackFailed int64                                     `json:"feedback_failed" yaml:"feedback_failed"`
}

// Snapshot copies the current counter values.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Sources:        make(map[model.SuggestionSource]SourceSnapshot, len(r.sources)),
		ShadowCompared: r.shadowCompared.Load(),
		ShadowAgreed:   r.shadowAgreed.Load(),
		StatsDegraded:  r.statsDegraded.Load(),
		FeedbackFailed: r.feedbackFailed.Load(),
	}
	for src, c := range r.sources {
		snap.Sources[src] = SourceSnapshot{
			Shown:    c.Shown.Load(),
			AskAgent: c.AskAgent.Load(),
			Accepted: c.Accepted.Load(),
			Rejected: c.Rejected.Load(),
			Errors:   c.Errors.Load(),
		}
	}
	return snap
}
