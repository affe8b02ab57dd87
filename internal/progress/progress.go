// Package progress tracks the single outstanding unit-of-work counter a
// project exposes to the UI while a sync pass runs.
package progress

import (
	"math"
	"sync"
)

// bufferRatio keeps the bar visibly short of full until the pass's final
// bookkeeping step calls Finish.
const bufferRatio = 1.10

type State struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Label   string `json:"label,omitempty"`
}

func (s State) Active() bool {
	return s.Total > 0
}

// Ratio returns the completed fraction in [0, 1].
func (s State) Ratio() float64 {
	if s.Total <= 0 {
		return 0
	}
	return math.Min(1, float64(s.Current)/float64(s.Total))
}

// Total computes the buffered unit count for a batch.
func Total(items, unitsPerItem int) int {
	if items <= 0 || unitsPerItem <= 0 {
		return 0
	}
	return int(math.Ceil(float64(items*unitsPerItem) * bufferRatio))
}

// Reporter serializes every mutation of the counter. Fan-out tasks call
// Advance concurrently; only the reporter ever writes the state.
type Reporter struct {
	mu        sync.Mutex
	state     State
	observers []func(State)
}

func NewReporter() *Reporter {
	return &Reporter{}
}

// Observe registers fn to receive every new state. fn runs with the reporter
// locked and must not call back into it.
func (r *Reporter) Observe(fn func(State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Begin starts a new step. Zero items leaves the reporter idle.
func (r *Reporter) Begin(label string, items, unitsPerItem int) {
	r.set(State{Label: label, Total: Total(items, unitsPerItem)})
}

// Advance adds n completed units. It is safe for concurrent use.
func (r *Reporter) Advance(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Total == 0 || n <= 0 {
		return
	}
	r.state.Current += n
	r.notify()
}

// Finish resets the reporter to idle.
func (r *Reporter) Finish() {
	r.set(State{})
}

func (r *Reporter) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reporter) set(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	r.notify()
}

func (r *Reporter) notify() {
	for _, fn := range r.observers {
		fn(r.state)
	}
}
