package extract

import "sync"

// Trace records which selector and read method produced a field value.
type Trace struct {
	Field    string `json:"field"`
	Selector string `json:"selector"`
	Method   string `json:"method"`
	Value    string `json:"value"`
}

// Recorder observes primitive read operations (text reads, attribute reads)
// performed by the extraction engine. The engine is handed a Recorder at
// construction time: production wiring injects NopRecorder, diagnostic
// tooling injects a TraceRecorder. Either way the extraction output is
// byte-identical; recording only observes.
type Recorder interface {
	Record(t Trace)
}

// NopRecorder discards traces. It is the production implementation and
// imposes no recording cost.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(Trace) {}

// TraceRecorder accumulates traces for diagnostic tooling.
type TraceRecorder struct {
	mu     sync.Mutex
	traces []Trace
}

// NewTraceRecorder constructs an empty TraceRecorder.
func NewTraceRecorder() *TraceRecorder {
	return &TraceRecorder{}
}

// Record implements Recorder.
func (r *TraceRecorder) Record(t Trace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces = append(r.traces, t)
}

// Traces returns a copy of everything recorded so far.
func (r *TraceRecorder) Traces() []Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Trace, len(r.traces))
	copy(out, r.traces)
	return out
}

// Reset clears accumulated traces between documents.
func (r *TraceRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces = nil
}
