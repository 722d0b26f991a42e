package invalidation

// Metrics is a point-in-time view of the invalidation counters. Depth
// truncations and cascade truncations are not errors; they record where
// propagation was deliberately cut short so operators can detect
// under-invalidation risk.
type Metrics struct {
	TotalInvalidations  uint64
	DirectEvents        uint64
	DependencyEvents    uint64
	SymbolEvents        uint64
	DepthTruncations    uint64
	CascadeTruncations  uint64
	HandlerFailures     uint64
	AvgPropagationDepth float64
	GraphNodes          int
	GraphEdges          int
}

// depthAlpha weights the moving average toward recent passes.
const depthAlpha = 0.1

type metricsState struct {
	Metrics
	depthSamples uint64
}

func (m *metricsState) recordEvent(ev Event) {
	m.TotalInvalidations++
	switch ev.Type {
	case TypeDirect:
		m.DirectEvents++
	case TypeDependency:
		m.DependencyEvents++
	case TypeSymbol:
		m.SymbolEvents++
	}

	// Exponential moving average of propagation depth, seeded with the
	// first observed value.
	m.depthSamples++
	if m.depthSamples == 1 {
		m.AvgPropagationDepth = float64(ev.PropagationDepth)
	} else {
		m.AvgPropagationDepth = m.AvgPropagationDepth*(1-depthAlpha) + float64(ev.PropagationDepth)*depthAlpha
	}
}

// historyRing is a bounded ring buffer of the most recent events.
type historyRing struct {
	events []Event
	next   int
	filled bool
}

func newHistoryRing(size int) *historyRing {
	if size <= 0 {
		size = 1
	}
	return &historyRing{events: make([]Event, size)}
}

func (r *historyRing) append(ev Event) {
	r.events[r.next] = ev
	r.next++
	if r.next == len(r.events) {
		r.next = 0
		r.filled = true
	}
}

// snapshot returns the buffered events oldest-first.
func (r *historyRing) snapshot() []Event {
	if !r.filled {
		out := make([]Event, r.next)
		copy(out, r.events[:r.next])
		return out
	}
	out := make([]Event, 0, len(r.events))
	out = append(out, r.events[r.next:]...)
	out = append(out, r.events[:r.next]...)
	return out
}
