package cluster

import "sync"

type (
	// CellStatistics are the per-cell numbers gossiped from secondary
	// cells; summed across cells for the attribute tree. The core never
	// acts on these beyond summation.
	CellStatistics struct {
		ChunkReplicaCount int64
		AvailableSpace int64
		UsedSpace int64
	}

	cellEntry struct {
		state LifecycleState
		stats CellStatistics
	}

	// multicellState holds, per known cell tag, {state, statistics}. The
	// local cell's entry is addressed by a stored key, so setLocalState
	// reaches it with a single map lookup: Go maps don't hand out stable
	// pointers to values, so a stored key stands in for the pointer a
	// C++ implementation would keep directly.
	multicellState struct {
		mu sync.RWMutex
		byTag map[string]*cellEntry
		localCellTag string
		aggregated LifecycleState
		onChange func(LifecycleState)
	}
)

func newMulticellState() *multicellState {
	return &multicellState{byTag: make(map[string]*cellEntry, 1), aggregated: LifecycleOffline}
}

// InitStates inserts offline entries for any tag not yet present, and
// records the local cell tag.
func (m *multicellState) InitStates(localCellTag string, secondaryCellTags []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byTag[localCellTag]; !ok {
		m.byTag[localCellTag] = &cellEntry{state: LifecycleOffline}
	}
	for _, tag := range secondaryCellTags {
		if _, ok := m.byTag[tag]; !ok {
			m.byTag[tag] = &cellEntry{state: LifecycleOffline}
		}
	}
	m.localCellTag = localCellTag
}

func (m *multicellState) setLocalState(s LifecycleState) {
	m.mu.Lock()
	if m.localCellTag == "" {
		m.mu.Unlock()
		return
	}
	e, ok := m.byTag[m.localCellTag]
	if !ok {
		e = &cellEntry{}
		m.byTag[m.localCellTag] = e
	}
	e.state = s
	changed, newAgg := m.recomputeLocked()
	cb := m.onChange
	m.mu.Unlock()
	if changed && cb != nil {
		cb(newAgg)
	}
}

// SetCellDescriptor applies gossip from a secondary cell, used by the
// primary cell.
func (m *multicellState) SetCellDescriptor(cellTag string, state LifecycleState, stats CellStatistics) {
	m.mu.Lock()
	e, ok := m.byTag[cellTag]
	if !ok {
		e = &cellEntry{}
		m.byTag[cellTag] = e
	}
	e.state = state
	e.stats = stats
	changed, newAgg := m.recomputeLocked()
	cb := m.onChange
	m.mu.Unlock()
	if changed && cb != nil {
		cb(newAgg)
	}
}

func (m *multicellState) OnAggregatedStateChanged(f func(LifecycleState)) {
	m.mu.Lock()
	m.onChange = f
	m.mu.Unlock()
}

// recomputeLocked derives the aggregated state: mixed on any disagreement
// among known cells, else the common state. Caller must hold m.mu.
func (m *multicellState) recomputeLocked() (changed bool, agg LifecycleState) {
	var (
		first LifecycleState
		seen bool
		mixed bool
	)
	for _, e := range m.byTag {
		if !seen {
			first = e.state
			seen = true
			continue
		}
		if e.state != first {
			mixed = true
		}
	}
	newAgg := LifecycleOffline
	switch {
	case !seen:
		newAgg = LifecycleOffline
	case mixed:
		newAgg = LifecycleMixed
	default:
		newAgg = first
	}
	changed = newAgg != m.aggregated
	m.aggregated = newAgg
	return changed, newAgg
}

// Recompute re-derives the aggregated state from current per-cell state,
// used after bulk changes such as snapshot reconstruction.
func (m *multicellState) Recompute() {
	m.mu.Lock()
	m.recomputeLocked()
	m.mu.Unlock()
}

func (m *multicellState) AggregatedState() LifecycleState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aggregated
}

func (m *multicellState) AggregatedStatistics() CellStatistics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum CellStatistics
	for _, e := range m.byTag {
		sum.ChunkReplicaCount += e.stats.ChunkReplicaCount
		sum.AvailableSpace += e.stats.AvailableSpace
		sum.UsedSpace += e.stats.UsedSpace
	}
	return sum
}

func (m *multicellState) PerCellStates() map[string]LifecycleState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]LifecycleState, len(m.byTag))
	for k, v := range m.byTag {
		out[k] = v.state
	}
	return out
}

// Node-level convenience wrappers.

func (n *Node) InitMulticellStates(localCellTag string, secondaryCellTags []string) {
	n.multicell.InitStates(localCellTag, secondaryCellTags)
}

func (n *Node) SetCellDescriptor(cellTag string, state LifecycleState, stats CellStatistics) {
	n.multicell.SetCellDescriptor(cellTag, state, stats)
}

func (n *Node) AggregatedState() LifecycleState { return n.multicell.AggregatedState() }

func (n *Node) AggregatedStatistics() CellStatistics { return n.multicell.AggregatedStatistics() }

func (n *Node) PerCellStates() map[string]LifecycleState { return n.multicell.PerCellStates() }

func (n *Node) OnAggregatedStateChanged(f func(LifecycleState)) {
	n.multicell.OnAggregatedStateChanged(f)
}
