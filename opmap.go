package lcbook

import "sync"

// opMap tracks the operations a single Connection currently owns, keyed by
// wire opaque: Add/Remove/Find/FindAndMaybeRemove/Drain.
type opMap struct {
	mu  sync.Mutex
	ops map[uint32]*Operation
}

func newOpMap() *opMap {
	return &opMap{ops: make(map[uint32]*Operation)}
}

// Add registers op under its opaque. Callers must have already confirmed
// ownership (see Connection.takeRequestOwnership) before calling this.
func (m *opMap) Add(op *Operation) {
	m.mu.Lock()
	m.ops[op.Opaque] = op
	m.mu.Unlock()
}

// Remove drops op from the map if it is still present under its opaque,
// reporting whether it was actually removed.
func (m *opMap) Remove(op *Operation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.ops[op.Opaque]; ok && cur == op {
		delete(m.ops, op.Opaque)
		return true
	}
	return false
}

// Find looks up an operation by opaque without removing it.
func (m *opMap) Find(opaque uint32) *Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops[opaque]
}

// FindAndMaybeRemove looks up an operation by opaque, removing it from the
// map unless it is Persistent-shaped (this core has no persistent/
// streaming op kind, so remove is unconditional here).
func (m *opMap) FindAndMaybeRemove(opaque uint32) *Operation {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.ops[opaque]
	if !ok {
		return nil
	}
	delete(m.ops, opaque)
	return op
}

// Drain removes every pending operation, invoking cb for each. Used when a
// Connection dies so in-flight ops can be requeued or failed.
func (m *opMap) Drain(cb func(*Operation)) {
	m.mu.Lock()
	ops := make([]*Operation, 0, len(m.ops))
	for _, op := range m.ops {
		ops = append(ops, op)
	}
	m.ops = make(map[uint32]*Operation)
	m.mu.Unlock()

	for _, op := range ops {
		cb(op)
	}
}

func (m *opMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops)
}
