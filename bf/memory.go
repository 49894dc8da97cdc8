package bf

// Memory is a sparse tape addressed by a signed cursor. Untouched cells read
// as 0.
type Memory map[int64]uint8

func NewMemory() Memory {
	return make(Memory)
}

// Get reads a cell without creating it.
func (m Memory) Get(addr int64) uint8 {
	return m[addr]
}

// Load reads a cell, creating it with 0 if it was never written.
func (m Memory) Load(addr int64) uint8 {
	v, ok := m[addr]
	if !ok {
		m[addr] = 0
	}
	return v
}

func (m Memory) Set(addr int64, v uint8) {
	m[addr] = v
}
