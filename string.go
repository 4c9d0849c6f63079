package formulaeval

// stringTable interns the text of cells and cached formula results, with
// reference counting so that overwritten text is released. id 0 is never
// handed out and stands for "no string".
type stringTable struct {
	ids       map[string]uint32
	strings   map[uint32]string
	refCounts map[uint32]int
	nextID    uint32
}

func newStringTable() *stringTable {
	return &stringTable{
		ids:       make(map[string]uint32),
		strings:   make(map[uint32]string),
		refCounts: make(map[uint32]int),
		nextID:    1,
	}
}

// intern adds a string to the table or increments its reference count if
// it already exists.
func (st *stringTable) intern(s string) uint32 {
	if id, exists := st.ids[s]; exists {
		st.refCounts[id]++
		return id
	}
	id := st.nextID
	st.ids[s] = id
	st.strings[id] = s
	st.refCounts[id] = 1
	st.nextID++
	return id
}

func (st *stringTable) get(id uint32) string {
	return st.strings[id]
}

// release drops one reference. the string is forgotten once nothing refers
// to it.
func (st *stringTable) release(id uint32) {
	s, exists := st.strings[id]
	if !exists {
		return
	}
	st.refCounts[id]--
	if st.refCounts[id] <= 0 {
		delete(st.ids, s)
		delete(st.strings, id)
		delete(st.refCounts, id)
	}
}

// Len returns the number of distinct strings held
func (st *stringTable) Len() int {
	return len(st.ids)
}
