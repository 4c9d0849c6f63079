package formulaeval

// evaluationFrame is one formula cell being evaluated, with the cells its
// result was computed from so far.
type evaluationFrame struct {
	entry  *cacheEntry
	inputs []*cacheEntry
	seen   map[*cacheEntry]struct{}
	blanks *blankCellSet
}

func (f *evaluationFrame) addInput(e *cacheEntry) {
	if _, ok := f.seen[e]; ok {
		return
	}
	f.seen[e] = struct{}{}
	f.inputs = append(f.inputs, e)
}

// CircularReferenceTracker is the stack of formula cells being evaluated by
// one top-level evaluation. it detects cycles and records the inputs of
// each frame for the cache. a tracker must not be shared between
// concurrent evaluations.
type CircularReferenceTracker struct {
	cache  *EvaluationCache
	frames []*evaluationFrame
	active map[*cacheEntry]struct{}
}

func newCircularReferenceTracker(cache *EvaluationCache) *CircularReferenceTracker {
	return &CircularReferenceTracker{
		cache:  cache,
		frames: make([]*evaluationFrame, 0, 8),
		active: make(map[*cacheEntry]struct{}),
	}
}

// startEvaluate pushes a frame for a formula cell. it returns false, and
// pushes nothing, when the cell is already being evaluated further down
// the stack.
func (t *CircularReferenceTracker) startEvaluate(entry *cacheEntry) bool {
	if _, busy := t.active[entry]; busy {
		return false
	}
	t.active[entry] = struct{}{}
	t.frames = append(t.frames, &evaluationFrame{entry: entry, seen: make(map[*cacheEntry]struct{})})
	return true
}

// updateCacheResult stores the result of the top frame. a circular
// reference error computed below the top level is not cached, because the
// consuming formula may still discard it.
func (t *CircularReferenceTracker) updateCacheResult(result Value) {
	if len(t.frames) == 0 {
		panic("updateCacheResult called without matching startEvaluate")
	}
	if IsError(result, ErrorCodeCircularRef) && len(t.frames) > 1 {
		return
	}
	frame := t.frames[len(t.frames)-1]
	frame.entry.value = result
	frame.entry.setInputs(frame.inputs)
	if frame.blanks.empty() {
		frame.entry.blanks = nil
	} else {
		frame.entry.blanks = frame.blanks
	}
}

// endEvaluate pops the frame of entry, which must be the top frame.
func (t *CircularReferenceTracker) endEvaluate(entry *cacheEntry) {
	n := len(t.frames)
	if n == 0 {
		panic("endEvaluate called without matching startEvaluate")
	}
	if t.frames[n-1].entry != entry {
		panic("endEvaluate called for " + keyString(entry.key) + " but top frame is " + keyString(t.frames[n-1].entry.key))
	}
	t.frames[n-1] = nil
	t.frames = t.frames[:n-1]
	delete(t.active, entry)
}

// acceptFormulaDependency records that the current frame read a formula
// cell.
func (t *CircularReferenceTracker) acceptFormulaDependency(entry *cacheEntry) {
	if len(t.frames) == 0 {
		// top level, nothing consumes this cell
		return
	}
	t.frames[len(t.frames)-1].addInput(entry)
}

// acceptPlainValueDependency records that the current frame read a literal
// cell. blank cells are remembered by the frame only.
func (t *CircularReferenceTracker) acceptPlainValueDependency(key CellKey, value Value) {
	if len(t.frames) == 0 {
		return
	}
	frame := t.frames[len(t.frames)-1]
	if _, blank := value.(BlankValue); blank {
		if frame.blanks == nil {
			frame.blanks = &blankCellSet{}
		}
		frame.blanks.add(key)
		return
	}
	frame.addInput(t.cache.plainValueEntry(key, value))
}
