package formulaeval

import (
	"strconv"

	"fortio.org/log"
)

// cacheEntry is the cached state of one cell. plain entries hold the cell's
// literal value; formula entries hold the last computed result (nil when
// dirty) and the entries that result was computed from.
type cacheEntry struct {
	key     CellKey
	value   Value
	formula bool

	// dependency edges, kept symmetric: e is in c.consumers iff c is in
	// e.inputs

	inputs    map[*cacheEntry]struct{}
	consumers []*cacheEntry

	// blank cells a formula result was computed from
	blanks *blankCellSet
}

func (e *cacheEntry) addConsumer(c *cacheEntry) {
	for _, existing := range e.consumers {
		if existing == c {
			return
		}
	}
	e.consumers = append(e.consumers, c)
}

func (e *cacheEntry) removeConsumer(c *cacheEntry) {
	for i, existing := range e.consumers {
		if existing == c {
			e.consumers = append(e.consumers[:i], e.consumers[i+1:]...)
			return
		}
	}
}

// setInputs replaces the inputs of a formula entry, keeping the consumer
// lists of old and new inputs in sync.
func (e *cacheEntry) setInputs(inputs []*cacheEntry) {
	next := make(map[*cacheEntry]struct{}, len(inputs))
	for _, in := range inputs {
		next[in] = struct{}{}
	}
	for in := range e.inputs {
		if _, kept := next[in]; !kept {
			in.removeConsumer(e)
		}
	}
	for _, in := range inputs {
		if _, had := e.inputs[in]; !had {
			in.addConsumer(e)
		}
	}
	if len(next) == 0 {
		next = nil
	}
	e.inputs = next
}

// clearFormula drops the cached result together with the input edges. the
// entry re-registers its inputs the next time it is evaluated.
func (e *cacheEntry) clearFormula() {
	e.setInputs(nil)
	e.blanks = nil
	e.value = nil
}

// EvaluationCache memoizes cell values for every workbook of an evaluation
// environment. entries record which formula results were computed from
// which cells, so a notified change clears exactly the results that could
// have been affected, transitively.
type EvaluationCache struct {
	entries  map[CellKey]*cacheEntry
	listener EvaluationListener
}

// NewEvaluationCache creates an empty cache. listener may be nil.
func NewEvaluationCache(listener EvaluationListener) *EvaluationCache {
	return &EvaluationCache{
		entries:  make(map[CellKey]*cacheEntry),
		listener: listener,
	}
}

// Get returns the cached value of a cell, if any. for formula cells the
// value is the last computed result.
func (c *EvaluationCache) Get(key CellKey) (Value, bool) {
	entry, ok := c.entries[key]
	if !ok || entry.value == nil {
		return nil, false
	}
	return entry.value, true
}

// Put stores a formula result computed outside the engine. results stored
// this way have no recorded inputs.
func (c *EvaluationCache) Put(key CellKey, value Value) {
	entry := c.formulaEntry(key)
	entry.setInputs(nil)
	entry.value = value
}

// Invalidate clears the cached value of a cell and of every formula that
// was computed from it.
func (c *EvaluationCache) Invalidate(key CellKey) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	c.recurseClear(entry)
	if entry.formula {
		entry.clearFormula()
	}
}

// InvalidateAll drops every entry.
func (c *EvaluationCache) InvalidateAll() {
	if c.listener != nil {
		c.listener.OnClearWholeCache()
	}
	c.entries = make(map[CellKey]*cacheEntry)
}

// Len returns the number of entries, plain and formula.
func (c *EvaluationCache) Len() int {
	return len(c.entries)
}

// NotifyUpdateCell must be called after a cell's literal value or formula
// changed. value is the new literal value and is ignored for formula cells.
func (c *EvaluationCache) NotifyUpdateCell(key CellKey, isFormula bool, value Value) {
	entry, ok := c.entries[key]
	if !ok {
		// the cell was blank, or has never been read
		if isFormula || !isBlank(value) {
			c.clearBlankReaders(key)
		}
		return
	}
	if isFormula {
		c.recurseClear(entry)
		if entry.formula {
			entry.clearFormula()
		} else {
			delete(c.entries, key)
		}
		return
	}
	if entry.formula {
		// formula replaced by a literal
		c.recurseClear(entry)
		entry.setInputs(nil)
		delete(c.entries, key)
		return
	}
	if ValuesEqual(entry.value, value) {
		return
	}
	entry.value = value
	c.recurseClear(entry)
}

// NotifyDeleteCell must be called after a cell was removed from its sheet.
func (c *EvaluationCache) NotifyDeleteCell(key CellKey) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	if entry.formula {
		entry.setInputs(nil)
	}
	c.recurseClear(entry)
	delete(c.entries, key)
}

// clearBlankReaders clears the formula results computed while key was a
// blank cell.
func (c *EvaluationCache) clearBlankReaders(key CellKey) {
	var readers []*cacheEntry
	for _, entry := range c.entries {
		if entry.formula && entry.value != nil && entry.blanks.contains(key) {
			readers = append(readers, entry)
		}
	}
	for _, reader := range readers {
		if reader.value == nil {
			continue
		}
		if c.listener != nil {
			c.listener.OnClearDependentCachedValue(reader.key, reader.value, 1)
		}
		reader.clearFormula()
		c.clearConsumers(reader, 2)
	}
}

func isBlank(v Value) bool {
	_, ok := v.(BlankValue)
	return ok
}

func (c *EvaluationCache) recurseClear(entry *cacheEntry) {
	if c.listener != nil {
		c.listener.OnClearCachedValue(entry.key, entry.value)
	}
	c.clearConsumers(entry, 1)
}

func (c *EvaluationCache) clearConsumers(entry *cacheEntry, depth int) {
	consumers := append([]*cacheEntry(nil), entry.consumers...)
	for _, consumer := range consumers {
		if consumer.value == nil {
			// already cleared through another path
			continue
		}
		if c.listener != nil {
			c.listener.OnClearDependentCachedValue(consumer.key, consumer.value, depth)
		}
		consumer.clearFormula()
		c.clearConsumers(consumer, depth+1)
	}
}

// formulaEntry returns the entry of a formula cell, creating it when
// needed. a plain entry left over from before the cell became a formula
// without notification is converted.
func (c *EvaluationCache) formulaEntry(key CellKey) *cacheEntry {
	entry, ok := c.entries[key]
	if ok && entry.formula {
		return entry
	}
	if ok {
		log.Warnf("cell %s became a formula without notification", keyString(key))
		c.clearConsumers(entry, 1)
	}
	entry = &cacheEntry{key: key, formula: true}
	c.entries[key] = entry
	return entry
}

// plainValueEntry returns the entry of a non-blank literal cell that a
// formula just read.
func (c *EvaluationCache) plainValueEntry(key CellKey, value Value) *cacheEntry {
	entry, ok := c.entries[key]
	if !ok || entry.formula {
		if ok {
			log.Warnf("cell %s stopped being a formula without notification", keyString(key))
			entry.setInputs(nil)
			c.clearConsumers(entry, 1)
		}
		entry = &cacheEntry{key: key, value: value}
		c.entries[key] = entry
		if c.listener != nil {
			c.listener.OnReadPlainValue(key, value)
		}
		return entry
	}
	if !ValuesEqual(entry.value, value) {
		log.Warnf("cell %s changed from %s to %s without notification", keyString(key),
			ValueString(entry.value), ValueString(value))
		entry.value = value
		c.clearConsumers(entry, 1)
	}
	if c.listener != nil {
		c.listener.OnCacheHit(key, value)
	}
	return entry
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
