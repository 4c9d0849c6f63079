package formulaeval

import (
	"fortio.org/log"
)

// EvaluationListener observes the evaluation cache. it is meant for tests
// and diagnostics; implementations must not call back into the evaluator.
type EvaluationListener interface {
	// OnCacheHit is called when a cached formula result or a previously read
	// plain value is reused
	OnCacheHit(key CellKey, value Value)
	// OnReadPlainValue is called the first time a non-blank plain cell is
	// read by a formula
	OnReadPlainValue(key CellKey, value Value)
	OnStartEvaluate(key CellKey, tokens []Token)
	OnEndEvaluate(key CellKey, result Value)
	OnClearWholeCache()
	// OnClearCachedValue is called for the cell whose update triggered an
	// invalidation. value is the cell's new plain value, or its old formula
	// result.
	OnClearCachedValue(key CellKey, value Value)
	// OnClearDependentCachedValue is called for every formula result dropped
	// because one of its inputs changed. depth starts at 1.
	OnClearDependentCachedValue(key CellKey, value Value, depth int)
}

// LoggingListener writes every cache event to the verbose log.
type LoggingListener struct{}

func (LoggingListener) OnCacheHit(key CellKey, value Value) {
	log.LogVf("hit %s %s", keyString(key), ValueString(value))
}

func (LoggingListener) OnReadPlainValue(key CellKey, value Value) {
	log.LogVf("value %s %s", keyString(key), ValueString(value))
}

func (LoggingListener) OnStartEvaluate(key CellKey, tokens []Token) {
	log.LogVf("start %s %s", keyString(key), FormatFormula(tokens))
}

func (LoggingListener) OnEndEvaluate(key CellKey, result Value) {
	log.LogVf("end %s %s", keyString(key), ValueString(result))
}

func (LoggingListener) OnClearWholeCache() {
	log.LogVf("clear all")
}

func (LoggingListener) OnClearCachedValue(key CellKey, value Value) {
	log.LogVf("clear %s %s", keyString(key), ValueString(value))
}

func (LoggingListener) OnClearDependentCachedValue(key CellKey, value Value, depth int) {
	log.LogVf("clear%d %s %s", depth, keyString(key), ValueString(value))
}

func keyString(key CellKey) string {
	return "[" + itoa(key.Workbook) + "]" + itoa(key.Sheet) + "!" + CellName(key.Row, key.Col)
}
