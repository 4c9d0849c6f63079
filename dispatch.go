package formulaeval

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"fortio.org/log"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/puzpuzpuz/xsync"
)

// Function is the implementation of a spreadsheet function. args are the
// evaluated operands, still unresolved: references arrive as RefValue or
// Area. returning a *SpreadsheetError as the error makes it the function's
// result; any other error aborts the evaluation.
type Function interface {
	Evaluate(ec *OperationContext, args []Value) (Value, error)
}

// FunctionFunc adapts an ordinary function to the Function interface.
type FunctionFunc func(ec *OperationContext, args []Value) (Value, error)

func (f FunctionFunc) Evaluate(ec *OperationContext, args []Value) (Value, error) {
	return f(ec, args)
}

// variadic marks a function without an upper argument limit
const variadic = -1

// functionDef describes one catalogue entry. fn is nil for a placeholder:
// a function the engine knows by name but cannot evaluate.
type functionDef struct {
	name     string
	minArgs  int
	maxArgs  int
	volatile bool
	fn       Function
}

func (d *functionDef) arityError(arity int) *SpreadsheetError {
	switch {
	case d.minArgs == d.maxArgs && d.minArgs == 0:
		return NewSpreadsheetError(ErrorCodeValue, d.name+" takes no arguments")
	case d.minArgs == d.maxArgs:
		return NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("%s requires exactly %d argument(s), got %d", d.name, d.minArgs, arity))
	case d.maxArgs == variadic:
		return NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("%s requires at least %d argument(s), got %d", d.name, d.minArgs, arity))
	}
	return NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("%s requires %d to %d arguments, got %d", d.name, d.minArgs, d.maxArgs, arity))
}

func (d *functionDef) acceptsArity(arity int) bool {
	return arity >= d.minArgs && (d.maxArgs == variadic || arity <= d.maxArgs)
}

// placeholder is what Lookup returns for a catalogued function without an
// implementation. invoking it is an engine fault, not a #NAME? value, so
// tooling can tell unsupported functions from typos.
type placeholder struct {
	name string
}

func (p placeholder) Evaluate(*OperationContext, []Value) (Value, error) {
	return nil, newNotImplementedError(p.name)
}

// FunctionTable resolves function names to implementations. the built-in
// tier is fixed at construction. the extension tier (the analysis
// toolpack catalogue) starts with placeholders that callers may replace
// with Register, possibly while other goroutines evaluate.
type FunctionTable struct {
	builtins map[string]*functionDef

	extensionLock xsync.RBMutex
	extensions    map[string]*functionDef
}

// NewFunctionTable creates a table whose volatile functions read time and
// randomness from the given sources.
func NewFunctionTable(clock Clock, rng RandomGenerator) *FunctionTable {
	bf := &BuiltInFunctions{clock: clock, rng: rng}
	ft := &FunctionTable{
		builtins:   make(map[string]*functionDef),
		extensions: make(map[string]*functionDef),
	}
	for _, def := range bf.definitions() {
		ft.builtins[def.name] = def
	}
	for _, def := range bf.extensionDefinitions() {
		ft.extensions[def.name] = def
	}
	return ft
}

// NewDefaultFunctionTable creates a table using wall clock time and the
// default random generator.
func NewDefaultFunctionTable() *FunctionTable {
	return NewFunctionTable(&WallClock{}, &DefaultRandomGenerator{})
}

// normalizeFunctionName upper-cases a name and strips the prefixes newer
// file formats put in front of functions added after the original format.
func normalizeFunctionName(name string) string {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for _, prefix := range []string{"_XLFN.", "_XLL.", "_XLWS."} {
		upper = strings.TrimPrefix(upper, prefix)
	}
	return upper
}

func (ft *FunctionTable) lookupDef(name string) (*functionDef, bool) {
	key := normalizeFunctionName(name)
	if def, ok := ft.builtins[key]; ok {
		return def, true
	}
	tk := ft.extensionLock.RLock()
	def, ok := ft.extensions[key]
	ft.extensionLock.RUnlock(tk)
	return def, ok
}

// Lookup returns the implementation of a function. placeholders are
// returned too; they fail when invoked.
func (ft *FunctionTable) Lookup(name string) (Function, bool) {
	def, ok := ft.lookupDef(name)
	if !ok {
		return nil, false
	}
	if def.fn == nil {
		return placeholder{name: def.name}, true
	}
	return def.fn, true
}

// IsVolatile reports whether a function's result changes without any of
// its inputs changing (NOW, RAND, ...).
func (ft *FunctionTable) IsVolatile(name string) bool {
	def, ok := ft.lookupDef(name)
	return ok && def.volatile
}

// Register installs the implementation of an extension function. only
// names of the extension catalogue that are still placeholders can be
// registered.
func (ft *FunctionTable) Register(name string, fn Function) error {
	if fn == nil {
		return NewApplicationError(InvalidArgument, "function implementation must not be nil")
	}
	key := normalizeFunctionName(name)
	if _, ok := ft.builtins[key]; ok {
		return NewApplicationError(FailedPrecondition,
			fmt.Sprintf("%s is a built-in function, only extension functions can be registered", key))
	}

	ft.extensionLock.Lock()
	defer ft.extensionLock.Unlock()
	def, ok := ft.extensions[key]
	if !ok {
		return NewApplicationError(InvalidArgument,
			fmt.Sprintf("%s is not a function of the extension catalogue", key))
	}
	if def.fn != nil {
		return NewApplicationError(AlreadyExists, fmt.Sprintf("%s is already implemented", key))
	}
	ft.extensions[key] = &functionDef{
		name:     def.name,
		minArgs:  def.minArgs,
		maxArgs:  def.maxArgs,
		volatile: def.volatile,
		fn:       fn,
	}
	log.Infof("registered extension function %s", key)
	return nil
}

func (ft *FunctionTable) names(implemented bool) []string {
	var names []string
	for name, def := range ft.builtins {
		if (def.fn != nil) == implemented {
			names = append(names, name)
		}
	}
	tk := ft.extensionLock.RLock()
	for name, def := range ft.extensions {
		if (def.fn != nil) == implemented {
			names = append(names, name)
		}
	}
	ft.extensionLock.RUnlock(tk)
	sort.Strings(names)
	return names
}

// SupportedFunctionNames lists every function that can be evaluated.
func (ft *FunctionTable) SupportedFunctionNames() []string {
	return ft.names(true)
}

// NotSupportedFunctionNames lists catalogued functions that are only
// placeholders.
func (ft *FunctionTable) NotSupportedFunctionNames() []string {
	return ft.names(false)
}

// Suggest returns the catalogued name closest to an unknown one.
func (ft *FunctionTable) Suggest(name string) (string, bool) {
	target := normalizeFunctionName(name)
	candidates := slices.Concat(ft.SupportedFunctionNames(), ft.NotSupportedFunctionNames())
	ranks := fuzzy.RankFindFold(target, candidates)
	if len(ranks) > 0 {
		sort.Sort(ranks)
		return ranks[0].Target, true
	}
	// typos that add letters are not subsequences of any name
	best, bestDistance := "", 3
	for _, candidate := range candidates {
		if d := fuzzy.LevenshteinDistance(target, candidate); d < bestDistance {
			best, bestDistance = candidate, d
		}
	}
	return best, best != ""
}
