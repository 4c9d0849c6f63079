package formulaeval

import (
	"fmt"
	"slices"
	"sort"
)

// CollaboratingWorkbooks is a set of workbooks whose formulas may reference
// each other by workbook name. all evaluators of an environment share one
// cache, so a change in one workbook clears dependent results in the
// others.
type CollaboratingWorkbooks struct {
	names      []string
	evaluators []*WorkbookEvaluator
	byName     map[string]*WorkbookEvaluator
	unhooked   bool
}

// emptyEnvironment is the environment of an evaluator standing alone. it
// is never unhooked.
var emptyEnvironment = &CollaboratingWorkbooks{byName: map[string]*WorkbookEvaluator{}}

// SetupEnvironment links evaluators under the names formulas use to refer
// to their workbooks. evaluators leave whatever environment they were in
// before; the other members of those environments are detached too.
func SetupEnvironment(workbookNames []string, evaluators []*WorkbookEvaluator) (*CollaboratingWorkbooks, error) {
	if len(workbookNames) != len(evaluators) {
		return nil, NewApplicationError(InvalidArgument, fmt.Sprintf(
			"Number of workbook names is %d but number of evaluators is %d", len(workbookNames), len(evaluators)))
	}
	if len(evaluators) < 1 {
		return nil, NewApplicationError(InvalidArgument, "Must provide at least one collaborating workbook")
	}

	byName := make(map[string]*WorkbookEvaluator, len(evaluators))
	registered := make(map[*WorkbookEvaluator]string, len(evaluators))
	for i, name := range workbookNames {
		evaluator := evaluators[i]
		if _, dup := byName[name]; dup {
			return nil, NewApplicationError(InvalidArgument, "Duplicate workbook name '"+name+"'")
		}
		if prev, dup := registered[evaluator]; dup {
			return nil, NewApplicationError(InvalidArgument,
				"Attempted to register same workbook under names '"+prev+"' and '"+name+"'")
		}
		registered[evaluator] = name
		byName[name] = evaluator
	}

	listener := evaluators[0].listener
	for _, evaluator := range evaluators[1:] {
		if evaluator.listener != listener {
			return nil, NewApplicationError(FailedPrecondition, "Workbook evaluators must all have the same evaluation listener")
		}
	}

	env := &CollaboratingWorkbooks{
		names:      slices.Clone(workbookNames),
		evaluators: slices.Clone(evaluators),
		byName:     byName,
	}
	unhookOldEnvironments(evaluators)
	cache := NewEvaluationCache(listener)
	for i, evaluator := range env.evaluators {
		evaluator.attachToEnvironment(env, cache, i)
	}
	return env, nil
}

// SetupReferencedWorkbooks is SetupEnvironment for evaluators keyed by
// workbook name. workbook indexes follow the sorted names.
func SetupReferencedWorkbooks(evaluators map[string]*WorkbookEvaluator) (*CollaboratingWorkbooks, error) {
	names := make([]string, 0, len(evaluators))
	for name := range evaluators {
		names = append(names, name)
	}
	sort.Strings(names)
	list := make([]*WorkbookEvaluator, len(names))
	for i, name := range names {
		list[i] = evaluators[name]
	}
	return SetupEnvironment(names, list)
}

func unhookOldEnvironments(evaluators []*WorkbookEvaluator) {
	seen := make(map[*CollaboratingWorkbooks]struct{})
	for _, evaluator := range evaluators {
		env := evaluator.env
		if _, done := seen[env]; done || env == nil {
			continue
		}
		seen[env] = struct{}{}
		env.unhook()
	}
}

func (c *CollaboratingWorkbooks) unhook() {
	if len(c.evaluators) == 0 {
		return
	}
	for _, evaluator := range c.evaluators {
		evaluator.detachFromEnvironment()
	}
	c.unhooked = true
}

// Evaluator returns the evaluator registered under a workbook name.
func (c *CollaboratingWorkbooks) Evaluator(workbookName string) (*WorkbookEvaluator, error) {
	if c.unhooked {
		return nil, NewApplicationError(FailedPrecondition, "This environment has been unhooked")
	}
	if evaluator, ok := c.byName[workbookName]; ok {
		return evaluator, nil
	}
	return nil, newWorkbookNotFoundError(workbookName, c.Names())
}

// Names returns the registered workbook names in registration order.
func (c *CollaboratingWorkbooks) Names() []string {
	return slices.Clone(c.names)
}
