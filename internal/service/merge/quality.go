package merge

import (
	"fmt"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
	"gopkg.in/yaml.v3"

	"lakemart/internal/domain"
)

// Expectation evaluation limits. Predicates are operator-supplied config,
// not end-user code, but a runaway expression must not stall a merge.
const (
	predicateMaxSteps = uint64(10_000)
)

// Action decides what happens to a row failing an expectation.
type Action string

const (
	// ActionQuarantine drops the row to the quarantine sink and reports it.
	ActionQuarantine Action = "quarantine"
	// ActionWarn logs the failure and lets the row pass.
	ActionWarn Action = "warn"
)

// Expectation is one declarative data-quality rule: a Starlark predicate
// evaluated per row with the row's fields in scope. A predicate returning
// anything but True fails the row.
type Expectation struct {
	Name      string `yaml:"name"`
	Entity    string `yaml:"entity"`
	Predicate string `yaml:"predicate"`
	Action    Action `yaml:"action"`
}

type expectationsFile struct {
	Expectations []Expectation `yaml:"expectations"`
}

// LoadExpectations reads an expectations YAML file.
func LoadExpectations(path string) ([]Expectation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read expectations file: %w", err)
	}
	var f expectationsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse expectations file: %w", err)
	}
	for i, e := range f.Expectations {
		if e.Name == "" || e.Entity == "" || e.Predicate == "" {
			return nil, domain.ErrValidation("expectation %d: name, entity and predicate are required", i)
		}
		switch e.Action {
		case ActionQuarantine, ActionWarn:
		case "":
			f.Expectations[i].Action = ActionQuarantine
		default:
			return nil, domain.ErrValidation("expectation %q: unknown action %q", e.Name, e.Action)
		}
	}
	return f.Expectations, nil
}

// Failure is one failed expectation for one row.
type Failure struct {
	Rule   string
	Action Action
	Reason string
}

// Gate evaluates configured expectations against incoming rows. Every
// outcome is explicit: a failing row is either quarantined or warned
// about, never silently ignored.
type Gate struct {
	byEntity map[string][]compiledExpectation
}

type compiledExpectation struct {
	Expectation
	expr syntax.Expr
}

// NewGate parses the expectations' predicates. Parse errors are config
// errors and fail fast.
func NewGate(expectations []Expectation) (*Gate, error) {
	g := &Gate{byEntity: make(map[string][]compiledExpectation)}
	for _, e := range expectations {
		expr, err := (&syntax.FileOptions{}).ParseExpr(e.Name, e.Predicate, 0)
		if err != nil {
			return nil, domain.ErrValidation("expectation %q: parse predicate: %v", e.Name, err)
		}
		g.byEntity[e.Entity] = append(g.byEntity[e.Entity], compiledExpectation{Expectation: e, expr: expr})
	}
	return g, nil
}

// Evaluate runs the entity's expectations against one row and returns the
// failures. An evaluation error fails the row with the rule's action: a
// broken predicate must not wave rows through.
func (g *Gate) Evaluate(entity string, key int64, attrs map[string]any) []Failure {
	checks := g.byEntity[entity]
	if len(checks) == 0 {
		return nil
	}

	globals := predicateGlobals(rowDict(key, attrs))

	var failures []Failure
	for _, c := range checks {
		thread := &starlark.Thread{Name: "expectation:" + c.Name}
		thread.SetMaxExecutionSteps(predicateMaxSteps)

		v, err := starlark.EvalExprOptions(&syntax.FileOptions{}, thread, c.expr, globals)
		if err != nil {
			failures = append(failures, Failure{Rule: c.Name, Action: c.Action,
				Reason: fmt.Sprintf("predicate error: %v", err)})
			continue
		}
		if v != starlark.True {
			failures = append(failures, Failure{Rule: c.Name, Action: c.Action,
				Reason: fmt.Sprintf("predicate returned %s", v.String())})
		}
	}
	return failures
}

// rowDict converts a row into a Starlark dict bound as `row`.
func rowDict(key int64, attrs map[string]any) *starlark.Dict {
	d := starlark.NewDict(len(attrs) + 1)
	_ = d.SetKey(starlark.String("key"), starlark.MakeInt64(key))
	for name, value := range attrs {
		_ = d.SetKey(starlark.String(name), toStarlark(value))
	}
	return d
}

func toStarlark(v any) starlark.Value {
	switch t := v.(type) {
	case nil:
		return starlark.None
	case string:
		return starlark.String(t)
	case int64:
		return starlark.MakeInt64(t)
	case float64:
		return starlark.Float(t)
	case bool:
		return starlark.Bool(t)
	case time.Time:
		return starlark.String(t.Format(time.RFC3339))
	default:
		return starlark.String(fmt.Sprint(t))
	}
}

// predicateGlobals binds the row plus the shorthand builtins
// not_null("col") and non_negative("col").
func predicateGlobals(row *starlark.Dict) starlark.StringDict {
	lookup := func(col string) starlark.Value {
		if row == nil {
			return starlark.None
		}
		v, found, err := row.Get(starlark.String(col))
		if err != nil || !found {
			return starlark.None
		}
		return v
	}

	return starlark.StringDict{
		"row": valueOrNone(row),
		"not_null": starlark.NewBuiltin("not_null", func(_ *starlark.Thread, _ *starlark.Builtin,
			args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var col string
			if err := starlark.UnpackPositionalArgs("not_null", args, kwargs, 1, &col); err != nil {
				return nil, err
			}
			return starlark.Bool(lookup(col) != starlark.None), nil
		}),
		"non_negative": starlark.NewBuiltin("non_negative", func(_ *starlark.Thread, _ *starlark.Builtin,
			args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var col string
			if err := starlark.UnpackPositionalArgs("non_negative", args, kwargs, 1, &col); err != nil {
				return nil, err
			}
			v := lookup(col)
			if v == starlark.None {
				// Absent values are not_null's concern, not this rule's.
				return starlark.True, nil
			}
			switch n := v.(type) {
			case starlark.Int:
				return starlark.Bool(n.Sign() >= 0), nil
			case starlark.Float:
				return starlark.Bool(n >= 0), nil
			default:
				return nil, fmt.Errorf("non_negative: column %q is not numeric", col)
			}
		}),
	}
}

func valueOrNone(d *starlark.Dict) starlark.Value {
	if d == nil {
		return starlark.None
	}
	return d
}
