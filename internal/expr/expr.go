// Package expr compiles arithmetic formulas over named float variables.
//
// Variables are bound by pointer, so an Evaluator always reads the values
// current at the time Eval is called. A series binding is indexed as
// name[i] and fails at evaluation time when i is out of range.
package expr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/PaesslerAG/gval"
)

var (
	ErrUnknownVariable = errors.New("unknown variable")
	ErrDuplicateName   = errors.New("duplicate variable name")
	ErrNotNumeric      = errors.New("formula did not produce a number")
)

// Bindings maps variable names to the storage the formulas read.
type Bindings struct {
	scalars map[string]*float64
	series  map[string]*[]float64
}

func NewBindings() *Bindings {
	return &Bindings{
		scalars: make(map[string]*float64),
		series:  make(map[string]*[]float64),
	}
}

func (b *Bindings) Scalar(name string, value *float64) error {
	if err := b.checkName(name); err != nil {
		return err
	}
	b.scalars[name] = value
	return nil
}

func (b *Bindings) Series(name string, values *[]float64) error {
	if err := b.checkName(name); err != nil {
		return err
	}
	b.series[name] = values
	return nil
}

// Names lists every bound name in sorted order.
func (b *Bindings) Names() []string {
	names := make([]string, 0, len(b.scalars)+len(b.series))
	for name := range b.scalars {
		names = append(names, name)
	}
	for name := range b.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Bindings) checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("variable name is required")
	}
	_, scalar := b.scalars[name]
	_, series := b.series[name]
	if scalar || series {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	return nil
}

type Evaluator struct {
	formula string
	eval    gval.Evaluable
}

// Compile parses formula against bindings. Every identifier must already be
// bound.
func Compile(formula string, bindings *Bindings) (*Evaluator, error) {
	if strings.TrimSpace(formula) == "" {
		return nil, fmt.Errorf("formula is required")
	}
	c := &compiler{bindings: bindings}
	lang := gval.NewLanguage(
		gval.Full(),
		functions,
		gval.VariableSelector(c.selectVariable),
	)
	eval, err := lang.NewEvaluable(formula)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", formula, err)
	}
	if len(c.unknown) > 0 {
		return nil, fmt.Errorf("formula %q: %w: %s", formula, ErrUnknownVariable, strings.Join(c.unknown, ", "))
	}
	return &Evaluator{formula: formula, eval: eval}, nil
}

func (e *Evaluator) Formula() string { return e.formula }

func (e *Evaluator) Eval() (float64, error) {
	value, err := e.eval(context.Background(), nil)
	if err != nil {
		return 0, fmt.Errorf("evaluate %q: %w", e.formula, err)
	}
	switch v := value.(type) {
	case float64:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("evaluate %q: %w: %v", e.formula, ErrNotNumeric, value)
	}
}

type compiler struct {
	bindings *Bindings
	unknown  []string
}

func (c *compiler) selectVariable(path gval.Evaluables) gval.Evaluable {
	name, err := path[0].EvalString(context.Background(), nil)
	if err != nil {
		c.unknown = append(c.unknown, "<dynamic>")
		return failing(err)
	}

	if scalar, ok := c.bindings.scalars[name]; ok {
		if len(path) > 1 {
			c.unknown = append(c.unknown, name+"[...]")
			return failing(fmt.Errorf("%s is not a series", name))
		}
		return func(context.Context, interface{}) (interface{}, error) {
			return *scalar, nil
		}
	}

	if series, ok := c.bindings.series[name]; ok {
		if len(path) != 2 {
			c.unknown = append(c.unknown, name)
			return failing(fmt.Errorf("series %s needs exactly one index", name))
		}
		index := path[1]
		return func(ctx context.Context, v interface{}) (interface{}, error) {
			key, err := index.EvalString(ctx, v)
			if err != nil {
				return nil, err
			}
			i, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("series %s: index %q is not an integer", name, key)
			}
			values := *series
			if i < 0 || i >= len(values) {
				return nil, fmt.Errorf("series %s: index %d out of range [0, %d)", name, i, len(values))
			}
			return values[i], nil
		}
	}

	c.unknown = append(c.unknown, name)
	return failing(fmt.Errorf("%w: %s", ErrUnknownVariable, name))
}

func failing(err error) gval.Evaluable {
	return func(context.Context, interface{}) (interface{}, error) {
		return nil, err
	}
}

var functions = gval.NewLanguage(
	gval.Function("abs", math.Abs),
	gval.Function("sqrt", math.Sqrt),
	gval.Function("pow", math.Pow),
	gval.Function("exp", math.Exp),
	gval.Function("log", math.Log),
	gval.Function("min", math.Min),
	gval.Function("max", math.Max),
	gval.Function("clamp", func(x, lo, hi float64) float64 {
		return math.Max(lo, math.Min(hi, x))
	}),
)
