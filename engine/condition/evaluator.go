// Package condition implements the engine's gating-expression language:
// comparisons combined by && and ||, evaluated against a step's
// resolved context. A google/cel-go environment is the implementation
// substrate because the gating language is a strict subset of CEL; the
// evaluator is configured to accept only that subset's results.
package condition

import (
	"context"
	"fmt"
	"strconv"

	"github.com/compozy/orchestra/engine/core"
	"github.com/compozy/orchestra/engine/template"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

const defaultCostLimit = 1000

// Evaluator evaluates condition-expression strings to booleans.
type Evaluator struct {
	env          *cel.Env
	costLimit    uint64
	programCache *ristretto.Cache[string, cel.Program]
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCostLimit bounds the estimated evaluation cost CEL will allow per
// expression, guarding against pathological inputs.
func WithCostLimit(limit uint64) Option {
	return func(e *Evaluator) { e.costLimit = limit }
}

// NewCELEvaluator builds an Evaluator over a dynamic, map-shaped activation:
// the whole context (trigger, step output variables, ...) is exposed as the
// single dynamic CEL variable `ctx`.
func NewCELEvaluator(opts ...Option) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.HomogeneousAggregateLiterals(),
		cel.EagerlyValidateDeclarations(true),
		cel.DefaultUTCTimeZone(true),
		cel.Variable("ctx", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("condition: build cel env: %w", err)
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, cel.Program]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("condition: build program cache: %w", err)
	}
	e := &Evaluator{env: env, costLimit: defaultCostLimit, programCache: cache}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate compiles (or fetches from cache) expr and runs it against data,
// which is exposed to the expression as the `ctx` variable so expressions
// read like `ctx.s1.ok == false`. An empty expr always evaluates true: an
// absent condition does not gate its step.
func (e *Evaluator) Evaluate(ctx context.Context, expr string, data map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	prg, err := e.compile(expr)
	if err != nil {
		return false, core.NewError(err, core.CodeInvalidCondition, map[string]any{"expression": expr})
	}
	out, _, err := prg.ContextEval(ctx, map[string]any{"ctx": data})
	if err != nil {
		return false, core.NewError(err, core.CodeInvalidCondition, map[string]any{"expression": expr})
	}
	return asBool(out, expr)
}

// EvaluateTemplated first expands any `${path}` references in expr against
// data (see engine/template), rendering each resolved value as a CEL literal
// (a quoted string, a bare number/bool, or `null`) rather than spliced text,
// then evaluates the resulting boolean expression. This is the entry point a
// step scheduler calls: condition expressions are authored with template
// references, e.g. `${s1.ok} == false`, which substitution reduces to
// `true == false` before the boolean grammar runs; `${s1.status} == "done"`
// reduces to `"active" == "done"`, preserving the quoting a string operand
// needs to remain a valid CEL literal.
func (e *Evaluator) EvaluateTemplated(ctx context.Context, expr string, data map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}
	literal := template.TokenPattern.ReplaceAllStringFunc(expr, func(match string) string {
		path := match[2 : len(match)-1]
		return celLiteral(template.ResolvePath(data, path))
	})
	return e.Evaluate(ctx, literal, data)
}

// celLiteral renders a resolved context value as source text CEL can parse
// back as a literal: strings are quoted (and escaped), everything else is
// rendered in its natural literal form.
func celLiteral(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return strconv.Quote(fmt.Sprintf("%v", val))
	}
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	if cached, ok := e.programCache.Get(expr); ok {
		return cached, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition must evaluate to a boolean, got %s", ast.OutputType())
	}
	prg, err := e.env.Program(ast, cel.CostLimit(e.costLimit))
	if err != nil {
		return nil, fmt.Errorf("program construction: %w", err)
	}
	e.programCache.Set(expr, prg, 1)
	e.programCache.Wait()
	return prg, nil
}

func asBool(out ref.Val, expr string) (bool, error) {
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean", expr)
	}
	return bool(b), nil
}
