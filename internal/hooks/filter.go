// Package hooks holds the listeners that connect the change stream to the
// outside: a CEL expression deciding which records are accepted and a
// Redis publisher for change events.
package hooks

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/roach88/radstore/internal/notify"
	"github.com/roach88/radstore/internal/record"
)

// Filter accepts incoming records for which a CEL expression is true.
// The expression sees `tags`, a map from attribute keyword to value, and
// `size`, the pixel payload length in bytes, e.g.
//
//	tags.Modality != "SR" && size < 50000000
type Filter struct {
	notify.NopListener
	expr string
	prg  cel.Program
}

// NewFilter compiles expr. The expression must evaluate to a bool.
func NewFilter(expr string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("tags", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("size", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("filter must return bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

// Expression returns the source of the filter.
func (f *Filter) Expression() string { return f.expr }

func (f *Filter) OnFilterIncoming(ctx context.Context, ds *record.Dataset) (bool, error) {
	tags := make(map[string]string, len(ds.Attributes))
	for k, v := range ds.Attributes {
		tags[string(k)] = v
	}

	out, _, err := f.prg.ContextEval(ctx, map[string]any{
		"tags": tags,
		"size": int64(len(ds.Pixels)),
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean, got %T", out.Value())
	}
	return result, nil
}
