// Package filter evaluates a view's filter configuration against a single row
// so local mutations can be checked without asking the server.
package filter

import (
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Slach/calendar-sync/pkg/fieldtype"
	"github.com/Slach/calendar-sync/pkg/models"
)

// TypeExpression marks a predicate whose Value is a CEL expression over the
// "row" variable, e.g. `row.field_3 > 10 && row.id != 1`.
const TypeExpression = "expression"

var ErrExpressionType = errors.New("filter expression must evaluate to bool")

// Evaluator combines per field type predicates with AND/OR semantics.
type Evaluator struct {
	registry *fieldtype.Registry
	programs sync.Map
	newEnv   func() (*cel.Env, error)
}

func NewEvaluator(registry *fieldtype.Registry) *Evaluator {
	if registry == nil {
		registry = fieldtype.NewRegistry()
	}
	return &Evaluator{
		registry: registry,
		newEnv: func() (*cel.Env, error) {
			return cel.NewEnv(cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)))
		},
	}
}

// Matches reports whether row passes the view filters. Disabled or empty
// filter sets match every row. Predicates on fields that are missing, trashed or of an unknown
// type are skipped; when every predicate is skipped the row matches.
func (e *Evaluator) Matches(vf models.ViewFilterSpec, fields []models.Field, row models.Row) (bool, error) {
	if vf.Disabled || len(vf.Filters) == 0 {
		return true, nil
	}
	or := strings.EqualFold(string(vf.Type), string(models.FilterOr))
	evaluated := 0
	for _, f := range vf.Filters {
		ok, applied, err := e.matchOne(f, fields, row)
		if err != nil {
			return false, err
		}
		if !applied {
			continue
		}
		evaluated++
		if or && ok {
			return true, nil
		}
		if !or && !ok {
			return false, nil
		}
	}
	if evaluated == 0 {
		return true, nil
	}
	return !or, nil
}

func (e *Evaluator) matchOne(f models.Filter, fields []models.Field, row models.Row) (bool, bool, error) {
	if f.Type == TypeExpression {
		ok, err := e.evalExpression(f.Value, row)
		return ok, true, err
	}
	field, found := models.FindField(fields, f.Field)
	if !found || field.Trashed {
		return false, false, nil
	}
	behavior, known := e.registry.Get(field.Type)
	if !known {
		log.Debug().Int64("field", field.ID).Str("type", field.Type).Msg("skipping filter on unknown field type")
		return false, false, nil
	}
	ok, err := behavior.MatchesFilter(field, f, row.Value(field.ID))
	return ok, true, err
}

func (e *Evaluator) evalExpression(expr string, row models.Row) (bool, error) {
	program, err := e.program(expr)
	if err != nil {
		return false, err
	}
	vars := make(map[string]any, len(row.Values)+1)
	for k, v := range row.Values {
		vars[k] = v
	}
	vars["id"] = row.ID
	out, _, err := program.Eval(map[string]any{"row": vars})
	if err != nil {
		// Missing keys and type errors mean the row does not satisfy the expression.
		log.Debug().Err(err).Int64("row", row.ID).Str("expr", expr).Msg("filter expression evaluation failed")
		return false, nil
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, ErrExpressionType
	}
	return v, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("filter expression required")
	}
	if cached, ok := e.programs.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	env, err := e.newEnv()
	if err != nil {
		return nil, errors.Wrap(err, "cel env")
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "compile %q", expr)
	}
	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, errors.Wrapf(ErrExpressionType, "%q returns %s", expr, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "program %q", expr)
	}
	e.programs.Store(expr, program)
	return program, nil
}
