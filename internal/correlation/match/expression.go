package match

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	dErrors "correlate/pkg/domain-errors"
)

// ExprEnv is the sandboxed evaluation environment for expression rules.
// Expressions see two read-only maps, `source` and `target`, and a fixed
// operator set: equality, membership (in), startsWith, contains, and the
// logical connectives. Anything else is rejected at validation time, so
// client-provided expressions can never reach arbitrary CEL builtins.
type ExprEnv struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]*compiledExpr
}

// compiledExpr is a checked, cost-limited CEL program.
type compiledExpr struct {
	prg cel.Program
}

// allowedFunctions is the fixed operator set exposed to rule authors.
var allowedFunctions = map[string]bool{
	"_&&_":       true,
	"_||_":       true,
	"!_":         true,
	"_==_":       true,
	"_!=_":       true,
	"@in":        true,
	"_[_]":       true,
	"startsWith": true,
	"contains":   true,
}

// NewExprEnv builds the shared CEL environment. One environment serves all
// rules; programs are cached per expression string.
func NewExprEnv() (*ExprEnv, error) {
	env, err := cel.NewEnv(
		cel.Variable("source", cel.DynType),
		cel.Variable("target", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create expression environment: %w", err)
	}
	return &ExprEnv{
		env:   env,
		cache: make(map[string]*compiledExpr),
	}, nil
}

// Validate parses and checks an expression against the restricted operator
// set. This backs rule-save validation and the front end's "Test Expression"
// dry run; a rule whose expression fails here is never stored.
func (e *ExprEnv) Validate(expression string) error {
	if expression == "" {
		return dErrors.New(dErrors.CodeValidation, "expression is required")
	}

	parsed, issues := e.env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return dErrors.Wrap(issues.Err(), dErrors.CodeValidation, "expression does not parse")
	}

	expr := parsed.Expr() //nolint:staticcheck // deprecated, but still the only AST traversal surface
	if err := checkNode(expr); err != nil {
		return err
	}

	checked, issues := e.env.Check(parsed)
	if issues != nil && issues.Err() != nil {
		return dErrors.Wrap(issues.Err(), dErrors.CodeValidation, "expression does not typecheck")
	}
	out := checked.OutputType()
	if out != cel.BoolType && out != cel.DynType {
		return dErrors.Newf(dErrors.CodeValidation, "expression must produce a boolean, got %s", out)
	}
	return nil
}

// DryRun validates the expression and evaluates it against caller-supplied
// test attribute maps, returning the boolean it produced.
func (e *ExprEnv) DryRun(expression string, source, target map[string]any) (bool, error) {
	prog, err := e.compile(expression)
	if err != nil {
		return false, err
	}
	return prog.eval(source, target)
}

// compile validates the expression and builds a cached, cost-limited program.
func (e *ExprEnv) compile(expression string) (*compiledExpr, error) {
	e.mu.RLock()
	prog, hit := e.cache[expression]
	e.mu.RUnlock()
	if hit {
		return prog, nil
	}

	if err := e.Validate(expression); err != nil {
		return nil, err
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, dErrors.Wrap(issues.Err(), dErrors.CodeValidation, "expression does not compile")
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000), // hard bound on evaluation cost
	)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "expression program build failed")
	}

	prog = &compiledExpr{prg: prg}
	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()
	return prog, nil
}

func (p *compiledExpr) eval(source, target map[string]any) (bool, error) {
	if source == nil {
		source = map[string]any{}
	}
	if target == nil {
		target = map[string]any{}
	}
	out, _, err := p.prg.Eval(map[string]any{
		"source": source,
		"target": target,
	})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression result is not a boolean")
	}
	return result, nil
}

// checkNode walks the parsed AST and rejects anything outside the fixed
// operator set. Comprehensions (macros like exists/all) and struct literals
// are forbidden outright.
func checkNode(e *exprpb.Expr) error {
	if e == nil {
		return nil
	}

	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_ConstExpr:
		return nil

	case *exprpb.Expr_IdentExpr:
		name := k.IdentExpr.Name
		if name != "source" && name != "target" {
			return dErrors.Newf(dErrors.CodeValidation, "unknown identifier %q: only source and target are available", name)
		}
		return nil

	case *exprpb.Expr_SelectExpr:
		return checkNode(k.SelectExpr.Operand)

	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.Elements {
			if err := checkNode(el); err != nil {
				return err
			}
		}
		return nil

	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		if !allowedFunctions[call.Function] {
			return dErrors.Newf(dErrors.CodeValidation, "function %q is not allowed", call.Function)
		}
		if call.Target != nil {
			if err := checkNode(call.Target); err != nil {
				return err
			}
		}
		for _, arg := range call.Args {
			if err := checkNode(arg); err != nil {
				return err
			}
		}
		return nil

	case *exprpb.Expr_ComprehensionExpr:
		return dErrors.New(dErrors.CodeValidation, "comprehensions are not allowed")

	case *exprpb.Expr_StructExpr:
		return dErrors.New(dErrors.CodeValidation, "struct and map literals are not allowed")

	default:
		return dErrors.New(dErrors.CodeValidation, "unsupported expression construct")
	}
}
