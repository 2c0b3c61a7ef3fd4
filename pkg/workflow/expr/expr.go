// Package expr evaluates a workflow trigger rule's `when` expression
// (spec.md §4.1) by compiling it as the body of a tiny Go function with
// yaegi, the way the teacher's plugin loader interprets a whole .go
// file rather than writing a bespoke expression grammar.
package expr

import (
	"fmt"
	"reflect"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Context is the evaluation context bound into a `when` expression:
// the workflow-scoped variables, the session-shared variables, the
// event fields, and the registered condition functions (spec.md §4.1
// step 1).
//
// Map field access in the `when` dialect is index syntax
// (`variables["task_id"]`), not dot syntax: Go has no dynamic field
// access on a map, so `variables.task_id` as spec.md's prose shorthand
// doesn't translate literally into compiled Go. This is the one place
// the `when` dialect diverges from the spec's notation; condition
// function calls and boolean/comparison operators are otherwise plain
// Go.
type Context struct {
	Variables  map[string]any
	Session    map[string]any
	EventType  string
	ToolName   string
	ToolInput  map[string]any
	Conditions map[string]any // name -> func(...) bool/any, registered by the engine
}

// Evaluator compiles and runs `when` expressions. Each call gets a
// fresh yaegi interpreter: yaegi interpreters are not safe to reuse
// across concurrent Eval calls, and workflow evaluation for different
// sessions happens concurrently (spec.md §5 "different sessions
// evaluate concurrently").
type Evaluator struct{}

func New() *Evaluator {
	return &Evaluator{}
}

// Eval compiles expression as a boolean-returning Go expression bound
// against ctx and returns its result. An empty expression always
// evaluates true (a `when`-less rule always matches, per spec.md
// §4.1 step 3b).
func (e *Evaluator) Eval(expression string, ctx Context) (bool, error) {
	if expression == "" {
		return true, nil
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return false, fmt.Errorf("expr: load stdlib symbols: %w", err)
	}
	if err := i.Use(exportsFor(ctx)); err != nil {
		return false, fmt.Errorf("expr: bind evaluation context: %w", err)
	}

	src := wrap(expression, ctx.Conditions)
	if _, err := i.Eval(src); err != nil {
		return false, fmt.Errorf("expr: compile %q: %w", expression, err)
	}
	v, err := i.Eval("Eval")
	if err != nil {
		return false, fmt.Errorf("expr: lookup compiled expression: %w", err)
	}
	fn, ok := v.Interface().(func() bool)
	if !ok {
		return false, fmt.Errorf("expr: %q does not evaluate to a bool", expression)
	}
	return fn(), nil
}

// wrap produces a self-contained Go source file whose Eval() function
// returns expression's value, with every condition function aliased
// to its snake_case workflow-facing name and variables/session/event
// bound as local identifiers.
func wrap(expression string, conditions map[string]any) string {
	src := "package main\n\nimport \"gobbyctx\"\n\nfunc Eval() bool {\n"
	src += "\tvariables := gobbyctx.Variables\n"
	src += "\tsession := gobbyctx.Session\n"
	src += "\tevent := gobbyctx.EventType\n"
	src += "\ttool_name := gobbyctx.ToolName\n"
	src += "\ttool_input := gobbyctx.ToolInput\n"
	for name := range conditions {
		src += fmt.Sprintf("\t%s := gobbyctx.%s\n", name, exportedName(name))
	}
	src += "\treturn " + expression + "\n}\n"
	return src
}

// exportsFor builds the yaegi symbol table for one evaluation: the
// synthetic "gobbyctx" package exposing ctx's fields and condition
// functions under their exported Go names (yaegi, like the Go
// compiler, only sees capitalized package members).
func exportsFor(ctx Context) interp.Exports {
	pkg := map[string]reflect.Value{
		"Variables": reflect.ValueOf(ctx.Variables),
		"Session":   reflect.ValueOf(ctx.Session),
		"EventType": reflect.ValueOf(ctx.EventType),
		"ToolName":  reflect.ValueOf(ctx.ToolName),
		"ToolInput": reflect.ValueOf(ctx.ToolInput),
	}
	for name, fn := range ctx.Conditions {
		pkg[exportedName(name)] = reflect.ValueOf(fn)
	}
	return interp.Exports{"gobbyctx/gobbyctx": pkg}
}

// exportedName capitalizes a snake_case condition name's first rune so
// it is visible across the yaegi package boundary (task_tree_complete
// -> Task_tree_complete); the alias in wrap() restores the
// workflow-facing snake_case spelling as a local name.
func exportedName(name string) string {
	if name == "" {
		return name
	}
	r := []rune(name)
	if r[0] >= 'a' && r[0] <= 'z' {
		r[0] -= 'a' - 'A'
	}
	return string(r)
}
