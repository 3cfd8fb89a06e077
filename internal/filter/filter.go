// Package filter translates AIP-160 filter expressions over interaction
// records into SQL WHERE fragments.
package filter

import (
	"fmt"
	"strings"
	"time"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// SQLCondition represents a SQL WHERE clause fragment with parameters.
type SQLCondition struct {
	// Clause is the SQL WHERE clause (e.g., "channel = ?").
	Clause string
	// Params are the positional parameters for the clause.
	Params []any
}

// Empty reports whether the condition matches everything.
func (c SQLCondition) Empty() bool {
	return c.Clause == ""
}

type column struct {
	name string
	kind string // "string", "bool" or "timestamp"
}

// fields maps filter identifiers to interaction columns.
var fields = map[string]column{
	"staff":          {"staff_name", "string"},
	"channel":        {"channel", "string"},
	"other_channel":  {"other_channel", "string"},
	"branch":         {"branch", "string"},
	"category":       {"category", "string"},
	"other_category": {"other_category", "string"},
	"wanted_item":    {"wanted_item", "string"},
	"purchased":      {"purchased", "bool"},
	"out_of_stock":   {"out_of_stock", "bool"},
	"created_at":     {"created_at", "timestamp"},
}

// Fields lists the identifiers a filter may use.
func Fields() []string {
	return []string{
		"staff", "channel", "other_channel", "branch", "category",
		"other_category", "wanted_item", "purchased", "out_of_stock", "created_at",
	}
}

// InteractionDeclarations returns the declarations for interaction filtering.
// true and false are declared as identifiers because the grammar has no
// boolean literals.
func InteractionDeclarations() (*filtering.Declarations, error) {
	opts := []filtering.DeclarationOption{
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent("true", filtering.TypeBool),
		filtering.DeclareIdent("false", filtering.TypeBool),
	}
	for _, name := range Fields() {
		var t *expr.Type
		switch fields[name].kind {
		case "bool":
			t = filtering.TypeBool
		case "timestamp":
			t = filtering.TypeTimestamp
		default:
			t = filtering.TypeString
		}
		opts = append(opts, filtering.DeclareIdent(name, t))
	}
	return filtering.NewDeclarations(opts...)
}

// ParseInteractionFilter parses an AIP-160 filter expression and returns a
// SQL condition. Returns an empty condition for an empty filter string.
//
// Examples:
//
//	channel = "WhatsApp" AND purchased = false
//	created_at >= "2026-01-01T00:00:00Z"
//	wanted_item:"charger"
func ParseInteractionFilter(filterStr string) (SQLCondition, error) {
	if strings.TrimSpace(filterStr) == "" {
		return SQLCondition{}, nil
	}

	decls, err := InteractionDeclarations()
	if err != nil {
		return SQLCondition{}, fmt.Errorf("create declarations: %w", err)
	}

	filter, err := filtering.ParseFilterString(filterStr, decls)
	if err != nil {
		return SQLCondition{}, fmt.Errorf("parse filter: %w", err)
	}

	return translateExpr(filter.CheckedExpr.GetExpr())
}

// translateExpr translates a CEL expression to a SQL condition.
func translateExpr(e *expr.Expr) (SQLCondition, error) {
	if e == nil {
		return SQLCondition{}, nil
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_CallExpr:
		return translateCall(kind.CallExpr)
	case *expr.Expr_IdentExpr:
		// A bare boolean field, e.g. "purchased".
		return translateBareIdent(kind.IdentExpr.GetName())
	default:
		return SQLCondition{}, fmt.Errorf("unsupported expression type: %T", kind)
	}
}

// translateCall translates a CEL function call to a SQL condition.
func translateCall(call *expr.Expr_Call) (SQLCondition, error) {
	switch call.Function {
	case filtering.FunctionAnd, filtering.FunctionFuzzyAnd:
		return translateJunction(call.Args, "AND")
	case filtering.FunctionOr:
		return translateJunction(call.Args, "OR")
	case filtering.FunctionNot:
		return translateNot(call.Args)
	case filtering.FunctionEquals, filtering.FunctionNotEquals,
		filtering.FunctionLessThan, filtering.FunctionLessEquals,
		filtering.FunctionGreaterThan, filtering.FunctionGreaterEquals:
		return translateComparison(call.Args, call.Function)
	case filtering.FunctionHas:
		return translateHas(call.Args)
	default:
		return SQLCondition{}, fmt.Errorf("unsupported function: %s", call.Function)
	}
}

func translateJunction(args []*expr.Expr, op string) (SQLCondition, error) {
	if len(args) < 2 {
		return SQLCondition{}, fmt.Errorf("%s requires at least 2 arguments", op)
	}

	parts := make([]string, 0, len(args))
	var params []any
	for _, arg := range args {
		cond, err := translateExpr(arg)
		if err != nil {
			return SQLCondition{}, err
		}
		parts = append(parts, cond.Clause)
		params = append(params, cond.Params...)
	}

	return SQLCondition{
		Clause: "(" + strings.Join(parts, " "+op+" ") + ")",
		Params: params,
	}, nil
}

func translateNot(args []*expr.Expr) (SQLCondition, error) {
	if len(args) != 1 {
		return SQLCondition{}, fmt.Errorf("NOT requires 1 argument")
	}
	inner, err := translateExpr(args[0])
	if err != nil {
		return SQLCondition{}, err
	}
	return SQLCondition{Clause: "(NOT " + inner.Clause + ")", Params: inner.Params}, nil
}

func translateBareIdent(name string) (SQLCondition, error) {
	col, ok := fields[name]
	if !ok || col.kind != "bool" {
		return SQLCondition{}, fmt.Errorf("%s is not a boolean field", name)
	}
	return SQLCondition{Clause: col.name + " = ?", Params: []any{true}}, nil
}

func translateComparison(args []*expr.Expr, op string) (SQLCondition, error) {
	if len(args) != 2 {
		return SQLCondition{}, fmt.Errorf("comparison requires 2 arguments")
	}

	field, err := extractFieldName(args[0])
	if err != nil {
		return SQLCondition{}, err
	}
	col, ok := fields[field]
	if !ok {
		return SQLCondition{}, fmt.Errorf("unknown field: %s", field)
	}

	value, err := extractValue(args[1], col.kind)
	if err != nil {
		return SQLCondition{}, fmt.Errorf("%s: %w", field, err)
	}
	if col.kind == "bool" && op != filtering.FunctionEquals && op != filtering.FunctionNotEquals {
		return SQLCondition{}, fmt.Errorf("%s only supports = and !=", field)
	}

	return SQLCondition{
		Clause: fmt.Sprintf("%s %s ?", col.name, op),
		Params: []any{value},
	}, nil
}

// translateHas maps field:"text" to a case-insensitive substring match.
func translateHas(args []*expr.Expr) (SQLCondition, error) {
	if len(args) != 2 {
		return SQLCondition{}, fmt.Errorf("has requires 2 arguments")
	}
	field, err := extractFieldName(args[0])
	if err != nil {
		return SQLCondition{}, err
	}
	col, ok := fields[field]
	if !ok || col.kind != "string" {
		return SQLCondition{}, fmt.Errorf("%s does not support ':'", field)
	}
	value, err := extractValue(args[1], "string")
	if err != nil {
		return SQLCondition{}, err
	}
	pattern := "%" + escapeLike(value.(string)) + "%"
	return SQLCondition{
		Clause: col.name + ` LIKE ? ESCAPE '\'`,
		Params: []any{pattern},
	}, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func extractFieldName(e *expr.Expr) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil expression")
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_IdentExpr:
		return kind.IdentExpr.Name, nil
	default:
		return "", fmt.Errorf("expected identifier, got %T", kind)
	}
}

func extractValue(e *expr.Expr, kind string) (any, error) {
	if e == nil {
		return nil, fmt.Errorf("nil expression")
	}

	switch v := e.ExprKind.(type) {
	case *expr.Expr_ConstExpr:
		s, ok := v.ConstExpr.ConstantKind.(*expr.Constant_StringValue)
		if !ok {
			return nil, fmt.Errorf("expected a quoted string, got %T", v.ConstExpr.ConstantKind)
		}
		if kind == "timestamp" {
			return parseTimestamp(s.StringValue)
		}
		return s.StringValue, nil
	case *expr.Expr_IdentExpr:
		switch v.IdentExpr.Name {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("expected a value, got identifier %s", v.IdentExpr.Name)
	case *expr.Expr_CallExpr:
		// timestamp("...")
		if v.CallExpr.Function == filtering.FunctionTimestamp && len(v.CallExpr.Args) == 1 {
			return extractValue(v.CallExpr.Args[0], "timestamp")
		}
		return nil, fmt.Errorf("unsupported function in value position: %s", v.CallExpr.Function)
	default:
		return nil, fmt.Errorf("expected constant or timestamp, got %T", v)
	}
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp format: %s", s)
	}
	return t.UTC(), nil
}
