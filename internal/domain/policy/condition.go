package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// CompileCondition renders a structured Condition tree as a CEL expression
// string. FieldOp paths are addressed through the body_field()/header()
// helper functions the CEL environment registers, so "body.model" and
// "headers.x-ailink-no-cache" resolve against the RV without needing a CEL
// variable per possible JSON path.
func CompileCondition(c Condition) string {
	switch c.Kind {
	case ConditionAlways, "":
		return "true"
	case ConditionNot:
		if c.Not == nil {
			return "true"
		}
		return fmt.Sprintf("!(%s)", CompileCondition(*c.Not))
	case ConditionAll:
		return joinConditions(c.All, "&&")
	case ConditionAny:
		return joinConditions(c.Any, "||")
	case ConditionFieldOp:
		return compileFieldOp(c)
	default:
		return "true"
	}
}

func joinConditions(cs []Condition, op string) string {
	if len(cs) == 0 {
		return "true"
	}
	parts := make([]string, 0, len(cs))
	for _, sub := range cs {
		parts = append(parts, fmt.Sprintf("(%s)", CompileCondition(sub)))
	}
	return strings.Join(parts, " "+op+" ")
}

// rvFieldExpr renders a dotted RV path ("model", "body.temperature",
// "headers.x-ailink-no-cache", "usage.spend_today_usd", "dest_url", ...) as a
// CEL accessor expression. Top-level names map onto the CEL environment's
// own variables (see universal_env.go); "body."/"headers." prefixes index
// into the corresponding map variable so arbitrary request fields are
// reachable without a CEL variable per JSON path.
func rvFieldExpr(path string) string {
	switch {
	case path == "usage.spend_today_usd":
		return "spend_today_usd"
	case strings.HasPrefix(path, "body."):
		return mapIndexChain("body", strings.TrimPrefix(path, "body."))
	case strings.HasPrefix(path, "headers."):
		return fmt.Sprintf("header(headers, %s)", quote(strings.TrimPrefix(path, "headers.")))
	default:
		return path
	}
}

// mapIndexChain renders "a.b.c" against base map variable name as
// base["a"]["b"]["c"].
func mapIndexChain(base, rest string) string {
	expr := base
	for _, part := range strings.Split(rest, ".") {
		expr += fmt.Sprintf("[%s]", quote(part))
	}
	return expr
}

// compileFieldOp renders a single FieldOp comparison.
func compileFieldOp(c Condition) string {
	field := rvFieldExpr(c.Path)
	lit := literal(c.Value)

	switch c.Op {
	case FieldOpEq:
		return fmt.Sprintf("%s == %s", field, lit)
	case FieldOpNeq:
		return fmt.Sprintf("%s != %s", field, lit)
	case FieldOpGt:
		return fmt.Sprintf("double(%s) > %s", field, lit)
	case FieldOpGte:
		return fmt.Sprintf("double(%s) >= %s", field, lit)
	case FieldOpLt:
		return fmt.Sprintf("double(%s) < %s", field, lit)
	case FieldOpLte:
		return fmt.Sprintf("double(%s) <= %s", field, lit)
	case FieldOpContains:
		return fmt.Sprintf("string(%s).contains(%s)", field, lit)
	case FieldOpIn:
		return fmt.Sprintf("%s in %s", lit, field)
	case FieldOpMatches:
		return fmt.Sprintf("string(%s).matches(%s)", field, lit)
	default:
		return "true"
	}
}

func quote(s string) string {
	return strconv.Quote(s)
}

// literal renders a Go value as a CEL literal. Strings/bools/numbers are
// supported; anything else falls back to its quoted string form.
func literal(v interface{}) string {
	switch val := v.(type) {
	case string:
		return quote(val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case nil:
		return "null"
	default:
		return quote(fmt.Sprintf("%v", val))
	}
}
