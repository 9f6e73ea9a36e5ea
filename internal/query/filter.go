package query

import (
	"github.com/mohammed-shakir/spatial-query/internal/core/model"
)

// translateFilter renders a filter as a logical expression. Native filters
// and item-less string or regex filters cannot be translated.
func translateFilter(f model.Expression, item string) (string, bool) {
	switch {
	case f.Type == model.ExprString && item != "":
		op := " = '"
		if f.Insensitive {
			op = " =* '"
		}
		return "'[" + item + "]'" + op + f.String + "'", true
	case f.Type == model.ExprRegex && item != "":
		op := " ~ '"
		if f.Insensitive {
			op = " ~* '"
		}
		return "'[" + item + "]'" + op + f.String + "'", true
	case f.Type == model.ExprLogical:
		return f.String, true
	default:
		return "", false
	}
}

// MergeFilters ANDs two filters into one logical expression. The result
// is unset when either side cannot be translated.
func MergeFilters(a model.Expression, aItem string, b model.Expression, bItem string) model.Expression {
	left, ok := translateFilter(a, aItem)
	if !ok {
		return model.Expression{Type: model.ExprLogical}
	}
	right, ok := translateFilter(b, bItem)
	if !ok {
		return model.Expression{Type: model.ExprLogical}
	}
	return model.Expression{Type: model.ExprLogical, String: left + " AND " + right}
}
