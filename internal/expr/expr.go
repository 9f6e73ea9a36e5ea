// Package expr evaluates the logical expressions used by layer filters and
// class definitions, e.g. ([pop] > 1000 AND '[name]' =* 'oslo').
package expr

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/spatial-query/internal/core/model"
)

var (
	ErrSyntax      = errors.New("expression syntax error")
	ErrNative      = errors.New("native expressions cannot be evaluated locally")
	ErrNoClassItem = errors.New("string expression without an item")
)

type Expr struct {
	src  string
	root node
}

func (e *Expr) String() string { return e.src }

// Eval evaluates the expression against the feature's attribute values.
func (e *Expr) Eval(values map[string]string) (bool, error) {
	v, err := e.root.eval(values)
	if err != nil {
		return false, err
	}
	return v.truthy(), nil
}

func Parse(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("%w: unexpected %q at end of %q", ErrSyntax, p.toks[p.pos].text, src)
	}
	return &Expr{src: src, root: root}, nil
}

const compiledCacheSize = 512

var compiled = struct {
	once  sync.Once
	exprs *lru.Cache[string, *Expr]
	regex *lru.Cache[string, *regexp.Regexp]
}{}

func caches() (*lru.Cache[string, *Expr], *lru.Cache[string, *regexp.Regexp]) {
	compiled.once.Do(func() {
		compiled.exprs, _ = lru.New[string, *Expr](compiledCacheSize)
		compiled.regex, _ = lru.New[string, *regexp.Regexp](compiledCacheSize)
	})
	return compiled.exprs, compiled.regex
}

// Compile is Parse backed by a process wide LRU of parsed expressions.
func Compile(src string) (*Expr, error) {
	exprs, _ := caches()
	if e, ok := exprs.Get(src); ok {
		return e, nil
	}
	e, err := Parse(src)
	if err != nil {
		return nil, err
	}
	exprs.Add(src, e)
	return e, nil
}

func compileRegex(pattern string, insensitive bool) (*regexp.Regexp, error) {
	if insensitive {
		pattern = "(?i)" + pattern
	}
	_, rx := caches()
	if re, ok := rx.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile regex %q: %w", pattern, err)
	}
	rx.Add(pattern, re)
	return re, nil
}

// Match evaluates a layer or class expression. An unset expression
// matches everything. item names the attribute string and regex
// expressions are compared against.
func Match(e model.Expression, item string, values map[string]string) (bool, error) {
	if !e.IsSet() {
		return true, nil
	}
	switch e.Type {
	case model.ExprString:
		if item == "" {
			return false, ErrNoClassItem
		}
		v := values[item]
		if e.Insensitive {
			return strings.EqualFold(v, e.String), nil
		}
		return v == e.String, nil
	case model.ExprRegex:
		if item == "" {
			return false, ErrNoClassItem
		}
		re, err := compileRegex(e.String, e.Insensitive)
		if err != nil {
			return false, err
		}
		return re.MatchString(values[item]), nil
	case model.ExprLogical:
		x, err := Compile(e.String)
		if err != nil {
			return false, err
		}
		return x.Eval(values)
	default:
		return false, ErrNative
	}
}

// ParseExpression reads the textual form used in map files and saved
// queries: "/re/" or "/re/i" is a regex, "(...)" a logical expression,
// a trailing i after a quoted string marks it case-insensitive, and
// anything else a plain string.
func ParseExpression(s string) model.Expression {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return model.Expression{}
	case strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/i") && len(s) > 3:
		return model.Expression{Type: model.ExprRegex, String: s[1 : len(s)-2], Insensitive: true}
	case strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/") && len(s) > 1:
		return model.Expression{Type: model.ExprRegex, String: s[1 : len(s)-1]}
	case strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")"):
		return model.Expression{Type: model.ExprLogical, String: s}
	case strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"i") && len(s) > 2:
		return model.Expression{Type: model.ExprString, String: s[1 : len(s)-2], Insensitive: true}
	case strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") && len(s) > 1:
		return model.Expression{Type: model.ExprString, String: s[1 : len(s)-1]}
	default:
		return model.Expression{Type: model.ExprString, String: s}
	}
}

// FormatExpression is the inverse of ParseExpression.
func FormatExpression(e model.Expression) string {
	switch e.Type {
	case model.ExprRegex:
		if e.Insensitive {
			return "/" + e.String + "/i"
		}
		return "/" + e.String + "/"
	case model.ExprLogical, model.ExprNative:
		return e.String
	default:
		if e.Insensitive {
			return `"` + e.String + `"i`
		}
		return `"` + e.String + `"`
	}
}

type kind int

const (
	kString kind = iota
	kNumber
	kBool
)

type value struct {
	k kind
	s string
	n float64
	b bool
}

func (v value) truthy() bool {
	switch v.k {
	case kBool:
		return v.b
	case kNumber:
		return v.n != 0
	default:
		return v.s != ""
	}
}

func (v value) str() string {
	switch v.k {
	case kNumber:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case kBool:
		return strconv.FormatBool(v.b)
	default:
		return v.s
	}
}

func (v value) num() (float64, bool) {
	switch v.k {
	case kNumber:
		return v.n, true
	case kString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
