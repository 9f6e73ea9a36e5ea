package expr

import (
	"fmt"
	"strconv"
	"strings"
)

type tokKind int

const (
	tLParen tokKind = iota
	tRParen
	tString
	tAttr
	tNumber
	tOp
	tIdent
)

type token struct {
	kind tokKind
	text string
}

var twoCharOps = []string{"==", "!=", "<=", ">=", "=*", "~*", "&&", "||"}

func lex(src string) ([]token, error) {
	var out []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			out = append(out, token{tLParen, "("})
			i++
		case c == ')':
			out = append(out, token{tRParen, ")"})
			i++
		case c == '\'' || c == '"':
			j := i + 1
			var b strings.Builder
			for j < len(src) && src[j] != c {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				b.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("%w: unterminated string in %q", ErrSyntax, src)
			}
			out = append(out, token{tString, b.String()})
			i = j + 1
		case c == '[':
			j := strings.IndexByte(src[i:], ']')
			if j < 0 {
				return nil, fmt.Errorf("%w: unterminated attribute in %q", ErrSyntax, src)
			}
			out = append(out, token{tAttr, src[i+1 : i+j]})
			i += j + 1
		case c >= '0' && c <= '9' || c == '.' || (c == '-' && i+1 < len(src) && isDigit(src[i+1]) && lastIsOperator(out)):
			j := i + 1
			for j < len(src) && (isDigit(src[j]) || src[j] == '.' || src[j] == 'e' || src[j] == 'E' ||
				((src[j] == '-' || src[j] == '+') && (src[j-1] == 'e' || src[j-1] == 'E'))) {
				j++
			}
			out = append(out, token{tNumber, src[i:j]})
			i = j
		case isLetter(c):
			j := i + 1
			for j < len(src) && (isLetter(src[j]) || isDigit(src[j]) || src[j] == '_') {
				j++
			}
			out = append(out, token{tIdent, strings.ToLower(src[i:j])})
			i = j
		default:
			if i+1 < len(src) {
				two := src[i : i+2]
				matched := false
				for _, op := range twoCharOps {
					if two == op {
						out = append(out, token{tOp, op})
						i += 2
						matched = true
						break
					}
				}
				if matched {
					continue
				}
			}
			switch c {
			case '=', '<', '>', '~', '!':
				out = append(out, token{tOp, string(c)})
				i++
			default:
				return nil, fmt.Errorf("%w: unexpected %q in %q", ErrSyntax, c, src)
			}
		}
	}
	return out, nil
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' }

func lastIsOperator(toks []token) bool {
	if len(toks) == 0 {
		return true
	}
	switch toks[len(toks)-1].kind {
	case tOp, tLParen:
		return true
	case tIdent:
		return true
	}
	return false
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) accept(kind tokKind, texts ...string) bool {
	t, ok := p.peek()
	if !ok || t.kind != kind {
		return false
	}
	for _, s := range texts {
		if t.text == s {
			p.pos++
			return true
		}
	}
	return false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept(tIdent, "or") || p.accept(tOp, "||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.accept(tIdent, "and") || p.accept(tOp, "&&") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = andNode{left, right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.accept(tIdent, "not") || p.accept(tOp, "!") {
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notNode{inner}, nil
	}
	return p.parseCompare()
}

var identOps = map[string]string{
	"eq": "=", "ne": "!=", "lt": "<", "gt": ">", "le": "<=", "ge": ">=",
}

func (p *parser) parseCompare() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	t, ok := p.peek()
	if !ok {
		return left, nil
	}
	var op string
	switch {
	case t.kind == tOp && t.text != "!" && t.text != "&&" && t.text != "||":
		op = t.text
	case t.kind == tIdent && identOps[t.text] != "":
		op = identOps[t.text]
	default:
		return left, nil
	}
	p.pos++
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if op == "==" {
		op = "="
	}
	return cmpNode{op: op, l: left, r: right}, nil
}

func (p *parser) parseOperand() (node, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrSyntax)
	}
	p.pos++
	switch t.kind {
	case tLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.accept(tRParen, ")") {
			return nil, fmt.Errorf("%w: missing closing parenthesis", ErrSyntax)
		}
		return inner, nil
	case tString:
		return strNode(t.text), nil
	case tAttr:
		return attrNode(t.text), nil
	case tNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrSyntax, t.text)
		}
		return litNode{value{k: kNumber, n: f}}, nil
	case tIdent:
		switch t.text {
		case "true":
			return litNode{value{k: kBool, b: true}}, nil
		case "false":
			return litNode{value{k: kBool, b: false}}, nil
		}
	}
	return nil, fmt.Errorf("%w: unexpected %q", ErrSyntax, t.text)
}

type node interface {
	eval(values map[string]string) (value, error)
}

type litNode struct{ v value }

func (n litNode) eval(map[string]string) (value, error) { return n.v, nil }

type attrNode string

func (n attrNode) eval(values map[string]string) (value, error) {
	v, ok := values[string(n)]
	if !ok {
		return value{}, fmt.Errorf("unknown attribute %q", string(n))
	}
	return value{k: kString, s: v}, nil
}

// strNode is a quoted literal; [item] references inside it are replaced
// with attribute values.
type strNode string

func (n strNode) eval(values map[string]string) (value, error) {
	s := string(n)
	if !strings.Contains(s, "[") {
		return value{k: kString, s: s}, nil
	}
	var b strings.Builder
	for {
		i := strings.IndexByte(s, '[')
		if i < 0 {
			b.WriteString(s)
			break
		}
		j := strings.IndexByte(s[i:], ']')
		if j < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		name := s[i+1 : i+j]
		if v, ok := values[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+j+1])
		}
		s = s[i+j+1:]
	}
	return value{k: kString, s: b.String()}, nil
}

type andNode struct{ l, r node }

func (n andNode) eval(values map[string]string) (value, error) {
	l, err := n.l.eval(values)
	if err != nil || !l.truthy() {
		return value{k: kBool}, err
	}
	r, err := n.r.eval(values)
	if err != nil {
		return value{}, err
	}
	return value{k: kBool, b: r.truthy()}, nil
}

type orNode struct{ l, r node }

func (n orNode) eval(values map[string]string) (value, error) {
	l, err := n.l.eval(values)
	if err != nil {
		return value{}, err
	}
	if l.truthy() {
		return value{k: kBool, b: true}, nil
	}
	r, err := n.r.eval(values)
	if err != nil {
		return value{}, err
	}
	return value{k: kBool, b: r.truthy()}, nil
}

type notNode struct{ inner node }

func (n notNode) eval(values map[string]string) (value, error) {
	v, err := n.inner.eval(values)
	if err != nil {
		return value{}, err
	}
	return value{k: kBool, b: !v.truthy()}, nil
}

type cmpNode struct {
	op   string
	l, r node
}

func (n cmpNode) eval(values map[string]string) (value, error) {
	l, err := n.l.eval(values)
	if err != nil {
		return value{}, err
	}
	r, err := n.r.eval(values)
	if err != nil {
		return value{}, err
	}
	switch n.op {
	case "=*":
		return value{k: kBool, b: strings.EqualFold(l.str(), r.str())}, nil
	case "~", "~*":
		re, err := compileRegex(r.str(), n.op == "~*")
		if err != nil {
			return value{}, err
		}
		return value{k: kBool, b: re.MatchString(l.str())}, nil
	}

	var c int
	ln, lok := l.num()
	rn, rok := r.num()
	if lok && rok {
		switch {
		case ln < rn:
			c = -1
		case ln > rn:
			c = 1
		}
	} else {
		c = strings.Compare(l.str(), r.str())
	}

	var b bool
	switch n.op {
	case "=":
		b = c == 0
	case "!=":
		b = c != 0
	case "<":
		b = c < 0
	case ">":
		b = c > 0
	case "<=":
		b = c <= 0
	case ">=":
		b = c >= 0
	default:
		return value{}, fmt.Errorf("%w: unknown operator %q", ErrSyntax, n.op)
	}
	return value{k: kBool, b: b}, nil
}
