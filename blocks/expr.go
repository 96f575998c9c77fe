package blocks

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// EvalExpr evaluates a condition expression against the node's resolved
// inputs and returns a boolean. It backs the condition block.
//
// Supported operators: ==, !=, >, <, >=, <=, &&, ||, !
// Supported literals: numbers, quoted strings, true, false
// Dot-notation field access: payload.price looks up
// vars["payload"].(map[string]any)["price"].
func EvalExpr(expr string, vars map[string]any) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, nil
	}

	tokens, err := tokenize(expr)
	if err != nil {
		return false, err
	}
	if len(tokens) == 0 {
		return false, nil
	}

	p := &exprParser{tokens: tokens, vars: vars}
	val, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.pos < len(p.tokens) {
		return false, fmt.Errorf("unexpected token %q at position %d", p.tokens[p.pos].value, p.pos)
	}
	return truthy(val), nil
}

type tokenKind int

const (
	tkNumber tokenKind = iota // 42, 0.8, -3.14
	tkString                  // "hello"
	tkIdent                   // variable name or true/false
	tkOp                      // ==, !=, >, <, >=, <=, &&, ||, !
	tkLParen                  // (
	tkRParen                  // )
)

type token struct {
	kind  tokenKind
	value string
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	runes := []rune(expr)

	for i < len(runes) {
		ch := runes[i]

		if unicode.IsSpace(ch) {
			i++
			continue
		}

		if ch == '(' {
			tokens = append(tokens, token{tkLParen, "("})
			i++
			continue
		}
		if ch == ')' {
			tokens = append(tokens, token{tkRParen, ")"})
			i++
			continue
		}

		if ch == '"' {
			s, n, err := readString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tkString, s})
			i = n
			continue
		}

		if i+1 < len(runes) {
			two := string(runes[i : i+2])
			switch two {
			case "==", "!=", ">=", "<=", "&&", "||":
				tokens = append(tokens, token{tkOp, two})
				i += 2
				continue
			}
		}

		if ch == '>' || ch == '<' || ch == '!' {
			tokens = append(tokens, token{tkOp, string(ch)})
			i++
			continue
		}

		// '-' is a negative-number prefix only at expression start or after
		// an operator or opening parenthesis.
		if isDigit(ch) || (ch == '-' && i+1 < len(runes) && isDigit(runes[i+1]) && isNumberStart(tokens)) {
			num, n := readNumber(runes, i)
			tokens = append(tokens, token{tkNumber, num})
			i = n
			continue
		}

		if isIdentStart(ch) {
			ident, n := readIdent(runes, i)
			tokens = append(tokens, token{tkIdent, ident})
			i = n
			continue
		}

		return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), i)
	}

	return tokens, nil
}

func readString(runes []rune, start int) (string, int, error) {
	i := start + 1 // skip opening quote
	var sb strings.Builder
	for i < len(runes) {
		if runes[i] == '\\' && i+1 < len(runes) {
			sb.WriteRune(runes[i+1])
			i += 2
			continue
		}
		if runes[i] == '"' {
			return sb.String(), i + 1, nil
		}
		sb.WriteRune(runes[i])
		i++
	}
	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}

func readNumber(runes []rune, start int) (string, int) {
	i := start
	if i < len(runes) && runes[i] == '-' {
		i++
	}
	for i < len(runes) && isDigit(runes[i]) {
		i++
	}
	if i < len(runes) && runes[i] == '.' {
		i++
		for i < len(runes) && isDigit(runes[i]) {
			i++
		}
	}
	return string(runes[start:i]), i
}

func readIdent(runes []rune, start int) (string, int) {
	i := start
	for i < len(runes) && isIdentPart(runes[i]) {
		i++
	}
	return string(runes[start:i]), i
}

func isDigit(ch rune) bool      { return ch >= '0' && ch <= '9' }
func isIdentStart(ch rune) bool { return unicode.IsLetter(ch) || ch == '_' }
func isIdentPart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.'
}

func isNumberStart(preceding []token) bool {
	if len(preceding) == 0 {
		return true
	}
	last := preceding[len(preceding)-1]
	return last.kind == tkOp || last.kind == tkLParen
}

type exprParser struct {
	tokens []token
	pos    int
	vars   map[string]any
}

func (p *exprParser) peek() *token {
	if p.pos < len(p.tokens) {
		return &p.tokens[p.pos]
	}
	return nil
}

func (p *exprParser) advance() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *exprParser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek() != nil && p.peek().kind == tkOp && p.peek().value == "||" {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
	return left, nil
}

func (p *exprParser) parseAnd() (any, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peek() != nil && p.peek().kind == tkOp && p.peek().value == "&&" {
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
	return left, nil
}

func (p *exprParser) parseComparison() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.peek() != nil && p.peek().kind == tkOp {
		op := p.peek().value
		switch op {
		case "==", "!=", ">", "<", ">=", "<=":
			p.advance()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return evalComparison(left, op, right), nil
		}
	}
	return left, nil
}

func (p *exprParser) parseUnary() (any, error) {
	if p.peek() != nil && p.peek().kind == tkOp && p.peek().value == "!" {
		p.advance()
		val, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return !truthy(val), nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (any, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	switch t.kind {
	case tkNumber:
		p.advance()
		return strconv.ParseFloat(t.value, 64)

	case tkString:
		p.advance()
		return t.value, nil

	case tkIdent:
		p.advance()
		switch t.value {
		case "true":
			return true, nil
		case "false":
			return false, nil
		default:
			return resolveVar(t.value, p.vars), nil
		}

	case tkLParen:
		p.advance()
		val, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek() == nil || p.peek().kind != tkRParen {
			return nil, fmt.Errorf("expected closing parenthesis")
		}
		p.advance()
		return val, nil

	default:
		return nil, fmt.Errorf("unexpected token %q", t.value)
	}
}

// resolveVar resolves a dot-notation variable path from the vars map.
// "status" -> vars["status"]
// "payload.price" -> vars["payload"].(map[string]any)["price"]
func resolveVar(path string, vars map[string]any) any {
	parts := strings.Split(path, ".")
	var current any = vars

	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

// evalComparison compares two values. nil orders below any non-nil value;
// two nils are equal.
func evalComparison(left any, op string, right any) bool {
	if left == nil && right == nil {
		return op == "==" || op == ">=" || op == "<="
	}
	if left == nil || right == nil {
		if op == "!=" {
			return true
		}
		if op == "==" {
			return false
		}
		if left == nil {
			return op == "<" || op == "<="
		}
		return op == ">" || op == ">="
	}

	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf
		case "!=":
			return lf != rf
		case ">":
			return lf > rf
		case "<":
			return lf < rf
		case ">=":
			return lf >= rf
		case "<=":
			return lf <= rf
		}
	}

	ls := fmt.Sprintf("%v", left)
	rs := fmt.Sprintf("%v", right)
	switch op {
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	case ">":
		return ls > rs
	case "<":
		return ls < rs
	case ">=":
		return ls >= rs
	case "<=":
		return ls <= rs
	}
	return false
}

func truthy(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case int:
		return val != 0
	case string:
		return val != "" && val != "false" && val != "0"
	default:
		return true
	}
}

func asFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case float32:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}
