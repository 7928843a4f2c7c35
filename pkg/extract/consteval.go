package extract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/polisai/rtcbind/pkg/domain"
)

var errNotConstant = errors.New("not a constant expression")

// intValue is an integer constant with its C type width and signedness.
type intValue struct {
	v        int64
	bits     int
	unsigned bool
}

func (x intValue) normalize() intValue {
	switch x.bits {
	case 8:
		if x.unsigned {
			x.v = int64(uint8(x.v))
		} else {
			x.v = int64(int8(x.v))
		}
	case 16:
		if x.unsigned {
			x.v = int64(uint16(x.v))
		} else {
			x.v = int64(int16(x.v))
		}
	case 32:
		if x.unsigned {
			x.v = int64(uint32(x.v))
		} else {
			x.v = int64(int32(x.v))
		}
	}
	return x
}

// lookupFunc resolves identifiers (macros, enumerators) inside expressions.
type lookupFunc func(name string) (intValue, bool)

// evalConstant evaluates the replacement list of an object-like macro.
func evalConstant(toks []Token, lookup lookupFunc) (domain.Constant, error) {
	if len(toks) == 0 {
		return domain.Constant{}, errNotConstant
	}

	if toks[0].Kind == TokString {
		var b strings.Builder
		for _, tok := range toks {
			if tok.Kind != TokString {
				return domain.Constant{}, errNotConstant
			}
			s, err := unquoteC(tok.Text)
			if err != nil {
				return domain.Constant{}, err
			}
			b.WriteString(s)
		}
		return domain.Constant{Kind: domain.ConstString, Str: b.String()}, nil
	}

	if f, ok := floatLiteral(toks); ok {
		return domain.Constant{Kind: domain.ConstFloat, Float: f}, nil
	}

	v, err := evalInt(toks, lookup)
	if err != nil {
		return domain.Constant{}, err
	}
	return domain.Constant{Kind: domain.ConstInt, Int: v.v, Unsigned: v.unsigned}, nil
}

// evalInt evaluates an integer constant expression.
func evalInt(toks []Token, lookup lookupFunc) (intValue, error) {
	e := &evaluator{toks: toks, lookup: lookup}
	v, err := e.or()
	if err != nil {
		return intValue{}, err
	}
	if e.pos != len(e.toks) {
		return intValue{}, fmt.Errorf("%w: unexpected %q", errNotConstant, e.toks[e.pos].Text)
	}
	return v, nil
}

type evaluator struct {
	toks   []Token
	pos    int
	lookup lookupFunc
}

func (e *evaluator) peek() (Token, bool) {
	if e.pos >= len(e.toks) {
		return Token{}, false
	}
	return e.toks[e.pos], true
}

func (e *evaluator) accept(ops ...string) (string, bool) {
	tok, ok := e.peek()
	if !ok || tok.Kind != TokPunct {
		return "", false
	}
	for _, op := range ops {
		if tok.Text == op {
			e.pos++
			return op, true
		}
	}
	return "", false
}

func (e *evaluator) binary(next func() (intValue, error), ops ...string) (intValue, error) {
	lhs, err := next()
	if err != nil {
		return intValue{}, err
	}
	for {
		op, ok := e.accept(ops...)
		if !ok {
			return lhs, nil
		}
		rhs, err := next()
		if err != nil {
			return intValue{}, err
		}
		lhs, err = apply(op, lhs, rhs)
		if err != nil {
			return intValue{}, err
		}
	}
}

func (e *evaluator) or() (intValue, error)  { return e.binary(e.xor, "|") }
func (e *evaluator) xor() (intValue, error) { return e.binary(e.and, "^") }
func (e *evaluator) and() (intValue, error) { return e.binary(e.shift, "&") }
func (e *evaluator) shift() (intValue, error) {
	return e.binary(e.add, "<<", ">>")
}
func (e *evaluator) add() (intValue, error) { return e.binary(e.mul, "+", "-") }
func (e *evaluator) mul() (intValue, error) { return e.binary(e.unary, "*", "/", "%") }

func (e *evaluator) unary() (intValue, error) {
	if op, ok := e.accept("-", "+", "~", "!"); ok {
		x, err := e.unary()
		if err != nil {
			return intValue{}, err
		}
		switch op {
		case "-":
			x.v = -x.v
		case "~":
			x.v = ^x.v
		case "!":
			if x.v == 0 {
				x = intValue{v: 1, bits: 32}
			} else {
				x = intValue{v: 0, bits: 32}
			}
		}
		return x.normalize(), nil
	}

	if tok, ok := e.peek(); ok && tok.is("(") {
		if name, n, ok := e.castAhead(); ok {
			e.pos += n
			x, err := e.unary()
			if err != nil {
				return intValue{}, err
			}
			b, _ := domain.LookupBuiltin(name)
			bits := b.Bits
			if bits == 0 {
				bits = 64
			}
			return intValue{v: x.v, bits: bits, unsigned: !b.Signed}.normalize(), nil
		}
	}
	return e.primary()
}

// castAhead recognises "(type)" at the current position and returns the
// canonical type name and the number of tokens it spans.
func (e *evaluator) castAhead() (string, int, bool) {
	var words []string
	for i := e.pos + 1; i < len(e.toks); i++ {
		tok := e.toks[i]
		if tok.is(")") {
			if len(words) == 0 {
				return "", 0, false
			}
			name, err := canonicalScalar(words)
			if err != nil {
				return "", 0, false
			}
			b, ok := domain.LookupBuiltin(name)
			if !ok || !b.Integer {
				return "", 0, false
			}
			return name, i - e.pos + 1, true
		}
		if tok.Kind != TokIdent {
			return "", 0, false
		}
		if tok.Text == "const" {
			continue
		}
		words = append(words, tok.Text)
	}
	return "", 0, false
}

func (e *evaluator) primary() (intValue, error) {
	tok, ok := e.peek()
	if !ok {
		return intValue{}, fmt.Errorf("%w: unexpected end", errNotConstant)
	}
	e.pos++

	switch tok.Kind {
	case TokNumber:
		return parseIntLiteral(tok.Text)
	case TokChar:
		s, err := unquoteC(tok.Text)
		if err != nil || len(s) != 1 {
			return intValue{}, fmt.Errorf("%w: char literal %s", errNotConstant, tok.Text)
		}
		return intValue{v: int64(int8(s[0])), bits: 32}, nil
	case TokIdent:
		if e.lookup != nil {
			if v, ok := e.lookup(tok.Text); ok {
				return v, nil
			}
		}
		return intValue{}, fmt.Errorf("%w: unknown identifier %s", errNotConstant, tok.Text)
	case TokPunct:
		if tok.Text == "(" {
			v, err := e.or()
			if err != nil {
				return intValue{}, err
			}
			if _, ok := e.accept(")"); !ok {
				return intValue{}, fmt.Errorf("%w: missing )", errNotConstant)
			}
			return v, nil
		}
	}
	return intValue{}, fmt.Errorf("%w: unexpected %q", errNotConstant, tok.Text)
}

func apply(op string, a, b intValue) (intValue, error) {
	bits := max(a.bits, b.bits)
	unsigned := false
	switch {
	case a.bits == b.bits:
		unsigned = a.unsigned || b.unsigned
	case a.bits > b.bits:
		unsigned = a.unsigned
	default:
		unsigned = b.unsigned
	}

	if op == "<<" || op == ">>" {
		// Shifts take the type of the left operand.
		bits, unsigned = a.bits, a.unsigned
		if b.v < 0 || b.v >= int64(bits) {
			return intValue{}, fmt.Errorf("%w: shift count %d", errNotConstant, b.v)
		}
	}

	r := intValue{bits: bits, unsigned: unsigned}
	x, y := a.v, b.v
	switch op {
	case "|":
		r.v = x | y
	case "^":
		r.v = x ^ y
	case "&":
		r.v = x & y
	case "<<":
		r.v = x << uint(y)
	case ">>":
		if unsigned {
			r.v = int64(uint64(x) >> uint(y))
		} else {
			r.v = x >> uint(y)
		}
	case "+":
		r.v = x + y
	case "-":
		r.v = x - y
	case "*":
		r.v = x * y
	case "/", "%":
		if y == 0 {
			return intValue{}, fmt.Errorf("%w: division by zero", errNotConstant)
		}
		if unsigned {
			if op == "/" {
				r.v = int64(uint64(x) / uint64(y))
			} else {
				r.v = int64(uint64(x) % uint64(y))
			}
		} else if op == "/" {
			r.v = x / y
		} else {
			r.v = x % y
		}
	}
	return r.normalize(), nil
}

// parseIntLiteral parses a C integer literal and assigns its type the way a
// C compiler does: int, then unsigned int for hex/octal, then 64-bit types.
func parseIntLiteral(text string) (intValue, error) {
	lit := text
	suffix := ""
	for len(lit) > 0 && strings.ContainsRune("uUlL", rune(lit[len(lit)-1])) {
		suffix = string(lit[len(lit)-1]) + suffix
		lit = lit[:len(lit)-1]
	}
	if isFloatText(lit) {
		return intValue{}, fmt.Errorf("%w: float literal %s", errNotConstant, text)
	}

	u, err := strconv.ParseUint(lit, 0, 64)
	if err != nil {
		return intValue{}, fmt.Errorf("%w: literal %s", errNotConstant, text)
	}

	lower := strings.ToLower(suffix)
	unsigned := strings.Contains(lower, "u")
	long := strings.Contains(lower, "l")
	decimal := lit == "0" || lit[0] != '0'

	switch {
	case !long && !unsigned && u <= 0x7fffffff:
		return intValue{v: int64(u), bits: 32}, nil
	case !long && u <= 0xffffffff && (unsigned || !decimal):
		return intValue{v: int64(u), bits: 32, unsigned: true}, nil
	case !unsigned && u <= 0x7fffffffffffffff:
		return intValue{v: int64(u), bits: 64}, nil
	default:
		return intValue{v: int64(u), bits: 64, unsigned: true}, nil
	}
}

// floatLiteral matches an optionally parenthesised, optionally negated float literal.
func floatLiteral(toks []Token) (float64, bool) {
	for len(toks) >= 3 && toks[0].is("(") && toks[len(toks)-1].is(")") {
		toks = toks[1 : len(toks)-1]
	}
	neg := false
	if len(toks) == 2 && (toks[0].is("-") || toks[0].is("+")) {
		neg = toks[0].is("-")
		toks = toks[1:]
	}
	if len(toks) != 1 || toks[0].Kind != TokNumber {
		return 0, false
	}
	lit := strings.TrimRight(toks[0].Text, "fFlL")
	if !isFloatText(lit) {
		return 0, false
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		f = -f
	}
	return f, true
}

func isFloatText(lit string) bool {
	if isHexLiteral(lit) {
		return strings.ContainsAny(lit, ".pP")
	}
	return strings.ContainsAny(lit, ".eE")
}

// unquoteC converts a C string or character literal to its value.
func unquoteC(lit string) (string, error) {
	if len(lit) < 2 {
		return "", fmt.Errorf("invalid literal %s", lit)
	}
	if lit[0] == '\'' {
		s, err := strconv.Unquote(lit)
		if err == nil {
			return s, nil
		}
		// Go rejects some C escapes inside rune literals; retry as a string.
		lit = `"` + lit[1:len(lit)-1] + `"`
	}
	return strconv.Unquote(lit)
}
