package extract

import "fmt"

// rawDecl is one top-level declaration, a preprocessor line or a function definition.
type rawDecl struct {
	toks      []Token
	directive bool
	// body marks a function definition; its tokens stop before the opening brace.
	body bool
	line int
}

// splitDecls groups tokens into top-level declarations. Declarations end at a
// semicolon outside any brackets; function definitions end at their closing brace.
func splitDecls(toks []Token) ([]rawDecl, error) {
	var out []rawDecl
	var cur []Token
	depth := 0
	inBody := false

	flush := func(body bool) {
		if len(cur) > 0 {
			out = append(out, rawDecl{toks: cur, body: body, line: cur[0].Line})
		}
		cur = nil
	}

	for _, tok := range toks {
		if tok.Kind == TokDirective {
			out = append(out, rawDecl{toks: []Token{tok}, directive: true, line: tok.Line})
			continue
		}

		if inBody {
			switch {
			case tok.is("{"):
				depth++
			case tok.is("}"):
				depth--
				if depth == 0 {
					inBody = false
					flush(true)
				}
			}
			continue
		}

		switch {
		case tok.is("(") || tok.is("["):
			depth++
		case tok.is("{"):
			if depth == 0 && startsFunctionBody(cur) {
				inBody = true
				depth = 1
				continue
			}
			depth++
		case tok.is(")") || tok.is("]") || tok.is("}"):
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("line %d: unbalanced %q", tok.Line, tok.Text)
			}
		case tok.is(";") && depth == 0:
			flush(false)
			continue
		}
		cur = append(cur, tok)
	}

	if inBody || depth != 0 || len(cur) > 0 {
		line := 0
		if len(cur) > 0 {
			line = cur[0].Line
		}
		return nil, fmt.Errorf("line %d: unterminated declaration", line)
	}
	return out, nil
}

// startsFunctionBody reports whether a brace following cur opens a function
// body rather than a struct, union or enum body. A trailing attribute group
// (struct X __attribute__((packed)) {) does not count as a parameter list.
func startsFunctionBody(cur []Token) bool {
	if len(cur) == 0 || !cur[len(cur)-1].is(")") {
		return false
	}
	for _, tok := range cur {
		if tok.is("typedef") {
			return false
		}
	}
	depth := 0
	for i := len(cur) - 1; i >= 0; i-- {
		switch {
		case cur[i].is(")"):
			depth++
		case cur[i].is("("):
			depth--
			if depth == 0 {
				return i == 0 || !isAttributeKeyword(cur[i-1].Text)
			}
		}
	}
	return false
}

func isAttributeKeyword(s string) bool {
	switch s {
	case "__attribute__", "__attribute", "__declspec", "__asm__", "__asm", "asm", "_Alignas", "alignas":
		return true
	}
	return false
}
