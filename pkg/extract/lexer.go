package extract

import (
	"fmt"
	"strings"
)

// TokenKind classifies lexical tokens of preprocessed C.
type TokenKind int

const (
	TokIdent TokenKind = iota
	TokNumber
	TokString
	TokChar
	TokPunct
	// TokDirective is a whole preprocessor line, e.g. "#define RTC_VERSION_MAJOR 3".
	TokDirective
)

// Token is one lexical unit with the line it starts on.
type Token struct {
	Kind TokenKind
	Text string
	Line int
}

func (t Token) String() string {
	return t.Text
}

func (t Token) is(text string) bool {
	return t.Kind != TokString && t.Kind != TokChar && t.Text == text
}

var punctuators = []string{"...", "<<=", ">>=", "<<", ">>", "->", "::", "##", "&&", "||", "==", "!=", "<=", ">="}

// Lex splits C source into tokens. Comments are dropped; preprocessor lines
// become single TokDirective tokens.
func Lex(src string) ([]Token, error) {
	var toks []Token
	line := 1
	atLineStart := true
	i := 0
	n := len(src)

	for i < n {
		c := src[i]
		switch {
		case c == '\n':
			line++
			atLineStart = true
			i++
			continue
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			i++
			continue
		case c == '/' && i+1 < n && src[i+1] == '/':
			for i < n && src[i] != '\n' {
				i++
			}
			continue
		case c == '/' && i+1 < n && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("line %d: unterminated comment", line)
			}
			line += strings.Count(src[i:i+2+end], "\n")
			i += end + 4
			continue
		case c == '#' && atLineStart:
			start := i
			startLine := line
			for i < n {
				if src[i] == '\\' && i+1 < n && src[i+1] == '\n' {
					i += 2
					line++
					continue
				}
				if src[i] == '\n' {
					break
				}
				i++
			}
			text := strings.ReplaceAll(src[start:i], "\\\n", " ")
			toks = append(toks, Token{Kind: TokDirective, Text: strings.TrimSpace(text), Line: startLine})
			continue
		}

		atLineStart = false

		switch {
		case isIdentStart(c):
			start := i
			for i < n && isIdentPart(src[i]) {
				i++
			}
			toks = append(toks, Token{Kind: TokIdent, Text: src[start:i], Line: line})
		case isDigit(c) || (c == '.' && i+1 < n && isDigit(src[i+1])):
			start := i
			for i < n {
				ch := src[i]
				if (ch == '+' || ch == '-') && i > start {
					prev := src[i-1]
					if ((prev == 'e' || prev == 'E') && !isHexLiteral(src[start:i])) || prev == 'p' || prev == 'P' {
						i++
						continue
					}
				}
				if !isIdentPart(ch) && ch != '.' {
					break
				}
				i++
			}
			toks = append(toks, Token{Kind: TokNumber, Text: src[start:i], Line: line})
		case c == '"' || c == '\'':
			start := i
			i++
			for i < n && src[i] != c {
				if src[i] == '\\' {
					i++
				}
				if i < n && src[i] == '\n' {
					return nil, fmt.Errorf("line %d: unterminated literal", line)
				}
				i++
			}
			if i >= n {
				return nil, fmt.Errorf("line %d: unterminated literal", line)
			}
			i++
			kind := TokString
			if c == '\'' {
				kind = TokChar
			}
			toks = append(toks, Token{Kind: kind, Text: src[start:i], Line: line})
		default:
			text := string(c)
			for _, p := range punctuators {
				if strings.HasPrefix(src[i:], p) {
					text = p
					break
				}
			}
			i += len(text)
			toks = append(toks, Token{Kind: TokPunct, Text: text, Line: line})
		}
	}
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHexLiteral(s string) bool {
	return len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
