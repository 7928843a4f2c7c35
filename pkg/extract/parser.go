package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/polisai/rtcbind/pkg/domain"
)

var errSyntax = errors.New("syntax error")

// ParseOptions controls how preprocessed text becomes a symbol table.
type ParseOptions struct {
	Allowlist *Allowlist
	// Styles maps enum type names to closed or bitmask style. Enums not
	// listed stay opaque.
	Styles map[string]domain.EnumStyle
	Logger *slog.Logger
}

type parser struct {
	allow  *Allowlist
	styles map[string]domain.EnumStyle
	log    *slog.Logger
	table  *domain.SymbolTable
	// values holds integer macros and enumerators for constant expressions.
	values map[string]intValue
	// tags maps struct and enum tags to the typedef name they were defined under.
	tags map[string]string
	// opaque collects allow-listed struct tags referenced by the current declaration.
	opaque []string
}

// Parse builds a symbol table from preprocessed header text. Only
// allow-listed declarations are recorded; a declaration that cannot be parsed
// is fatal when it declares an allow-listed name and skipped otherwise.
func Parse(header, src string, opts ParseOptions) (*domain.SymbolTable, error) {
	if opts.Allowlist == nil {
		return nil, fmt.Errorf("%w: no allowlist", domain.ErrExtractionFailed)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	toks, err := Lex(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrExtractionFailed, header, err)
	}
	raws, err := splitDecls(toks)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrExtractionFailed, header, err)
	}

	p := &parser{
		allow:  opts.Allowlist,
		styles: opts.Styles,
		log:    log,
		table:  domain.NewSymbolTable(header),
		values: make(map[string]intValue),
		tags:   make(map[string]string),
	}
	for _, raw := range raws {
		if err := p.decl(raw); err != nil {
			return nil, fmt.Errorf("%w: %s:%d: %w", domain.ErrExtractionFailed, header, raw.line, err)
		}
	}
	return p.table, nil
}

func (p *parser) decl(raw rawDecl) error {
	p.opaque = p.opaque[:0]
	if raw.directive {
		return p.directive(raw.toks[0])
	}

	toks, align := stripAttributes(raw.toks)
	if len(toks) == 0 {
		return nil
	}
	relevant := p.relevant(toks)

	if raw.body {
		if relevant {
			p.log.Debug("skipping inline function definition", "line", raw.line)
		}
		return nil
	}

	err := p.parseDecl(toks, align)
	if err != nil && !relevant {
		p.log.Debug("skipping declaration", "line", raw.line, "error", err)
		return nil
	}
	return err
}

func (p *parser) add(d *domain.Decl) error {
	for _, tag := range p.opaque {
		if _, ok := p.table.Lookup(tag); ok {
			continue
		}
		opaque := &domain.Decl{Name: tag, Kind: domain.KindStruct, Struct: &domain.Struct{Opaque: true}}
		if err := p.table.Add(opaque); err != nil {
			return err
		}
	}
	p.opaque = p.opaque[:0]
	return p.table.Add(d)
}

func (p *parser) lookup(name string) (intValue, bool) {
	v, ok := p.values[name]
	return v, ok
}

// directive records object-like macros. Function-like macros are ignored.
func (p *parser) directive(tok Token) error {
	text := strings.TrimSpace(strings.TrimPrefix(tok.Text, "#"))
	keyword, rest, _ := strings.Cut(text, " ")
	switch keyword {
	case "undef":
		delete(p.values, strings.TrimSpace(rest))
		return nil
	case "define":
	default:
		return nil
	}

	rest = strings.TrimLeft(rest, " \t")
	end := 0
	for end < len(rest) && isIdentPart(rest[end]) {
		end++
	}
	name := rest[:end]
	if name == "" || (end < len(rest) && rest[end] == '(') {
		return nil
	}

	body, err := Lex(rest[end:])
	if err != nil || len(body) == 0 {
		return nil
	}
	if v, err := evalInt(body, p.lookup); err == nil {
		p.values[name] = v
	}
	if !p.allow.Var(name) {
		return nil
	}

	c, err := evalConstant(body, p.lookup)
	if err != nil {
		p.log.Debug("skipping macro", "name", name, "error", err)
		return nil
	}
	if existing, ok := p.table.Lookup(name); ok && existing.Kind == domain.KindConst {
		*existing.Const = c
		return nil
	}
	return p.add(&domain.Decl{Name: name, Kind: domain.KindConst, Const: &c})
}

// relevant reports whether toks declares any allow-listed name.
func (p *parser) relevant(toks []Token) bool {
	for _, n := range declaredNames(toks) {
		var ok bool
		switch n.kind {
		case domain.KindFunction:
			ok = p.allow.Function(n.name)
		case domain.KindConst:
			ok = p.allow.Var(n.name)
		default:
			ok = p.allow.Type(n.name)
		}
		if ok {
			return true
		}
	}
	return false
}

type declaredName struct {
	name string
	kind domain.DeclKind
}

// declaredNames guesses the names a declaration introduces without parsing
// it: struct and enum tags that are defined or forward declared, plus
// declarator identifiers.
func declaredNames(toks []Token) []declaredName {
	typedef := len(toks) > 0 && toks[0].is("typedef")
	var names []declaredName
	braces, parens := 0, 0
	openAt := -1

	for i, tok := range toks {
		switch {
		case tok.is("{"):
			braces++
			continue
		case tok.is("}"):
			braces--
			continue
		case braces > 0:
			continue
		case tok.is("("):
			parens++
			if parens == 1 {
				openAt = i
			}
			continue
		case tok.is(")"):
			parens--
			continue
		case tok.Kind != TokIdent || isKeyword(tok.Text):
			continue
		}

		if i > 0 && isTagKeyword(toks[i-1].Text) {
			defined := i+1 < len(toks) && toks[i+1].is("{")
			forward := !typedef && len(toks) == 2
			if parens == 0 && (defined || forward) {
				names = append(names, declaredName{tok.Text, domain.KindStruct})
			}
			continue
		}

		var next Token
		if i+1 < len(toks) {
			next = toks[i+1]
		}
		if i+1 < len(toks) && !next.is(",") && !next.is("=") && !next.is("[") && !next.is(")") && !next.is("(") {
			continue
		}
		switch parens {
		case 0:
		case 1:
			if !onlyStars(toks[openAt+1 : i]) {
				continue
			}
		default:
			continue
		}

		kind := domain.KindConst
		switch {
		case typedef:
			kind = domain.KindTypedef
		case next.is("("):
			kind = domain.KindFunction
		}
		names = append(names, declaredName{tok.Text, kind})
	}
	return names
}

func onlyStars(toks []Token) bool {
	if len(toks) == 0 {
		return false
	}
	for _, t := range toks {
		if !t.is("*") && !t.is("const") {
			return false
		}
	}
	return true
}

func isTagKeyword(s string) bool {
	return s == "struct" || s == "union" || s == "enum"
}

var keywords = map[string]bool{
	"typedef": true, "struct": true, "union": true, "enum": true, "const": true,
	"void": true, "char": true, "short": true, "int": true, "long": true,
	"float": true, "double": true, "signed": true, "unsigned": true,
	"_Bool": true, "bool": true, "static": true, "extern": true, "inline": true,
	"sizeof": true, "_Static_assert": true, "__int128": true,
}

func isKeyword(s string) bool {
	return keywords[s]
}

// strippedWords are qualifiers and storage classes that carry no binding information.
var strippedWords = map[string]bool{
	"extern": true, "static": true, "inline": true, "__inline": true, "__inline__": true,
	"__extension__": true, "restrict": true, "__restrict": true, "__restrict__": true,
	"volatile": true, "__volatile__": true, "register": true, "_Noreturn": true,
	"_Thread_local": true, "__thread": true,
}

// stripAttributes drops qualifiers and attribute groups, returning the
// alignment requested by an aligned attribute outside any braces.
func stripAttributes(toks []Token) ([]Token, int) {
	out := make([]Token, 0, len(toks))
	align := 0
	braces := 0

	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		switch {
		case tok.Kind != TokIdent:
			if tok.is("{") {
				braces++
			} else if tok.is("}") {
				braces--
			}
			out = append(out, tok)
			continue
		case strippedWords[tok.Text]:
			continue
		case tok.Text == "__const":
			tok.Text = "const"
		case tok.Text == "__signed__" || tok.Text == "__signed":
			tok.Text = "signed"
		case isAttributeKeyword(tok.Text):
			if i+1 >= len(toks) || !toks[i+1].is("(") {
				continue
			}
			end := matchClose(toks, i+1, "(", ")")
			if end < 0 {
				out = append(out, toks[i:]...)
				return out, align
			}
			if braces == 0 {
				if n := alignment(tok.Text, toks[i+2:end]); n > 0 {
					align = n
				}
			}
			i = end
			continue
		}
		out = append(out, tok)
	}
	return out, align
}

// alignment finds aligned(N) inside an attribute group, or the operand of _Alignas.
func alignment(keyword string, inner []Token) int {
	if keyword == "_Alignas" || keyword == "alignas" {
		if v, err := evalInt(inner, nil); err == nil {
			return int(v.v)
		}
		return 0
	}
	for i := 0; i+1 < len(inner); i++ {
		if (inner[i].is("aligned") || inner[i].is("__aligned__")) && inner[i+1].is("(") {
			end := matchClose(inner, i+1, "(", ")")
			if end < 0 {
				return 0
			}
			if v, err := evalInt(inner[i+2:end], nil); err == nil {
				return int(v.v)
			}
		}
	}
	return 0
}

// matchClose returns the index of the bracket closing toks[open], or -1.
func matchClose(toks []Token, open int, l, r string) int {
	depth := 0
	for i := open; i < len(toks); i++ {
		switch {
		case toks[i].is(l):
			depth++
		case toks[i].is(r):
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTop splits toks at sep outside any brackets.
func splitTop(toks []Token, sep string) [][]Token {
	var parts [][]Token
	depth, start := 0, 0
	for i, t := range toks {
		switch {
		case t.is("(") || t.is("[") || t.is("{"):
			depth++
		case t.is(")") || t.is("]") || t.is("}"):
			depth--
		case t.is(sep) && depth == 0:
			parts = append(parts, toks[start:i])
			start = i + 1
		}
	}
	return append(parts, toks[start:])
}

func containsTop(toks []Token, text string) bool {
	return len(splitTop(toks, text)) > 1
}

// specifier is the type part of a declaration.
type specifier struct {
	ref     domain.TypeRef
	tagKind string
	tag     string
	body    []Token
	hasBody bool
}

var scalarWords = map[string]bool{
	"void": true, "char": true, "short": true, "int": true, "long": true,
	"float": true, "double": true, "signed": true, "unsigned": true,
	"_Bool": true, "bool": true,
}

// specifiers consumes declaration specifiers starting at toks[pos].
func (p *parser) specifiers(toks []Token, pos int) (specifier, int, error) {
	var s specifier
	var words []string
	named := false

loop:
	for pos < len(toks) {
		tok := toks[pos]
		if tok.Kind != TokIdent {
			break
		}
		switch {
		case tok.Text == "const":
			s.ref.Const = true
		case isTagKeyword(tok.Text):
			if s.tagKind != "" || named || len(words) > 0 {
				return s, pos, fmt.Errorf("%w: unexpected %q", errSyntax, tok.Text)
			}
			if tok.Text == "union" {
				return s, pos, fmt.Errorf("%w: union", domain.ErrUnsupportedDecl)
			}
			s.tagKind = tok.Text
			if pos+1 < len(toks) && toks[pos+1].Kind == TokIdent {
				pos++
				s.tag = toks[pos].Text
			}
			if pos+1 < len(toks) && toks[pos+1].is("{") {
				end := matchClose(toks, pos+1, "{", "}")
				if end < 0 {
					return s, pos, fmt.Errorf("%w: unbalanced braces", errSyntax)
				}
				s.body = toks[pos+2 : end]
				s.hasBody = true
				pos = end
			}
			if s.tag == "" && !s.hasBody {
				return s, pos, fmt.Errorf("%w: %s without tag or body", errSyntax, s.tagKind)
			}
		case scalarWords[tok.Text]:
			if s.tagKind != "" || named {
				return s, pos, fmt.Errorf("%w: unexpected %q", errSyntax, tok.Text)
			}
			words = append(words, tok.Text)
		case s.tagKind == "" && !named && len(words) == 0:
			if implicitInt(toks, pos) {
				words = append(words, "int")
				break loop
			}
			s.ref.Name = tok.Text
			named = true
		default:
			break loop
		}
		pos++
	}

	switch {
	case len(words) > 0:
		name, err := canonicalScalar(words)
		if err != nil {
			return s, pos, err
		}
		s.ref.Name = name
	case s.tagKind != "" && !s.hasBody:
		s.ref.Name = p.tagRef(s.tagKind, s.tag)
	case s.tagKind == "" && !named:
		return s, pos, fmt.Errorf("%w: missing type", errSyntax)
	}
	return s, pos, nil
}

// implicitInt reports whether toks[pos] is a function name declared without
// a return type, which C89 reads as int.
func implicitInt(toks []Token, pos int) bool {
	if pos+1 >= len(toks) || !toks[pos+1].is("(") {
		return false
	}
	return pos+2 >= len(toks) || !(toks[pos+2].is("*") || toks[pos+2].is("("))
}

// tagRef resolves a "struct X" or "enum X" reference to a declaration name.
func (p *parser) tagRef(kind, tag string) string {
	if alias, ok := p.tags[tag]; ok {
		return alias
	}
	if kind == "struct" && p.allow.Type(tag) {
		p.opaque = append(p.opaque, tag)
	}
	return tag
}

// canonicalScalar maps a multiset of C type keywords to one spelling, so that
// "long unsigned int" and "unsigned long" both become "unsigned long".
func canonicalScalar(words []string) (string, error) {
	var signed, unsigned, short, char, float, double, void, boolean bool
	long := 0
	for _, w := range words {
		switch w {
		case "signed":
			signed = true
		case "unsigned":
			unsigned = true
		case "short":
			short = true
		case "long":
			long++
		case "char":
			char = true
		case "int":
		case "float":
			float = true
		case "double":
			double = true
		case "void":
			void = true
		case "_Bool", "bool":
			boolean = true
		default:
			return "", fmt.Errorf("%w: type specifier %q", domain.ErrUnsupportedDecl, w)
		}
	}
	if signed && unsigned {
		return "", fmt.Errorf("%w: signed and unsigned", errSyntax)
	}

	switch {
	case void, boolean, float:
		if len(words) != 1 {
			return "", fmt.Errorf("%w: %s", errSyntax, strings.Join(words, " "))
		}
		if void {
			return "void", nil
		}
		if boolean {
			return "bool", nil
		}
		return "float", nil
	case double:
		if long > 0 {
			return "", fmt.Errorf("%w: long double", domain.ErrUnsupportedDecl)
		}
		return "double", nil
	case char:
		switch {
		case signed:
			return "signed char", nil
		case unsigned:
			return "unsigned char", nil
		}
		return "char", nil
	case short:
		if unsigned {
			return "unsigned short", nil
		}
		return "short", nil
	case long == 1:
		if unsigned {
			return "unsigned long", nil
		}
		return "long", nil
	case long == 2:
		if unsigned {
			return "unsigned long long", nil
		}
		return "long long", nil
	case long > 2:
		return "", fmt.Errorf("%w: too many long", errSyntax)
	}
	if unsigned {
		return "unsigned int", nil
	}
	return "int", nil
}

// declarator is a parsed declarator: a name and the derivation that turns
// the specifier type into the declared type.
type declarator struct {
	name  string
	apply func(domain.TypeRef) (domain.TypeRef, error)
	init  []Token
}

type suffix struct {
	fn       bool
	dim      int
	params   []domain.Param
	variadic bool
}

const unsized = -1

func (s suffix) derive(t domain.TypeRef) (domain.TypeRef, error) {
	if s.fn {
		if len(t.Array) > 0 || (t.Func != nil && t.Pointers == 0) {
			return t, fmt.Errorf("%w: function returning array or function", errSyntax)
		}
		return domain.TypeRef{Func: &domain.FuncSig{Result: t, Params: s.params, Variadic: s.variadic}}, nil
	}
	if t.Func != nil {
		return t, fmt.Errorf("%w: array of functions", domain.ErrUnsupportedDecl)
	}
	t.Array = append([]int{s.dim}, t.Array...)
	return t, nil
}

func addPointers(t domain.TypeRef, n int) (domain.TypeRef, error) {
	if n == 0 {
		return t, nil
	}
	if len(t.Array) > 0 {
		return t, fmt.Errorf("%w: pointer to array", domain.ErrUnsupportedDecl)
	}
	t.Pointers += n
	return t, nil
}

// declarator parses one declarator starting at toks[pos]. The name is empty
// for abstract declarators.
func (p *parser) declarator(toks []Token, pos int) (declarator, int, error) {
	ptrs := 0
	for pos < len(toks) && (toks[pos].is("*") || toks[pos].is("const")) {
		if toks[pos].is("*") {
			ptrs++
		}
		pos++
	}

	var d declarator
	var inner *declarator
	switch {
	case pos+1 < len(toks) && toks[pos].is("(") && (toks[pos+1].is("*") || toks[pos+1].is("(")):
		in, next, err := p.declarator(toks, pos+1)
		if err != nil {
			return d, pos, err
		}
		if next >= len(toks) || !toks[next].is(")") {
			return d, pos, fmt.Errorf("%w: expected ) in declarator", errSyntax)
		}
		inner = &in
		d.name = in.name
		pos = next + 1
	case pos < len(toks) && toks[pos].Kind == TokIdent:
		d.name = toks[pos].Text
		pos++
	}

	var suffixes []suffix
suffixes:
	for pos < len(toks) {
		switch {
		case toks[pos].is("["):
			end := matchClose(toks, pos, "[", "]")
			if end < 0 {
				return d, pos, fmt.Errorf("%w: unbalanced [", errSyntax)
			}
			dim := unsized
			if end > pos+1 {
				v, err := evalInt(toks[pos+1:end], p.lookup)
				if err != nil {
					return d, pos, fmt.Errorf("array size: %w", err)
				}
				dim = int(v.v)
			}
			suffixes = append(suffixes, suffix{dim: dim})
			pos = end + 1
		case toks[pos].is("("):
			end := matchClose(toks, pos, "(", ")")
			if end < 0 {
				return d, pos, fmt.Errorf("%w: unbalanced (", errSyntax)
			}
			params, variadic, err := p.params(toks[pos+1 : end])
			if err != nil {
				return d, pos, err
			}
			suffixes = append(suffixes, suffix{fn: true, params: params, variadic: variadic})
			pos = end + 1
		default:
			break suffixes
		}
	}

	d.apply = func(t domain.TypeRef) (domain.TypeRef, error) {
		t, err := addPointers(t, ptrs)
		if err != nil {
			return t, err
		}
		for i := len(suffixes) - 1; i >= 0; i-- {
			if t, err = suffixes[i].derive(t); err != nil {
				return t, err
			}
		}
		if inner != nil {
			return inner.apply(t)
		}
		return t, nil
	}
	return d, pos, nil
}

// declarators parses a comma separated declarator list with optional initializers.
func (p *parser) declarators(toks []Token) ([]declarator, error) {
	var out []declarator
	for _, part := range splitTop(toks, ",") {
		init := []Token(nil)
		if eq := splitTop(part, "="); len(eq) > 1 {
			part, init = eq[0], part[len(eq[0])+1:]
		}
		d, next, err := p.declarator(part, 0)
		if err != nil {
			return nil, err
		}
		if next != len(part) {
			return nil, fmt.Errorf("%w: unexpected %q", errSyntax, part[next].Text)
		}
		d.init = init
		out = append(out, d)
	}
	return out, nil
}

// params parses the inside of a parameter list.
func (p *parser) params(toks []Token) ([]domain.Param, bool, error) {
	if len(toks) == 0 || (len(toks) == 1 && toks[0].is("void")) {
		return nil, false, nil
	}
	var params []domain.Param
	variadic := false
	for _, part := range splitTop(toks, ",") {
		if len(part) == 1 && part[0].is("...") {
			variadic = true
			continue
		}
		spec, pos, err := p.specifiers(part, 0)
		if err != nil {
			return nil, false, err
		}
		if spec.hasBody {
			return nil, false, fmt.Errorf("%w: definition inside parameter list", domain.ErrUnsupportedDecl)
		}
		d, next, err := p.declarator(part, pos)
		if err != nil {
			return nil, false, err
		}
		if next != len(part) {
			return nil, false, fmt.Errorf("%w: unexpected %q in parameter", errSyntax, part[next].Text)
		}
		t, err := d.apply(spec.ref)
		if err != nil {
			return nil, false, err
		}
		// Array and function parameters decay to pointers.
		if len(t.Array) > 0 {
			t.Array = t.Array[1:]
			if len(t.Array) > 0 {
				return nil, false, fmt.Errorf("%w: multidimensional array parameter", domain.ErrUnsupportedDecl)
			}
			t.Array = nil
			t.Pointers++
		}
		if t.Func != nil && t.Pointers == 0 {
			t.Pointers = 1
		}
		params = append(params, domain.Param{Name: d.name, Type: t})
	}
	return params, variadic, nil
}

func complete(t domain.TypeRef) error {
	for _, n := range t.Array {
		if n == unsized {
			return fmt.Errorf("%w: array without size", domain.ErrUnsupportedDecl)
		}
	}
	return nil
}

func plain(t domain.TypeRef) bool {
	return t.Func == nil && t.Pointers == 0 && len(t.Array) == 0
}

// parseDecl handles one top-level declaration after attribute stripping.
func (p *parser) parseDecl(toks []Token, align int) error {
	typedef := toks[0].is("typedef")
	if typedef {
		toks = toks[1:]
	}
	spec, pos, err := p.specifiers(toks, 0)
	if err != nil {
		return err
	}
	var decls []declarator
	if pos < len(toks) {
		if decls, err = p.declarators(toks[pos:]); err != nil {
			return err
		}
	}

	if spec.hasBody {
		name := spec.tag
		if typedef {
			for _, d := range decls {
				if t, err := d.apply(domain.TypeRef{Name: "_"}); err == nil && plain(t) && d.name != "" {
					name = d.name
					break
				}
			}
		}
		if err := p.define(spec, name, align); err != nil {
			return err
		}
		if name == "" {
			return nil
		}
		if spec.tag != "" && name != spec.tag {
			p.tags[spec.tag] = name
		}
		spec.ref.Name = name
	} else if len(decls) == 0 {
		if !typedef && spec.tagKind == "struct" && p.allow.Type(spec.tag) {
			p.opaque = p.opaque[:0]
			return p.add(&domain.Decl{Name: spec.tag, Kind: domain.KindStruct, Struct: &domain.Struct{Opaque: true}})
		}
		return nil
	}

	for _, d := range decls {
		if d.name == "" {
			return fmt.Errorf("%w: declarator without name", errSyntax)
		}
		t, err := d.apply(spec.ref)
		if err != nil {
			return err
		}
		switch {
		case typedef:
			if spec.hasBody && d.name == spec.ref.Name {
				continue
			}
			err = p.typedef(d.name, t, spec)
		case t.Func != nil && t.Pointers == 0:
			err = p.function(d.name, t.Func)
		default:
			err = p.variable(d.name, d.init)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// define records a struct or enum definition under name.
func (p *parser) define(spec specifier, name string, align int) error {
	if spec.tagKind == "enum" {
		members, err := p.enumerators(spec.body)
		if err != nil {
			return err
		}
		if name == "" {
			return p.anonymousEnum(members)
		}
		if !p.allow.Type(name) {
			return nil
		}
		style := domain.EnumOpaque
		if s, ok := p.styles[name]; ok {
			style = s
		}
		return p.add(&domain.Decl{
			Name: name,
			Kind: domain.KindEnum,
			Enum: &domain.Enum{Style: style, Members: members},
		})
	}

	if name == "" || !p.allow.Type(name) {
		return nil
	}
	fields, err := p.fields(spec.body)
	if err != nil {
		return fmt.Errorf("struct %s: %w", name, err)
	}
	return p.add(&domain.Decl{
		Name:   name,
		Kind:   domain.KindStruct,
		Struct: &domain.Struct{Fields: fields, Align: align},
	})
}

// anonymousEnum surfaces members of an untagged enum as constants.
func (p *parser) anonymousEnum(members []domain.EnumMember) error {
	for _, m := range members {
		if !p.allow.Var(m.Name) {
			continue
		}
		c := &domain.Constant{Kind: domain.ConstInt, Int: m.Value}
		if err := p.add(&domain.Decl{Name: m.Name, Kind: domain.KindConst, Const: c}); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) enumerators(body []Token) ([]domain.EnumMember, error) {
	var members []domain.EnumMember
	next := intValue{bits: 32}
	for _, item := range splitTop(body, ",") {
		if len(item) == 0 {
			continue
		}
		if item[0].Kind != TokIdent {
			return nil, fmt.Errorf("%w: enumerator %q", errSyntax, item[0].Text)
		}
		name := item[0].Text
		v := next
		if len(item) > 1 {
			if !item[1].is("=") {
				return nil, fmt.Errorf("%w: enumerator %s", errSyntax, name)
			}
			val, err := evalInt(item[2:], p.lookup)
			if err != nil {
				return nil, fmt.Errorf("enumerator %s: %w", name, err)
			}
			v = val
		}
		p.values[name] = v
		members = append(members, domain.EnumMember{Name: name, Original: name, Value: v.v})
		next = intValue{v: v.v + 1, bits: v.bits, unsigned: v.unsigned}
		// Past the end of its type the next enumerator widens, as in GCC.
		if next.normalize().v != next.v {
			next.bits = 64
		}
	}
	return members, nil
}

func (p *parser) fields(body []Token) ([]domain.Field, error) {
	var fields []domain.Field
	for _, item := range splitTop(body, ";") {
		if len(item) == 0 {
			continue
		}
		spec, pos, err := p.specifiers(item, 0)
		if err != nil {
			return nil, err
		}
		if spec.hasBody {
			return nil, fmt.Errorf("%w: nested definition", domain.ErrUnsupportedDecl)
		}
		rest := item[pos:]
		if containsTop(rest, ":") {
			return nil, fmt.Errorf("%w: bitfield", domain.ErrUnsupportedDecl)
		}
		decls, err := p.declarators(rest)
		if err != nil {
			return nil, err
		}
		for _, d := range decls {
			if d.name == "" {
				return nil, fmt.Errorf("%w: anonymous member", domain.ErrUnsupportedDecl)
			}
			t, err := d.apply(spec.ref)
			if err != nil {
				return nil, err
			}
			if err := complete(t); err != nil {
				return nil, fmt.Errorf("field %s: %w", d.name, err)
			}
			if t.Func != nil && t.Pointers == 0 {
				return nil, fmt.Errorf("%w: function member %s", errSyntax, d.name)
			}
			fields = append(fields, domain.Field{Name: d.name, Type: t})
		}
	}
	return fields, nil
}

func (p *parser) typedef(name string, t domain.TypeRef, spec specifier) error {
	// typedef struct X X; names the tag itself.
	if !spec.hasBody && spec.tagKind != "" && plain(t) && t.Name == name {
		if _, ok := p.table.Lookup(name); ok || spec.tagKind != "struct" || !p.allow.Type(name) {
			return nil
		}
		p.opaque = p.opaque[:0]
		return p.add(&domain.Decl{Name: name, Kind: domain.KindStruct, Struct: &domain.Struct{Opaque: true}})
	}

	if t.Func == nil {
		p.table.RecordAlias(name, t)
	}
	if !p.allow.Type(name) {
		return nil
	}
	if err := complete(t); err != nil {
		return fmt.Errorf("typedef %s: %w", name, err)
	}
	// C11 allows repeating an identical typedef.
	if existing, ok := p.table.Lookup(name); ok && existing.Kind == domain.KindTypedef &&
		existing.Typedef.Type.String() == t.String() {
		return nil
	}
	return p.add(&domain.Decl{Name: name, Kind: domain.KindTypedef, Typedef: &domain.Typedef{Type: t}})
}

func (p *parser) function(name string, sig *domain.FuncSig) error {
	if !p.allow.Function(name) {
		return nil
	}
	return p.add(&domain.Decl{Name: name, Kind: domain.KindFunction, Func: sig})
}

func (p *parser) variable(name string, init []Token) error {
	if !p.allow.Var(name) {
		return nil
	}
	if len(init) == 0 {
		return fmt.Errorf("%w: variable %s has no constant initializer", domain.ErrUnsupportedDecl, name)
	}
	c, err := evalConstant(init, p.lookup)
	if err != nil {
		return fmt.Errorf("variable %s: %w", name, err)
	}
	return p.add(&domain.Decl{Name: name, Kind: domain.KindConst, Const: &c})
}
