package emit

import (
	"fmt"
	"go/format"
	"go/token"
	"strconv"
	"strings"

	"github.com/polisai/rtcbind/pkg/domain"
)

var goBuiltins = map[string]string{
	"bool":               "bool",
	"char":               "byte",
	"signed char":        "int8",
	"unsigned char":      "uint8",
	"short":              "int16",
	"unsigned short":     "uint16",
	"int":                "int32",
	"unsigned int":       "uint32",
	"long":               "int",
	"unsigned long":      "uint",
	"long long":          "int64",
	"unsigned long long": "uint64",
	"float":              "float32",
	"double":             "float64",
	"int8_t":             "int8",
	"int16_t":            "int16",
	"int32_t":            "int32",
	"int64_t":            "int64",
	"uint8_t":            "uint8",
	"uint16_t":           "uint16",
	"uint32_t":           "uint32",
	"uint64_t":           "uint64",
	"intptr_t":           "int",
	"uintptr_t":          "uintptr",
}

func goIdent(name string) string {
	if token.IsKeyword(name) {
		return name + "_"
	}
	return name
}

// exported turns a C field name into an exported Go field name.
func exported(name string) string {
	if name == "" {
		return name
	}
	if name[0] == '_' {
		return "X" + name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// GoEmitter renders a cgo-free Go file. Handles and callbacks are uintptr and
// functions are declared as variables for a dynamic loader to fill in.
type GoEmitter struct {
	Package string
}

// Target implements Emitter.
func (*GoEmitter) Target() string { return TargetGo }

// Extension implements Emitter.
func (*GoEmitter) Extension() string { return "go" }

// Emit implements Emitter.
func (g *GoEmitter) Emit(table *domain.SymbolTable) ([]byte, error) {
	gen := &goFile{table: table, imports: map[string]bool{}}
	body := &writer{}
	var funcs []*domain.Decl

	for _, d := range table.Decls() {
		var err error
		switch d.Kind {
		case domain.KindConst:
			gen.constant(body, d)
		case domain.KindEnum:
			gen.enum(body, d)
		case domain.KindStruct:
			err = gen.structure(body, d)
		case domain.KindTypedef:
			if !selfTypedef(d) {
				err = gen.typedef(body, d)
			}
		case domain.KindFunction:
			funcs = append(funcs, d)
		}
		if err != nil {
			return nil, &domain.GenerationError{Stage: domain.StageEmit, Symbol: d.Name, Err: err}
		}
	}
	if err := gen.functions(body, funcs); err != nil {
		return nil, err
	}

	out := &writer{}
	out.linef("// Code generated by rtcbind from %s. DO NOT EDIT.", table.Header)
	out.blank()
	out.linef("package %s", g.Package)
	if len(gen.imports) > 0 {
		out.blank()
		out.linef("import (")
		for _, imp := range []string{"fmt", "unsafe"} {
			if gen.imports[imp] {
				out.linef("\t%q", imp)
			}
		}
		out.linef(")")
	}
	out.buf.Write(body.buf.Bytes())

	src, err := format.Source(out.buf.Bytes())
	if err != nil {
		return nil, &domain.GenerationError{Stage: domain.StageEmit, Err: fmt.Errorf("format generated Go: %w", err)}
	}
	return src, nil
}

type goFile struct {
	table   *domain.SymbolTable
	imports map[string]bool
}

func (g *goFile) constant(w *writer, d *domain.Decl) {
	c := d.Const
	var value string
	switch c.Kind {
	case domain.ConstInt:
		value = strconv.FormatInt(c.Int, 10)
	case domain.ConstFloat:
		value = floatLiteral(c.Float)
	case domain.ConstString:
		value = strconv.Quote(c.Str)
	}
	w.blank()
	w.linef("const %s = %s", goIdent(d.Name), value)
}

func goIntType(values ...int64) string {
	bits, signed := intWidth(values...)
	if signed {
		return "int" + strconv.Itoa(bits)
	}
	return "uint" + strconv.Itoa(bits)
}

func (g *goFile) enum(w *writer, d *domain.Decl) {
	e := d.Enum
	name := goIdent(d.Name)
	w.blank()
	w.linef("type %s %s", name, goIntType(memberValues(e)...))

	constName := func(m domain.EnumMember) string {
		if e.Style == domain.EnumOpaque {
			return goIdent(m.Name)
		}
		// Constants share package scope, so variants carry their type name.
		return d.Name + "_" + m.Name
	}

	if len(e.Members) > 0 {
		w.blank()
		w.linef("const (")
		for _, m := range e.Members {
			w.linef("\t%s %s = %d", constName(m), name, m.Value)
		}
		w.linef(")")
	}

	switch e.Style {
	case domain.EnumClosed:
		g.imports["fmt"] = true
		w.blank()
		w.linef("func (v %s) String() string {", name)
		w.linef("\tswitch v {")
		seen := map[int64]bool{}
		for _, m := range e.Members {
			if seen[m.Value] {
				continue
			}
			seen[m.Value] = true
			w.linef("\tcase %s:", constName(m))
			w.linef("\t\treturn %q", m.Name)
		}
		w.linef("\t}")
		w.linef("\treturn fmt.Sprintf(\"%s(%%d)\", v)", d.Name)
		w.linef("}")
	case domain.EnumBitmask:
		w.blank()
		w.linef("// Has reports whether every bit of flag is set in v.")
		w.linef("func (v %s) Has(flag %s) bool {", name, name)
		w.linef("\treturn v&flag == flag")
		w.linef("}")
	}
}

func (g *goFile) structure(w *writer, d *domain.Decl) error {
	s := d.Struct
	w.blank()
	if s.Opaque {
		// Pointers to it are rendered as uintptr handles.
		w.linef("type %s struct{}", goIdent(d.Name))
		return nil
	}
	if s.Align > 0 {
		w.linef("// %s is aligned to %d bytes in C.", d.Name, s.Align)
	}
	w.linef("type %s struct {", goIdent(d.Name))
	used := map[string]bool{}
	for _, f := range s.Fields {
		t, err := g.goType(f.Type)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		field := exported(f.Name)
		for used[field] {
			field += "_"
		}
		used[field] = true
		w.linef("\t%s %s", field, t)
	}
	w.linef("}")
	return nil
}

func (g *goFile) typedef(w *writer, d *domain.Decl) error {
	w.blank()
	switch d.Typedef.Portable {
	case domain.PortableUintptr:
		w.linef("type %s = uintptr", goIdent(d.Name))
		return nil
	case domain.PortableIntptr:
		w.linef("type %s = int", goIdent(d.Name))
		return nil
	}
	t, err := g.goType(d.Typedef.Type)
	if err != nil {
		return err
	}
	w.linef("type %s %s", goIdent(d.Name), t)
	return nil
}

func (g *goFile) functions(w *writer, funcs []*domain.Decl) error {
	if len(funcs) == 0 {
		return nil
	}
	w.blank()
	w.linef("var (")
	for _, d := range funcs {
		sig, err := g.signature(d.Func)
		if err != nil {
			return &domain.GenerationError{Stage: domain.StageEmit, Symbol: d.Name, Err: err}
		}
		w.linef("\t%s func%s", goIdent(d.Name), sig)
	}
	w.linef(")")

	w.blank()
	w.linef("// Symbols maps each native symbol to the function variable bound to it.")
	w.linef("func Symbols() map[string]any {")
	w.linef("\treturn map[string]any{")
	for _, d := range funcs {
		w.linef("\t\t%q: &%s,", d.Name, goIdent(d.Name))
	}
	w.linef("\t}")
	w.linef("}")
	return nil
}

func (g *goFile) signature(sig *domain.FuncSig) (string, error) {
	var params []string
	for i, p := range sig.Params {
		t, err := g.goType(p.Type)
		if err != nil {
			return "", fmt.Errorf("parameter %d: %w", i, err)
		}
		params = append(params, goIdent(paramName(p, i))+" "+t)
	}
	if sig.Variadic {
		params = append(params, "args ...any")
	}
	s := "(" + strings.Join(params, ", ") + ")"
	if !sig.Result.IsVoid() {
		t, err := g.goType(sig.Result)
		if err != nil {
			return "", err
		}
		s += " " + t
	}
	return s, nil
}

func (g *goFile) goType(t domain.TypeRef) (string, error) {
	var base string
	pointers := t.Pointers
	switch {
	case t.Func != nil:
		base = "uintptr"
		if pointers > 0 {
			pointers--
		}
	case opaquePointee(g.table, t):
		base = "uintptr"
		pointers--
	case t.Name == "void":
		if pointers == 0 {
			return "", fmt.Errorf("void used as a value type")
		}
		g.imports["unsafe"] = true
		base = "unsafe.Pointer"
		pointers--
	case t.IsBuiltin():
		base = goBuiltins[t.Name]
	case t.Name != "":
		base = goIdent(t.Name)
	default:
		return "", fmt.Errorf("empty type")
	}

	base = strings.Repeat("*", pointers) + base
	var dims strings.Builder
	for _, n := range t.Array {
		fmt.Fprintf(&dims, "[%d]", n)
	}
	return dims.String() + base, nil
}
