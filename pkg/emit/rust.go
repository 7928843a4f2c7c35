package emit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/polisai/rtcbind/pkg/domain"
)

const (
	rustRaw    = "::std::os::raw::"
	rustOption = "::std::option::Option"
)

var rustBuiltins = map[string]string{
	"void":               rustRaw + "c_void",
	"bool":               "bool",
	"char":               rustRaw + "c_char",
	"signed char":        rustRaw + "c_schar",
	"unsigned char":      rustRaw + "c_uchar",
	"short":              rustRaw + "c_short",
	"unsigned short":     rustRaw + "c_ushort",
	"int":                rustRaw + "c_int",
	"unsigned int":       rustRaw + "c_uint",
	"long":               rustRaw + "c_long",
	"unsigned long":      rustRaw + "c_ulong",
	"long long":          rustRaw + "c_longlong",
	"unsigned long long": rustRaw + "c_ulonglong",
	"float":              "f32",
	"double":             "f64",
	"int8_t":             "i8",
	"int16_t":            "i16",
	"int32_t":            "i32",
	"int64_t":            "i64",
	"uint8_t":            "u8",
	"uint16_t":           "u16",
	"uint32_t":           "u32",
	"uint64_t":           "u64",
	"intptr_t":           "isize",
	"uintptr_t":          "usize",
}

var rustKeywords = map[string]bool{
	"as": true, "async": true, "await": true, "break": true, "const": true,
	"continue": true, "crate": true, "dyn": true, "else": true, "enum": true,
	"extern": true, "false": true, "fn": true, "for": true, "if": true,
	"impl": true, "in": true, "let": true, "loop": true, "match": true,
	"mod": true, "move": true, "mut": true, "pub": true, "ref": true,
	"return": true, "self": true, "Self": true, "static": true, "struct": true,
	"super": true, "trait": true, "true": true, "type": true, "unsafe": true,
	"use": true, "where": true, "while": true, "abstract": true, "become": true,
	"box": true, "do": true, "final": true, "macro": true, "override": true,
	"priv": true, "try": true, "typeof": true, "unsized": true, "virtual": true,
	"yield": true, "gen": true,
}

func rustIdent(name string) string {
	if rustKeywords[name] {
		return name + "_"
	}
	return name
}

// RustEmitter renders bindgen-style Rust declarations.
type RustEmitter struct{}

// Target implements Emitter.
func (*RustEmitter) Target() string { return TargetRust }

// Extension implements Emitter.
func (*RustEmitter) Extension() string { return "rs" }

// Emit implements Emitter.
func (r *RustEmitter) Emit(table *domain.SymbolTable) ([]byte, error) {
	w := &writer{}
	w.linef("/* automatically generated by rtcbind from %s, do not edit */", table.Header)

	var prev domain.DeclKind = -1
	inExtern := false
	for _, d := range table.Decls() {
		if d.Kind == domain.KindTypedef && selfTypedef(d) {
			continue
		}
		if inExtern && d.Kind != domain.KindFunction {
			w.linef("}")
			inExtern = false
		}
		if !inExtern && (d.Kind != domain.KindConst || prev != domain.KindConst) {
			w.blank()
		}

		var err error
		switch d.Kind {
		case domain.KindConst:
			err = r.constant(w, d)
		case domain.KindEnum:
			r.enum(w, d)
		case domain.KindStruct:
			err = r.structure(w, d)
		case domain.KindTypedef:
			err = r.typedef(w, d)
		case domain.KindFunction:
			if !inExtern {
				w.linef(`extern "C" {`)
				inExtern = true
			}
			err = r.function(w, d)
		}
		if err != nil {
			return nil, &domain.GenerationError{Stage: domain.StageEmit, Symbol: d.Name, Err: err}
		}
		prev = d.Kind
	}
	if inExtern {
		w.linef("}")
	}
	return w.buf.Bytes(), nil
}

func (r *RustEmitter) constant(w *writer, d *domain.Decl) error {
	c := d.Const
	switch c.Kind {
	case domain.ConstInt:
		w.linef("pub const %s: %s = %d;", rustIdent(d.Name), rustIntType(c.Int), c.Int)
	case domain.ConstFloat:
		w.linef("pub const %s: f64 = %s;", rustIdent(d.Name), floatLiteral(c.Float))
	case domain.ConstString:
		w.linef("pub const %s: &[u8; %d] = b\"%s\\0\";", rustIdent(d.Name), len(c.Str)+1, rustBytes(c.Str))
	default:
		return fmt.Errorf("unknown constant kind %d", c.Kind)
	}
	return nil
}

func rustIntType(values ...int64) string {
	bits, signed := intWidth(values...)
	if signed {
		return "i" + strconv.Itoa(bits)
	}
	return "u" + strconv.Itoa(bits)
}

func (r *RustEmitter) enum(w *writer, d *domain.Decl) {
	e := d.Enum
	repr := rustIntType(memberValues(e)...)
	name := rustIdent(d.Name)

	switch {
	case e.Style == domain.EnumClosed && len(e.Members) > 0:
		var aliases []string
		owner := map[int64]string{}
		w.linef("#[repr(%s)]", repr)
		w.linef("#[derive(Debug, Copy, Clone, Hash, PartialEq, Eq)]")
		w.linef("pub enum %s {", name)
		for _, m := range e.Members {
			if first, dup := owner[m.Value]; dup {
				aliases = append(aliases, fmt.Sprintf("    pub const %s: %s = %s::%s;", rustIdent(m.Name), name, name, first))
				continue
			}
			owner[m.Value] = rustIdent(m.Name)
			w.linef("    %s = %d,", rustIdent(m.Name), m.Value)
		}
		w.linef("}")
		if len(aliases) > 0 {
			w.linef("impl %s {", name)
			for _, a := range aliases {
				w.linef("%s", a)
			}
			w.linef("}")
		}

	case e.Style == domain.EnumBitmask:
		w.linef("#[repr(transparent)]")
		w.linef("#[derive(Debug, Copy, Clone, Hash, PartialEq, Eq)]")
		w.linef("pub struct %s(pub %s);", name, repr)
		if len(e.Members) > 0 {
			w.linef("impl %s {", name)
			for _, m := range e.Members {
				w.linef("    pub const %s: %s = %s(%d);", rustIdent(m.Name), name, name, m.Value)
			}
			w.linef("}")
		}
		for _, op := range []struct{ trait, method, token string }{
			{"BitOr", "bitor", "|"},
			{"BitAnd", "bitand", "&"},
		} {
			w.linef("impl ::std::ops::%s<%s> for %s {", op.trait, name, name)
			w.linef("    type Output = Self;")
			w.linef("    #[inline]")
			w.linef("    fn %s(self, other: Self) -> Self {", op.method)
			w.linef("        %s(self.0 %s other.0)", name, op.token)
			w.linef("    }")
			w.linef("}")
			w.linef("impl ::std::ops::%sAssign for %s {", op.trait, name)
			w.linef("    #[inline]")
			w.linef("    fn %s_assign(&mut self, rhs: %s) {", op.method, name)
			w.linef("        self.0 %s= rhs.0;", op.token)
			w.linef("    }")
			w.linef("}")
		}

	default:
		w.linef("pub type %s = %s;", name, repr)
		for _, m := range e.Members {
			w.linef("pub const %s: %s = %d;", rustIdent(m.Name), name, m.Value)
		}
	}
}

func (r *RustEmitter) structure(w *writer, d *domain.Decl) error {
	s := d.Struct
	if s.Align > 0 {
		w.linef("#[repr(C, align(%d))]", s.Align)
	} else {
		w.linef("#[repr(C)]")
	}
	w.linef("#[derive(Debug, Copy, Clone)]")
	w.linef("pub struct %s {", rustIdent(d.Name))
	if s.Opaque {
		w.linef("    _unused: [u8; 0],")
	}
	for _, f := range s.Fields {
		t, err := rustType(f.Type)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		w.linef("    pub %s: %s,", rustIdent(f.Name), t)
	}
	w.linef("}")
	return nil
}

func (r *RustEmitter) typedef(w *writer, d *domain.Decl) error {
	var target string
	switch d.Typedef.Portable {
	case domain.PortableUintptr:
		target = "usize"
	case domain.PortableIntptr:
		target = "isize"
	default:
		t, err := rustType(d.Typedef.Type)
		if err != nil {
			return err
		}
		target = t
	}
	w.linef("pub type %s = %s;", rustIdent(d.Name), target)
	return nil
}

func (r *RustEmitter) function(w *writer, d *domain.Decl) error {
	params, err := rustParams(d.Func, true)
	if err != nil {
		return err
	}
	result, err := rustResult(d.Func.Result)
	if err != nil {
		return err
	}
	w.linef("    pub fn %s(%s)%s;", rustIdent(d.Name), params, result)
	return nil
}

func rustParams(sig *domain.FuncSig, named bool) (string, error) {
	var parts []string
	for i, p := range sig.Params {
		t, err := rustType(p.Type)
		if err != nil {
			return "", fmt.Errorf("parameter %d: %w", i, err)
		}
		switch {
		case named:
			parts = append(parts, rustIdent(paramName(p, i))+": "+t)
		case p.Name != "":
			parts = append(parts, rustIdent(p.Name)+": "+t)
		default:
			parts = append(parts, t)
		}
	}
	if sig.Variadic {
		parts = append(parts, "...")
	}
	return strings.Join(parts, ", "), nil
}

func rustResult(t domain.TypeRef) (string, error) {
	if t.IsVoid() {
		return "", nil
	}
	s, err := rustType(t)
	if err != nil {
		return "", err
	}
	return " -> " + s, nil
}

func rustType(t domain.TypeRef) (string, error) {
	var base string
	pointers := t.Pointers
	switch {
	case t.Func != nil:
		params, err := rustParams(t.Func, false)
		if err != nil {
			return "", err
		}
		result, err := rustResult(t.Func.Result)
		if err != nil {
			return "", err
		}
		base = fmt.Sprintf(`%s<unsafe extern "C" fn(%s)%s>`, rustOption, params, result)
		// The option already stands for the first indirection.
		if pointers > 0 {
			pointers--
		}
	case t.IsBuiltin():
		base = rustBuiltins[t.Name]
		if t.Name == "void" && pointers == 0 && len(t.Array) == 0 {
			return "", fmt.Errorf("void used as a value type")
		}
	case t.Name != "":
		base = rustIdent(t.Name)
	default:
		return "", fmt.Errorf("empty type")
	}

	for i := range pointers {
		if i == 0 && t.Const && t.Func == nil {
			base = "*const " + base
		} else {
			base = "*mut " + base
		}
	}
	for i := len(t.Array) - 1; i >= 0; i-- {
		base = fmt.Sprintf("[%s; %d]", base, t.Array[i])
	}
	return base, nil
}

func floatLiteral(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eIN") {
		s += ".0"
	}
	return s
}

func rustBytes(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c >= 0x20 && c < 0x7f:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "\\x%02x", c)
		}
	}
	return b.String()
}
