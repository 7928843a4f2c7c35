package domain

import (
	"fmt"
	"strings"
)

// DeclKind classifies a top-level declaration.
type DeclKind int

const (
	KindConst DeclKind = iota
	KindEnum
	KindStruct
	KindTypedef
	KindFunction
)

func (k DeclKind) String() string {
	switch k {
	case KindConst:
		return "const"
	case KindEnum:
		return "enum"
	case KindStruct:
		return "struct"
	case KindTypedef:
		return "typedef"
	case KindFunction:
		return "function"
	default:
		return "unknown"
	}
}

// Builtin describes a C scalar type that needs no declaration of its own.
type Builtin struct {
	Integer bool
	Signed  bool
	Float   bool
	// Bits is zero when the width depends on the platform.
	Bits int
}

var builtins = map[string]Builtin{
	"void":               {},
	"bool":               {Integer: true, Bits: 8},
	"char":               {Integer: true, Signed: true, Bits: 8},
	"signed char":        {Integer: true, Signed: true, Bits: 8},
	"unsigned char":      {Integer: true, Bits: 8},
	"short":              {Integer: true, Signed: true, Bits: 16},
	"unsigned short":     {Integer: true, Bits: 16},
	"int":                {Integer: true, Signed: true, Bits: 32},
	"unsigned int":       {Integer: true, Bits: 32},
	"long":               {Integer: true, Signed: true},
	"unsigned long":      {Integer: true},
	"long long":          {Integer: true, Signed: true, Bits: 64},
	"unsigned long long": {Integer: true, Bits: 64},
	"float":              {Float: true, Bits: 32},
	"double":             {Float: true, Bits: 64},
	"int8_t":             {Integer: true, Signed: true, Bits: 8},
	"int16_t":            {Integer: true, Signed: true, Bits: 16},
	"int32_t":            {Integer: true, Signed: true, Bits: 32},
	"int64_t":            {Integer: true, Signed: true, Bits: 64},
	"uint8_t":            {Integer: true, Bits: 8},
	"uint16_t":           {Integer: true, Bits: 16},
	"uint32_t":           {Integer: true, Bits: 32},
	"uint64_t":           {Integer: true, Bits: 64},
	"intptr_t":           {Integer: true, Signed: true},
	"uintptr_t":          {Integer: true},
}

// LookupBuiltin returns the builtin description for a canonical C type name.
func LookupBuiltin(name string) (Builtin, bool) {
	b, ok := builtins[name]
	return b, ok
}

// TypeRef is a use of a type: a field, parameter, result or typedef target.
type TypeRef struct {
	// Name is the canonical builtin spelling ("unsigned int") or a declared name.
	// It is empty for function pointer types.
	Name     string
	Const    bool
	Pointers int
	// Array holds fixed dimensions, outermost first.
	Array []int
	// Func is set for function pointer types; Pointers counts the indirections
	// to the function.
	Func *FuncSig
}

// IsBuiltin reports whether the referenced type is a C builtin.
func (t TypeRef) IsBuiltin() bool {
	if t.Func != nil {
		return false
	}
	_, ok := builtins[t.Name]
	return ok
}

// IsVoid reports whether t is plain void (not a pointer to void).
func (t TypeRef) IsVoid() bool {
	return t.Func == nil && t.Name == "void" && t.Pointers == 0 && len(t.Array) == 0
}

func (t TypeRef) String() string {
	var b strings.Builder
	if t.Const {
		b.WriteString("const ")
	}
	if t.Func != nil {
		fmt.Fprintf(&b, "%s (%s)(", t.Func.Result, strings.Repeat("*", t.Pointers))
		for i, p := range t.Func.Params {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(p.Type.String())
		}
		b.WriteString(")")
		return b.String()
	}
	b.WriteString(t.Name)
	b.WriteString(strings.Repeat("*", t.Pointers))
	for _, n := range t.Array {
		fmt.Fprintf(&b, "[%d]", n)
	}
	return b.String()
}

// Param is a function parameter. Name may be empty.
type Param struct {
	Name string
	Type TypeRef
}

// FuncSig is a function prototype or function pointer signature.
type FuncSig struct {
	Result   TypeRef
	Params   []Param
	Variadic bool
}

// ConstKind classifies macro and variable constants.
type ConstKind int

const (
	ConstInt ConstKind = iota
	ConstFloat
	ConstString
)

// Constant is an object-like macro or constant variable value.
type Constant struct {
	Kind     ConstKind
	Int      int64
	Unsigned bool
	Float    float64
	Str      string
}

// EnumStyle selects how an enum is surfaced.
type EnumStyle int

const (
	// EnumOpaque keeps the enum as a plain integer with its original constant names.
	EnumOpaque EnumStyle = iota
	// EnumClosed is an exhaustively listed set of variants.
	EnumClosed
	// EnumBitmask is a set of combinable flags.
	EnumBitmask
)

func (s EnumStyle) String() string {
	switch s {
	case EnumClosed:
		return "closed"
	case EnumBitmask:
		return "bitmask"
	default:
		return "opaque"
	}
}

// EnumMember is one enumerator. Original keeps the name found in the header.
type EnumMember struct {
	Name     string
	Original string
	Value    int64
}

// Enum is an enumeration declaration.
type Enum struct {
	Style   EnumStyle
	Members []EnumMember
}

// Signed reports whether any member value is negative.
func (e *Enum) Signed() bool {
	for _, m := range e.Members {
		if m.Value < 0 {
			return true
		}
	}
	return false
}

// Field is a struct member.
type Field struct {
	Name string
	Type TypeRef
}

// Struct is a struct declaration. Opaque structs are referenced but never defined.
type Struct struct {
	Fields []Field
	Align  int
	Opaque bool
}

// Typedef binds a name to another type. Portable is set by typedef correction.
type Typedef struct {
	Type     TypeRef
	Portable PortableKind
}

// Decl is a named top-level declaration.
type Decl struct {
	Name    string
	Kind    DeclKind
	Const   *Constant
	Enum    *Enum
	Struct  *Struct
	Typedef *Typedef
	Func    *FuncSig
}

// References returns the declared (non-builtin) type names d depends on, in order.
func (d *Decl) References() []string {
	var refs []string
	seen := map[string]bool{}
	var visit func(t TypeRef)
	visit = func(t TypeRef) {
		if t.Func != nil {
			visit(t.Func.Result)
			for _, p := range t.Func.Params {
				visit(p.Type)
			}
			return
		}
		if t.Name == "" || t.IsBuiltin() || seen[t.Name] {
			return
		}
		seen[t.Name] = true
		refs = append(refs, t.Name)
	}

	switch d.Kind {
	case KindStruct:
		for _, f := range d.Struct.Fields {
			visit(f.Type)
		}
	case KindTypedef:
		if d.Typedef.Portable == PortableNone {
			visit(d.Typedef.Type)
		}
	case KindFunction:
		visit(TypeRef{Func: d.Func})
	}
	return refs
}

// SymbolTable holds declarations in header order.
type SymbolTable struct {
	Header string
	decls  []*Decl
	index  map[string]*Decl
	// aliases records every plain typedef seen, allow-listed or not, so that
	// typedef chains can be followed down to a builtin.
	aliases map[string]TypeRef
}

// NewSymbolTable creates an empty table for the named header.
func NewSymbolTable(header string) *SymbolTable {
	return &SymbolTable{
		Header:  header,
		index:   make(map[string]*Decl),
		aliases: make(map[string]TypeRef),
	}
}

// RecordAlias remembers that name is a typedef of ref.
func (t *SymbolTable) RecordAlias(name string, ref TypeRef) {
	t.aliases[name] = ref
}

// UnderlyingBuiltin follows typedefs from ref down to a builtin scalar.
func (t *SymbolTable) UnderlyingBuiltin(ref TypeRef) (string, Builtin, bool) {
	for range 16 {
		if ref.Func != nil || ref.Pointers > 0 || len(ref.Array) > 0 {
			return "", Builtin{}, false
		}
		if b, ok := builtins[ref.Name]; ok {
			return ref.Name, b, true
		}
		next, ok := t.aliases[ref.Name]
		if !ok {
			return "", Builtin{}, false
		}
		ref = next
	}
	return "", Builtin{}, false
}

// Add appends a declaration. An opaque struct is completed in place by a later
// definition, and a repeated opaque reference is ignored; any other redefinition
// is an error.
func (t *SymbolTable) Add(d *Decl) error {
	existing, ok := t.index[d.Name]
	if !ok {
		t.decls = append(t.decls, d)
		t.index[d.Name] = d
		return nil
	}
	if existing.Kind == KindStruct && d.Kind == KindStruct {
		if d.Struct.Opaque {
			return nil
		}
		if existing.Struct.Opaque {
			*existing = *d
			return nil
		}
	}
	return fmt.Errorf("%w: %s declared twice (%s, %s)", ErrUnsupportedDecl, d.Name, existing.Kind, d.Kind)
}

// Lookup returns the declaration with the given name.
func (t *SymbolTable) Lookup(name string) (*Decl, bool) {
	d, ok := t.index[name]
	return d, ok
}

// Decls returns all declarations in header order.
func (t *SymbolTable) Decls() []*Decl {
	return t.decls
}

// Len returns the number of declarations.
func (t *SymbolTable) Len() int {
	return len(t.decls)
}

// Count returns the number of declarations of the given kind.
func (t *SymbolTable) Count(kind DeclKind) int {
	n := 0
	for _, d := range t.decls {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

// UnresolvedRef is a reference from Decl to a type missing from the table.
type UnresolvedRef struct {
	Decl string
	Ref  string
}

// Unresolved returns references to names missing from the table, in header order.
func (t *SymbolTable) Unresolved() []UnresolvedRef {
	var missing []UnresolvedRef
	for _, d := range t.decls {
		for _, ref := range d.References() {
			if _, ok := t.index[ref]; !ok {
				missing = append(missing, UnresolvedRef{Decl: d.Name, Ref: ref})
			}
		}
	}
	return missing
}
