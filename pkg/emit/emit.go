// Package emit renders a normalized symbol table as a binding file for one
// target language.
package emit

import (
	"bytes"
	"fmt"
	"math"

	"github.com/polisai/rtcbind/pkg/domain"
)

// Supported targets.
const (
	TargetRust = "rust"
	TargetGo   = "go"
)

// Emitter renders a symbol table into the source of a binding file.
// Output depends only on the table so identical inputs give identical bytes.
type Emitter interface {
	// Emit renders the complete file.
	Emit(table *domain.SymbolTable) ([]byte, error)

	// Target returns the target name ("rust", "go").
	Target() string

	// Extension returns the conventional file extension without the dot.
	Extension() string
}

// Options configure the emitters.
type Options struct {
	// Package is the Go package clause used by the go target.
	Package string
}

// New returns the emitter for target.
func New(target string, opts Options) (Emitter, error) {
	switch target {
	case TargetRust, "":
		return &RustEmitter{}, nil
	case TargetGo:
		if opts.Package == "" {
			return nil, fmt.Errorf("%w: go target requires a package name", domain.ErrConfigInvalid)
		}
		return &GoEmitter{Package: opts.Package}, nil
	default:
		return nil, fmt.Errorf("%w: unknown target %q", domain.ErrConfigInvalid, target)
	}
}

// writer accumulates generated lines.
type writer struct {
	buf bytes.Buffer
}

func (w *writer) linef(format string, args ...any) {
	fmt.Fprintf(&w.buf, format, args...)
	w.buf.WriteByte('\n')
}

func (w *writer) blank() {
	w.buf.WriteByte('\n')
}

// intWidth picks the narrowest of 32 or 64 bits that holds every value, and
// whether a signed representation is needed.
func intWidth(values ...int64) (bits int, signed bool) {
	bits = 32
	for _, v := range values {
		if v < 0 {
			signed = true
		}
	}
	for _, v := range values {
		if signed && (v < math.MinInt32 || v > math.MaxInt32) {
			bits = 64
		}
		if !signed && v > math.MaxUint32 {
			bits = 64
		}
	}
	return bits, signed
}

func memberValues(e *domain.Enum) []int64 {
	values := make([]int64, len(e.Members))
	for i, m := range e.Members {
		values[i] = m.Value
	}
	return values
}

// selfTypedef reports whether d merely re-exports a tag under its own name.
func selfTypedef(d *domain.Decl) bool {
	t := d.Typedef.Type
	return d.Typedef.Portable == domain.PortableNone && t.Func == nil && t.Pointers == 0 && len(t.Array) == 0 && t.Name == d.Name
}

// opaquePointee reports whether t points directly at a struct that is never defined.
func opaquePointee(table *domain.SymbolTable, t domain.TypeRef) bool {
	if t.Func != nil || t.Pointers == 0 {
		return false
	}
	d, ok := table.Lookup(t.Name)
	return ok && d.Kind == domain.KindStruct && d.Struct.Opaque
}

func paramName(p domain.Param, i int) string {
	if p.Name == "" {
		return fmt.Sprintf("arg%d", i)
	}
	return p.Name
}
