// Package domain defines the core types shared by the binding generator.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. It describes:
//
// - The symbol table produced by extraction (constants, enums, structs, typedefs, functions)
// - The versioned rewrite rules (prefix stripping, typedef correction)
// - The error taxonomy shared by every pipeline stage
//
// Infrastructure packages (extract, normalize, emit, generator) operate on these types.
// The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
