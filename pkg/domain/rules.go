package domain

import "fmt"

// PrefixRule strips a literal prefix from every member of one enum or bitmask type.
type PrefixRule struct {
	Type   string `yaml:"type" json:"type"`
	Prefix string `yaml:"prefix" json:"prefix"`
}

// PortableKind names a pointer-sized integer type independent of the C library.
type PortableKind string

const (
	PortableNone    PortableKind = ""
	PortableUintptr PortableKind = "uintptr"
	PortableIntptr  PortableKind = "intptr"
)

// Signed reports whether the portable type is signed.
func (k PortableKind) Signed() bool {
	return k == PortableIntptr
}

// Valid reports whether k is a known portable type.
func (k PortableKind) Valid() bool {
	return k == PortableUintptr || k == PortableIntptr
}

// TypedefRule rebinds a platform-specific integer typedef to a portable type.
type TypedefRule struct {
	Name   string       `yaml:"name" json:"name"`
	Target PortableKind `yaml:"target" json:"target"`
}

// RuleOutcome records what a single rule did during normalization.
type RuleOutcome struct {
	Rule    string
	Type    string
	Renamed int
	Missing bool
}

func (o RuleOutcome) String() string {
	if o.Missing {
		return fmt.Sprintf("%s %s: no match", o.Rule, o.Type)
	}
	return fmt.Sprintf("%s %s: %d renamed", o.Rule, o.Type, o.Renamed)
}
