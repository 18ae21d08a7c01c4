// Package model defines core data structures for pyistub.
package model

// RawFunctionRecord is the annotation data extracted for one #[pyfunction].
// A nil override means the annotation did not supply that key.
type RawFunctionRecord struct {
	SourceIdentifier  string
	Parameters        []string
	NameOverride      *string
	SignatureOverride *string
	DocLines          []string
	Line              int
}

// RawModuleRecord is the annotation data extracted for a source unit's #[pymodule].
type RawModuleRecord struct {
	ModuleNameOverride *string
}

// SourceUnit holds everything extracted from a single source file.
type SourceUnit struct {
	Path      string // Relative to crate root
	Module    RawModuleRecord
	Functions []RawFunctionRecord
}

// FunctionDescriptor is a fully resolved function, ready for rendering.
type FunctionDescriptor struct {
	PublicName    string
	SignatureText string
	Docstring     string
}

// ResolvedUnit pairs a unit's module record with its resolved functions.
type ResolvedUnit struct {
	Path      string
	Module    RawModuleRecord
	Functions []FunctionDescriptor
}

// ModuleDescriptor groups the functions exported into one Python module.
// Units lists the contributing source paths in first-seen order.
type ModuleDescriptor struct {
	ModuleName string
	Functions  []FunctionDescriptor
	Units      []string
}

// Ptr returns a pointer to s. Handy for building records with overrides.
func Ptr(s string) *string {
	return &s
}
