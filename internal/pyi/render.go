// Package pyi renders module descriptors as Python stub (.pyi) files.
package pyi

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/phobologic/pyistub/internal/model"
)

// Header silences flake8's "stubs should omit docstrings" rule; docstrings
// are kept on purpose so IDEs can show them.
const Header = "# flake8: noqa: PYI021"

const indent = "    "

// Options controls rendering.
type Options struct {
	// Sort orders entries by their text instead of declaration order.
	Sort bool
}

// Render returns the .pyi text for m.
func Render(m model.ModuleDescriptor, opts Options) string {
	entries := make([]string, 0, len(m.Functions))
	for i := range m.Functions {
		entries = append(entries, Entry(m.Functions[i]))
	}
	if opts.Sort {
		sort.Strings(entries)
	}

	parts := make([]string, 0, len(entries)+1)
	parts = append(parts, Header)
	parts = append(parts, entries...)
	return strings.Join(parts, "\n")
}

// Entry renders one function declaration, terminated by a newline.
func Entry(fn model.FunctionDescriptor) string {
	var b strings.Builder
	b.WriteString("def ")
	b.WriteString(fn.SignatureText)
	b.WriteString(":\n")

	doc := strings.ReplaceAll(fn.Docstring, `"""`, `\"\"\"`)
	switch {
	case doc == "":
		b.WriteString(indent + "...")
	case strings.Contains(doc, "\n"):
		b.WriteString(indent + `"""` + "\n")
		b.WriteString(indentLines(doc))
		b.WriteString("\n" + indent + `"""`)
	default:
		b.WriteString(indent + `"""` + closeSafe(doc) + `"""`)
	}
	b.WriteString("\n")
	return b.String()
}

// closeSafe escapes a final quote or backslash that would otherwise run into
// the closing triple quote of a one-line docstring.
func closeSafe(doc string) string {
	trimmed := strings.TrimSuffix(doc, `"`)
	slashes := len(trimmed) - len(strings.TrimRight(trimmed, `\`))
	switch {
	case trimmed != doc && slashes%2 == 0:
		return trimmed + `\"`
	case trimmed == doc && slashes%2 == 1:
		return doc + `\`
	}
	return doc
}

// indentLines prefixes every non-blank line; blank lines stay empty.
func indentLines(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			lines[i] = indent + line
		}
	}
	return strings.Join(lines, "\n")
}

// Path returns the stub location for a dotted module name under outDir:
// "pypkg.rustlib" becomes outDir/pypkg/rustlib.pyi.
func Path(outDir, module string) string {
	parts := append([]string{outDir}, strings.Split(module, ".")...)
	return filepath.Join(parts...) + ".pyi"
}
