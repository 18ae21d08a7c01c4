// Package parse extracts pyo3 annotation records from Rust source files
// using tree-sitter.
package parse

import (
	"context"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/pyistub/internal/lang"
	"github.com/phobologic/pyistub/internal/model"
)

const (
	attrFunction = "pyfunction"
	attrModule   = "pymodule"
	attrOptions  = "pyo3"
	attrDoc      = "doc"
)

// annotations is what the attribute/comment block above one function says.
type annotations struct {
	function  bool
	module    bool
	name      *string
	textSig   *string
	signature *string // pyo3 `signature = (...)`, used when text_signature is absent
	doc       []string
}

// ExtractUnit parses a source file and returns the pyo3 records it declares.
// ok is false when the file has neither a #[pyfunction] nor a #[pymodule].
// The parser must be created for the correct language.
// filePath is used only for SourceUnit.Path and should be the crate-relative path.
func ExtractUnit(parser *sitter.Parser, query *sitter.Query, source []byte, filePath string, logger *log.Logger) (unit model.SourceUnit, ok bool) {
	unit.Path = filePath
	if len(source) == 0 {
		return unit, false
	}
	if logger == nil {
		logger = log.Default()
	}

	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return unit, false
	}
	defer tree.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, tree.RootNode())

	var moduleLine int

	for {
		match, found := qc.NextMatch()
		if !found {
			break
		}
		match = qc.FilterPredicates(match, source)

		var nameNode, defNode *sitter.Node
		for _, c := range match.Captures {
			switch query.CaptureNameForId(c.Index) {
			case "name":
				nameNode = c.Node
			case "definition.function":
				defNode = c.Node
			}
		}
		if nameNode == nil || defNode == nil {
			continue
		}

		ann := collectAnnotations(defNode, source)
		line := int(nameNode.StartPoint().Row) + 1

		switch {
		case ann.module:
			if moduleLine > 0 {
				logger.Warn("ignoring extra #[pymodule]", "file", filePath, "line", line, "first", moduleLine)
				continue
			}
			moduleLine = line
			unit.Module.ModuleNameOverride = ann.name
			ok = true
		case ann.function:
			sig := ann.textSig
			if sig == nil {
				sig = ann.signature
			}
			unit.Functions = append(unit.Functions, model.RawFunctionRecord{
				SourceIdentifier:  lang.NodeText(nameNode, source),
				Parameters:        extractParameters(defNode, source),
				NameOverride:      ann.name,
				SignatureOverride: sig,
				DocLines:          ann.doc,
				Line:              line,
			})
			ok = true
		}
	}

	return unit, ok
}

// collectAnnotations walks the attributes and comments directly above a
// function item. Doc lines are returned in source order.
func collectAnnotations(fn *sitter.Node, source []byte) annotations {
	var block []*sitter.Node
	for prev := fn.PrevNamedSibling(); prev != nil; prev = prev.PrevNamedSibling() {
		t := prev.Type()
		if t != "attribute_item" && t != "line_comment" && t != "block_comment" {
			break
		}
		block = append(block, prev)
	}

	var ann annotations
	for i := len(block) - 1; i >= 0; i-- {
		node := block[i]
		switch node.Type() {
		case "line_comment":
			if text, isDoc := docCommentText(lang.NodeText(node, source)); isDoc {
				ann.doc = append(ann.doc, text)
			}
		case "block_comment":
			if lines, isDoc := blockDocLines(lang.NodeText(node, source)); isDoc {
				ann.doc = append(ann.doc, lines...)
			}
		case "attribute_item":
			applyAttribute(&ann, node, source)
		}
	}
	return ann
}

// docCommentText reports whether raw is an outer doc comment (`/// ...`) and
// returns its text with one leading space removed.
func docCommentText(raw string) (string, bool) {
	raw = strings.TrimRight(raw, "\r\n")
	if !strings.HasPrefix(raw, "///") || strings.HasPrefix(raw, "////") {
		return "", false
	}
	return strings.TrimPrefix(raw[3:], " "), true
}

// blockDocLines reports whether raw is an outer block doc comment
// (`/** ... */`) and returns its lines. Blank first and last lines are
// dropped, a leading `*` column is removed, and common indentation is trimmed.
func blockDocLines(raw string) ([]string, bool) {
	if len(raw) < 5 || !strings.HasPrefix(raw, "/**") || strings.HasPrefix(raw, "/***") || !strings.HasSuffix(raw, "*/") {
		return nil, false
	}
	lines := strings.Split(strings.ReplaceAll(raw[3:len(raw)-2], "\r\n", "\n"), "\n")
	if len(lines) > 1 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	if len(lines) > 1 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}

	starred := true
	margin := -1
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "*") {
			starred = false
		}
		if indent := len(line) - len(trimmed); margin < 0 || indent < margin {
			margin = indent
		}
	}

	out := make([]string, len(lines))
	for i, line := range lines {
		switch {
		case strings.TrimSpace(line) == "":
			line = ""
		case starred:
			line = strings.TrimPrefix(strings.TrimPrefix(strings.TrimLeft(line, " \t"), "*"), " ")
		default:
			line = line[margin:]
		}
		out[i] = strings.TrimRight(line, " \t")
	}
	return out, true
}

func applyAttribute(ann *annotations, item *sitter.Node, source []byte) {
	var attr *sitter.Node
	for i := 0; i < int(item.NamedChildCount()); i++ {
		// older grammars call the node meta_item
		if child := item.NamedChild(i); child.Type() == "attribute" || child.Type() == "meta_item" {
			attr = child
			break
		}
	}
	if attr == nil || attr.NamedChildCount() == 0 {
		return
	}

	name := attributeName(lang.NodeText(attr.NamedChild(0), source))

	switch name {
	case attrFunction:
		ann.function = true
	case attrModule:
		ann.module = true
	case attrDoc:
		if value := attr.ChildByFieldName("value"); value != nil {
			if text, ok := unquote(lang.NodeText(value, source)); ok {
				ann.doc = append(ann.doc, strings.TrimPrefix(text, " "))
			}
		}
		return
	case attrOptions:
	default:
		return
	}

	if args := attr.ChildByFieldName("arguments"); args != nil {
		applyOptions(ann, args, source)
	}
}

// attributeName returns the last path segment, so `pyo3::pyfunction` and
// `pyfunction` are treated alike.
func attributeName(path string) string {
	path = lang.CollapseWhitespace(path)
	if i := strings.LastIndex(path, "::"); i >= 0 {
		return strings.TrimSpace(path[i+2:])
	}
	return path
}

// applyOptions reads `key = value` pairs out of an attribute token tree such
// as `(name = "add", text_signature = "(left, right)")`.
func applyOptions(ann *annotations, tt *sitter.Node, source []byte) {
	n := int(tt.ChildCount())
	for i := 0; i+2 < n; i++ {
		key := tt.Child(i)
		if key.Type() != "identifier" || tt.Child(i+1).Type() != "=" {
			continue
		}
		valueNode := tt.Child(i + 2)
		switch lang.NodeText(key, source) {
		case "name":
			if v, ok := unquote(lang.NodeText(valueNode, source)); ok {
				ann.name = &v
			}
		case "text_signature":
			if v, ok := unquote(lang.NodeText(valueNode, source)); ok {
				ann.textSig = &v
			}
		case "signature":
			if valueNode.Type() == "token_tree" {
				v := signatureText(lang.NodeText(valueNode, source))
				ann.signature = &v
			}
		}
		i += 2
	}
}

// signatureText renders a `signature = (...)` token tree the way pyo3 prints
// it: `( a, b = 1 )` becomes `(a, b=1)`. Quoted defaults are left as written.
func signatureText(tree string) string {
	rs := []rune(lang.CollapseWhitespace(tree))
	var b strings.Builder
	var quote rune
	escaped := false
	for i, r := range rs {
		if quote != 0 {
			b.WriteRune(r)
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == quote:
				quote = 0
			}
			continue
		}
		switch r {
		case '"', '\'':
			quote = r
		case ' ':
			var prev, next rune
			if i > 0 {
				prev = rs[i-1]
			}
			if i+1 < len(rs) {
				next = rs[i+1]
			}
			if prev == '=' || prev == '(' || next == '=' || next == ')' {
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// unquote decodes a Rust string literal, normal or raw.
func unquote(lit string) (string, bool) {
	if strings.HasPrefix(lit, "r") {
		body := strings.TrimLeft(lit[1:], "#")
		hashes := len(lit) - 1 - len(body)
		body = strings.TrimSuffix(body, strings.Repeat("#", hashes))
		if len(body) < 2 || body[0] != '"' || body[len(body)-1] != '"' {
			return "", false
		}
		return body[1 : len(body)-1], true
	}
	if len(lit) < 2 || lit[0] != '"' || lit[len(lit)-1] != '"' {
		return "", false
	}
	if s, err := strconv.Unquote(lit); err == nil {
		return s, true
	}
	// Rust-only escapes such as \u{1F600}; keep the text as written.
	return lit[1 : len(lit)-1], true
}

// extractParameters returns parameter names in declaration order. pyo3's
// `py: Python<'_>` marker argument is not visible from Python and is skipped.
func extractParameters(fn *sitter.Node, source []byte) []string {
	params := fn.ChildByFieldName("parameters")
	if params == nil {
		return nil
	}

	var names []string
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		if p.Type() != "parameter" {
			continue
		}
		if typ := p.ChildByFieldName("type"); typ != nil && isPythonToken(lang.NodeText(typ, source)) {
			continue
		}
		pattern := p.ChildByFieldName("pattern")
		if pattern == nil {
			continue
		}
		names = append(names, patternName(pattern, source))
	}
	return names
}

func isPythonToken(typ string) bool {
	typ = strings.ReplaceAll(lang.CollapseWhitespace(typ), " ", "")
	typ = strings.TrimPrefix(typ, "pyo3::")
	return typ == "Python" || strings.HasPrefix(typ, "Python<")
}

// patternName unwraps `mut x` to `x`; other patterns are kept as written.
func patternName(pattern *sitter.Node, source []byte) string {
	if pattern.Type() == "mut_pattern" {
		for i := 0; i < int(pattern.NamedChildCount()); i++ {
			if child := pattern.NamedChild(i); child.Type() == "identifier" {
				return lang.NodeText(child, source)
			}
		}
	}
	return lang.CollapseWhitespace(lang.NodeText(pattern, source))
}
