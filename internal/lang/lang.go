// Package lang holds the tree-sitter Rust grammar pyistub parses crates with,
// along with the query that locates function items.
package lang

import (
	_ "embed"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"
)

// Extension is the suffix of the files pyo3 annotations live in.
const Extension = ".rs"

//go:embed queries/rust.scm
var functionQuery []byte

var whitespaceRe = regexp.MustCompile(`\s+`)

// Grammar is the Rust language plus its lazily compiled function query.
// The query is shared; parsers are not.
type Grammar struct {
	language *sitter.Language

	once  sync.Once
	query *sitter.Query
	err   error
}

var rustGrammar = &Grammar{language: rust.GetLanguage()}

// Rust returns the process-wide Rust grammar.
func Rust() *Grammar {
	return rustGrammar
}

// NewParser creates a parser bound to the grammar. A parser must not be used
// from two goroutines at once.
func (g *Grammar) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(g.language)
	return p
}

// Query returns the compiled function_item query. It is compiled once.
func (g *Grammar) Query() (*sitter.Query, error) {
	g.once.Do(func() {
		q, err := sitter.NewQuery(functionQuery, g.language)
		if err != nil {
			g.err = fmt.Errorf("compiling rust query: %w", err)
			return
		}
		g.query = q
	})
	return g.query, g.err
}

// Pool hands out parsers for concurrent workers. All of them share the
// grammar's query.
type Pool struct {
	Query *sitter.Query
	pool  sync.Pool
}

// NewPool compiles the query if needed and returns an empty pool.
func (g *Grammar) NewPool() (*Pool, error) {
	q, err := g.Query()
	if err != nil {
		return nil, err
	}
	p := &Pool{Query: q}
	p.pool.New = func() any { return g.NewParser() }
	return p, nil
}

// Get takes a parser from the pool, creating one if it is empty.
func (p *Pool) Get() *sitter.Parser {
	return p.pool.Get().(*sitter.Parser)
}

// Put returns a parser once the caller has closed any trees it produced.
func (p *Pool) Put(parser *sitter.Parser) {
	p.pool.Put(parser)
}

// IsSource reports whether path names a Rust source file.
func IsSource(path string) bool {
	return filepath.Ext(path) == Extension
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// CollapseWhitespace replaces runs of whitespace with a single space and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
