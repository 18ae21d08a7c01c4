package pyi

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phobologic/pyistub/internal/model"
)

func testlib() model.ModuleDescriptor {
	return model.ModuleDescriptor{
		ModuleName: "testlib",
		Functions: []model.FunctionDescriptor{
			{PublicName: "add", SignatureText: "add(left, right)", Docstring: "Adds two numbers together\n\nHas a multi-line docstring"},
			{PublicName: "double", SignatureText: "double(num)", Docstring: "Has a one line docstring and one argument"},
			{PublicName: "no_docstring", SignatureText: "no_docstring(num)"},
			{PublicName: "no_signature", SignatureText: "no_signature(num)", Docstring: "A docstring but no signature"},
			{PublicName: "neither", SignatureText: "neither(left, right)"},
		},
	}
}

func TestEntry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   model.FunctionDescriptor
		want string
	}{
		{
			name: "multi-line docstring",
			fn:   testlib().Functions[0],
			want: `def add(left, right):
    """
    Adds two numbers together

    Has a multi-line docstring
    """
`,
		},
		{
			name: "one-line docstring",
			fn:   testlib().Functions[1],
			want: "def double(num):\n    \"\"\"Has a one line docstring and one argument\"\"\"\n",
		},
		{
			name: "no docstring",
			fn:   testlib().Functions[2],
			want: "def no_docstring(num):\n    ...\n",
		},
		{
			name: "triple quotes escaped",
			fn:   model.FunctionDescriptor{SignatureText: "q()", Docstring: `say """hi"""`},
			want: "def q():\n    \"\"\"say \\\"\\\"\\\"hi\\\"\\\"\\\"\"\"\"\n",
		},
		{
			name: "trailing quote escaped",
			fn:   model.FunctionDescriptor{SignatureText: "f()", Docstring: `Returns "x"`},
			want: "def f():\n    \"\"\"Returns \"x\\\"\"\"\"\n",
		},
		{
			name: "trailing backslash escaped",
			fn:   model.FunctionDescriptor{SignatureText: "f()", Docstring: `C:\`},
			want: "def f():\n    \"\"\"C:\\\\\"\"\"\n",
		},
		{
			name: "multi-line doc ending in quote untouched",
			fn:   model.FunctionDescriptor{SignatureText: "f()", Docstring: "first\nsays \"x\""},
			want: "def f():\n    \"\"\"\n    first\n    says \"x\"\n    \"\"\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Entry(tt.fn))
		})
	}
}

func TestRenderSorted(t *testing.T) {
	t.Parallel()

	want := `# flake8: noqa: PYI021
def add(left, right):
    """
    Adds two numbers together

    Has a multi-line docstring
    """

def double(num):
    """Has a one line docstring and one argument"""

def neither(left, right):
    ...

def no_docstring(num):
    ...

def no_signature(num):
    """A docstring but no signature"""
`
	assert.Equal(t, want, Render(testlib(), Options{Sort: true}))
}

func TestRenderDeclarationOrder(t *testing.T) {
	t.Parallel()

	got := Render(testlib(), Options{})
	var defs []string
	for _, line := range strings.Split(got, "\n") {
		if strings.HasPrefix(line, "def ") {
			defs = append(defs, line)
		}
	}
	assert.Equal(t, []string{
		"def add(left, right):",
		"def double(num):",
		"def no_docstring(num):",
		"def no_signature(num):",
		"def neither(left, right):",
	}, defs)
}

func TestRenderEmptyModule(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Header, Render(model.ModuleDescriptor{ModuleName: "empty"}, Options{Sort: true}))
}

func TestPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join("python", "pypkg", "rustlib.pyi"), Path("python", "pypkg.rustlib"))
	assert.Equal(t, filepath.Join("out", "testlib.pyi"), Path("out", "testlib"))
	assert.Equal(t, "testlib.pyi", Path("", "testlib"))
}
