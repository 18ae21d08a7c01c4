package main

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/pyistub/internal/pyi"
	"github.com/phobologic/pyistub/internal/resolve"
)

const testlibStub = `# flake8: noqa: PYI021
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

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// copyFixture copies testdata/testlib into a temp dir so tests can write stubs.
func copyFixture(t *testing.T) string {
	t.Helper()
	src := filepath.Join("testdata", "testlib")
	dst := t.TempDir()
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dst, rel), data, 0o644)
	})
	require.NoError(t, err)
	return dst
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRunWritesStubs(t *testing.T) {
	t.Parallel()
	dir := copyFixture(t)

	var stdout, stderr bytes.Buffer
	err := run([]string{dir}, &stdout, &stderr)
	require.NoError(t, err, "stderr: %s", stderr.String())

	assert.Equal(t, testlibStub, readFile(t, filepath.Join(dir, "testlib.pyi")))

	extra := readFile(t, filepath.Join(dir, "extralib.pyi"))
	assert.Contains(t, extra, "def multiline(text, width=80):\n    \"\"\"\n    Spans\n    several lines\n\n    with a gap\n    \"\"\"\n")
	assert.Contains(t, extra, "def minimal():\n    ...\n")
	assert.Contains(t, extra, "def no_docstring(num):\n    ...\n")
	assert.Contains(t, stderr.String(), "wrote stub")
}

func TestRunStdout(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	err := run([]string{"--out", "-", filepath.Join("testdata", "testlib")}, &stdout, &stderr)
	require.NoError(t, err, "stderr: %s", stderr.String())

	out := stdout.String()
	assert.True(t, strings.HasPrefix(out, "# module: extralib\n"), out)
	assert.Contains(t, out, "# module: testlib\n"+testlibStub)
}

func TestRunCheck(t *testing.T) {
	t.Parallel()
	dir := copyFixture(t)

	var stdout, stderr bytes.Buffer
	err := run([]string{"--check", dir}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of date")
	_, statErr := os.Stat(filepath.Join(dir, "testlib.pyi"))
	assert.True(t, os.IsNotExist(statErr), "--check must not write")

	require.NoError(t, run([]string{dir}, &stdout, &stderr))
	require.NoError(t, run([]string{"--check", dir}, &stdout, &stderr))

	writeTestFile(t, dir, "src/more.rs", "#[pyfunction]\nfn late() {}\n")
	err = run([]string{"--check", dir}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "testlib.pyi")
}

func TestRunDuplicateExport(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "src/a.rs", `
#[pyfunction]
#[pyo3(name = "no_docstring")]
fn decrement(num: usize) -> usize { num - 1 }

#[pymodule]
#[pyo3(name = "testlib")]
fn a(m: &Bound<'_, PyModule>) -> PyResult<()> { Ok(()) }
`)
	writeTestFile(t, dir, "src/b.rs", `
#[pyfunction]
fn no_docstring() {}

#[pymodule]
#[pyo3(name = "testlib")]
fn b(m: &Bound<'_, PyModule>) -> PyResult<()> { Ok(()) }
`)

	var stdout, stderr bytes.Buffer
	err := run([]string{dir}, &stdout, &stderr)
	require.Error(t, err)

	var dup *resolve.DuplicateExportError
	require.True(t, errors.As(err, &dup), "want DuplicateExportError, got %v", err)
	assert.Equal(t, "testlib", dup.Module)
	assert.Equal(t, "no_docstring", dup.Name)
	assert.Equal(t, "src/a.rs", dup.FirstUnit)
	assert.Equal(t, "src/b.rs", dup.SecondUnit)

	_, statErr := os.Stat(filepath.Join(dir, "testlib.pyi"))
	assert.True(t, os.IsNotExist(statErr), "no stub on failure")
}

func TestRunMergesUnitsOfSameModule(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "src/a.rs", `
#[pyfunction]
fn zeta() {}

#[pymodule]
#[pyo3(name = "testlib")]
fn a(m: &Bound<'_, PyModule>) -> PyResult<()> { Ok(()) }
`)
	writeTestFile(t, dir, "src/b.rs", `
#[pyfunction]
fn alpha(x: i32) {}

#[pymodule(name = "testlib")]
fn b(m: &Bound<'_, PyModule>) -> PyResult<()> { Ok(()) }
`)

	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"--no-sort", "-o", "-", dir}, &stdout, &stderr))
	assert.Equal(t, "# flake8: noqa: PYI021\ndef zeta():\n    ...\n\ndef alpha(x):\n    ...\n", stdout.String())
}

func TestRunDefaultModuleFromCargo(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "Cargo.toml", "[package]\nname = \"py-fast\"\n\n[lib]\nname = \"fast\"\n")
	writeTestFile(t, dir, "src/lib.rs", "/// Go fast\n#[pyfunction]\nfn go() {}\n")

	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{dir}, &stdout, &stderr))
	assert.Equal(t, "# flake8: noqa: PYI021\ndef go():\n    \"\"\"Go fast\"\"\"\n", readFile(t, filepath.Join(dir, "fast.pyi")))
}

func TestRunModuleNameFlagAndNestedOut(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "src/lib.rs", "#[pyfunction]\nfn go() {}\n")

	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"-m", "pypkg.rustlib", "-o", "python", dir}, &stdout, &stderr))

	_, err := os.Stat(filepath.Join(dir, "python", "pypkg", "rustlib.pyi"))
	assert.NoError(t, err)
}

func TestRunNoModuleName(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "src/lib.rs", "#[pyfunction]\nfn go() {}\n")

	var stdout, stderr bytes.Buffer
	err := run([]string{dir}, &stdout, &stderr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, resolve.ErrNoModuleName), "got %v", err)
}

func TestRunConfigFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "pyistub.toml", "module_name = \"cfgmod\"\nout = \"stubs\"\nexclude = [\"src/skip/**\"]\n")
	writeTestFile(t, dir, "src/lib.rs", "#[pyfunction]\nfn kept() {}\n")
	writeTestFile(t, dir, "src/skip/gen.rs", "#[pyfunction]\nfn skipped() {}\n")

	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{dir}, &stdout, &stderr))

	got := readFile(t, filepath.Join(dir, "stubs", "cfgmod.pyi"))
	assert.Contains(t, got, "def kept():")
	assert.NotContains(t, got, "skipped")
}

func TestRunPreservesSentinelBlock(t *testing.T) {
	t.Parallel()
	dir := copyFixture(t)
	handwritten := "from typing import overload\n" + pyi.SentinelStart + "\n" + pyi.SentinelEnd + "\nVERSION: str\n"
	writeTestFile(t, dir, "testlib.pyi", handwritten)

	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{dir}, &stdout, &stderr))

	got := readFile(t, filepath.Join(dir, "testlib.pyi"))
	assert.Equal(t, "from typing import overload\n"+pyi.SentinelStart+"\n"+testlibStub+pyi.SentinelEnd+"\nVERSION: str\n", got)
}

func TestRunMaxFileSize(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "src/lib.rs", "#[pyfunction]\n#[pyo3(name = \"small\")]\nfn s() {}\n#[pymodule]\n#[pyo3(name = \"m\")]\nfn m() {}\n")
	writeTestFile(t, dir, "src/big.rs", "#[pyfunction]\nfn big() {}\n"+strings.Repeat("// padding\n", 200))

	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"--max-file-size", "1000", "-o", "-", dir}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "def small():")
	assert.NotContains(t, stdout.String(), "big")
	assert.Contains(t, stderr.String(), "skipped file")
}

func TestRunVersion(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"-V"}, &stdout, &stderr))
	assert.Equal(t, "pyistub dev\n", stdout.String())
}

func TestRunNoFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "readme.txt", "nothing here")

	var stdout, stderr bytes.Buffer
	err := run([]string{dir}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no Rust source files")
}

func TestRunNoAnnotations(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "src/lib.rs", "pub fn plain() {}\n")

	var stdout, stderr bytes.Buffer
	err := run([]string{dir}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no #[pyfunction]")
}

func TestRunRootNotDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "lib.rs", "")

	var stdout, stderr bytes.Buffer
	err := run([]string{filepath.Join(dir, "lib.rs")}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestRunWatchRejectsCheck(t *testing.T) {
	t.Parallel()
	dir := copyFixture(t)

	var stdout, stderr bytes.Buffer
	err := run([]string{"--watch", "--check", dir}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--watch")

	_, statErr := os.Stat(filepath.Join(dir, "testlib.pyi"))
	assert.True(t, os.IsNotExist(statErr), "no stub should be written before the flags are rejected")
}

// TestRunWatchFlagsCheckedBeforeGenerate verifies the flag combination is
// rejected even when the crate would fail to generate.
func TestRunWatchFlagsCheckedBeforeGenerate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	err := run([]string{"--watch", "--out", "-", dir}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--watch cannot be combined")
	assert.Empty(t, stdout.String())
}

func TestWatchMatch(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"src/lib.rs":     true,
		"Cargo.toml":     true,
		"pyproject.toml": true,
		"pyistub.toml":   true,
		"testlib.pyi":    false,
		"README.md":      false,
	}
	for path, want := range cases {
		assert.Equal(t, want, watchMatch(path), path)
	}
}
