// pyistub generates Python .pyi stubs for pyo3 extension modules by reading
// the #[pyfunction] and #[pymodule] annotations in a Rust crate.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/pyistub/internal/config"
	"github.com/phobologic/pyistub/internal/discover"
	"github.com/phobologic/pyistub/internal/lang"
	"github.com/phobologic/pyistub/internal/model"
	"github.com/phobologic/pyistub/internal/parse"
	"github.com/phobologic/pyistub/internal/pyi"
	"github.com/phobologic/pyistub/internal/resolve"
	"github.com/phobologic/pyistub/internal/watch"
)

var version = "dev"

// stdoutTarget as --out prints stubs instead of writing files.
const stdoutTarget = "-"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

type options struct {
	moduleName   string
	out          string
	exclude      []string
	maxFileSize  int
	noSort       bool
	includeTests bool
	check        bool
	watch        bool
	configPath   string
	verbose      bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "pyistub [flags] [crate-root]",
		Short:         "Generate .pyi stubs from pyo3 annotations",
		Long:          "pyistub reads #[pyfunction] and #[pymodule] annotations in a Rust crate and writes Python stub files with signatures and docstrings.",
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, args, &opts, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate("pyistub {{.Version}}\n")

	f := cmd.Flags()
	f.StringVarP(&opts.moduleName, "module-name", "m", "", "module name for units without #[pyo3(name = ...)] (default: from Cargo.toml/pyproject.toml)")
	f.StringVarP(&opts.out, "out", "o", "", `project root to write stubs under (default: crate root); "-" prints to stdout`)
	f.StringArrayVarP(&opts.exclude, "exclude", "x", nil, "glob of crate-relative paths to skip (repeatable)")
	f.IntVar(&opts.maxFileSize, "max-file-size", config.DefaultMaxFileSize, "skip files larger than this many bytes")
	f.BoolVar(&opts.noSort, "no-sort", false, "keep declaration order instead of sorting entries")
	f.BoolVar(&opts.includeTests, "include-tests", false, "also scan tests/, benches/ and examples/")
	f.BoolVar(&opts.check, "check", false, "do not write; fail if any stub is out of date")
	f.BoolVarP(&opts.watch, "watch", "w", false, "regenerate whenever sources change")
	f.StringVarP(&opts.configPath, "config", "c", "", "config file (default: <crate-root>/"+config.FileName+")")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	f.BoolP("version", "V", false, "show version and exit")

	cmd.AddCommand(newInitCmd(stdout, stderr))
	return cmd
}

func newLogger(w io.Writer, verbose bool) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{Prefix: "pyistub"})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

func runGenerate(cmd *cobra.Command, args []string, opts *options, stdout, stderr io.Writer) error {
	logger := newLogger(stderr, opts.verbose)

	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	root, err := resolveRoot(root)
	if err != nil {
		return err
	}

	cfg, cfgPath, err := config.Load(root, opts.configPath)
	if err != nil {
		return err
	}
	if cfgPath != "" {
		logger.Debug("loaded config", "path", cfgPath)
	}
	applyFlags(cmd, opts, cfg)

	outDir := cfg.Out
	if outDir != stdoutTarget {
		if outDir == "" {
			outDir = root
		} else if !filepath.IsAbs(outDir) {
			outDir = filepath.Join(root, outDir)
		}
	}

	if opts.watch && (opts.check || outDir == stdoutTarget) {
		return fmt.Errorf("--watch cannot be combined with --check or --out %s", stdoutTarget)
	}

	ctx := cmd.Context()

	stubs, err := generate(ctx, root, outDir, cfg, logger)
	if err != nil {
		return err
	}
	if err := emit(stubs, outDir, opts.check, stdout, logger); err != nil {
		return err
	}
	if !opts.watch {
		return nil
	}

	w, err := watch.New(watch.Config{
		BaseDir: root,
		Match:   watchMatch,
		Logger:  logger,
		OnChange: func(ctx context.Context, changed []string) error {
			logger.Info("sources changed", "files", len(changed))
			stubs, err := generate(ctx, root, outDir, cfg, logger)
			if err != nil {
				return err
			}
			return emit(stubs, outDir, false, stdout, logger)
		},
	})
	if err != nil {
		return err
	}
	logger.Info("watching for changes", "root", root)
	return w.Run(ctx)
}

// applyFlags overrides config values with explicitly set flags.
func applyFlags(cmd *cobra.Command, opts *options, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("module-name") {
		cfg.ModuleName = opts.moduleName
	}
	if f.Changed("out") {
		cfg.Out = opts.out
	}
	if f.Changed("exclude") {
		cfg.Exclude = append(cfg.Exclude, opts.exclude...)
	}
	if f.Changed("max-file-size") {
		cfg.MaxFileSize = opts.maxFileSize
	}
	if f.Changed("no-sort") {
		cfg.Sort = !opts.noSort
	}
	if f.Changed("include-tests") {
		cfg.IncludeTests = opts.includeTests
	}
}

func resolveRoot(root string) (string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s: not a directory", root)
	}
	return root, nil
}

func watchMatch(rel string) bool {
	switch filepath.Base(rel) {
	case "Cargo.toml", "pyproject.toml", config.FileName:
		return true
	}
	return lang.IsSource(rel)
}

// stub is one rendered module and where it belongs.
type stub struct {
	Module  string
	Path    string
	Content string
}

// generate runs the full pipeline for one crate: discover, parse, resolve,
// aggregate, render.
func generate(ctx context.Context, root, outDir string, cfg *config.Config, logger *log.Logger) ([]stub, error) {
	files, err := discover.Files(root, discover.Options{
		Exclude:      cfg.Exclude,
		IncludeTests: cfg.IncludeTests,
	})
	if err != nil {
		return nil, fmt.Errorf("discovering files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no Rust source files found")
	}

	files = filterBySize(files, cfg.MaxFileSize, logger)
	if len(files) == 0 {
		return nil, fmt.Errorf("no Rust source files found (all exceeded size limit)")
	}

	units, err := parseFilesConcurrent(ctx, root, files, logger)
	if err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("no #[pyfunction] or #[pymodule] annotations found")
	}

	resolved, err := resolve.Units(ctx, units)
	if err != nil {
		return nil, err
	}

	defaultName := cfg.ModuleName
	if defaultName == "" {
		defaultName, err = config.CrateModuleName(root)
		if err != nil {
			return nil, fmt.Errorf("reading crate metadata: %w", err)
		}
	}

	modules, err := resolve.Modules(resolved, defaultName)
	if err != nil {
		return nil, err
	}

	renderOpts := pyi.Options{Sort: cfg.Sort}
	stubs := make([]stub, 0, modules.Len())
	for _, m := range modules.All() {
		logger.Debug("module resolved", "module", m.ModuleName, "functions", len(m.Functions), "units", strings.Join(m.Units, ","))
		s := stub{Module: m.ModuleName, Content: pyi.Render(m, renderOpts)}
		if outDir != stdoutTarget {
			s.Path = pyi.Path(outDir, m.ModuleName)
		}
		stubs = append(stubs, s)
	}
	return stubs, nil
}

// emit prints, checks, or writes the rendered stubs.
func emit(stubs []stub, outDir string, check bool, stdout io.Writer, logger *log.Logger) error {
	if outDir == stdoutTarget {
		for i, s := range stubs {
			if len(stubs) > 1 {
				if i > 0 {
					_, _ = fmt.Fprintln(stdout)
				}
				_, _ = fmt.Fprintf(stdout, "# module: %s\n", s.Module)
			}
			_, _ = fmt.Fprint(stdout, s.Content)
		}
		return nil
	}

	if check {
		var stale []string
		for _, s := range stubs {
			changed, err := pyi.Stale(s.Path, s.Content)
			if err != nil {
				return err
			}
			if changed {
				stale = append(stale, s.Path)
			}
		}
		if len(stale) > 0 {
			return fmt.Errorf("stubs out of date: %s", strings.Join(stale, ", "))
		}
		logger.Info("stubs up to date", "modules", len(stubs))
		return nil
	}

	for _, s := range stubs {
		if err := pyi.Write(s.Path, s.Content); err != nil {
			return err
		}
		logger.Info("wrote stub", "module", s.Module, "path", s.Path)
	}
	return nil
}

func filterBySize(files []discover.FileEntry, maxSize int, logger *log.Logger) []discover.FileEntry {
	var kept []discover.FileEntry
	for _, f := range files {
		if f.Size > int64(maxSize) {
			logger.Warn("skipped file", "file", f.Path, "reason", fmt.Sprintf(">%d bytes", maxSize))
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

// parseFilesConcurrent extracts a SourceUnit from every file that carries
// pyo3 annotations. The result keeps the discovery order of files.
func parseFilesConcurrent(ctx context.Context, root string, files []discover.FileEntry, logger *log.Logger) ([]model.SourceUnit, error) {
	type result struct {
		unit model.SourceUnit
		ok   bool
	}

	pool, err := lang.Rust().NewPool()
	if err != nil {
		return nil, err
	}

	results := make([]result, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			source, err := os.ReadFile(filepath.Join(root, f.Path))
			if err != nil {
				logger.Warn("failed to read", "file", f.Path, "err", err)
				return nil
			}

			parser := pool.Get()
			defer pool.Put(parser)

			unit, ok := parse.ExtractUnit(parser, pool.Query, source, filepath.ToSlash(f.Path), logger)
			results[i] = result{unit: unit, ok: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var units []model.SourceUnit
	for _, r := range results {
		if r.ok {
			units = append(units, r.unit)
		}
	}
	return units, nil
}
