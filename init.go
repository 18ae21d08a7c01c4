package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/phobologic/pyistub/internal/config"
)

const initHeader = `# pyistub configuration. Flags and PYISTUB_* environment variables override
# these values. module_name is used for #[pymodule]s without a name override.
`

// newInitCmd implements `pyistub init`, which writes a starter pyistub.toml
// into a crate root.
func newInitCmd(stdout, stderr io.Writer) *cobra.Command {
	var dryRun, force bool

	cmd := &cobra.Command{
		Use:   "init [crate-root]",
		Short: "Write a starter " + config.FileName,
		Long: `Write a starter ` + config.FileName + ` into the crate root (default: current
directory). The module name is prefilled from pyproject.toml or Cargo.toml.
An existing file is left alone unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(dir, dryRun, force, stdout, stderr)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the file instead of writing it")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func runInit(dir string, dryRun, force bool, stdout, stderr io.Writer) error {
	content, err := generateConfig(dir)
	if err != nil {
		return err
	}

	if dryRun {
		_, _ = fmt.Fprint(stdout, content)
		return nil
	}

	path := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	_, _ = fmt.Fprintf(stderr, "wrote %s\n", path)
	return nil
}

// generateConfig returns the starter config text for the crate at dir.
func generateConfig(dir string) (string, error) {
	cfg := config.Default()
	name, err := config.CrateModuleName(dir)
	if err != nil {
		return "", err
	}
	cfg.ModuleName = name

	body, err := config.Encode(cfg)
	if err != nil {
		return "", err
	}
	return initHeader + body, nil
}
