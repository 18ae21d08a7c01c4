package pyi

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sentinels mark the region pyistub owns inside a hand-maintained stub.
const (
	SentinelStart = "# pyistub:start"
	SentinelEnd   = "# pyistub:end"
)

// Write stores content at path, creating parent directories. If the existing
// file carries a sentinel block, only that block is replaced.
func Write(path, content string) error {
	existing, err := readExisting(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(Apply(existing, content)), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Stale reports whether writing content to path would change the file.
func Stale(path, content string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	return Apply(string(data), content) != string(data), nil
}

// Apply merges generated content into an existing file's text. When the
// text has a sentinel block, the block body is replaced and everything
// around it is kept; otherwise the generated content replaces the text.
func Apply(existing, content string) string {
	start := strings.Index(existing, SentinelStart)
	if start < 0 {
		return content
	}
	end := strings.Index(existing[start+len(SentinelStart):], SentinelEnd)
	if end >= 0 {
		end += start + len(SentinelStart)
		body := content
		if !strings.HasSuffix(body, "\n") {
			body += "\n"
		}
		return existing[:start] + SentinelStart + "\n" + body + existing[end:]
	}
	return content
}

func readExisting(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}
